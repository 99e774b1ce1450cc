package subroker

import (
	"time"

	"github.com/magiskd/magiskd/internal/pkg/db"
	"github.com/magiskd/magiskd/internal/pkg/sock"
	"github.com/magiskd/magiskd/pkg/sylog"
)

// GUISocketName is set by cmd/magisk's magiskd subcommand at startup to
// the abstract socket the management GUI listens on for interactive
// prompts; empty means no
// GUI is reachable, in which case Interactive decisions fall through to
// the global default.
var GUISocketName string

// Handle services one Superuser request end to end: read the requested
// package name, run the decision pipeline, and on Allow bridge the
// client's own connection to a root shell pty (spec.md §4.8).
func Handle(store *db.DB, conn *sock.Conn, peer sock.Peer) {
	pkg, err := conn.ReadString()
	if err != nil {
		return
	}

	policy := Decide(store, int(peer.UID), time.Now(), func() (db.Policy, bool) {
		return promptGUI(int(peer.UID), pkg)
	})

	if policy != db.PolicyAllow {
		_ = conn.WriteInt32(1) // daemon.Error, matching the daemon's Status wire encoding
		return
	}
	_ = conn.WriteInt32(0) // daemon.Success

	if err := Bridge(conn.Fd(), "/system/bin/sh", "-c", "exec /system/bin/sh"); err != nil {
		sylog.Debugf("subroker: shell session for uid %d ended: %s", peer.UID, err)
	}
}

// promptGUI opens a connection to the management GUI's abstract socket
// and asks it to decide on behalf of the user, using the big-endian
// key/value wire format spec.md §6 describes for the GUI channel.
func promptGUI(uid int, pkg string) (db.Policy, bool) {
	if GUISocketName == "" {
		return db.PolicyDeny, false
	}

	conn, err := sock.Dial(GUISocketName)
	if err != nil {
		return db.PolicyDeny, false
	}
	defer conn.Close()

	if err := conn.WriteKeyToken("uid", uid); err != nil {
		return db.PolicyDeny, false
	}
	if err := conn.WriteKeyValue("package", pkg); err != nil {
		return db.PolicyDeny, false
	}
	if err := conn.WriteTerminator(); err != nil {
		return db.PolicyDeny, false
	}

	_, decision, err := conn.ReadKeyValueBE()
	if err != nil {
		return db.PolicyDeny, false
	}

	switch decision {
	case "allow":
		return db.PolicyAllow, true
	case "deny":
		return db.PolicyDeny, true
	default:
		return db.PolicyDeny, false
	}
}
