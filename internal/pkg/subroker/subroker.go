// Package subroker implements the su-request decision pipeline and pty
// bridge of spec.md §4.8. Grounded on
// original_source/native/jni/daemon/db.cpp's validate_manager (manager
// package discovery) and the teacher's creack/pty-based shell attach in
// its OCI exec path, generalized from "attach to a container" to
// "attach to an escalated shell".
package subroker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"time"

	"github.com/creack/pty"

	"github.com/magiskd/magiskd/internal/pkg/db"
	"github.com/magiskd/magiskd/internal/pkg/sock"
	"github.com/magiskd/magiskd/pkg/sylog"
)

// adbShellUID is the fixed uid Android assigns the ADB shell user; the
// global default grants it root without a policy row, matching
// original_source's shell-uid carve-out.
const adbShellUID = 2000

const javaPackageName = "com.topjohnwu.magisk"

// Decide applies spec.md §4.8's decision pipeline for one request and
// returns whether the requester may proceed.
func Decide(store *db.DB, peerUID int, now time.Time, prompt func() (db.Policy, bool)) db.Policy {
	if decision, found, err := store.Policy(peerUID); err == nil && found && decision.Current(now) {
		logDecision(store, decision, peerUID)
		return decision.Policy
	}

	settings, err := store.Settings()
	if err != nil {
		return db.PolicyDeny
	}

	switch settings.RootAccess {
	case db.RootAccessDisabled:
		return db.PolicyDeny
	case db.RootAccessAdbOnly:
		if peerUID == adbShellUID {
			return db.PolicyAllow
		}
		return db.PolicyDeny
	case db.RootAccessAppsOnly:
		if peerUID == adbShellUID {
			return db.PolicyDeny
		}
	case db.RootAccessAppsAndAdb:
		// both app and adb callers proceed to the interactive/default path below
	}

	if _, ok := ManagerPackage(store, peerUID); ok {
		if policy, decided := prompt(); decided {
			return policy
		}
	}

	if peerUID == adbShellUID {
		return db.PolicyAllow
	}
	return db.PolicyDeny
}

func logDecision(store *db.DB, decision db.PolicyDecision, peerUID int) {
	if !decision.Log {
		return
	}
	_ = store.AppendLog(db.LogEntry{
		UID:       peerUID,
		Package:   decision.Package,
		Action:    "su",
		Timestamp: time.Now().Unix(),
	})
}

// ManagerPackage locates the installed management app for the Android
// user peerUID belongs to, preferring an admin-configured alternative
// package name over the canonical one, and self-healing the stored
// alternative back to canonical when only the canonical package exists
// (spec.md §4.8, ported from validate_manager).
func ManagerPackage(store *db.DB, peerUID int) (string, bool) {
	userID := peerUID / 100000

	installed := func(pkg string) bool {
		for _, base := range []string{"/data/user_de", "/data/user"} {
			if _, err := os.Stat(fmt.Sprintf("%s/%d/%s", base, userID, pkg)); err == nil {
				return true
			}
		}
		return false
	}

	altPkg, _, _ := store.String("manager_pkg")
	if altPkg != "" && installed(altPkg) {
		return altPkg, true
	}

	if installed(javaPackageName) {
		if altPkg != "" {
			_ = store.PutString("manager_pkg", javaPackageName)
		}
		return javaPackageName, true
	}
	return "", false
}

// Bridge splices the client's passed-in stdio descriptor to a pty
// running shellPath, blocking until the shell exits (spec.md §4.8
// "splice the client's stdio to a pseudo-terminal").
func Bridge(clientFd int, shellPath string, args ...string) error {
	cmd := exec.Command(shellPath, args...)
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("subroker: starting pty: %w", err)
	}
	defer f.Close()

	client := os.NewFile(uintptr(clientFd), "client")
	defer client.Close()

	errc := make(chan error, 2)
	go func() { _, err := io.Copy(f, client); errc <- err }()
	go func() { _, err := io.Copy(client, f); errc <- err }()

	waitErr := cmd.Wait()
	<-errc
	return waitErr
}

// ResolveUser maps a uid to its /etc/passwd-style name, used only for
// diagnostic logging; unknown uids fall back to their numeric form.
func ResolveUser(uid int) string {
	u, err := user.LookupId(fmt.Sprintf("%d", uid))
	if err != nil {
		sylog.Debugf("subroker: no passwd entry for uid %d", uid)
		return fmt.Sprintf("%d", uid)
	}
	return u.Username
}
