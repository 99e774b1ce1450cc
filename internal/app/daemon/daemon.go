// Package daemon implements the long-lived privileged server (spec.md
// §4.7): it authenticates peers via kernel-supplied credentials,
// dispatches request tags to per-connection goroutines, and owns the
// hide engine, the settings cache and the on-disk store for the
// lifetime of the OS session. Grounded on the teacher's
// cmd/starter+internal/pkg/runtime/engine accept/dispatch split,
// collapsed from a C-trampoline-plus-Go-engine pair into one Go
// process (design note, SPEC_FULL.md §9 "Context replaces scattered
// globals").
package daemon

import (
	"context"
	"os"
	"sync"

	"github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/internal/pkg/db"
	"github.com/magiskd/magiskd/internal/pkg/hide"
	"github.com/magiskd/magiskd/internal/pkg/sock"
	"github.com/magiskd/magiskd/internal/pkg/subroker"
	"github.com/magiskd/magiskd/pkg/sylog"
)

// magiskDomain is the MAC domain the daemon sets for itself at startup,
// matching internal/pkg/policy's magiskDomain and
// original_source/native/jni/core/daemon.c's setcon call.
const magiskDomain = "u:r:magisk:s0"

// Context is the daemon's own state for the lifetime of the OS session:
// the listening socket, the store handle, the hide engine and the
// settings cache, all behind one mutex (spec.md §9 "Context... single
// sync.Mutex", replacing the original's setup_done/seperate_vendor/
// hide_enabled globals).
type Context struct {
	SocketName string

	mu       sync.Mutex
	store    *db.DB
	listener *sock.Listener
	engine   hide.Engine
	settings db.Settings

	hideEngineAuto bool
}

// New constructs a Context bound to an already-opened store; the caller
// opens and closes the store itself.
func New(socketName string, store *db.DB) *Context {
	return &Context{SocketName: socketName, store: store}
}

// Run performs the daemon startup sequence (spec.md §4.7 "Startup") and
// then accepts connections, dispatching each to its own goroutine. It
// returns on an unrecoverable startup error, or with the listener's
// close error once ctx is done (checked before each Accept).
func (c *Context) Run(ctx context.Context) error {
	secureStdio()
	if err := selinux.SetExecLabel(magiskDomain); err != nil {
		sylog.Warningf("daemon: setting exec label: %s", err)
	}
	unix.Setsid()

	settings, err := c.store.Settings()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()

	l, err := sock.Listen(c.SocketName, 10)
	if err != nil {
		return err
	}
	c.listener = l

	c.engine = hide.Select(c.store)
	if hideAutoEnabled(c.store) {
		if err := c.engine.Start(ctx); err != nil {
			sylog.Warningf("daemon: starting hide engine: %s", err)
		}
	}

	sylog.Infof("magiskd started")

	for {
		select {
		case <-ctx.Done():
			return l.Close()
		default:
		}

		conn, peer, err := l.Accept()
		if err != nil {
			sylog.Warningf("daemon: accept: %s", err)
			continue
		}
		go c.handle(ctx, conn, peer)
	}
}

// secureStdio reopens stdin/stdout/stderr to /dev/null, matching
// original_source's start_daemon.
func secureStdio() {
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		return
	}
	defer f.Close()
	fd := int(f.Fd())
	for _, target := range []int{0, 1, 2} {
		_ = unix.Dup2(fd, target)
	}
}

const hideAutoProp = "persist.magisk.hide"

// hideAutoEnabled governs whether the hide engine auto-starts, mirroring
// original_source's auto_start_magiskhide: enabled unless the property
// is explicitly "0".
func hideAutoEnabled(store *db.DB) bool {
	v, ok, err := store.String(hideAutoProp)
	if err != nil || !ok {
		return true
	}
	return v != "0"
}

func (c *Context) handle(ctx context.Context, conn *sock.Conn, peer sock.Peer) {
	defer conn.Close()

	tagRaw, err := conn.ReadInt32()
	if err != nil {
		return
	}
	tag := RequestTag(tagRaw)

	if rootRequired[tag] && peer.UID != 0 {
		_ = conn.WriteInt32(int32(RootRequired))
		return
	}

	switch tag {
	case CheckVersion:
		_ = conn.WriteString(versionString)
	case CheckVersionCode:
		_ = conn.WriteInt32(versionCode)
	case Handshake:
		_ = conn.WriteInt32(int32(Success))
	case PostFsData:
		c.runBootStage(conn, "post-fs-data")
	case LateStart:
		c.runBootStage(conn, "service")
	case Superuser:
		subroker.Handle(c.store, conn, peer)
	case HideStart:
		c.hideStart(ctx, conn)
	case HideStop:
		c.hideStop(conn)
	case HideAdd:
		c.hideMutate(conn, c.engine.Add, false)
	case HideRemove:
		c.hideMutate(conn, c.engine.Remove, true)
	case HideList:
		c.hideList(conn)
	case HideConnect:
		_ = conn.WriteInt32(int32(Success))
	default:
		_ = conn.WriteInt32(int32(Error))
	}
}

func (c *Context) hideStart(ctx context.Context, conn *sock.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine.Enabled() {
		_ = conn.WriteInt32(int32(HideIsEnabled))
		return
	}
	if err := c.engine.Start(ctx); err != nil {
		_ = conn.WriteInt32(int32(Error))
		return
	}
	_ = conn.WriteInt32(int32(Success))
}

func (c *Context) hideStop(conn *sock.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.engine.Enabled() {
		_ = conn.WriteInt32(int32(HideNotEnabled))
		return
	}
	if err := c.engine.Stop(); err != nil {
		_ = conn.WriteInt32(int32(Error))
		return
	}
	_ = conn.WriteInt32(int32(Success))
}

func (c *Context) hideMutate(conn *sock.Conn, op func(string) error, mustBeListed bool) {
	process, err := conn.ReadString()
	if err != nil {
		return
	}
	list, err := c.engine.List()
	if err != nil {
		_ = conn.WriteInt32(int32(Error))
		return
	}
	listed := false
	for _, p := range list {
		listed = listed || p == process
	}
	if listed && !mustBeListed {
		_ = conn.WriteInt32(int32(HideItemExist))
		return
	}
	if !listed && mustBeListed {
		_ = conn.WriteInt32(int32(HideItemNotExist))
		return
	}
	if err := op(process); err != nil {
		_ = conn.WriteInt32(int32(Error))
		return
	}
	_ = conn.WriteInt32(int32(Success))
}

// Settings returns a snapshot of the cached settings, refreshed at
// startup and read by handlers that need the current root-access and
// multiuser policy without round-tripping the store.
func (c *Context) Settings() db.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Context) hideList(conn *sock.Conn) {
	list, err := c.engine.List()
	if err != nil {
		_ = conn.WriteInt32(int32(Error))
		return
	}
	_ = conn.WriteInt32(int32(Success))
	_ = conn.WriteInt32(int32(len(list)))
	for _, p := range list {
		_ = conn.WriteString(p)
	}
}
