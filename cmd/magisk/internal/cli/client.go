package cli

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/magiskd/magiskd/internal/pkg/sock"
)

// mainSocketName and logSocketName report the socket addresses patched
// into this very binary's image by Bootstrap (spec.md §4.6 step 9): the
// literal placeholder text only survives unpatched in a build that never
// went through bootstrap (e.g. a developer running the CLI directly),
// which is reported as an error rather than silently dialing a name no
// daemon will ever bind.
func mainSocketName() (string, error) { return patchedName(sock.MainSocketPlaceholder) }

func logSocketName() (string, error) { return patchedName(sock.LogSocketPlaceholder) }

// placeholderPrefix starts both unpatched placeholders; RandomName's
// alphabet has no '_', so a patched name never carries it.
const placeholderPrefix = "MAGISKD_"

func patchedName(v string) (string, error) {
	if strings.HasPrefix(v, placeholderPrefix) {
		return "", fmt.Errorf("socket name was never patched into this binary")
	}
	return v, nil
}

// spawnDetachedDaemon starts self as "magisk magiskd" in a new session,
// detached from the caller's controlling terminal and stdio, matching
// spec.md §4.7's "client that cannot connect and is itself root starts
// the daemon" fallback.
func spawnDetachedDaemon(self string) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	attr := &os.ProcAttr{
		Files: []*os.File{devNull, devNull, devNull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(self, []string{self, "magiskd"}, attr)
	if err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	return proc.Release()
}
