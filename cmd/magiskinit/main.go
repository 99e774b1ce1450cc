// Command magiskinit is PID 1 on first boot: it reconstructs a working
// rootfs, patches init.rc and the SELinux policy, extracts the daemon
// and init script, then execs the real init (spec.md §4.6). The same
// binary, hardlinked under a different name, also serves as the
// standalone magiskpolicy/supolicy CLI applet.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/internal/app/magiskinit"
	"github.com/magiskd/magiskd/internal/pkg/bootstrap"
	"github.com/magiskd/magiskd/pkg/sylog"
)

// runExtract implements the pre-init `-x <payload> <path>` CLI surface
// (spec.md §6), parsed directly ahead of any pseudo-filesystem mount or
// flags.Parse-friendly setup: PID 1's very first invocation has neither.
func runExtract(args []string) (handled bool, exitCode int) {
	if len(args) != 3 || args[0] != "-x" {
		return false, 0
	}
	if err := bootstrap.Extract(magiskinit.Payloads, args[1], args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "magiskinit: %s\n", err)
		return true, 1
	}
	return true, 0
}

func main() {
	if handled, code := runExtract(os.Args[1:]); handled {
		os.Exit(code)
	}

	if handled, code := magiskinit.RunApplet(os.Args); handled {
		os.Exit(code)
	}

	secureStdio()
	mountPseudoFilesystems()

	if err := bootstrap.Run(magiskinit.Payloads); err != nil {
		sylog.Fatalf("bootstrap failed: %s", err)
	}
}

// secureStdio redirects stdin/stdout/stderr to /dev/null before anything
// else runs: PID 1 inherits whatever file descriptors the kernel left
// open, and a hostile or uninitialized fd 0-2 must never be trusted
// (spec.md §4.6 step 1).
func secureStdio() {
	devNull, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		return // /dev isn't populated yet on some boot paths; best effort
	}
	defer devNull.Close()

	fd := int(devNull.Fd())
	for _, target := range []int{0, 1, 2} {
		_ = unix.Dup2(fd, target)
	}
}

// mountPseudoFilesystems mounts /proc and /sys, required before Bootstrap
// can read /proc/cmdline or walk /sys/dev/block uevents (spec.md §4.6
// step 2).
func mountPseudoFilesystems() {
	_ = os.MkdirAll("/proc", 0o755)
	_ = os.MkdirAll("/sys", 0o755)
	if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil {
		sylog.Warningf("mounting /proc: %s", err)
	}
	if err := unix.Mount("sysfs", "/sys", "sysfs", 0, ""); err != nil {
		sylog.Warningf("mounting /sys: %s", err)
	}
}
