// Package sylog implements a small leveled logger shared by every binary in
// this module (magiskinit, magiskd and the CLI multi-call tool), so that a
// daemon running as PID 1 or under a stripped-down rootfs never depends on
// anything heavier than os.Stderr.
package sylog
