// Package bootstrap implements the pre-init program (spec.md §4.6):
// reconstructing a working rootfs, mounting early block devices, patching
// the MAC policy in memory, injecting the init script, and re-exec'ing the
// original init — all before any dynamic libraries or services exist.
//
// Design note (SPEC_FULL.md, §9 "dynamic dispatch over boot modes"): the
// three boot modes are a tagged variant (Mode) each specializing Preset,
// sharing one forward-only state machine driven by Run, mirroring the
// teacher's runtime/engine.Engine interface shape (one driver, pluggable
// engine-specific hooks).
package bootstrap

import "fmt"

// State names the forward-only state machine of spec.md §4.6. There is no
// rollback within a boot: Run only ever moves a Context to the next State.
type State int

const (
	Entry State = iota
	CmdlineParsed
	RootfsReady
	EarlyMounted
	Overlaid
	InitRcPatched
	PolicyPatched
	PayloadsWritten
	Exec
)

func (s State) String() string {
	names := [...]string{
		"Entry", "CmdlineParsed", "RootfsReady", "EarlyMounted",
		"Overlaid", "InitRcPatched", "PolicyPatched", "PayloadsWritten", "Exec",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Context carries everything a boot mode and the shared driver steps need;
// it replaces the original's process-wide globals (setup_done,
// seperate_vendor) with fields constructed once at the start of Bootstrap
// and passed down explicitly (SPEC_FULL.md "Global state" design note).
type Context struct {
	Cmdline Cmdline
	State   State

	// SeparateVendor records whether EarlyMount mounted a distinct
	// /vendor partition; no later step reads it.
	SeparateVendor bool

	mountedSystem bool
	mountedVendor bool
	systemDev     BlockDevice
	vendorDev     BlockDevice
	dataDev       BlockDevice

	// Payloads is the source of the embedded daemon binary, init
	// script and manager APK this build carries, each LZMA2-compressed
	// (codec is the external collaborator that decodes them).
	Payloads PayloadSource
}

// advance moves ctx to the next state, refusing to go backward — the only
// transition primitive the state machine exposes.
func (ctx *Context) advance(next State) error {
	if next <= ctx.State {
		return fmt.Errorf("bootstrap: illegal transition %s -> %s", ctx.State, next)
	}
	ctx.State = next
	return nil
}
