package bootstrap

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// Run drives the forward-only state machine of spec.md §4.6 from Entry to
// Exec: parse the command line, bring the rootfs up via the selected
// Mode, mount early block devices, merge any overlay, patch init.rc and
// the SELinux policy, emit the daemon and init-script payloads, then
// unmount the pseudo-filesystems this process mounted for itself and
// exec the original init.
//
// Run never returns on success: unix.Exec replaces this process image.
// It only returns an error if some step failed before Exec, in which
// case the caller (cmd/magiskinit) logs it as fatal and exits.
func Run(payloads PayloadSource) error {
	ctx := &Context{Payloads: payloads}

	cmd, err := ParseCmdline()
	if err != nil {
		return fmt.Errorf("bootstrap: parsing cmdline: %w", err)
	}
	ctx.Cmdline = cmd
	if err := ctx.advance(CmdlineParsed); err != nil {
		return err
	}

	mode := SelectMode(cmd)
	skipPatch, err := mode.Preset(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: preset: %w", err)
	}
	if err := ctx.advance(RootfsReady); err != nil {
		return err
	}

	if skipPatch {
		sylog.Infof("bootstrap: skipping patch steps, exec'ing original init")
		return execInit()
	}

	if err := EarlyMount(ctx); err != nil {
		return fmt.Errorf("bootstrap: early mount: %w", err)
	}
	if err := ctx.advance(EarlyMounted); err != nil {
		return err
	}

	if err := OverlayMerge(); err != nil {
		return fmt.Errorf("bootstrap: overlay merge: %w", err)
	}
	if err := ctx.advance(Overlaid); err != nil {
		return err
	}

	if err := PatchInitRc("/init.rc"); err != nil {
		return fmt.Errorf("bootstrap: patching init.rc: %w", err)
	}
	if err := ctx.advance(InitRcPatched); err != nil {
		return err
	}

	if err := PatchPolicy(); err != nil {
		return fmt.Errorf("bootstrap: patching policy: %w", err)
	}
	if err := ctx.advance(PolicyPatched); err != nil {
		return err
	}

	if err := EmitPayloads(ctx.Payloads); err != nil {
		return fmt.Errorf("bootstrap: emitting payloads: %w", err)
	}
	if err := ctx.advance(PayloadsWritten); err != nil {
		return err
	}

	return execInit()
}

// execInit unmounts the pseudo-filesystems this process mounted for
// itself and replaces the process image with the original init,
// preserving argv[0] so init can't tell it wasn't launched directly by
// the kernel.
func execInit() error {
	for _, mnt := range []string{"/proc", "/sys"} {
		if err := unix.Unmount(mnt, unix.MNT_DETACH); err != nil {
			sylog.Warningf("bootstrap: unmounting %s: %s", mnt, err)
		}
	}

	if err := unix.Exec("/init", []string{"/init"}, []string{}); err != nil {
		return fmt.Errorf("bootstrap: exec /init: %w", err)
	}
	return nil // unreachable on success
}
