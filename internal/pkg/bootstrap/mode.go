package bootstrap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/internal/pkg/fs"
	"github.com/magiskd/magiskd/pkg/sylog"
)

// Mode is one boot-mode variant (spec.md §4.6 step 4 "Dispatch by boot
// mode"). Each variant specializes Preset, which brings the rootfs to
// RootfsReady; the rest of the state machine (EarlyMount -> ... -> Exec)
// is shared by Run regardless of which Mode produced it.
type Mode interface {
	// Preset brings ctx's rootfs to a state where EarlyMount can run,
	// and reports whether the remaining patch steps should be skipped
	// entirely (the Recovery case: boot straight to the original init).
	Preset(ctx *Context) (skipPatch bool, err error)
}

// rootExcludes is the exclusion list kept when wiping the existing
// rootfs on a system-as-root device (spec.md §4.6 step 4).
var rootExcludes = map[string]struct{}{
	"overlay":  {},
	".backup":  {},
	"proc":     {},
	"sys":      {},
	"init.bak": {},
}

// SystemAsRoot implements the skip_initramfs boot mode: the kernel
// mounts /system directly as /, so Bootstrap must wipe the initramfs
// rootfs, locate and mount the real system partition, clone it into /,
// and bind-mount /system onto it.
type SystemAsRoot struct{}

func (SystemAsRoot) Preset(ctx *Context) (bool, error) {
	if err := fs.PurgeTree("/", rootExcludes); err != nil {
		return false, fmt.Errorf("bootstrap: wiping rootfs: %w", err)
	}

	partname := "system" + ctx.Cmdline.SlotSuffix
	dev, found, err := FindBlockDevice(partname)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("bootstrap: no block device with partname %q", partname)
	}
	if err := dev.MakeNode(); err != nil {
		return false, err
	}

	if err := os.MkdirAll("/system_root", 0o755); err != nil {
		return false, fmt.Errorf("bootstrap: mkdir /system_root: %w", err)
	}
	if err := unix.Mount(dev.Path, "/system_root", "ext4", unix.MS_RDONLY, ""); err != nil {
		return false, fmt.Errorf("bootstrap: mounting %s at /system_root: %w", dev.Path, err)
	}

	// Clone everything except /system itself: it is bind-mounted in
	// directly below, matching the original's exclusion of "system"
	// during the system-as-root clone.
	if err := fs.CloneTree("/system_root", "/", map[string]struct{}{"system": {}}); err != nil {
		return false, fmt.Errorf("bootstrap: cloning system_root into /: %w", err)
	}

	if err := os.MkdirAll("/system", 0o755); err != nil {
		return false, fmt.Errorf("bootstrap: mkdir /system: %w", err)
	}
	if err := unix.Mount("/system_root/system", "/system", "", unix.MS_BIND, ""); err != nil {
		return false, fmt.Errorf("bootstrap: bind-mounting /system: %w", err)
	}

	ctx.systemDev = dev
	return false, nil
}

// Legacy implements the initramfs boot mode: the original init binary,
// backed up at /.backup/init, is restored in place.
type Legacy struct{}

func (Legacy) Preset(ctx *Context) (bool, error) {
	if err := os.Rename("/.backup/init", "/init"); err != nil {
		return false, fmt.Errorf("bootstrap: restoring /.backup/init: %w", err)
	}

	if _, err := os.Stat("/sbin/recovery"); err == nil {
		sylog.Infof("bootstrap: recovery marker present, skipping patch")
		return true, nil
	}
	return false, nil
}

// Recovery is a degenerate Mode whose Preset always reports
// skipPatch=true. SelectMode never returns it: Legacy.Preset detects the
// recovery marker itself and reports skipPatch=true on its own.
type Recovery struct{}

func (Recovery) Preset(ctx *Context) (bool, error) {
	return true, nil
}

// SelectMode chooses the boot-mode variant for cmd, matching spec.md
// §4.6 step 4's dispatch.
func SelectMode(cmd Cmdline) Mode {
	if cmd.SkipInitramfs {
		return SystemAsRoot{}
	}
	return Legacy{}
}
