package bootstrap

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// EarlyMount mounts the system and vendor block devices discovered via
// the device-tree fstab, skipping any mount point that is a symlink
// (spec.md §4.6 step 5). On a system-as-root device, /system is already
// bind-mounted by SystemAsRoot.Preset and this step only handles
// /vendor.
func EarlyMount(ctx *Context) error {
	if !ctx.Cmdline.SkipInitramfs {
		if err := earlyMountOne(ctx, "system", &ctx.mountedSystem); err != nil {
			return err
		}
	}
	if err := earlyMountOne(ctx, "vendor", &ctx.mountedVendor); err != nil {
		return err
	}
	return nil
}

func earlyMountOne(ctx *Context, mountPoint string, mounted *bool) error {
	partname, ok, err := readFstabDt(ctx.Cmdline, mountPoint)
	if err != nil {
		sylog.Warningf("bootstrap: reading device-tree fstab for %s: %s", mountPoint, err)
		return nil // external-state inconsistency: degrade, don't fail the boot
	}
	if !ok {
		return nil
	}

	dev, found, err := FindBlockDevice(partname)
	if err != nil {
		return err
	}
	if !found {
		sylog.Warningf("bootstrap: no block device with partname %q", partname)
		return nil
	}
	if err := dev.MakeNode(); err != nil {
		return err
	}

	target := "/" + mountPoint
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	if err := unix.Mount(dev.Path, target, "ext4", unix.MS_RDONLY, ""); err != nil {
		return err
	}

	if mountPoint == "vendor" {
		ctx.vendorDev = dev
		ctx.SeparateVendor = true
	} else {
		ctx.systemDev = dev
	}
	*mounted = true
	return nil
}
