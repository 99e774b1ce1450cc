package bootstrap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// BlockDevice is the block device record discovered by walking
// /sys/dev/block/*/uevent (spec.md §3 "Block device record").
type BlockDevice struct {
	Major, Minor uint32
	DevName      string
	PartName     string
	Path         string
}

// FindBlockDevice walks /sys/dev/block/*/uevent looking for a device
// whose PARTNAME case-insensitively matches partname, as
// original_source's setup_block does.
func FindBlockDevice(partname string) (BlockDevice, bool, error) {
	entries, err := os.ReadDir("/sys/dev/block")
	if err != nil {
		return BlockDevice{}, false, fmt.Errorf("bootstrap: reading /sys/dev/block: %w", err)
	}

	for _, e := range entries {
		dev, err := parseUevent(filepath.Join("/sys/dev/block", e.Name(), "uevent"))
		if err != nil {
			sylog.Debugf("bootstrap: skipping %s: %s", e.Name(), err)
			continue
		}
		if strings.EqualFold(dev.PartName, partname) {
			dev.Path = "/dev/block/" + dev.DevName
			return dev, true, nil
		}
	}
	return BlockDevice{}, false, nil
}

func parseUevent(path string) (BlockDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return BlockDevice{}, err
	}
	defer f.Close()

	var dev BlockDevice
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "MAJOR":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				dev.Major = uint32(v)
			}
		case "MINOR":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				dev.Minor = uint32(v)
			}
		case "DEVNAME":
			dev.DevName = value
		case "PARTNAME":
			dev.PartName = value
		}
	}
	return dev, sc.Err()
}

// MakeNode creates the block device's node under /dev/block, creating
// parent directories as needed.
func (d BlockDevice) MakeNode() error {
	if err := os.MkdirAll("/dev/block", 0o755); err != nil {
		return fmt.Errorf("bootstrap: mkdir /dev/block: %w", err)
	}
	dev := unix.Mkdev(d.Major, d.Minor)
	if err := unix.Mknod(d.Path, unix.S_IFBLK|0o600, int(dev)); err != nil && err != unix.EEXIST {
		return fmt.Errorf("bootstrap: mknod %s: %w", d.Path, err)
	}
	return nil
}

// readFstabDt looks up mountPoint's partition name via the device-tree
// fstab (<dt_dir>/fstab/<name>/dev), returning ok=false when the mount
// point is a symlink (left alone per spec.md §4.6 step 5) or the
// device-tree entry is absent.
func readFstabDt(cmd Cmdline, mountPoint string) (partname string, ok bool, err error) {
	info, err := os.Lstat("/" + mountPoint)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", false, nil
	}

	path := filepath.Join(cmd.DtDir, "fstab", mountPoint, "dev")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	name := filepath.Base(strings.TrimSpace(string(raw)))
	if cmd.SlotSuffix != "" && !strings.HasSuffix(name, cmd.SlotSuffix) {
		name += cmd.SlotSuffix
	}
	return name, true, nil
}
