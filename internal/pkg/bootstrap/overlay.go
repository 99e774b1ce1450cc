package bootstrap

import (
	"os"

	"github.com/magiskd/magiskd/internal/pkg/fs"
)

// OverlayMerge moves the contents of /overlay (if present in the
// initramfs) into /, later files winning on any name collision — the
// semantics fs.MoveTree already provides via rename(2) (spec.md §4.6
// step 6).
func OverlayMerge() error {
	if _, err := os.Stat("/overlay"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := fs.MoveTree("/overlay", "/"); err != nil {
		return err
	}
	return os.Remove("/overlay")
}
