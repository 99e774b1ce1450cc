package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// newImgtoolCommand wraps the legacy ext4 loop-image workflow
// (/data/adb/magisk.img, pre-dynamic-partition devices): creating a
// sparse file of a given size and formatting it. Actual ext4 layout is
// delegated to mke2fs the way the original relied on the host's e2fsprogs
// rather than reimplementing a filesystem (SPEC_FULL.md Non-goals:
// boot-image repackaging; a loop-image filesystem format is squarely in
// the same "external collaborator" category as SELinux policy
// compilation in internal/pkg/policy).
func newImgtoolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgtool",
		Short: "Create or mount the legacy module loop image",
	}
	cmd.AddCommand(newImgtoolCreateCommand(), newImgtoolMountCommand())
	return cmd
}

func newImgtoolCreateCommand() *cobra.Command {
	var sizeMB int
	cmd := &cobra.Command{
		Use:  "create <path>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createLoopImage(args[0], sizeMB)
		},
	}
	cmd.Flags().IntVar(&sizeMB, "size", 64, "image size in megabytes")
	return cmd
}

func newImgtoolMountCommand() *cobra.Command {
	return &cobra.Command{
		Use:  "mount <path> <target>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mountLoopImage(args[0], args[1])
		},
	}
}

func createLoopImage(path string, sizeMB int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("imgtool: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(sizeMB) << 20); err != nil {
		return fmt.Errorf("imgtool: sizing %s: %w", path, err)
	}

	out, err := exec.Command("mke2fs", "-t", "ext4", "-F", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("imgtool: mke2fs: %w: %s", err, out)
	}
	return nil
}

func mountLoopImage(path, target string) error {
	out, err := exec.Command("mount", "-o", "loop", path, target).CombinedOutput()
	if err != nil {
		return fmt.Errorf("imgtool: mount: %w: %s", err, out)
	}
	return nil
}
