package bootstrap

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const magiskImportLine = "import /init.magisk.rc\n"

// PatchInitRc reads path line by line, inserting an `import
// /init.magisk.rc` line right before the first `import` directive (unless
// one is already present) and dropping any line mentioning
// selinux.reload_policy, then atomically replaces the original (spec.md
// §4.6 step 7). Running it twice is a no-op the second time (spec.md §8
// property 3): if the import line is already present, PatchInitRc
// detects that on the first scan and never inserts a duplicate.
func PatchInitRc(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bootstrap: opening %s: %w", path, err)
	}
	defer in.Close()

	tmp := path + ".new"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o750)
	if err != nil {
		return fmt.Errorf("bootstrap: creating %s: %w", tmp, err)
	}

	if err := patchInitRc(in, out); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("bootstrap: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("bootstrap: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

func patchInitRc(in *os.File, out *os.File) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	injected := false
	for sc.Scan() {
		line := sc.Text() + "\n"

		if !injected && strings.HasPrefix(strings.TrimSpace(line), "import") {
			if strings.Contains(line, "init.magisk.rc") {
				injected = true
			} else {
				if _, err := out.WriteString(magiskImportLine); err != nil {
					return err
				}
				injected = true
			}
		} else if strings.Contains(line, "selinux.reload_policy") {
			continue
		}

		if _, err := out.WriteString(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
