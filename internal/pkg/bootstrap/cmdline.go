package bootstrap

import (
	"os"
	"strings"
)

// defaultDtDir is used when the kernel cmdline carries no
// androidboot.android_dt_dir token (original_source's DEFAULT_DT_DIR).
const defaultDtDir = "/proc/device-tree/firmware/android"

// Cmdline is the command-line vector parsed once from /proc/cmdline
// (spec.md §3 "Command-line vector").
type Cmdline struct {
	SkipInitramfs bool
	SlotSuffix    string // "", "_a" or "_b"
	DtDir         string
}

// ParseCmdline reads /proc/cmdline and extracts the tokens Bootstrap
// cares about. Cobra/pflag are not used here (design note, SPEC_FULL.md
// ambient stack): PID 1 has no conventional argv and no writable
// environment yet, so this is a minimal hand-rolled scanner matching
// original_source's parse_cmdline byte for byte in behavior.
func ParseCmdline() (Cmdline, error) {
	raw, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return Cmdline{}, err
	}
	return parseCmdline(string(raw)), nil
}

func parseCmdline(raw string) Cmdline {
	cmd := Cmdline{DtDir: defaultDtDir}

	for _, tok := range strings.Fields(raw) {
		switch {
		case strings.HasPrefix(tok, "androidboot.slot_suffix="):
			cmd.SlotSuffix = strings.TrimPrefix(tok, "androidboot.slot_suffix=")
		case strings.HasPrefix(tok, "androidboot.slot="):
			// androidboot.slot=a -> slot suffix "_a"
			slot := strings.TrimPrefix(tok, "androidboot.slot=")
			if slot != "" {
				cmd.SlotSuffix = "_" + slot[:1]
			}
		case tok == "skip_initramfs":
			cmd.SkipInitramfs = true
		case strings.HasPrefix(tok, "androidboot.android_dt_dir="):
			cmd.DtDir = strings.TrimPrefix(tok, "androidboot.android_dt_dir=")
		}
	}

	return cmd
}
