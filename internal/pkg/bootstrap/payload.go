package bootstrap

import (
	"fmt"
	"io"
	"os"

	"github.com/magiskd/magiskd/internal/pkg/codec"
	"github.com/magiskd/magiskd/internal/pkg/fs"
	"github.com/magiskd/magiskd/internal/pkg/sock"
)

// PayloadSource supplies the LZMA2-compressed payloads embedded in this
// build: the daemon binary, the init script sourced by /init.rc, and the
// management GUI's APK. A production build embeds these via go:embed in
// the internal/app/magiskinit package.
type PayloadSource interface {
	Daemon() (io.Reader, error)
	InitScript() (io.Reader, error)
	Manager() (io.Reader, error)
}

// Extract decompresses one named payload to path with the given mode,
// implementing the `-x <payload> <path>` CLI surface spec.md §6 adds to
// the pre-init binary (payload one of "magisk", "manager", "magiskrc",
// extracted with mode 0755/0644/0755 respectively).
func Extract(src PayloadSource, payload, path string) error {
	kind, mode, err := extractTarget(payload)
	if err != nil {
		return err
	}
	return writePayload(src, kind, path, mode)
}

func extractTarget(payload string) (kind string, mode os.FileMode, err error) {
	switch payload {
	case "magisk":
		return "daemon", 0o755, nil
	case "manager":
		return "manager", 0o644, nil
	case "magiskrc":
		return "initscript", 0o755, nil
	default:
		return "", 0, fmt.Errorf("bootstrap: unknown -x payload %q", payload)
	}
}

// EmitPayloads decompresses and writes the daemon binary and init script
// to their well-known locations (spec.md §4.6 step 9), then patches two
// 32-byte random socket-name strings into the daemon binary in place.
func EmitPayloads(src PayloadSource) error {
	if err := writePayload(src, "daemon", "/sbin/magisk", 0o755); err != nil {
		return err
	}
	if err := writePayload(src, "initscript", "/init.magisk.rc", 0o750); err != nil {
		return err
	}
	if err := patchSocketNames("/sbin/magisk"); err != nil {
		return fmt.Errorf("bootstrap: patching socket names: %w", err)
	}

	// Persisted state: the same binary answers to both names, so a
	// later boot's magiskinit applet dispatch (basename == magiskpolicy
	// etc.) keeps working even after the rootfs this ran against is torn
	// down (spec.md §6 "persisted state").
	_ = os.Remove("/sbin/magiskinit")
	if err := os.Link("/sbin/magisk", "/sbin/magiskinit"); err != nil {
		return fmt.Errorf("bootstrap: linking /sbin/magiskinit: %w", err)
	}
	return nil
}

func writePayload(src PayloadSource, kind, path string, mode os.FileMode) error {
	var r io.Reader
	var err error
	switch kind {
	case "daemon":
		r, err = src.Daemon()
	case "initscript":
		r, err = src.InitScript()
	case "manager":
		r, err = src.Manager()
	default:
		return fmt.Errorf("bootstrap: unknown payload kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("bootstrap: opening %s payload: %w", kind, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("bootstrap: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := codec.Decompress(r, f); err != nil {
		return fmt.Errorf("bootstrap: decompressing %s: %w", kind, err)
	}
	return f.Chmod(mode)
}

// patchSocketNames scans path in memory for both placeholder markers and
// overwrites each with a fresh random name, so every install ends up with
// unique abstract socket addresses (spec.md §4.3).
func patchSocketNames(path string) error {
	buf, err := fs.MmapRW(path)
	if err != nil {
		return err
	}
	defer fs.Munmap(buf)

	patchOne(buf, sock.MainSocketPlaceholder)
	patchOne(buf, sock.LogSocketPlaceholder)
	return nil
}

func patchOne(buf []byte, placeholder string) bool {
	idx := indexOf(buf, placeholder)
	if idx < 0 {
		return false
	}
	name := sock.RandomName()
	copy(buf[idx:idx+len(placeholder)], name)
	return true
}

func indexOf(buf []byte, s string) int {
	n := len(s)
	for i := 0; i+n <= len(buf); i++ {
		if string(buf[i:i+n]) == s {
			return i
		}
	}
	return -1
}
