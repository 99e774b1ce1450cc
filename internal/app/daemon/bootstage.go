package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/magiskd/magiskd/internal/pkg/sock"
	"github.com/magiskd/magiskd/pkg/sylog"
)

// scriptDirs maps each boot-stage request tag to the well-known
// directory of admin-supplied scripts it runs, in filename order,
// matching Magisk's post-fs-data.d/service.d module-script convention.
var scriptDirs = map[RequestTag]string{
	PostFsData: "/data/adb/post-fs-data.d",
	LateStart:  "/data/adb/service.d",
}

// runBootStage runs every executable script under the directory tag
// maps to, then writes back a terminal status so the client (init,
// via the magisk CLI) can unblock (spec.md §4.7 "terminal state on
// completion is written back").
func (c *Context) runBootStage(conn *sock.Conn, stageName string) {
	dir, ok := scriptDirs[stageNameTag(stageName)]
	if !ok {
		_ = conn.WriteInt32(int32(Error))
		return
	}

	if err := runScripts(dir); err != nil {
		sylog.Warningf("daemon: %s scripts: %s", stageName, err)
	}
	_ = conn.WriteInt32(int32(Success))
}

func stageNameTag(stageName string) RequestTag {
	switch stageName {
	case "post-fs-data":
		return PostFsData
	case "service":
		return LateStart
	default:
		return -1
	}
}

func runScripts(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		cmd := exec.Command(path)
		if err := cmd.Run(); err != nil {
			sylog.Warningf("daemon: script %s failed: %s", path, err)
		}
	}
	return nil
}
