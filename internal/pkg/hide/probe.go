package hide

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// Select probes whether an inotify watch on /data/system is usable on
// this device and returns the corresponding Engine, falling back to the
// logcat-stream engine when the watcher cannot be created or the watch
// fails; a missing /data/system still selects inotify (spec.md §9
// ambiguity (a), decided
// as a runtime probe — see DESIGN.md).
func Select(store Store) Engine {
	if probeInotify() {
		return NewInotifyEngine(store)
	}
	sylog.Infof("hide: inotify unavailable, falling back to logcat engine")
	return NewLogcatEngine(store)
}

func probeInotify() bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close()

	if err := w.Add("/data/system"); err != nil {
		return os.IsNotExist(err) // missing on this device, not unsupported
	}
	return true
}
