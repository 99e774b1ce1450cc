package hide

import (
	"context"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/magiskd/magiskd/pkg/sylog"
)

const packagesXMLPath = "/data/system/packages.xml"

// inotifyEngine is implementation A of spec.md §4.9: it watches
// packages.xml for rewrites and each target package's installed APK for
// opens, re-parsing state on the former and walking /proc on the
// latter. Grounded on gravwell's filewatch package idiom (one watcher,
// one dispatch goroutine, path-keyed state) generalized from
// log-file-rotation watching to APK-open watching.
type inotifyEngine struct {
	store Store

	mu              sync.Mutex
	enabled         bool
	watcher         *fsnotify.Watcher
	watchedUID      map[string]int           // watched APK path -> uid
	uidProcesses    map[int]map[string]bool  // uid -> hidden process names for that uid
	check           *checker
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewInotifyEngine returns an Engine backed by inotify watches on
// packages.xml and target APKs.
func NewInotifyEngine(store Store) Engine {
	return &inotifyEngine{
		store:        store,
		watchedUID:   make(map[string]int),
		uidProcesses: make(map[int]map[string]bool),
		check:        newChecker(),
	}
}

func (e *inotifyEngine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *inotifyEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if err := w.Add("/data/system"); err != nil {
		w.Close()
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.watcher = w
	e.cancel = cancel
	e.enabled = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	if err := e.refresh(); err != nil {
		sylog.Warningf("hide: initial packages.xml parse: %s", err)
	}

	go e.loop(runCtx)
	return nil
}

func (e *inotifyEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return nil
	}
	e.cancel()
	<-e.done
	e.enabled = false
	return nil
}

func (e *inotifyEngine) loop(ctx context.Context) {
	defer close(e.done)
	defer e.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			e.handleEvent(ev)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			sylog.Warningf("hide: watcher error: %s", err)
		}
	}
}

func (e *inotifyEngine) handleEvent(ev fsnotify.Event) {
	if ev.Name == packagesXMLPath && ev.Op&fsnotify.Write != 0 {
		if err := e.refresh(); err != nil {
			sylog.Warningf("hide: re-parsing packages.xml: %s", err)
		}
		return
	}

	e.mu.Lock()
	uid, watched := e.watchedUID[ev.Name]
	hidden := e.uidProcesses[uid]
	e.mu.Unlock()
	if !watched {
		return
	}
	e.scanProc(uid, hidden)
}

// refresh re-parses packages.xml, rebuilds the uid/process maps, and
// re-establishes inotify watches on every target package's APK.
func (e *inotifyEngine) refresh() error {
	records, err := parsePackagesXML(packagesXMLPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // external-state inconsistency: degrade, not fatal
		}
		return err
	}

	hideList, err := e.store.HideList()
	if err != nil {
		return err
	}
	hideSet := make(map[string]bool, len(hideList))
	for _, p := range hideList {
		hideSet[p] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for path := range e.watchedUID {
		_ = e.watcher.Remove(path)
	}
	e.watchedUID = make(map[string]int)
	e.uidProcesses = make(map[int]map[string]bool)

	for _, rec := range records {
		if !hideSet[rec.Name] {
			continue
		}
		if e.uidProcesses[rec.UID] == nil {
			e.uidProcesses[rec.UID] = make(map[string]bool)
		}
		e.uidProcesses[rec.UID][rec.Name] = true

		apk, ok := apkPath(rec.CodePath)
		if !ok {
			continue
		}
		if err := e.watcher.Add(apk); err == nil {
			e.watchedUID[apk] = rec.UID
		}
	}
	return nil
}

func (e *inotifyEngine) scanProc(uid int, hidden map[string]bool) {
	if hidden == nil {
		return
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return
	}
	for _, entry := range entries {
		pid, err := parsePID(entry.Name())
		if err != nil {
			continue
		}
		e.check.checkPID(pid, uid, hidden)
	}
}

func (e *inotifyEngine) Add(process string) error {
	if err := e.store.HideAdd(process); err != nil {
		return err
	}
	return e.refreshIfEnabled()
}

func (e *inotifyEngine) Remove(process string) error {
	if err := e.store.HideRemove(process); err != nil {
		return err
	}
	return e.refreshIfEnabled()
}

func (e *inotifyEngine) List() ([]string, error) {
	return e.store.HideList()
}

func (e *inotifyEngine) refreshIfEnabled() error {
	if !e.Enabled() {
		return nil
	}
	return e.refresh()
}

func parsePID(name string) (int, error) {
	n := 0
	if name == "" {
		return 0, os.ErrInvalid
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
