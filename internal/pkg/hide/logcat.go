package hide

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"sync"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// amProcStart matches logcat's am_proc_start event line, which carries
// (pid, ..., uid, ..., process_name) in one of two field layouts
// depending on logcat's build (spec.md §4.9 "Implementation B").
var amProcStart = regexp.MustCompile(`am_proc_start:\s*\[\s*\d+\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(?:\d+\s*,\s*)?([^,\]\s]+)`)

// logcatEngine is implementation B of spec.md §4.9: a fallback for
// kernels/devices where inotify cannot reliably observe package-manager
// state, subscribing instead to the logcat am_proc_start event stream.
type logcatEngine struct {
	store Store

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLogcatEngine returns an Engine backed by the logcat event stream.
func NewLogcatEngine(store Store) Engine {
	return &logcatEngine{store: store}
}

func (e *logcatEngine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *logcatEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.enabled = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.loop(runCtx)
	return nil
}

func (e *logcatEngine) Stop() error {
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

func (e *logcatEngine) loop(ctx context.Context) {
	defer close(e.done)

	cmd := exec.CommandContext(ctx, "logcat", "-b", "events", "-v", "raw", "*:S", "am_proc_start:I")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		sylog.Warningf("hide: starting logcat: %s", err)
		return
	}
	if err := cmd.Start(); err != nil {
		sylog.Warningf("hide: starting logcat: %s", err)
		return
	}
	defer cmd.Wait()

	check := newChecker()
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m := amProcStart.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		pid, err1 := strconv.Atoi(m[1])
		uid, err2 := strconv.Atoi(m[2])
		proc := m[3]
		if err1 != nil || err2 != nil {
			continue
		}

		hideList, err := e.store.HideList()
		if err != nil {
			continue
		}
		hideSet := make(map[string]bool, len(hideList))
		for _, p := range hideList {
			hideSet[p] = true
		}
		if !hideSet[proc] {
			continue
		}

		check.checkPID(pid, uid, hideSet)
	}
}

func (e *logcatEngine) Add(process string) error {
	return e.store.HideAdd(process)
}

func (e *logcatEngine) Remove(process string) error {
	return e.store.HideRemove(process)
}

func (e *logcatEngine) List() ([]string, error) {
	return e.store.HideList()
}
