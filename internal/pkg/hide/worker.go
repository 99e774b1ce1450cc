package hide

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// HideWorkerFlag is the argv[0]-adjacent flag cmd/magisk recognizes to
// divert into RunHideWorker instead of its normal dispatch, the re-exec
// target checkPID spawns (design note, SPEC_FULL.md §9).
const HideWorkerFlag = "--hide-worker"

// checker holds the state one engine needs across per-PID checks: the
// last-seen mount-namespace inode per pid, so a pid already processed is
// never re-forked (spec.md
// §5 "double-processing is a no-op due to pid_ns_map").
type checker struct {
	nsInode map[int]uint64
}

func newChecker() *checker {
	return &checker{nsInode: make(map[int]uint64)}
}

// checkPID applies spec.md §4.9's per-PID check to one numeric /proc
// entry, given the uid that owns it and the set of hidden process names
// for that uid. It forks a detached hide worker when the process
// matches and is not already processed, otherwise resumes or leaves it
// be.
func (c *checker) checkPID(pid int, targetUID int, hiddenProcesses map[string]bool) {
	if pid <= 1000 {
		return
	}

	uid, proc, ok := readProcIdentity(pid)
	if !ok || uid != targetUID {
		return
	}

	inode, ok := mountNSInode(pid)
	if !ok {
		return
	}
	if last, seen := c.nsInode[pid]; seen && last == inode {
		return
	}

	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		return
	}
	c.nsInode[pid] = inode

	bare := proc
	if idx := strings.IndexByte(bare, ':'); idx >= 0 {
		bare = bare[:idx]
	}

	if !hiddenProcesses[bare] {
		_ = unix.Kill(pid, unix.SIGCONT)
		return
	}

	sylog.Infof("hide: pausing %s (pid=%d ns=%d)", proc, pid, inode)
	if err := spawnHideWorker(pid); err != nil {
		sylog.Warningf("hide: spawning worker for pid %d: %s", pid, err)
		_ = unix.Kill(pid, unix.SIGCONT)
	}
}

func readProcIdentity(pid int) (uid int, comm string, ok bool) {
	var st unix.Stat_t
	if err := unix.Stat(fmt.Sprintf("/proc/%d", pid), &st); err != nil {
		return 0, "", false
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(raw) == 0 {
		return int(st.Uid), "", false
	}
	name := strings.TrimRight(string(raw), "\x00")
	if idx := strings.IndexByte(name, 0); idx >= 0 {
		name = name[:idx]
	}
	return int(st.Uid), name, true
}

func mountNSInode(pid int) (uint64, bool) {
	var st unix.Stat_t
	if err := unix.Stat(fmt.Sprintf("/proc/%d/ns/mnt", pid), &st); err != nil {
		return 0, false
	}
	return st.Ino, true
}

// spawnHideWorker re-execs this binary with HideWorkerFlag and pid as
// arguments, so the unmount work happens in a fresh, single-threaded
// process image rather than continuing Go code after a bare fork()
// (design note, SPEC_FULL.md §9).
func spawnHideWorker(pid int) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	argv := []string{self, HideWorkerFlag, strconv.Itoa(pid)}
	_, err = syscall.ForkExec(self, argv, &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{0, 1, 2},
	})
	return err
}

// RunHideWorker is the body of the re-exec'd process: enter pid's mount
// namespace and perform the two unmount passes of spec.md §4.9 "Hide
// worker".
func RunHideWorker(pid int) {
	defer func() {
		_ = unix.Kill(pid, unix.SIGCONT)
	}()

	nsFile, err := os.Open(fmt.Sprintf("/proc/%d/ns/mnt", pid))
	if err != nil {
		sylog.Warningf("hide-worker: opening mnt ns for pid %d: %s", pid, err)
		return
	}
	defer nsFile.Close()

	if err := unix.Setns(int(nsFile.Fd()), unix.CLONE_NEWNS); err != nil {
		sylog.Warningf("hide-worker: setns pid %d: %s", pid, err)
		return
	}

	unmountMatching(func(mountPoint, fsType string) bool {
		return fsType == "tmpfs" && underAny(mountPoint, "/system/", "/vendor/", "/sbin")
	})
	unmountMatching(func(mountPoint, fsType string) bool {
		return underAny(mountPoint, "/system/", "/vendor/")
	})
}

func underAny(path string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// unmountMatching reads /proc/self/mounts and lazily unmounts every
// entry match selects, matching the original's file_to_array +
// umount2(MNT_DETACH) pattern.
func unmountMatching(match func(mountPoint, fsType string) bool) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return
	}
	defer f.Close()

	var targets []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if match(mountPoint, fsType) {
			targets = append(targets, mountPoint)
		}
	}

	for _, mountPoint := range targets {
		if err := unix.Unmount(mountPoint, unix.MNT_DETACH); err != nil {
			sylog.Debugf("hide-worker: unmounting %s: %s", mountPoint, err)
		}
	}
}
