// Package fs implements the recursive tree operations Bootstrap and the
// hide worker need on the raw rootfs: cloning and purging directory trees
// across mount points while preserving mode, ownership and the SELinux
// label, and mmap-based in-place binary patching.
//
// The tree entry points take directory paths, open each directory once,
// and from then on work through the *at syscalls (Openat, Mkdirat,
// Unlinkat, ...) to avoid a TOCTOU window between resolving a path and
// acting on it,
// the same discipline the teacher's overlay and unpacker code follows.
package fs

import (
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/pkg/sylog"
)

// selinuxXattr is the xattr name carrying a file's SELinux security
// context; it is not readable through Go's ordinary os.Lchown/os.Chmod and
// needs the Get/Set/Lxattr family.
const selinuxXattr = "security.selinux"

// CloneTree copies every entry of src into dst recursively, preserving
// mode, uid/gid, the SELinux label and symlink targets; other extended
// attributes are not copied. Names in excludes are skipped at the top
// level only; subdirectories are cloned in full.
func CloneTree(srcDir, dstDir string, excludes map[string]struct{}) error {
	src, err := os.Open(srcDir)
	if err != nil {
		return fmt.Errorf("fs: opening %s: %w", srcDir, err)
	}
	defer src.Close()

	dst, err := os.Open(dstDir)
	if err != nil {
		return fmt.Errorf("fs: opening %s: %w", dstDir, err)
	}
	defer dst.Close()

	return cloneDir(int(src.Fd()), int(dst.Fd()), excludes)
}

func cloneDir(srcFd, dstFd int, excludes map[string]struct{}) error {
	entries, err := readdirFd(srcFd)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if _, skip := excludes[e.Name]; skip {
			continue
		}
		if err := cloneEntry(srcFd, dstFd, e); err != nil {
			return fmt.Errorf("fs: cloning %s: %w", e.Name, err)
		}
	}
	return nil
}

func cloneEntry(srcFd, dstFd int, e dirent) error {
	var st unix.Stat_t
	if err := unix.Fstatat(srcFd, e.Name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return err
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		if err := mkdirRetainExisting(dstFd, e.Name, os.FileMode(st.Mode&0o777)); err != nil {
			return err
		}
		sub, err := unix.Openat(dstFd, e.Name, unix.O_DIRECTORY|unix.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer unix.Close(sub)
		subSrc, err := unix.Openat(srcFd, e.Name, unix.O_DIRECTORY|unix.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer unix.Close(subSrc)
		if err := cloneDir(subSrc, sub, nil); err != nil {
			return err
		}
	case unix.S_IFLNK:
		target, err := unix.Readlinkat(srcFd, e.Name, make([]byte, unix.PathMax))
		if err != nil {
			return err
		}
		_ = unix.Unlinkat(dstFd, e.Name, 0)
		if err := unix.Symlinkat(target, dstFd, e.Name); err != nil {
			return err
		}
	case unix.S_IFREG:
		if err := cloneRegular(srcFd, dstFd, e.Name, &st); err != nil {
			return err
		}
	default:
		// Character/block devices and fifos are not expected inside a
		// cloned system partition; skip them rather than fail the whole
		// bootstrap over a udev-managed node.
		sylog.Debugf("fs: skipping special file %s (mode %o)", e.Name, st.Mode)
		return nil
	}

	return copyMetadata(srcFd, dstFd, e.Name, &st)
}

func mkdirRetainExisting(dirFd int, name string, mode os.FileMode) error {
	err := unix.Mkdirat(dirFd, name, uint32(mode))
	if err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}

// cloneRegular copies file content using a zero-copy transfer
// (copy_file_range) when source and destination share a filesystem, and
// falls back to sendfile and then to a plain Read/Write loop otherwise
// (e.g. across the /system_root -> / boundary during the system-as-root
// clone).
func cloneRegular(srcFd, dstFd int, name string, st *unix.Stat_t) error {
	in, err := unix.Openat(srcFd, name, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(in)

	_ = unix.Unlinkat(dstFd, name, 0)
	out, err := unix.Openat(dstFd, name, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, uint32(st.Mode&0o777))
	if err != nil {
		return err
	}
	defer unix.Close(out)

	return zeroCopy(in, out, int64(st.Size))
}

// ZeroCopy transfers size bytes from src to dst, preferring
// copy_file_range and falling back to sendfile/Read+Write when the kernel
// refuses the fast path (e.g. crossing filesystem types).
func ZeroCopy(src, dst *os.File, size int64) error {
	return zeroCopy(int(src.Fd()), int(dst.Fd()), size)
}

func zeroCopy(in, out int, size int64) error {
	remaining := size
	for remaining > 0 {
		n, err := unix.CopyFileRange(in, nil, out, nil, int(remaining), 0)
		if err != nil {
			if err == unix.EXDEV || err == unix.ENOSYS || err == unix.EINVAL {
				return sendfileFallback(in, out, remaining)
			}
			return err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
	}
	return nil
}

func sendfileFallback(in, out int, remaining int64) error {
	for remaining > 0 {
		n, err := unix.Sendfile(out, in, nil, int(remaining))
		if err != nil {
			if err == unix.EINVAL || err == unix.ENOSYS {
				return readWriteFallback(in, out, remaining)
			}
			return err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
	}
	return nil
}

func readWriteFallback(in, out int, remaining int64) error {
	// The caller owns in and out, so the *os.File wrappers (and their
	// close-on-GC finalizers) own only duplicated descriptors that share
	// the same file offsets.
	inDup, err := unix.Dup(in)
	if err != nil {
		return err
	}
	src := os.NewFile(uintptr(inDup), "src")
	defer src.Close()
	outDup, err := unix.Dup(out)
	if err != nil {
		return err
	}
	dst := os.NewFile(uintptr(outDup), "dst")
	defer dst.Close()

	_, err := io.CopyN(dst, src, remaining)
	if err == io.EOF {
		return nil
	}
	return err
}

// copyMetadata carries mode, ownership and the SELinux label from src to
// dst; symlinks use the *at "no follow" family since
// their mode bits are meaningless and chmod on a symlink is undefined on
// Linux.
func copyMetadata(srcFd, dstFd int, name string, st *unix.Stat_t) error {
	if st.Mode&unix.S_IFMT != unix.S_IFLNK {
		if err := unix.Fchmodat(dstFd, name, uint32(st.Mode&0o7777), 0); err != nil {
			return err
		}
	}
	if err := unix.Fchownat(dstFd, name, int(st.Uid), int(st.Gid), unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return err
	}
	return CopyXattrs(srcFd, dstFd, name)
}

// CopyXattrs copies the security.selinux extended attribute from src/name
// to dst/name, so a cloned rootfs boots under the same MAC labels as the
// partition it was copied from. No other extended attribute is copied, and
// a failure to read or set the label is ignored.
func CopyXattrs(srcFd, dstFd int, name string) error {
	srcPath := fmt.Sprintf("/proc/self/fd/%d/%s", srcFd, name)
	dstPath := fmt.Sprintf("/proc/self/fd/%d/%s", dstFd, name)

	size, err := unix.Lgetxattr(srcPath, selinuxXattr, nil)
	if err == nil && size > 0 {
		buf := make([]byte, size)
		if _, err := unix.Lgetxattr(srcPath, selinuxXattr, buf); err == nil {
			_ = unix.Lsetxattr(dstPath, selinuxXattr, buf, 0)
		}
	}
	return nil
}

// PurgeTree removes every entry of dir recursively, skipping names in
// excludes at the top level.
func PurgeTree(dir string, excludes map[string]struct{}) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("fs: opening %s: %w", dir, err)
	}
	defer d.Close()
	return purgeDir(int(d.Fd()), excludes)
}

func purgeDir(dirFd int, excludes map[string]struct{}) error {
	entries, err := readdirFd(dirFd)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if _, skip := excludes[e.Name]; skip {
			continue
		}
		var st unix.Stat_t
		if err := unix.Fstatat(dirFd, e.Name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if err == unix.ENOENT {
				continue
			}
			return err
		}
		if st.Mode&unix.S_IFMT == unix.S_IFDIR {
			sub, err := unix.Openat(dirFd, e.Name, unix.O_DIRECTORY|unix.O_RDONLY, 0)
			if err != nil {
				return err
			}
			err = purgeDir(sub, nil)
			unix.Close(sub)
			if err != nil {
				return err
			}
			if err := unix.Unlinkat(dirFd, e.Name, unix.AT_REMOVEDIR); err != nil {
				return err
			}
		} else {
			if err := unix.Unlinkat(dirFd, e.Name, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// MoveTree moves every entry of srcDir into dstDir using rename(2), falling
// back to copy+delete when they live on different mounts (EXDEV). Matches
// Bootstrap's overlay-merge step, where later files win on name collision.
func MoveTree(srcDir, dstDir string) error {
	src, err := os.Open(srcDir)
	if err != nil {
		return fmt.Errorf("fs: opening %s: %w", srcDir, err)
	}
	defer src.Close()
	dst, err := os.Open(dstDir)
	if err != nil {
		return fmt.Errorf("fs: opening %s: %w", dstDir, err)
	}
	defer dst.Close()

	srcFd, dstFd := int(src.Fd()), int(dst.Fd())
	entries, err := readdirFd(srcFd)
	if err != nil {
		return err
	}

	for _, e := range entries {
		err := unix.Renameat(srcFd, e.Name, dstFd, e.Name)
		if err == nil {
			continue
		}
		if err != unix.EXDEV {
			return fmt.Errorf("fs: moving %s: %w", e.Name, err)
		}
		// Cross-device: fall back to copy-then-delete for this entry.
		if cerr := cloneEntry(srcFd, dstFd, e); cerr != nil {
			return cerr
		}
		derr := unix.Unlinkat(srcFd, e.Name, 0)
		if derr == unix.EISDIR {
			sub, oerr := unix.Openat(srcFd, e.Name, unix.O_DIRECTORY|unix.O_RDONLY, 0)
			if oerr != nil {
				return oerr
			}
			derr = purgeDir(sub, nil)
			unix.Close(sub)
			if derr == nil {
				derr = unix.Unlinkat(srcFd, e.Name, unix.AT_REMOVEDIR)
			}
		}
		if derr != nil {
			return derr
		}
	}
	return nil
}

// MmapRW maps path writable for in-place binary patching (the init-binary
// sepolicy-path blanking step, and the daemon-binary socket-name patch).
// The caller must call Munmap when done.
func MmapRW(path string) (buf []byte, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("fs: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fs: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("fs: %s is empty", path)
	}

	buf, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fs: mmap %s: %w", path, err)
	}
	return buf, nil
}

// Munmap releases a mapping obtained from MmapRW.
func Munmap(buf []byte) error {
	return unix.Munmap(buf)
}

type dirent struct {
	Name string
}

func readdirFd(fd int) ([]dirent, error) {
	dupFd, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(dupFd), "dir")
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]dirent, 0, len(names))
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		out = append(out, dirent{Name: n})
	}
	return out, nil
}
