// Package sock implements the abstract-namespace local sockets this module
// uses for every IPC path: the daemon's client-facing channel (native-endian
// int32 request tags, length-prefixed byte strings) and the GUI channel
// (big-endian length-prefixed key/value strings), plus SCM_RIGHTS
// file-descriptor passing for the pty bridge.
package sock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrMalformedControl is returned when a received control message carries
// something other than exactly zero or one file descriptor; per spec this
// is a fatal protocol error, not a recoverable one.
var ErrMalformedControl = errors.New("sock: malformed control message")

// MainSocketPlaceholder and LogSocketPlaceholder are the 32-byte ASCII
// markers baked into the daemon binary at build time. Bootstrap scans
// the on-disk binary for these exact byte sequences and overwrites each
// with a fresh RandomName at install time (spec.md §4.3 "Abstract
// names"); client code reads these same package vars at runtime and, in
// a patched binary, sees the overwritten bytes rather than the literal
// text, since the string's backing storage lives in the executable
// image both the patcher and the running process share.
var (
	MainSocketPlaceholder = "MAGISKD_MAIN_SOCKET_PLACEHOLDER_"
	LogSocketPlaceholder  = "MAGISKD_LOG_SOCKET_PLACEHOLDER__"
)

// RandomName returns a 32-byte ASCII abstract-socket name, generated once
// per install (Bootstrap) and patched into the daemon binary so each
// install gets a unique, unguessable socket address. Two version-4 UUIDs
// (32 random bytes between them, ignoring their dashes and version/variant
// nibbles) supply the randomness, rather than reaching for crypto/rand
// directly, matching the teacher's own use of google/uuid wherever it
// needs an unguessable identifier.
func RandomName() string {
	const n = 32
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	a, b := uuid.New(), uuid.New()
	raw := append(a[:], b[:]...)
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = alphabet[int(raw[i])%len(alphabet)]
	}
	return string(buf)
}

// abstractAddr builds the sockaddr_un for an abstract-namespace socket:
// the path begins with a NUL byte and is not visible on the filesystem.
func abstractAddr(name string) *unix.SockaddrUnix {
	return &unix.SockaddrUnix{Name: "@" + name}
}

// Listen binds an abstract AF_UNIX stream socket and starts listening with
// the given backlog.
func Listen(name string, backlog int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("sock: socket: %w", err)
	}
	if err := unix.Bind(fd, abstractAddr(name)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sock: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sock: listen: %w", err)
	}
	return &Listener{fd: fd, name: name}, nil
}

// Listener wraps the accept loop around a bound abstract socket.
type Listener struct {
	fd   int
	name string
}

// Accept blocks for the next connection and returns a Conn wrapping it
// along with the kernel-supplied peer credentials.
func (l *Listener) Accept() (*Conn, Peer, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, Peer{}, fmt.Errorf("sock: accept: %w", err)
	}
	peer, err := peerCredentials(nfd)
	if err != nil {
		unix.Close(nfd)
		return nil, Peer{}, fmt.Errorf("sock: peer credentials: %w", err)
	}
	return newConn(nfd), peer, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Peer is the kernel-verified (uid, gid, pid) triple of a connected peer,
// obtained at accept time via SO_PEERCRED; it is authoritative and
// unforgeable by the client.
type Peer struct {
	UID uint32
	GID uint32
	PID int32
}

func peerCredentials(fd int) (Peer, error) {
	cred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return Peer{}, err
	}
	return Peer{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}

// Dial connects to an abstract-namespace socket by name.
func Dial(name string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("sock: socket: %w", err)
	}
	if err := unix.Connect(fd, abstractAddr(name)); err != nil {
		unix.Close(fd)
		return nil, err // deliberately unwrapped: callers check for ECONNREFUSED
	}
	return newConn(fd), nil
}

// Conn is a connected abstract-namespace socket, exposing both wire
// formats described in spec.md §4.3.
type Conn struct {
	fd int
}

func newConn(fd int) *Conn {
	return &Conn{fd: fd}
}

// Fd returns the underlying file descriptor, for callers (e.g. the su
// broker) that need to splice it directly into a pty.
func (c *Conn) Fd() int { return c.fd }

// Close closes the connection.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

func (c *Conn) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(c.fd, buf[read:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		read += n
	}
	return nil
}

func (c *Conn) writeFull(buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := unix.Write(c.fd, buf[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// ReadInt32 reads one native-endian int32, the wire format used for the
// daemon request tag and every plain integer field on that channel.
func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteInt32 writes one native-endian int32.
func (c *Conn) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return c.writeFull(buf[:])
}

// ReadString reads a native-endian-length-prefixed string, the daemon
// channel's string format.
func (c *Conn) ReadString() (string, error) {
	n, err := c.ReadInt32()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := c.readFull(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes a native-endian-length-prefixed string.
func (c *Conn) WriteString(s string) error {
	if err := c.WriteInt32(int32(len(s))); err != nil {
		return err
	}
	return c.writeFull([]byte(s))
}

// ReadKeyValueBE reads one big-endian length-prefixed (key, value) pair,
// the GUI channel's wire format.
func (c *Conn) ReadKeyValueBE() (key, value string, err error) {
	if key, err = c.readStringBE(); err != nil {
		return "", "", err
	}
	if value, err = c.readStringBE(); err != nil {
		return "", "", err
	}
	return key, value, nil
}

func (c *Conn) readStringBE() (string, error) {
	var lbuf [4]byte
	if err := c.readFull(lbuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lbuf[:])
	buf := make([]byte, n)
	if err := c.readFull(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteKeyValue writes one big-endian length-prefixed (key, value) pair.
func (c *Conn) WriteKeyValue(key, value string) error {
	if err := c.writeStringBE(key); err != nil {
		return err
	}
	return c.writeStringBE(value)
}

// WriteKeyToken encodes tok in decimal and writes it as the value half of
// a (key, value) pair.
func (c *Conn) WriteKeyToken(key string, tok int) error {
	return c.WriteKeyValue(key, fmt.Sprintf("%d", tok))
}

// WriteTerminator writes the ("", "") pair that ends a GUI-channel
// exchange.
func (c *Conn) WriteTerminator() error {
	return c.WriteKeyValue("", "")
}

func (c *Conn) writeStringBE(s string) error {
	var lbuf [4]byte
	binary.BigEndian.PutUint32(lbuf[:], uint32(len(s)))
	if err := c.writeFull(lbuf[:]); err != nil {
		return err
	}
	return c.writeFull([]byte(s))
}

// SendFD sends one auxiliary file descriptor alongside a single dummy
// data byte. Passing fd == -1 sends the dummy byte with no control
// message at all, the valid "no fd" case the receiver must distinguish
// from a malformed message.
func (c *Conn) SendFD(fd int) error {
	var oob []byte
	if fd != -1 {
		oob = unix.UnixRights(fd)
	}
	return unix.Sendmsg(c.fd, []byte{0}, oob, nil, 0)
}

// RecvFD receives one auxiliary file descriptor. It returns -1, nil when
// the sender elected to send no fd (a valid outcome), and a wrapped
// ErrMalformedControl on any control message that doesn't parse as
// exactly zero or one SCM_RIGHTS fd.
func (c *Conn) RecvFD() (int, error) {
	data := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(c.fd, data, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("sock: recvmsg: %w", err)
	}
	if n == 0 {
		return -1, io.ErrUnexpectedEOF
	}
	if oobn == 0 {
		return -1, nil
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("%w: %s", ErrMalformedControl, err)
	}
	if len(cmsgs) != 1 {
		return -1, fmt.Errorf("%w: %d control messages", ErrMalformedControl, len(cmsgs))
	}

	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("%w: %s", ErrMalformedControl, err)
	}
	if len(fds) != 1 {
		return -1, fmt.Errorf("%w: %d file descriptors", ErrMalformedControl, len(fds))
	}
	return fds[0], nil
}
