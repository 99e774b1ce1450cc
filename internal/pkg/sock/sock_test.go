package sock

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenDialRoundTrip(t *testing.T) {
	name := RandomName()
	require.Len(t, name, 32)

	l, err := Listen(name, 1)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		conn, peer, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		if peer.UID != uint32(os.Getuid()) {
			done <- fmt.Errorf("peer uid %d, want %d", peer.UID, os.Getuid())
			return
		}
		tag, err := conn.ReadInt32()
		if err != nil {
			done <- err
			return
		}
		if tag != 3 {
			done <- fmt.Errorf("tag %d, want 3", tag)
			return
		}
		done <- conn.WriteString("ok")
	}()

	client, err := Dial(name)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteInt32(3))
	reply, err := client.ReadString()
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
	require.NoError(t, <-done)
}

func TestKeyValueChannel(t *testing.T) {
	name := RandomName()
	l, err := Listen(name, 1)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		conn, _, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		k, v, err := conn.ReadKeyValueBE()
		if err != nil {
			done <- err
			return
		}
		if k != "uid" || v != "10123" {
			done <- fmt.Errorf("got %q=%q, want uid=10123", k, v)
			return
		}
		k, v, err = conn.ReadKeyValueBE()
		if err != nil {
			done <- err
			return
		}
		if k != "" || v != "" {
			done <- fmt.Errorf("got %q=%q, want terminator", k, v)
			return
		}
		done <- nil
	}()

	client, err := Dial(name)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.WriteKeyToken("uid", 10123))
	require.NoError(t, client.WriteTerminator())
	require.NoError(t, <-done)
}

func TestSendRecvFD(t *testing.T) {
	name := RandomName()
	l, err := Listen(name, 1)
	require.NoError(t, err)
	defer l.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "fd")
	require.NoError(t, err)
	defer tmp.Close()

	done := make(chan error, 1)
	go func() {
		conn, _, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		fd, err := conn.RecvFD()
		if err != nil {
			done <- err
			return
		}
		if fd == -1 {
			done <- fmt.Errorf("no descriptor received")
			return
		}
		os.NewFile(uintptr(fd), "received").Close()
		done <- nil
	}()

	client, err := Dial(name)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SendFD(int(tmp.Fd())))
	require.NoError(t, <-done)
}

func TestRecvFDNone(t *testing.T) {
	name := RandomName()
	l, err := Listen(name, 1)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan int, 1)
	go func() {
		conn, _, err := l.Accept()
		if err != nil {
			done <- -2
			return
		}
		defer conn.Close()
		fd, _ := conn.RecvFD()
		done <- fd
	}()

	client, err := Dial(name)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SendFD(-1))
	require.Equal(t, -1, <-done)
}
