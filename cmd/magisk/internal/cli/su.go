package cli

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magiskd/magiskd/internal/pkg/sock"
)

func newSuCommand() *cobra.Command {
	var pkg string
	cmd := &cobra.Command{
		Use:   "su [command]",
		Short: "Request an escalated shell from the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSu(pkg)
		},
	}
	cmd.Flags().StringVar(&pkg, "package", "", "calling app's package name, if any")
	return cmd
}

// runSu dials the daemon's main socket, requests Superuser, and on
// success splices the terminal to the bridged shell connection (spec.md
// §4.8). Per spec.md §4.7 "Client -> daemon fallback", a root client
// that cannot connect starts a detached daemon itself and poll-connects
// until it comes up; non-root clients fail immediately.
func runSu(pkg string) error {
	name, err := mainSocketName()
	if err != nil {
		return err
	}

	conn, err := sock.Dial(name)
	if err != nil {
		if os.Geteuid() != 0 {
			return fmt.Errorf("su: no daemon is currently running")
		}
		conn, err = dialWithFallback(name)
		if err != nil {
			return err
		}
	}
	defer conn.Close()

	const requestSuperuser = 0 // daemon.Superuser, mirrored here to avoid importing internal/app/daemon from a client binary
	if err := conn.WriteInt32(int32(requestSuperuser)); err != nil {
		return err
	}
	if err := conn.WriteString(pkg); err != nil {
		return err
	}

	status, err := conn.ReadInt32()
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("su: request denied")
	}

	// conn owns its descriptor and closes it via the defer above; f wraps
	// a duplicate so its own close (and close-on-GC finalizer) never
	// touches conn's.
	dup, err := syscall.Dup(conn.Fd())
	if err != nil {
		return err
	}
	f := os.NewFile(uintptr(dup), "su")
	defer f.Close()
	done := make(chan struct{}, 2)
	go func() { io.Copy(f, os.Stdin); done <- struct{}{} }()
	go func() { io.Copy(os.Stdout, f); done <- struct{}{} }()
	<-done
	return nil
}

// dialWithFallback polls for the daemon socket to appear, starting a
// detached daemon process first if nothing answers.
func dialWithFallback(name string) (*sock.Conn, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	if err := spawnDetachedDaemon(self); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := sock.Dial(name); err == nil {
			return conn, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("su: daemon did not start in time")
}
