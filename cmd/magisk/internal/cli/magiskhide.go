package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magiskd/magiskd/internal/pkg/sock"
)

// hide request tags, mirrored from internal/app/daemon's RequestTag enum
// (a client binary does not import the daemon package itself, to keep
// cmd/magisk's dependency graph one-directional).
const (
	tagHideStart = iota + 5
	tagHideStop
	tagHideAdd
	tagHideRemove
	tagHideList
)

func newMagiskhideCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "magiskhide",
		Short: "Control the process-hiding engine",
	}
	cmd.AddCommand(
		hideSubcommand("enable", tagHideStart, ""),
		hideSubcommand("disable", tagHideStop, ""),
		hideAddRemoveCommand("add", tagHideAdd),
		hideAddRemoveCommand("rm", tagHideRemove),
		hideListCommand(),
	)
	return cmd
}

func hideSubcommand(use string, tag int32, _ string) *cobra.Command {
	return &cobra.Command{
		Use: use,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.WriteInt32(tag); err != nil {
				return err
			}
			status, err := conn.ReadInt32()
			if err != nil {
				return err
			}
			return statusError(status)
		},
	}
}

func hideAddRemoveCommand(use string, tag int32) *cobra.Command {
	return &cobra.Command{
		Use:  use + " <process>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.WriteInt32(tag); err != nil {
				return err
			}
			if err := conn.WriteString(args[0]); err != nil {
				return err
			}
			status, err := conn.ReadInt32()
			if err != nil {
				return err
			}
			return statusError(status)
		},
	}
}

func hideListCommand() *cobra.Command {
	return &cobra.Command{
		Use: "ls",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.WriteInt32(tagHideList); err != nil {
				return err
			}
			status, err := conn.ReadInt32()
			if err != nil {
				return err
			}
			if err := statusError(status); err != nil {
				return err
			}
			n, err := conn.ReadInt32()
			if err != nil {
				return err
			}
			for i := int32(0); i < n; i++ {
				p, err := conn.ReadString()
				if err != nil {
					return err
				}
				fmt.Println(p)
			}
			return nil
		},
	}
}

func dialDaemon() (*sock.Conn, error) {
	name, err := mainSocketName()
	if err != nil {
		return nil, err
	}
	return sock.Dial(name)
}

// statusError turns a non-zero daemon.Status code into an error, mapping
// the handful of status values magiskhide's requests can return.
func statusError(status int32) error {
	switch status {
	case 0: // daemon.Success
		return nil
	case 4: // daemon.HideIsEnabled
		return fmt.Errorf("magiskhide is already enabled")
	case 5: // daemon.HideNotEnabled
		return fmt.Errorf("magiskhide is not enabled")
	case 6: // daemon.HideItemExist
		return fmt.Errorf("process is already hidden")
	case 7: // daemon.HideItemNotExist
		return fmt.Errorf("process is not hidden")
	case 2: // daemon.RootRequired
		return fmt.Errorf("root access required")
	default:
		return fmt.Errorf("magiskhide: request failed")
	}
}
