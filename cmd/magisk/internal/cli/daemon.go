package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/magiskd/magiskd/internal/app/daemon"
	"github.com/magiskd/magiskd/internal/pkg/db"
	"github.com/magiskd/magiskd/internal/pkg/subroker"
)

const storePath = "/data/adb/magisk.db"

// newDaemonCommand starts the long-lived privileged server in the
// foreground; it is never invoked directly by a user, only by init.rc's
// service entry and by runSu's fallback self-start path, both of which
// run this same multi-call binary with "magiskd" as the sole argument.
func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "magiskd",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	mainSocket, err := mainSocketName()
	if err != nil {
		return err
	}
	logSocket, err := logSocketName()
	if err != nil {
		return err
	}
	subroker.GUISocketName = logSocket

	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return err
	}
	store, err := db.Open(storePath)
	if err != nil {
		return fmt.Errorf("magiskd: opening store: %w", err)
	}
	defer store.Close()

	return daemon.New(mainSocket, store).Run(context.Background())
}
