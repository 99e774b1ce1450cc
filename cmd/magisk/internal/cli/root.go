// Package cli assembles the magisk multi-call root command and its
// subcommands, grounded on the teacher's cmd/apptainer cobra root
// (github.com/spf13/cobra, whose flag sets are backed by
// github.com/spf13/pflag) and colorized with github.com/fatih/color the
// way the teacher colors its own CLI output.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/magiskd/magiskd/pkg/sylog"
)

var (
	verbose bool
	noColor bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "magisk",
		Short:         "Systemless root and module framework client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colorized output")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			sylog.SetLevel(2, false) // sylog.VerboseLevel
		}
		color.NoColor = noColor
	}

	root.AddCommand(
		newSuCommand(),
		newResetpropCommand(),
		newMagiskhideCommand(),
		newImgtoolCommand(),
		newMagiskpolicyCommand("magiskpolicy"),
		newMagiskpolicyCommand("supolicy"),
		newDaemonCommand(),
	)
	return root
}

// appletCommands maps the basenames spec.md §6 names to the subcommand
// name within the root that implements them; "magisk" itself dispatches
// through cobra's normal argv[0]-independent subcommand matching.
var appletCommands = map[string]string{
	"su":           "su",
	"resetprop":    "resetprop",
	"magiskhide":   "magiskhide",
	"imgtool":      "imgtool",
	"magiskpolicy": "magiskpolicy",
	"supolicy":     "supolicy",
	"magiskd":      "magiskd",
}

// Execute runs the CLI. When base names an applet directly (the binary
// was invoked via a hardlink rather than as "magisk"), args are routed
// straight to that subcommand without requiring its name to also
// appear on the command line, matching the original's argv[0]-based
// applet dispatch.
func Execute(base string, args []string) {
	root := newRootCommand()

	if sub, ok := appletCommands[base]; ok {
		root.SetArgs(append([]string{sub}, args...))
	} else {
		root.SetArgs(args)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
