// Command magisk is the multi-call client binary: basename dispatch
// selects one of {magisk, su, resetprop, magiskhide, imgtool,
// magiskpolicy, supolicy} (spec.md §6 "CLI surface"), each a cobra
// subcommand registered under the same root so both
// `/sbin/magisk su ...` and a `su`-named hardlink invoking this binary
// behave identically. Grounded on the teacher's cmd/apptainer cobra
// root, trimmed of the plugin/remote-endpoint machinery this project
// has no use for.
package main

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/magiskd/magiskd/cmd/magisk/internal/cli"
	"github.com/magiskd/magiskd/internal/pkg/hide"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == hide.HideWorkerFlag {
		pid, err := strconv.Atoi(os.Args[2])
		if err != nil {
			os.Exit(1)
		}
		hide.RunHideWorker(pid)
		os.Exit(0)
	}

	base := filepath.Base(os.Args[0])
	cli.Execute(base, os.Args[1:])
}
