package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magiskd/magiskd/internal/pkg/policy"
)

// newMagiskpolicyCommand registers the standalone policy-editing applet
// as a cobra subcommand, shared between the "magiskpolicy" and "supolicy"
// names per spec.md §6, exercising the same internal/pkg/policy backend
// the pre-init bootstrap patches with at boot.
func newMagiskpolicyCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:                name + " <source> <dest> [allow src tgt class perm]...",
		Short:              "Load, mutate and dump an SELinux policy database",
		DisableFlagParsing: true,
		Args:               cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyEdit(args)
		},
	}
}

func runPolicyEdit(args []string) error {
	src, dst := args[0], args[1]

	p, err := policy.Load(src)
	if err != nil {
		return err
	}

	stmts := args[2:]
	for i := 0; i+5 <= len(stmts); i += 5 {
		if stmts[i] != "allow" {
			return fmt.Errorf("unsupported statement %q", stmts[i])
		}
		p.Allow(stmts[i+1], stmts[i+2], stmts[i+3], stmts[i+4])
	}

	return p.Dump(dst, "")
}
