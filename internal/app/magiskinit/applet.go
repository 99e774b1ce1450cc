package magiskinit

import (
	"fmt"
	"os"

	"github.com/magiskd/magiskd/internal/pkg/policy"
)

// appletNames are the basenames that, when argv[0] matches one of them,
// divert this binary away from the PID-1 bootstrap path entirely and
// into the standalone policy-editing tool (spec.md §4.2 "Applet
// dispatch"); the magiskinit binary keeps working as the magiskpolicy
// CLI after it hardlinks itself into place, matching
// original_source/native/jni/core/magiskinit.c's init_applet table.
var appletNames = map[string]struct{}{
	"magiskpolicy": {},
	"supolicy":     {},
}

// RunApplet runs the policy-editing applet named by argv[0]'s basename,
// if it is one of appletNames, and reports whether it handled the call
// at all. The grammar it accepts is deliberately small: a policy source
// file, a destination, and any number of "allow src tgt class perm"
// statements, matching the subset of the original CLI this rewrite
// carries forward (SPEC_FULL.md Non-goals: full CIL grammar is out of
// scope).
func RunApplet(argv []string) (handled bool, exitCode int) {
	if len(argv) == 0 {
		return false, 0
	}
	base := basename(argv[0])
	if _, ok := appletNames[base]; !ok {
		return false, 0
	}

	if err := runPolicyApplet(argv[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", base, err)
		return true, 1
	}
	return true, 0
}

func runPolicyApplet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: magiskpolicy <source> <dest> [allow src tgt class perm]...")
	}
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

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
