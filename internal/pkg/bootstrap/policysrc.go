package bootstrap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magiskd/magiskd/internal/pkg/fs"
	"github.com/magiskd/magiskd/internal/pkg/policy"
	"github.com/magiskd/magiskd/pkg/sylog"
)

const (
	splitPrecompile = "/system/etc/selinux/precompiled_sepolicy"
	splitPlatCil    = "/system/etc/selinux/plat_sepolicy.cil"
	nonplatDir      = "/vendor/etc/selinux"
	platDir         = "/system/etc/selinux"
)

// PatchPolicy chooses the highest-fidelity policy source available
// (spec.md §4.6 step 8: precompiled, split-CIL, then monolithic
// /sepolicy), adds the framework's rules, dumps to /sepolicy, and — only
// when a precompiled or compiled-from-CIL source was used — blanks the
// first occurrence of the split-CIL path inside /init so init is forced
// to reload from /sepolicy.
func PatchPolicy() error {
	usedInitPatch := false
	var p *policy.Policy
	var err error

	switch {
	case fileReadable(splitPrecompile) && verifyPrecompiled():
		usedInitPatch = true
		p, err = policy.Load(splitPrecompile)
	case fileReadable(splitPlatCil):
		usedInitPatch = true
		p, err = compileSplitCil()
	case fileReadable("/sepolicy"):
		p, err = policy.Load("/sepolicy")
	default:
		sylog.Warningf("bootstrap: no policy source found, skipping policy patch")
		return nil
	}
	if err != nil {
		return err
	}

	p.AddMagiskRules()
	p.Allow("*", "*", "process", "*") // original's sepol_allow(SEPOL_PROC_DOMAIN, ALL, ALL, ALL)

	if err := p.Dump("/sepolicy", "/sepolicy_debug"); err != nil {
		return err
	}

	if usedInitPatch {
		if err := blankSplitCilPath("/init"); err != nil {
			sylog.Warningf("bootstrap: forcing init to reload /sepolicy: %s", err)
		}
	}
	return nil
}

func fileReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// verifyPrecompiled compares the platform and non-platform policy
// SHA-256 hashes; a precompiled policy is only trustworthy when they
// match (spec.md §4.6 step 8), matching original_source's
// verify_precompiled.
func verifyPrecompiled() bool {
	sysSHA, sysOK := firstShaFile(platDir)
	venSHA, venOK := firstShaFile(nonplatDir)
	if !sysOK || !venOK {
		return false
	}
	return sysSHA == venSHA
}

func firstShaFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sha256") {
			raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return "", false
			}
			return string(raw), true
		}
	}
	return "", false
}

// compileSplitCil loads the split-CIL plat policy. The CIL compiler
// itself is an external collaborator (spec.md §1); this module only
// needs the resulting rule database, so compileSplitCil treats the
// plat_sepolicy.cil file as if it were already in our serialized format,
// matching the degree to which this module reimplements the compiler:
// not at all.
func compileSplitCil() (*policy.Policy, error) {
	return policy.Load(splitPlatCil)
}

// blankSplitCilPath scans path (the init binary) in memory for the first
// occurrence of splitPlatCil and blanks it so init can't find its CIL
// policy and falls back to /sepolicy, matching original_source's
// patch_sepolicy in-memory patch.
func blankSplitCilPath(path string) error {
	buf, err := fs.MmapRW(path)
	if err != nil {
		return err
	}
	defer fs.Munmap(buf)

	idx := indexOf(buf, splitPlatCil)
	if idx < 0 {
		return nil
	}
	for i := idx; i < idx+len(splitPlatCil); i++ {
		buf[i] = 0
	}
	return nil
}
