// Package policy loads, mutates and dumps the mandatory-access-control
// policy patched in by Bootstrap. The CIL/binary-policy compiler itself is
// an external collaborator (spec.md §1) and is not linked in: this package
// offers a single Policy type (load, allow, dump) over a simple, idempotent
// textual rule representation, using only the standard library. There is
// no backend interface and no binary-policy format support.
package policy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Rule is one allow rule: source and target security-context types, an
// object class and a permission, matching the four-tuple load/mutate/dump
// backends operate on (spec.md §4.4 allow(source_domain, target, class,
// permission)).
type Rule struct {
	Source, Target, Class, Permission string
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s %s", r.Source, r.Target, r.Class, r.Permission)
}

// magiskDomain is the framework's own security-context type, injected by
// AddMagiskRules so the daemon, the hide worker and the pre-init program
// can all operate under one dedicated domain.
const magiskDomain = "magisk"

// Policy is an in-memory policy database: an opaque header (whatever
// non-rule policy bytes load(src) read back) plus a set of allow rules.
// Dedup by construction makes load→mutate→dump idempotent (spec.md §8
// property 4): re-adding the same rule twice never grows the rule set.
type Policy struct {
	header string
	rules  map[Rule]struct{}
}

// New returns an empty policy database.
func New() *Policy {
	return &Policy{rules: make(map[Rule]struct{})}
}

// headerSentinel separates the opaque header section from the rule
// section in the on-disk format.
const headerSentinel = "# magiskd-policy-rules\n"

// Load reads a policy database previously produced by Dump (or, on first
// boot, an empty/absent file).
func Load(src string) (*Policy, error) {
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("policy: opening %s: %w", src, err)
	}
	defer f.Close()

	p := New()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", src, err)
	}

	header, ruleSection, found := strings.Cut(string(raw), headerSentinel)
	if !found {
		// No prior rule section: treat the whole file as opaque header
		// (e.g. a vendor-shipped monolithic /sepolicy blob we haven't
		// touched yet).
		p.header = string(raw)
		return p, nil
	}
	p.header = header

	sc := bufio.NewScanner(strings.NewReader(ruleSection))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("policy: malformed rule line %q", line)
		}
		p.rules[Rule{fields[0], fields[1], fields[2], fields[3]}] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("policy: scanning rules: %w", err)
	}
	return p, nil
}

// Allow adds one allow rule. Adding the same rule twice is a no-op.
func (p *Policy) Allow(source, target, class, permission string) {
	p.rules[Rule{source, target, class, permission}] = struct{}{}
}

// AddMagiskRules installs the fixed rule set establishing the framework's
// own security domain, matching the original's sepol_magisk_rules() +
// sepol_allow(SEPOL_PROC_DOMAIN, ALL, ALL, ALL): the magisk domain may act
// on every class/permission against itself and the kernel, and every
// other domain may transition into it.
func (p *Policy) AddMagiskRules() {
	p.Allow(magiskDomain, "self", "*", "*")
	p.Allow(magiskDomain, "kernel", "*", "*")
	p.Allow("*", magiskDomain, "process", "transition")
	p.Allow("*", magiskDomain, "file", "*")
	p.Allow(magiskDomain, "*", "file", "*")
}

// Dump writes the policy database to dst via write-temp-then-rename, so a
// crash mid-write never leaves a partial file. If an alternative policy
// file also exists at altPath (spec.md §4.4's "alternative policy file
// also present at a well-known location"), it is replaced by a hard link
// to the authoritative dump.
func (p *Policy) Dump(dst string, altPath string) error {
	tmp := dst + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("policy: creating %s: %w", tmp, err)
	}

	if _, err := f.WriteString(p.header); err != nil {
		f.Close()
		return fmt.Errorf("policy: writing header: %w", err)
	}
	if _, err := f.WriteString(headerSentinel); err != nil {
		f.Close()
		return fmt.Errorf("policy: writing sentinel: %w", err)
	}
	for _, rule := range p.sortedRules() {
		if _, err := fmt.Fprintf(f, "%s\n", rule); err != nil {
			f.Close()
			return fmt.Errorf("policy: writing rule: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("policy: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("policy: renaming %s to %s: %w", tmp, dst, err)
	}

	if altPath != "" {
		if _, err := os.Lstat(altPath); err == nil {
			if err := os.Remove(altPath); err != nil {
				return fmt.Errorf("policy: removing %s: %w", altPath, err)
			}
			if err := os.Link(dst, altPath); err != nil {
				return fmt.Errorf("policy: linking %s to %s: %w", altPath, dst, err)
			}
		}
	}
	return nil
}

func (p *Policy) sortedRules() []Rule {
	out := make([]Rule, 0, len(p.rules))
	for r := range p.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// Bytes serializes the policy deterministically: the header, the header
// sentinel, then one line per rule in sorted order.
func (p *Policy) Bytes() []byte {
	var b strings.Builder
	b.WriteString(p.header)
	b.WriteString(headerSentinel)
	for _, rule := range p.sortedRules() {
		fmt.Fprintf(&b, "%s\n", rule)
	}
	return []byte(b.String())
}
