package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddMagiskRulesIdempotent(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "sepolicy")

	p, err := Load(dst)
	require.NoError(t, err)
	p.AddMagiskRules()
	require.NoError(t, p.Dump(dst, ""))
	first, err := os.ReadFile(dst)
	require.NoError(t, err)

	p2, err := Load(dst)
	require.NoError(t, err)
	p2.AddMagiskRules()
	require.NoError(t, p2.Dump(dst, ""))
	second, err := os.ReadFile(dst)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestDumpReplacesAltWithHardlink(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "sepolicy")
	alt := filepath.Join(dir, "sepolicy_debug")

	require.NoError(t, os.WriteFile(alt, []byte("stale"), 0o644))

	p := New()
	p.AddMagiskRules()
	require.NoError(t, p.Dump(dst, alt))

	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	altInfo, err := os.Stat(alt)
	require.NoError(t, err)
	require.True(t, os.SameFile(dstInfo, altInfo))
}

func TestAllowDeduplicates(t *testing.T) {
	p := New()
	p.Allow("a", "b", "file", "read")
	p.Allow("a", "b", "file", "read")
	require.Len(t, p.sortedRules(), 1)
}
