package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAppliedWhenAbsent(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "magisk.db"))
	require.NoError(t, err)
	defer d.Close()

	settings, err := d.Settings()
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), settings)
}

func TestHideListSetSemantics(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "magisk.db"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.HideAdd("com.example"))
	require.NoError(t, d.HideAdd("com.example"))
	require.NoError(t, d.HideAdd("com.other"))
	require.NoError(t, d.HideRemove("com.other"))

	list, err := d.HideList()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"com.example"}, list)
}

func TestPolicyAtMostOneCurrentRow(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "magisk.db"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.PutPolicy(PolicyDecision{UID: 10123, Policy: PolicyAllow, Until: 0}))
	require.NoError(t, d.PutPolicy(PolicyDecision{UID: 10123, Policy: PolicyDeny, Until: 0}))

	decision, found, err := d.Policy(10123)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, PolicyDeny, decision.Policy)
}

func TestOpenRecreatesCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magisk.db")
	d, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	// Corrupt the file so re-opening fails outright and triggers the
	// delete-and-recreate recovery path; the store that comes back holds
	// only the default settings.
	require.NoError(t, os.WriteFile(path, []byte("not a bolt file"), 0o600))

	d2, err := Open(path)
	require.NoError(t, err)
	defer d2.Close()

	settings, err := d2.Settings()
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), settings)
}
