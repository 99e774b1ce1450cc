package subroker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magiskd/magiskd/internal/pkg/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "magisk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDecidePolicyRowWins(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.PutPolicy(db.PolicyDecision{UID: 10123, Policy: db.PolicyAllow}))

	got := Decide(store, 10123, time.Now(), func() (db.Policy, bool) { return db.PolicyDeny, true })
	assert.Equal(t, db.PolicyAllow, got)
}

func TestDecideExpiredRowFallsThrough(t *testing.T) {
	store := openTestDB(t)
	past := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, store.PutPolicy(db.PolicyDecision{UID: 2000, Policy: db.PolicyAllow, Until: past}))
	require.NoError(t, store.PutSetting("root_access", int(db.RootAccessAppsAndAdb)))

	got := Decide(store, 2000, time.Now(), func() (db.Policy, bool) { return db.PolicyDeny, false })
	assert.Equal(t, db.PolicyAllow, got) // adb shell uid default
}

func TestDecideAdbOnlyDeniesApps(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.PutSetting("root_access", int(db.RootAccessAdbOnly)))

	got := Decide(store, 10200, time.Now(), func() (db.Policy, bool) { return db.PolicyAllow, true })
	assert.Equal(t, db.PolicyDeny, got)
}

func TestDecideDisabledAlwaysDenies(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.PutSetting("root_access", int(db.RootAccessDisabled)))

	got := Decide(store, adbShellUID, time.Now(), func() (db.Policy, bool) { return db.PolicyAllow, true })
	assert.Equal(t, db.PolicyDeny, got)
}

func TestManagerPackageNotInstalled(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.PutString("manager_pkg", "com.example.alt"))
	pkg, found := ManagerPackage(store, 999999999)
	assert.False(t, found)
	assert.Empty(t, pkg)
}
