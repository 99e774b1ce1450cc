package hide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	set map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{set: make(map[string]bool)}
}

func (f *fakeStore) HideAdd(process string) error {
	f.set[process] = true
	return nil
}

func (f *fakeStore) HideRemove(process string) error {
	delete(f.set, process)
	return nil
}

func (f *fakeStore) HideList() ([]string, error) {
	out := make([]string, 0, len(f.set))
	for p := range f.set {
		out = append(out, p)
	}
	return out, nil
}

func TestLogcatEngineAddRemoveListDelegatesToStore(t *testing.T) {
	store := newFakeStore()
	e := NewLogcatEngine(store)

	require.NoError(t, e.Add("com.example.one"))
	require.NoError(t, e.Add("com.example.two"))
	require.NoError(t, e.Remove("com.example.one"))

	list, err := e.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"com.example.two"}, list)
}

func TestLogcatEngineAddIdempotent(t *testing.T) {
	store := newFakeStore()
	e := NewLogcatEngine(store)

	require.NoError(t, e.Add("com.example.one"))
	require.NoError(t, e.Add("com.example.one"))

	list, _ := e.List()
	assert.Len(t, list, 1)
}

func TestAmProcStartRegex(t *testing.T) {
	line := "am_proc_start: [0,12345,10123,com.example.app,activity,com.example.app/.MainActivity]"
	m := amProcStart.FindStringSubmatch(line)
	require.NotNil(t, m)
	assert.Equal(t, "12345", m[1])
	assert.Equal(t, "10123", m[2])
}

func TestParsePID(t *testing.T) {
	n, err := parsePID("1234")
	require.NoError(t, err)
	assert.Equal(t, 1234, n)

	_, err = parsePID("self")
	assert.Error(t, err)
}

func TestCheckerSkipsLowPIDs(t *testing.T) {
	c := newChecker()
	// pid <= 1000 must be skipped without touching /proc at all; this
	// only verifies it doesn't panic on an unreachable low pid.
	c.checkPID(1, 0, map[string]bool{"x": true})
	assert.Empty(t, c.nsInode)
}
