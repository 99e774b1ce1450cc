package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magiskd/magiskd/internal/pkg/sock"
)

func TestParseCmdline(t *testing.T) {
	cmd := parseCmdline("console=ttyS0 androidboot.slot_suffix=_b skip_initramfs androidboot.android_dt_dir=/proc/device-tree/foo")
	assert.Equal(t, "_b", cmd.SlotSuffix)
	assert.True(t, cmd.SkipInitramfs)
	assert.Equal(t, "/proc/device-tree/foo", cmd.DtDir)
}

func TestParseCmdlineSlotWithoutSuffix(t *testing.T) {
	cmd := parseCmdline("androidboot.slot=a")
	assert.Equal(t, "_a", cmd.SlotSuffix)
}

func TestParseCmdlineDefaults(t *testing.T) {
	cmd := parseCmdline("")
	assert.Equal(t, defaultDtDir, cmd.DtDir)
	assert.False(t, cmd.SkipInitramfs)
	assert.Equal(t, "", cmd.SlotSuffix)
}

func TestStateAdvanceForwardOnly(t *testing.T) {
	ctx := &Context{}
	require.NoError(t, ctx.advance(CmdlineParsed))
	require.NoError(t, ctx.advance(RootfsReady))
	err := ctx.advance(CmdlineParsed)
	assert.Error(t, err)
	assert.Equal(t, RootfsReady, ctx.State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Entry", Entry.String())
	assert.Equal(t, "Exec", Exec.String())
	assert.Equal(t, "Unknown", State(999).String())
}

func TestSelectMode(t *testing.T) {
	_, ok := SelectMode(Cmdline{SkipInitramfs: true}).(SystemAsRoot)
	assert.True(t, ok)

	_, ok = SelectMode(Cmdline{SkipInitramfs: false}).(Legacy)
	assert.True(t, ok)
}

func TestIndexOf(t *testing.T) {
	buf := []byte("xxxMAGISKD_MAIN_SOCKET_PLACEHOLDER_yyy")
	idx := indexOf(buf, sock.MainSocketPlaceholder)
	assert.Equal(t, 3, idx)

	assert.Equal(t, -1, indexOf(buf, "not present here"))
}

func TestPatchOneReplacesInPlaceSameLength(t *testing.T) {
	placeholder := sock.MainSocketPlaceholder
	buf := make([]byte, 0, len(placeholder)+6)
	buf = append(buf, "aaa"...)
	buf = append(buf, placeholder...)
	buf = append(buf, "bbb"...)

	ok := patchOne(buf, placeholder)
	require.True(t, ok)
	assert.Len(t, buf, len("aaa")+len(placeholder)+len("bbb"))
	assert.NotContains(t, string(buf), placeholder)
}

func TestPlaceholderLengthsMatchRandomName(t *testing.T) {
	assert.Len(t, sock.MainSocketPlaceholder, 32)
	assert.Len(t, sock.LogSocketPlaceholder, 32)
	assert.Len(t, sock.RandomName(), len(sock.MainSocketPlaceholder))
}
