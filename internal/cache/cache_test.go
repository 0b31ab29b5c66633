package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptweaver/zr/internal/task"
	"github.com/scriptweaver/zr/internal/zrlog"
)

func TestKey_StableForSameDeclaredOrder(t *testing.T) {
	k1 := Key("echo hi", []task.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}})
	k2 := Key("echo hi", []task.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}})
	assert.Equal(t, k1, k2)
}

func TestKey_OrderSensitive(t *testing.T) {
	// spec.md §4.3: env overrides hash in their stored order, not sorted —
	// two declarations differing only in order are distinct cache keys.
	k1 := Key("echo hi", []task.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}})
	k2 := Key("echo hi", []task.EnvVar{{Key: "B", Value: "2"}, {Key: "A", Value: "1"}})
	assert.NotEqual(t, k1, k2)
}

func TestKey_LengthAndCharset(t *testing.T) {
	k := Key("echo hi", nil)
	require.Len(t, k, 16)
	for _, r := range k {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}

func TestKey_NoFieldBoundaryCollision(t *testing.T) {
	k1 := Key("ab", []task.EnvVar{{Key: "c", Value: ""}})
	k2 := Key("a", []task.EnvVar{{Key: "bc", Value: ""}})
	assert.NotEqual(t, k1, k2)
}

func TestKey_DifferentCmdDifferentKey(t *testing.T) {
	assert.NotEqual(t, Key("a", nil), Key("b", nil))
}

func TestStore_HitMark(t *testing.T) {
	s, err := New(t.TempDir(), zrlog.Nop())
	require.NoError(t, err)

	key := Key("echo hi", nil)
	assert.False(t, s.Hit(key))

	require.NoError(t, s.Mark(key))
	assert.True(t, s.Hit(key))
}

func TestStore_MarkIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir(), zrlog.Nop())
	require.NoError(t, err)

	key := Key("echo hi", nil)
	require.NoError(t, s.Mark(key))
	require.NoError(t, s.Mark(key)) // must not error the second time
}

func TestStore_ClearAll(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zrlog.Nop())
	require.NoError(t, err)

	k1, k2 := Key("a", nil), Key("b", nil)
	require.NoError(t, s.Mark(k1))
	require.NoError(t, s.Mark(k2))

	require.NoError(t, s.ClearAll())
	assert.False(t, s.Hit(k1))
	assert.False(t, s.Hit(k2))
}

func TestStore_MarkerPathLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zrlog.Nop())
	require.NoError(t, err)

	key := Key("echo hi", nil)
	require.NoError(t, s.Mark(key))

	expected := filepath.Join(dir, key+".ok")
	assert.FileExists(t, expected)
}
