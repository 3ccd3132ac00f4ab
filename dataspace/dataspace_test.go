package dataspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/capability"
)

func newCap(t *testing.T) capability.Capability {
	t.Helper()
	sp := capability.NewSpace()
	c, err := sp.Manufacture("ds", 1)
	require.NoError(t, err)
	return c
}

func TestRAMReadWrite(t *testing.T) {
	ds := New(KindRAM, newCap(t), 16, CacheCached, 0)
	require.True(t, ds.Writeable())

	n, err := ds.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	_, err = ds.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestROMIsReadOnly(t *testing.T) {
	ds := New(KindROM, newCap(t), 16, CacheCached, 0)
	require.False(t, ds.Writeable())
	_, err := ds.WriteAt([]byte("x"), 0)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestROMUpdateThenRead(t *testing.T) {
	ds := New(KindROM, newCap(t), 0, CacheCached, 0)
	require.NoError(t, ds.Update([]byte("config")))
	require.EqualValues(t, 6, ds.Size())

	buf := make([]byte, 6)
	_, err := ds.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "config", string(buf))
}

func TestIOMemHasNoBackingStore(t *testing.T) {
	ds := New(KindIOMem, newCap(t), 0x1000, CacheUncached, 0xFEE00000)
	require.EqualValues(t, 0xFEE00000, ds.PhysBase())
	_, err := ds.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestOutOfBounds(t *testing.T) {
	ds := New(KindRAM, newCap(t), 4, CacheCached, 0)
	_, err := ds.WriteAt([]byte("toolong"), 0)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestRefCounting(t *testing.T) {
	ds := New(KindRAM, newCap(t), 4, CacheCached, 0)
	require.Equal(t, 1, ds.Refs())
	require.Equal(t, 2, ds.Ref())
	require.False(t, ds.Unref())
	require.True(t, ds.Unref())
}
