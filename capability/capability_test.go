package capability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManufactureAndLookup(t *testing.T) {
	sp := NewSpace()
	cap, err := sp.Manufacture("Pd", 0xBEEF)
	require.NoError(t, err)
	require.True(t, cap.Valid())

	hnd, imprint, err := sp.Lookup(cap.Selector())
	require.NoError(t, err)
	require.Equal(t, Handle("Pd"), hnd)
	require.EqualValues(t, 0xBEEF, imprint)
}

func TestAsMismatch(t *testing.T) {
	sp := NewSpace()
	cap, err := sp.Manufacture("Cpu", 0)
	require.NoError(t, err)
	require.ErrorIs(t, cap.As("Pd"), ErrWrongHandle)
	require.NoError(t, cap.As("Cpu"))
}

func TestInvalidCapability(t *testing.T) {
	c := Invalid()
	require.False(t, c.Valid())
	require.ErrorIs(t, c.As("Pd"), ErrInvalid)
}

func TestRefAndRevoke(t *testing.T) {
	sp := NewSpace()
	cap, err := sp.Manufacture("Ram", 0)
	require.NoError(t, err)
	require.NoError(t, sp.Ref(cap.Selector()))
	require.Equal(t, 1, sp.Len())

	require.NoError(t, sp.Revoke(cap.Selector())) // drop the Ref
	require.Equal(t, 1, sp.Len())                  // original manufacture ref still alive

	require.NoError(t, sp.Revoke(cap.Selector())) // drop the manufacture ref
	require.Equal(t, 0, sp.Len())

	require.ErrorIs(t, sp.Revoke(cap.Selector()), ErrUnknownSelector)
}

func TestDelegateCrossSpace(t *testing.T) {
	src := NewSpace()
	dst := NewSpace()
	cap, err := src.Manufacture("IoMem", 42)
	require.NoError(t, err)

	moved, err := src.Delegate(dst, cap)
	require.NoError(t, err)
	require.True(t, moved.Valid())
	require.NotEqual(t, cap.Selector(), moved.Selector())

	hnd, imprint, err := dst.Lookup(moved.Selector())
	require.NoError(t, err)
	require.Equal(t, Handle("IoMem"), hnd)
	require.EqualValues(t, 42, imprint)
}

func TestSpaceExhausted(t *testing.T) {
	sp := &Space{slots: make(map[Selector]*object), next: ^Selector(0)}
	_, err := sp.Manufacture("Pd", 0)
	require.ErrorIs(t, err, ErrSpaceExhausted)
}
