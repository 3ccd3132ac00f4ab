package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDSpaceInsertLookupRemove(t *testing.T) {
	sp := NewIDSpace()
	s := New("ROM", "x", "", "", 0, 0, false)
	id := sp.Insert(s)

	got, err := sp.Lookup(id)
	require.NoError(t, err)
	require.Equal(t, s, got)

	require.NoError(t, sp.Remove(id))
	_, err = sp.Lookup(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIDSpaceRemoveUnknown(t *testing.T) {
	sp := NewIDSpace()
	require.ErrorIs(t, sp.Remove(999), ErrNotFound)
}

func TestIDSpaceIDsAreUnique(t *testing.T) {
	sp := NewIDSpace()
	ids := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		id := sp.Insert(New("ROM", "x", "", "", 0, 0, false))
		require.False(t, ids[id])
		ids[id] = true
	}
	require.Equal(t, 10, sp.Len())
}
