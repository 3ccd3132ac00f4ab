package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotMapInsertGetDelete(t *testing.T) {
	m := NewSlotMap[string]()
	id := m.Insert("alice")
	v, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, "alice", v)
	require.Equal(t, 1, m.Len())

	require.True(t, m.Delete(id))
	_, ok = m.Get(id)
	require.False(t, ok)
	require.Equal(t, 0, m.Len())
}

func TestSlotMapGenerationPreventsStaleAlias(t *testing.T) {
	m := NewSlotMap[int]()
	first := m.Insert(1)
	require.True(t, m.Delete(first))

	second := m.Insert(2)
	// second should reuse first's slot index but not its ID.
	_, ok := m.Get(first)
	require.False(t, ok, "stale id must not resolve to the recycled slot")
	v, ok := m.Get(second)
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestSlotMapEach(t *testing.T) {
	m := NewSlotMap[int]()
	ids := []ID{m.Insert(10), m.Insert(20), m.Insert(30)}
	m.Delete(ids[1])

	seen := map[int]bool{}
	m.Each(func(id ID, v int) { seen[v] = true })
	require.True(t, seen[10])
	require.False(t, seen[20])
	require.True(t, seen[30])
}
