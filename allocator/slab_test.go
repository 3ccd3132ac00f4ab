package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlabAllocFree(t *testing.T) {
	s := NewSlab(16, 4, func() (*slabBlock, error) { return newSlabBlock(4, 16), nil })
	require.False(t, s.AnyUsedElem())

	ptr, err := s.Alloc()
	require.NoError(t, err)
	require.Len(t, ptr, 16)
	require.True(t, s.AnyUsedElem())

	require.True(t, s.Free(ptr))
	require.False(t, s.AnyUsedElem())
}

func TestSlabGrowsOnDemand(t *testing.T) {
	s := NewSlab(8, 2, func() (*slabBlock, error) { return newSlabBlock(2, 8), nil })
	var ptrs [][]byte
	for i := 0; i < 5; i++ {
		p, err := s.Alloc()
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	require.GreaterOrEqual(t, s.Consumed(), 3) // 2 per block, 5 entries needs >=3 blocks

	for _, p := range ptrs {
		require.True(t, s.Free(p))
	}
	require.False(t, s.AnyUsedElem())
}

func TestSlabNoBackingFailsWhenFull(t *testing.T) {
	s := NewSlab(4, 1, nil)
	_, err := s.Alloc()
	require.ErrorIs(t, err, ErrNoBackingAllocator)
}

func TestSlabLowOnMetadataThreshold(t *testing.T) {
	s := NewSlab(4, 4, func() (*slabBlock, error) { return newSlabBlock(4, 4), nil })
	require.True(t, s.LowOnMetadata()) // zero blocks yet
	require.NoError(t, s.Grow())
	require.False(t, s.LowOnMetadata())
	_, err := s.Alloc()
	require.NoError(t, err)
	require.True(t, s.LowOnMetadata()) // 3 left after pulling 1 of 4
}
