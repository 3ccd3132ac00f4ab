package allocator

import (
	"errors"
)

// errSlabFull is returned internally when a block has no free entries;
// Slab always falls back to growing before surfacing an error to the
// caller, so this should not escape Alloc in practice.
var errSlabFull = errors.New("allocator: slab block full")

// ErrNoBackingAllocator is returned when a slab needs to grow but has
// neither a backing allocator nor self-referential feed configured.
var ErrNoBackingAllocator = errors.New("allocator: slab has no backing allocator")

// slabEntry tracks one fixed-size object slot within a block.
type slabEntry struct {
	used bool
}

// slabBlock is a fixed-capacity run of entries. Blocks form the sorted
// list described in §4.2; entries_per_block in the source is simply
// len(entries) here since Go doesn't need to hand-compute a byte layout.
type slabBlock struct {
	entries []slabEntry
	data    [][]byte
	avail   int
}

func newSlabBlock(count int, elemSize int) *slabBlock {
	b := &slabBlock{
		entries: make([]slabEntry, count),
		data:    make([][]byte, count),
		avail:   count,
	}
	for i := range b.data {
		b.data[i] = make([]byte, elemSize)
	}
	return b
}

func (b *slabBlock) alloc() (int, []byte, bool) {
	if b.avail == 0 {
		return 0, nil, false
	}
	for i := range b.entries {
		if !b.entries[i].used {
			b.entries[i].used = true
			b.avail--
			return i, b.data[i], true
		}
	}
	return 0, nil, false
}

func (b *slabBlock) free(i int) bool {
	if i < 0 || i >= len(b.entries) || !b.entries[i].used {
		return false
	}
	b.entries[i].used = false
	b.avail++
	return true
}

// Slab is the fixed-size-object allocator of §4.2: blocks of entriesPerBlock
// same-sized slots, grown on demand, kept ordered so the block with the
// most free slots is tried first.
type Slab struct {
	elemSize       int
	entriesPerBlock int
	blocks         []*slabBlock
	// backing grows the slab by supplying another block when every
	// existing block is full; nil means the slab is self-feeding and the
	// caller must call Grow explicitly (safe only when the managed region
	// is directly accessible, per §4.1's note on self-referential mode).
	backing func() (*slabBlock, error)
}

// NewSlab creates a slab of objects elemSize bytes each, entriesPerBlock
// per block, fed by backing when it needs to grow. A nil backing makes
// the slab self-referential: callers must call Grow themselves before
// every Alloc that might need a new block, mirroring §4.1's rule that a
// range allocator disables slab growth during add_range and instead
// pre-allocates blocks whenever fewer than four free entries remain.
func NewSlab(elemSize, entriesPerBlock int, backing func() (*slabBlock, error)) *Slab {
	return &Slab{elemSize: elemSize, entriesPerBlock: entriesPerBlock, backing: backing}
}

// Grow adds one more block to the slab unconditionally.
func (s *Slab) Grow() error {
	nb := newSlabBlock(s.entriesPerBlock, s.elemSize)
	s.blocks = append(s.blocks, nb)
	s.resort()
	return nil
}

// LowOnMetadata reports whether fewer than four free entries remain
// across all blocks, the threshold §4.1 uses to decide it is time to
// pre-allocate another slab block before the next add_range.
func (s *Slab) LowOnMetadata() bool {
	return s.totalAvail() < 4
}

func (s *Slab) totalAvail() int {
	var n int
	for _, b := range s.blocks {
		n += b.avail
	}
	return n
}

// Alloc returns a zeroed elemSize-byte slot, growing the slab via backing
// if every block is full.
func (s *Slab) Alloc() ([]byte, error) {
	for _, b := range s.blocks {
		if _, data, ok := b.alloc(); ok {
			s.resort()
			return data, nil
		}
	}
	if s.backing == nil {
		return nil, ErrNoBackingAllocator
	}
	nb, err := s.backing()
	if err != nil {
		return nil, err
	}
	s.blocks = append(s.blocks, nb)
	_, data, ok := nb.alloc()
	if !ok {
		return nil, errSlabFull
	}
	s.resort()
	return data, nil
}

// Free returns ptr (a slice previously returned by Alloc) to its block.
func (s *Slab) Free(ptr []byte) bool {
	for _, b := range s.blocks {
		for i, d := range b.data {
			if &d[0] == &ptr[0] {
				ok := b.free(i)
				s.resort()
				return ok
			}
		}
	}
	return false
}

// AnyUsedElem reports whether any entry across any block is allocated.
func (s *Slab) AnyUsedElem() bool {
	for _, b := range s.blocks {
		if b.avail < len(b.entries) {
			return true
		}
	}
	return false
}

// Consumed returns the total number of blocks currently held.
func (s *Slab) Consumed() int {
	return len(s.blocks)
}

// resort keeps blocks ordered by descending avail so Alloc's first-block
// scan stays a best-effort first-fit against the roomiest block, matching
// §4.2's "allocation always uses the first block" contract.
func (s *Slab) resort() {
	// insertion sort: block counts per slab are small and this runs after
	// every alloc/free, so an O(n) shuffle beats re-sorting from scratch.
	for i := 1; i < len(s.blocks); i++ {
		j := i
		for j > 0 && s.blocks[j-1].avail < s.blocks[j].avail {
			s.blocks[j-1], s.blocks[j] = s.blocks[j], s.blocks[j-1]
			j--
		}
	}
}
