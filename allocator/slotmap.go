// Package allocator implements the range allocator, slab allocator, and the
// generic arena primitive (§4.1, §4.2 and the SlotMap idiom of §9) that
// every other resource-accounting package in this module is built on.
package allocator

import "sync"

// ID is an arena-local identifier for a SlotMap entry. It never aliases a
// live entry's ID to an entry that replaced it in the same slot, so a
// stale ID used after Delete is detected rather than silently resolving to
// whatever now occupies that slot. The low 32 bits are the slot index, the
// high 32 bits are the slot's generation at the time the ID was issued.
type ID uint64

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// SlotMap is the arena-plus-index scheme design note §9 calls for in place
// of intrusive doubly linked lists: allocator blocks, sessions, and signal
// contexts are all stored here and referenced by ID rather than pointer.
// Reuse of a freed slot bumps its generation so that an ID obtained before
// the slot was recycled fails Get rather than aliasing new data — this is
// the "weak id" liveness check §9 asks for.
type SlotMap[T any] struct {
	mtx   sync.RWMutex
	slots []slot[T]
	free  []uint32
}

// NewSlotMap creates an empty arena.
func NewSlotMap[T any]() *SlotMap[T] {
	return &SlotMap[T]{}
}

// Insert stores val and returns an ID that can later retrieve or delete it.
func (m *SlotMap[T]) Insert(val T) ID {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		m.slots[idx].val = val
		m.slots[idx].live = true
		return packID(idx, m.slots[idx].gen)
	}
	idx := uint32(len(m.slots))
	m.slots = append(m.slots, slot[T]{val: val, live: true})
	return packID(idx, 0)
}

// Get retrieves val for id, reporting ok=false if id was never issued, has
// since been deleted, or belonged to a slot that has been recycled.
func (m *SlotMap[T]) Get(id ID) (val T, ok bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	idx, gen := unpackID(id)
	if int(idx) >= len(m.slots) {
		return val, false
	}
	s := &m.slots[idx]
	if !s.live || s.gen != gen {
		return val, false
	}
	return s.val, true
}

// Update replaces the value stored at id in place, returning ok=false
// under the same conditions as Get.
func (m *SlotMap[T]) Update(id ID, val T) (ok bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	idx, gen := unpackID(id)
	if int(idx) >= len(m.slots) {
		return false
	}
	s := &m.slots[idx]
	if !s.live || s.gen != gen {
		return false
	}
	s.val = val
	return true
}

// Delete removes id from the arena, bumping its slot's generation so any
// copy of id still in circulation will fail subsequent Get/Delete calls.
func (m *SlotMap[T]) Delete(id ID) (ok bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	idx, gen := unpackID(id)
	if int(idx) >= len(m.slots) {
		return false
	}
	s := &m.slots[idx]
	if !s.live || s.gen != gen {
		return false
	}
	var zero T
	s.val = zero
	s.live = false
	s.gen++
	m.free = append(m.free, idx)
	return true
}

// Len reports the number of live entries.
func (m *SlotMap[T]) Len() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.slots) - len(m.free)
}

// Each calls fn for every live entry, in slot-index order (insertion order
// until a deleted slot is reused). fn must not call back into the SlotMap.
func (m *SlotMap[T]) Each(fn func(ID, T)) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for idx := range m.slots {
		s := &m.slots[idx]
		if s.live {
			fn(packID(uint32(idx), s.gen), s.val)
		}
	}
}

func packID(idx, gen uint32) ID         { return ID(uint64(gen)<<32 | uint64(idx)) }
func unpackID(id ID) (idx, gen uint32)  { return uint32(id), uint32(uint64(id) >> 32) }
