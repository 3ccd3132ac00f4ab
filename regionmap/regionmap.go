// Package regionmap implements the per-PD virtual address space of §3.6:
// an ordered, non-overlapping set of attachments from a virtual range to
// a dataspace offset, plus a fault handler capability.
package regionmap

import (
	"errors"
	"sort"
	"sync"

	"github.com/genodego/core/capability"
	"github.com/genodego/core/dataspace"
)

var (
	// ErrOverlap is returned when a requested attachment would overlap an
	// existing one.
	ErrOverlap = errors.New("regionmap: attachment overlaps existing region")
	// ErrNotAttached is returned by Detach when no attachment starts at
	// the given virtual address.
	ErrNotAttached = errors.New("regionmap: no attachment at address")
)

// Perm is a bitmask of access permissions granted to an attachment.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
)

// Attachment records one [vaddr, vaddr+size) mapping to a dataspace
// range.
type Attachment struct {
	Vaddr  uint64
	Size   uint64
	DS     *dataspace.Dataspace
	Offset uint64
	Perms  Perm
}

func (a Attachment) end() uint64 { return a.Vaddr + a.Size }

// Map is a region map: the three kinds it represents per PD (address
// space, stack area, linker area) are plain instances of the same type,
// distinguished only by which field of the PD session holds them.
type Map struct {
	mtx         sync.Mutex
	attachments []Attachment // kept sorted by Vaddr, never overlapping
	faultHandler capability.Capability
}

// New creates an empty region map.
func New() *Map {
	return &Map{}
}

// SetFaultHandler installs the capability notified when an access to an
// unmapped or permission-violating address occurs.
func (m *Map) SetFaultHandler(c capability.Capability) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.faultHandler = c
}

// FaultHandler returns the currently installed fault handler capability.
func (m *Map) FaultHandler() capability.Capability {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.faultHandler
}

// Attach maps [vaddr, vaddr+size) to ds starting at offset, with the
// given permissions. ds's reference count is incremented on success.
func (m *Map) Attach(vaddr, size uint64, ds *dataspace.Dataspace, offset uint64, perms Perm) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	end := vaddr + size
	idx := sort.Search(len(m.attachments), func(i int) bool { return m.attachments[i].Vaddr >= vaddr })
	if idx > 0 && m.attachments[idx-1].end() > vaddr {
		return ErrOverlap
	}
	if idx < len(m.attachments) && m.attachments[idx].Vaddr < end {
		return ErrOverlap
	}

	m.attachments = append(m.attachments, Attachment{})
	copy(m.attachments[idx+1:], m.attachments[idx:])
	m.attachments[idx] = Attachment{Vaddr: vaddr, Size: size, DS: ds, Offset: offset, Perms: perms}
	ds.Ref()
	return nil
}

// Detach releases the attachment starting at vaddr, decrementing its
// dataspace's reference count. It reports whether the dataspace's
// refcount reached zero (the caller owns releasing its backing memory
// in that case).
func (m *Map) Detach(vaddr uint64) (dsFreed bool, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for i, a := range m.attachments {
		if a.Vaddr == vaddr {
			m.attachments = append(m.attachments[:i], m.attachments[i+1:]...)
			return a.DS.Unref(), nil
		}
	}
	return false, ErrNotAttached
}

// Lookup returns the attachment covering addr, if any.
func (m *Map) Lookup(addr uint64) (Attachment, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	i := sort.Search(len(m.attachments), func(i int) bool { return m.attachments[i].end() > addr })
	if i < len(m.attachments) && m.attachments[i].Vaddr <= addr && addr < m.attachments[i].end() {
		return m.attachments[i], true
	}
	return Attachment{}, false
}

// Attachments returns a snapshot of the current attachment list, ordered
// by virtual address.
func (m *Map) Attachments() []Attachment {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	out := make([]Attachment, len(m.attachments))
	copy(out, m.attachments)
	return out
}

// Areas bundles the three region maps every PD session pre-allocates:
// the address space, the stack area, and the linker area (§3.6).
type Areas struct {
	AddressSpace *Map
	StackArea    *Map
	LinkerArea   *Map
}

// NewAreas constructs the three standard region maps for a new PD.
func NewAreas() *Areas {
	return &Areas{
		AddressSpace: New(),
		StackArea:    New(),
		LinkerArea:   New(),
	}
}
