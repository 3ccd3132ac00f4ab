// Package dataspace implements the reference-counted memory regions of
// §3.5: RAM, ROM, and IO_MEM dataspaces, each exposed through the same
// tagged-variant type rather than the separate object hierarchy the
// kernel primitives use, per the design note in §9.
package dataspace

import (
	"errors"
	"sync"

	"github.com/genodego/core/capability"
)

// Kind distinguishes the three dataspace variants.
type Kind int

const (
	// KindRAM is memory allocated from a RAM session's physical allocator.
	KindRAM Kind = iota
	// KindROM is a read-only boot module or server-produced ROM.
	KindROM
	// KindIOMem is a slice of MMIO address space.
	KindIOMem
)

func (k Kind) String() string {
	switch k {
	case KindRAM:
		return "ram"
	case KindROM:
		return "rom"
	case KindIOMem:
		return "io_mem"
	default:
		return "unknown"
	}
}

// Cache selects the cacheability of a dataspace's physical mapping.
type Cache int

const (
	CacheCached Cache = iota
	CacheUncached
	CacheWriteCombined
)

var (
	// ErrReadOnly is returned by Write against a ROM or non-writeable
	// dataspace.
	ErrReadOnly = errors.New("dataspace: read-only")
	// ErrOutOfBounds is returned when an offset/length pair does not fit
	// within the dataspace.
	ErrOutOfBounds = errors.New("dataspace: access out of bounds")
)

// Dataspace is a reference-counted, capability-addressed memory region.
// Ds holds its own backing bytes for RAM and ROM variants; IO_MEM
// dataspaces carry only base/size since their backing store is the
// platform's MMIO window, not process memory core can read directly.
type Dataspace struct {
	mtx sync.Mutex

	kind       Kind
	cap        capability.Capability
	size       uint64
	cache      Cache
	writeable  bool
	physBase   uint64 // meaningful for KindRAM/KindIOMem
	bytes      []byte // backing store; nil for KindIOMem
	refs       int
}

// New constructs a dataspace of the given kind backed by cap, with the
// given size and cache policy. RAM dataspaces are writeable; ROM
// dataspaces are not; IO_MEM dataspaces are writeable at the MMIO level
// but carry no local backing store.
func New(kind Kind, cap capability.Capability, size uint64, cache Cache, physBase uint64) *Dataspace {
	ds := &Dataspace{
		kind:     kind,
		cap:      cap,
		size:     size,
		cache:    cache,
		physBase: physBase,
		refs:     1,
	}
	switch kind {
	case KindRAM:
		ds.bytes = make([]byte, size)
		ds.writeable = true
	case KindROM:
		ds.bytes = make([]byte, size)
		ds.writeable = false
	case KindIOMem:
		ds.writeable = true
	}
	return ds
}

// Cap returns the capability this dataspace is addressed by.
func (d *Dataspace) Cap() capability.Capability { return d.cap }

// Kind returns the dataspace variant.
func (d *Dataspace) Kind() Kind { return d.kind }

// Size returns the dataspace's byte size.
func (d *Dataspace) Size() uint64 { return d.size }

// Cache returns the dataspace's cacheability.
func (d *Dataspace) Cache() Cache { return d.cache }

// Writeable reports whether the dataspace accepts Write calls.
func (d *Dataspace) Writeable() bool { return d.writeable }

// PhysBase returns the physical base address, when defined (RAM and
// IO_MEM); zero otherwise.
func (d *Dataspace) PhysBase() uint64 { return d.physBase }

// Ref increments the reference count, returning the new count.
func (d *Dataspace) Ref() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.refs++
	return d.refs
}

// Unref decrements the reference count and reports whether it reached
// zero, meaning the caller should release the dataspace's backing
// memory back to its allocator.
func (d *Dataspace) Unref() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.refs--
	return d.refs <= 0
}

// Refs returns the current reference count.
func (d *Dataspace) Refs() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.refs
}

// ReadAt copies len(p) bytes starting at off into p. IO_MEM dataspaces
// have no local backing store and always fail with ErrOutOfBounds.
func (d *Dataspace) ReadAt(p []byte, off uint64) (int, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.bytes == nil || off+uint64(len(p)) > uint64(len(d.bytes)) {
		return 0, ErrOutOfBounds
	}
	return copy(p, d.bytes[off:]), nil
}

// WriteAt copies p into the dataspace starting at off.
func (d *Dataspace) WriteAt(p []byte, off uint64) (int, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if !d.writeable || d.bytes == nil {
		return 0, ErrReadOnly
	}
	if off+uint64(len(p)) > uint64(len(d.bytes)) {
		return 0, ErrOutOfBounds
	}
	return copy(d.bytes[off:], p), nil
}

// Update overwrites the dataspace's entire content, used by dynamic ROM
// servers that regenerate their content and call update() before
// signalling clients (§4.7). It is allowed even on a ROM dataspace,
// since the server producing it is the one caller permitted to write.
func (d *Dataspace) Update(content []byte) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.bytes == nil {
		return ErrReadOnly
	}
	d.bytes = append(d.bytes[:0], content...)
	d.size = uint64(len(d.bytes))
	return nil
}
