// Package capability implements the unforgeable, typed references core
// hands out to every kernel object it manufactures (§3.1 of the core
// specification): an opaque per-PD selector, a typed interface handle, and
// a validity flag. Copying a Capability inside a PD shares the reference;
// moving one across a PD boundary goes through Space.Delegate, which is the
// only path that is allowed to hand a selector to a second PD.
package capability

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalid is returned by any operation attempted against an
	// invalid (zero-value) capability.
	ErrInvalid = errors.New("capability: invalid")
	// ErrWrongHandle is returned when a capability is used against an
	// interface other than the one it was manufactured for.
	ErrWrongHandle = errors.New("capability: handle mismatch")
	// ErrSpaceExhausted is returned when a capability space has no more
	// selector slots to hand out.
	ErrSpaceExhausted = errors.New("capability: selector space exhausted")
	// ErrUnknownSelector is returned when a selector does not name a live
	// object in the given space.
	ErrUnknownSelector = errors.New("capability: unknown selector")
)

// Handle identifies the RPC interface a Capability refers to, e.g. "Pd",
// "Cpu", "Ram", "IoMem", "Rpc:some.Service". It is the Go analogue of the
// Genode source's template parameter RPC_INTERFACE.
type Handle string

// Selector is an opaque per-PD slot index. It carries no meaning outside
// the Space that issued it.
type Selector uint32

// Capability is an unforgeable typed reference to a kernel object. The
// zero value is the invalid capability.
type Capability struct {
	sel   Selector
	hnd   Handle
	valid bool
}

// Invalid returns the distinguished invalid capability.
func Invalid() Capability { return Capability{} }

// Valid reports whether the capability references a live object.
func (c Capability) Valid() bool { return c.valid }

// Selector returns the capability's kernel-local selector. Calling it on
// an invalid capability returns 0; callers should check Valid first.
func (c Capability) Selector() Selector { return c.sel }

// Handle returns the RPC interface this capability was manufactured for.
func (c Capability) Handle() Handle { return c.hnd }

// As type-asserts the capability's handle against want, returning
// ErrWrongHandle on mismatch and ErrInvalid if the capability is invalid.
func (c Capability) As(want Handle) error {
	if !c.valid {
		return ErrInvalid
	}
	if c.hnd != want {
		return fmt.Errorf("%w: have %s want %s", ErrWrongHandle, c.hnd, want)
	}
	return nil
}

func (c Capability) String() string {
	if !c.valid {
		return "<invalid>"
	}
	return fmt.Sprintf("%s#%d", c.hnd, c.sel)
}

// object is what a Space actually stores per live selector: the handle it
// was typed with at manufacture time, plus an owner-supplied imprint used
// by signal delivery (§4.12) and by revocation bookkeeping.
type object struct {
	hnd     Handle
	imprint uint64
	refs    int
}

// Space is a per-PD capability space: the slot table backing every
// Capability issued to objects living in one PD. It is the only thing that
// can turn a (Handle, imprint) pair into a Capability, and the only thing
// that can revoke one.
type Space struct {
	mtx   sync.Mutex
	next  Selector
	slots map[Selector]*object
}

// NewSpace creates an empty capability space.
func NewSpace() *Space {
	return &Space{slots: make(map[Selector]*object)}
}

// Manufacture creates a brand new capability referring to a freshly
// created kernel object of the given handle. imprint is an owner-chosen
// opaque value (signal contexts use it to detect dissolved-context
// deliveries per §4.12); pass 0 if unused.
func (s *Space) Manufacture(hnd Handle, imprint uint64) (Capability, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.next == ^Selector(0) {
		return Capability{}, ErrSpaceExhausted
	}
	sel := s.next
	s.next++
	s.slots[sel] = &object{hnd: hnd, imprint: imprint, refs: 1}
	return Capability{sel: sel, hnd: hnd, valid: true}, nil
}

// Lookup resolves a selector to its handle and imprint. Used by the RPC
// entrypoint's dispatch loop to validate the capability slot a request
// names before invoking a handler.
func (s *Space) Lookup(sel Selector) (hnd Handle, imprint uint64, err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	o, ok := s.slots[sel]
	if !ok {
		return "", 0, ErrUnknownSelector
	}
	return o.hnd, o.imprint, nil
}

// Ref increments the reference count of a live selector, used when a
// capability is copied within the same PD (§3.1: copying shares the
// reference).
func (s *Space) Ref(sel Selector) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	o, ok := s.slots[sel]
	if !ok {
		return ErrUnknownSelector
	}
	o.refs++
	return nil
}

// Revoke drops one reference to sel, removing it from the space once the
// count reaches zero. Revoking all references to a selector is what §8
// property 5 means by "all caps it issued are revoked" at PD destruction.
func (s *Space) Revoke(sel Selector) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	o, ok := s.slots[sel]
	if !ok {
		return ErrUnknownSelector
	}
	o.refs--
	if o.refs <= 0 {
		delete(s.slots, sel)
	}
	return nil
}

// Delegate copies a capability from s into dst, manufacturing a new
// selector in dst's space that refers to the same underlying object. This
// is the Go model of the kernel's cross-PD delegation primitive; the new
// selector carries the same handle and imprint but has its own reference
// count in dst, since selectors are space-local.
func (s *Space) Delegate(dst *Space, c Capability) (Capability, error) {
	if !c.valid {
		return Capability{}, ErrInvalid
	}
	s.mtx.Lock()
	o, ok := s.slots[c.sel]
	s.mtx.Unlock()
	if !ok {
		return Capability{}, ErrUnknownSelector
	}
	return dst.Manufacture(o.hnd, o.imprint)
}

// Len reports the number of live selectors, i.e. the PD's used capability
// count absent any account guard bookkeeping (the account.Guard made by
// account.NewCapGuard tracks
// the byte/count budget separately; Space tracks liveness).
func (s *Space) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.slots)
}
