package service

import (
	"errors"
	"sync"

	"github.com/genodego/core/allocator"
	"github.com/genodego/core/capability"
	"github.com/genodego/core/dataspace"
)

// ErrDenied is returned when an IO_MEM or IO_PORT request falls outside
// the platform's reported ranges or is already claimed, and by every
// port access of an IO_PORT session without port I/O. A claimed IRQ is
// reported as ErrAlreadyClaimed instead.
var ErrDenied = errors.New("service: request denied")

// IOMem serves MMIO dataspaces (§4.8): core verifies a requested range
// lies within the platform's reported MMIO ranges and is not already
// allocated to another client before handing it out.
type IOMem struct {
	mtx      sync.Mutex
	ranges   *allocator.Range // reserved/free MMIO byte ranges known to the platform
	capSpace *capability.Space
}

// NewIOMem creates an IO_MEM service whose valid address space is the
// union of the given [base, size) MMIO windows reported by the platform.
func NewIOMem(windows [][2]uint64) (*IOMem, error) {
	r := allocator.NewRange(false)
	for _, w := range windows {
		if err := r.AddRange(w[0], w[1]); err != nil {
			return nil, err
		}
	}
	return &IOMem{ranges: r, capSpace: capability.NewSpace()}, nil
}

// Request hands out a dataspace for [base, base+size), failing with
// ErrDenied if the range is unknown to the platform or already claimed.
func (m *IOMem) Request(base, size uint64, writeCombined bool) (*dataspace.Dataspace, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if err := m.ranges.AllocAddr(size, base); err != nil {
		return nil, ErrDenied
	}
	c, err := m.capSpace.Manufacture("io_mem", base)
	if err != nil {
		_ = m.ranges.Free(base, size)
		return nil, err
	}
	cache := dataspace.CacheUncached
	if writeCombined {
		cache = dataspace.CacheWriteCombined
	}
	return dataspace.New(dataspace.KindIOMem, c, size, cache, base), nil
}

// IOPortSession exposes the byte/word/long in/out primitives for one
// allocated port range (§4.8). On ARM (no I/O ports), every operation
// simply returns ErrDenied, matching the spec's "the service is a stub."
type IOPortSession struct {
	base, size uint64
	portIO     PortIO
}

// PortIO is the platform-specific backend for raw port I/O; a platform
// with no I/O ports (ARM) supplies nil, making every IOPortSession a
// stub that always denies.
type PortIO interface {
	In(port uint16, width int) (uint32, error)
	Out(port uint16, width int, value uint32) error
}

func (s *IOPortSession) op(port uint16, width int) error {
	if uint64(port) < s.base || uint64(port)+uint64(width) > s.base+s.size {
		return ErrDenied
	}
	if s.portIO == nil {
		return ErrDenied
	}
	return nil
}

func (s *IOPortSession) Inb(port uint16) (uint8, error)  { return s.inN(port, 1) }
func (s *IOPortSession) Inw(port uint16) (uint16, error) { v, e := s.inN(port, 2); return uint16(v), e }
func (s *IOPortSession) Inl(port uint16) (uint32, error) { v, e := s.inN(port, 4); return uint32(v), e }

func (s *IOPortSession) inN(port uint16, width int) (uint32, error) {
	if err := s.op(port, width); err != nil {
		return 0, err
	}
	return s.portIO.In(port, width)
}

func (s *IOPortSession) Outb(port uint16, v uint8) error  { return s.outN(port, 1, uint32(v)) }
func (s *IOPortSession) Outw(port uint16, v uint16) error { return s.outN(port, 2, uint32(v)) }
func (s *IOPortSession) Outl(port uint16, v uint32) error { return s.outN(port, 4, v) }

func (s *IOPortSession) outN(port uint16, width int, v uint32) error {
	if err := s.op(port, width); err != nil {
		return err
	}
	return s.portIO.Out(port, width, v)
}

// IOPort serves port-range sessions (§4.8).
type IOPort struct {
	mtx    sync.Mutex
	ranges *allocator.Range
	portIO PortIO
}

// NewIOPort creates an IO_PORT service over the given port ranges. A nil
// portIO makes every resulting session a stub whose port accesses all
// return ErrDenied, matching ARM's lack of I/O ports.
func NewIOPort(ranges [][2]uint64, portIO PortIO) (*IOPort, error) {
	r := allocator.NewRange(false)
	for _, rg := range ranges {
		if err := r.AddRange(rg[0], rg[1]); err != nil {
			return nil, err
		}
	}
	return &IOPort{ranges: r, portIO: portIO}, nil
}

// Request allocates [base, base+size) of port space, returning a session
// scoped to it.
func (p *IOPort) Request(base, size uint64) (*IOPortSession, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if err := p.ranges.AllocAddr(size, base); err != nil {
		return nil, ErrDenied
	}
	return &IOPortSession{base: base, size: size, portIO: p.portIO}, nil
}
