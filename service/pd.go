// Package service implements the per-resource services of §4.4-4.8: PD,
// CPU, RAM, ROM, IO_MEM, IO_PORT, and IRQ, each a thin wrapper tying
// kernelobj primitives to the account and allocator layers.
package service

import (
	"errors"
	"sync"

	"github.com/genodego/core/account"
	"github.com/genodego/core/capability"
	"github.com/genodego/core/dataspace"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/regionmap"
	"github.com/genodego/core/sigkernel"
)

// ErrNotAssigned is returned by operations that require assign_parent to
// have run first.
var ErrNotAssigned = errors.New("service: parent not yet assigned")

// ErrUnknownSignalSource and ErrUnknownSignalContext are returned when a
// capability named by a signal-delivery operation wasn't allocated by
// this PD, or was already freed.
var (
	ErrUnknownSignalSource  = errors.New("service: unknown signal source")
	ErrUnknownSignalContext = errors.New("service: unknown signal context")
)

// signalContextEntry remembers which receiver owns a signal context, so
// Submit/FreeContext can reach it given only the context's capability.
type signalContextEntry struct {
	recv *sigkernel.Receiver
	ctx  *sigkernel.Context
}

// PD is a protection domain session: one kernel PD, the three region
// maps, and the RAM/cap account pair (§4.4).
type PD struct {
	mtx sync.Mutex

	kernelPD kernelobj.PD
	kern     kernelobj.Kernel

	Areas *regionmap.Areas

	RAM  *account.Guard
	Caps *account.Guard

	parentCap capability.Capability
	assigned  bool

	ramDataspaces map[capability.Selector]*dataspace.Dataspace
	capSpace      *capability.Space

	sigReg      *sigkernel.Registry
	sigSources  map[capability.Selector]*sigkernel.Receiver
	sigContexts map[capability.Selector]signalContextEntry
}

// NewPD creates a PD session backed by kern, with fresh RAM/cap accounts
// charged to ramRef/capRef (the parent PD's accounts, or nil for core's
// root PD).
func NewPD(kern kernelobj.Kernel, ramRef, capRef *account.Guard) (*PD, error) {
	kpd, err := kern.NewPD()
	if err != nil {
		return nil, err
	}
	pd := &PD{
		kernelPD:      kpd,
		kern:          kern,
		Areas:         regionmap.NewAreas(),
		capSpace:      capability.NewSpace(),
		ramDataspaces: make(map[capability.Selector]*dataspace.Dataspace),
		sigReg:        sigkernel.NewRegistry(),
		sigSources:    make(map[capability.Selector]*sigkernel.Receiver),
		sigContexts:   make(map[capability.Selector]signalContextEntry),
	}
	if ramRef != nil {
		pd.RAM = ramRef.NewChild()
	} else {
		pd.RAM = account.NewRamGuard(0)
	}
	if capRef != nil {
		pd.Caps = capRef.NewChild()
	} else {
		pd.Caps = account.NewCapGuard(0)
	}
	return pd, nil
}

// AssignParent sets the parent RPC endpoint this PD's first system call
// reports to; it may be called exactly once (§4.4).
func (pd *PD) AssignParent(parentCap capability.Capability) error {
	pd.mtx.Lock()
	defer pd.mtx.Unlock()
	if pd.assigned {
		return errors.New("service: parent already assigned")
	}
	pd.parentCap = parentCap
	pd.assigned = true
	return nil
}

// RefAccount designates parentPD's accounts as this PD's reference
// accounts for both RAM and caps (§4.4's ref_account).
func (pd *PD) RefAccount(parentPD *PD) {
	pd.mtx.Lock()
	defer pd.mtx.Unlock()
	pd.RAM = parentPD.RAM.NewChild()
	pd.Caps = parentPD.Caps.NewChild()
}

// TransferQuota moves n units of the given account kind from pd to
// target (§4.4's transfer_quota).
func (pd *PD) TransferQuota(target *PD, ram bool, n uint64) error {
	if ram {
		return account.Transfer(pd.RAM, target.RAM, n)
	}
	return account.Transfer(pd.Caps, target.Caps, n)
}

// Alloc allocates a RAM dataspace of size bytes with the given cache
// policy, withdrawing size from this PD's RAM account (§4.6).
func (pd *PD) Alloc(size uint64, cache dataspace.Cache) (*dataspace.Dataspace, error) {
	if err := pd.RAM.Withdraw(size); err != nil {
		return nil, err
	}
	if err := pd.Caps.Withdraw(1); err != nil {
		pd.RAM.Replenish(size)
		return nil, err
	}

	c, err := pd.capSpace.Manufacture("ram-dataspace", uint64(size))
	if err != nil {
		pd.RAM.Replenish(size)
		pd.Caps.Replenish(1)
		return nil, err
	}
	ds := dataspace.New(dataspace.KindRAM, c, size, cache, 0)

	pd.mtx.Lock()
	pd.ramDataspaces[c.Selector()] = ds
	pd.mtx.Unlock()
	return ds, nil
}

// Free releases a RAM dataspace previously returned by Alloc, replenishing
// the PD's RAM and cap accounts once its reference count reaches zero.
func (pd *PD) Free(ds *dataspace.Dataspace) error {
	pd.mtx.Lock()
	_, ok := pd.ramDataspaces[ds.Cap().Selector()]
	if ok {
		delete(pd.ramDataspaces, ds.Cap().Selector())
	}
	pd.mtx.Unlock()

	if !ds.Unref() {
		return nil
	}
	pd.RAM.Replenish(ds.Size())
	pd.Caps.Replenish(1)
	return nil
}

// DataspaceSize returns ds's byte size (§4.4's dataspace_size).
func (pd *PD) DataspaceSize(ds *dataspace.Dataspace) uint64 { return ds.Size() }

// CapQuota, UsedCaps, RAMQuota, UsedRAM report current account state for
// inspection (§4.4).
func (pd *PD) CapQuota() uint64 { return pd.Caps.Limit() }
func (pd *PD) UsedCaps() uint64 { return pd.Caps.Used() }
func (pd *PD) RAMQuota() uint64 { return pd.RAM.Limit() }
func (pd *PD) UsedRAM() uint64  { return pd.RAM.Used() }

// AllocRPCCap manufactures a new RPC capability bound to epCap, charging
// one unit of the PD's cap account (§4.4's alloc_rpc_cap).
func (pd *PD) AllocRPCCap(epCap capability.Capability) (capability.Capability, error) {
	if err := pd.Caps.Withdraw(1); err != nil {
		return capability.Capability{}, err
	}
	c, err := pd.capSpace.Manufacture("rpc-cap", uint64(epCap.Selector()))
	if err != nil {
		pd.Caps.Replenish(1)
		return capability.Capability{}, err
	}
	return c, nil
}

// FreeRPCCap revokes a capability previously returned by AllocRPCCap.
func (pd *PD) FreeRPCCap(c capability.Capability) error {
	if err := pd.capSpace.Revoke(c.Selector()); err != nil {
		return err
	}
	pd.Caps.Replenish(1)
	return nil
}

// AllocSignalSource creates a new signal-delivery endpoint, charging one
// unit of this PD's cap account (§4.4's alloc_signal_source). The
// returned receiver is what a session (e.g. CPU.ExceptionSigh,
// IRQSession.Sigh) binds its own contexts' delivery against; the
// capability is what names the source across the RPC boundary.
func (pd *PD) AllocSignalSource() (capability.Capability, *sigkernel.Receiver, error) {
	if err := pd.Caps.Withdraw(1); err != nil {
		return capability.Capability{}, nil, err
	}
	recv := sigkernel.NewReceiver(pd.sigReg, nil)
	c, err := pd.capSpace.Manufacture("signal-source", 0)
	if err != nil {
		pd.Caps.Replenish(1)
		return capability.Capability{}, nil, err
	}
	pd.mtx.Lock()
	pd.sigSources[c.Selector()] = recv
	pd.mtx.Unlock()
	return c, recv, nil
}

// FreeSignalSource releases a signal source previously returned by
// AllocSignalSource (§4.4's free_signal_source).
func (pd *PD) FreeSignalSource(src capability.Capability) error {
	pd.mtx.Lock()
	_, ok := pd.sigSources[src.Selector()]
	if ok {
		delete(pd.sigSources, src.Selector())
	}
	pd.mtx.Unlock()
	if !ok {
		return ErrUnknownSignalSource
	}
	if err := pd.capSpace.Revoke(src.Selector()); err != nil {
		return err
	}
	pd.Caps.Replenish(1)
	return nil
}

// AllocContext allocates a signal context bound to src with the given
// imprint, charging one unit of this PD's cap account (§4.4's
// alloc_context).
func (pd *PD) AllocContext(src capability.Capability, imprint uint64) (capability.Capability, error) {
	pd.mtx.Lock()
	recv, ok := pd.sigSources[src.Selector()]
	pd.mtx.Unlock()
	if !ok {
		return capability.Capability{}, ErrUnknownSignalSource
	}
	if err := pd.Caps.Withdraw(1); err != nil {
		return capability.Capability{}, err
	}
	ctx, err := recv.NewContext(imprint)
	if err != nil {
		pd.Caps.Replenish(1)
		return capability.Capability{}, err
	}
	c, err := pd.capSpace.Manufacture("signal-context", imprint)
	if err != nil {
		recv.FreeContext(ctx)
		pd.Caps.Replenish(1)
		return capability.Capability{}, err
	}
	pd.mtx.Lock()
	pd.sigContexts[c.Selector()] = signalContextEntry{recv: recv, ctx: ctx}
	pd.mtx.Unlock()
	return c, nil
}

// FreeContext dissolves a signal context previously returned by
// AllocContext (§4.4's free_context).
func (pd *PD) FreeContext(ctxCap capability.Capability) error {
	pd.mtx.Lock()
	entry, ok := pd.sigContexts[ctxCap.Selector()]
	if ok {
		delete(pd.sigContexts, ctxCap.Selector())
	}
	pd.mtx.Unlock()
	if !ok {
		return ErrUnknownSignalContext
	}
	entry.recv.FreeContext(entry.ctx)
	if err := pd.capSpace.Revoke(ctxCap.Selector()); err != nil {
		return err
	}
	pd.Caps.Replenish(1)
	return nil
}

// Submit delivers cnt signals to ctxCap's context (§4.4's submit), the
// PD-level entry point onto the same sigkernel.Receiver.Submit that
// IRQSession's dispatch loop drives directly.
func (pd *PD) Submit(ctxCap capability.Capability, cnt uint64) error {
	pd.mtx.Lock()
	entry, ok := pd.sigContexts[ctxCap.Selector()]
	pd.mtx.Unlock()
	if !ok {
		return ErrUnknownSignalContext
	}
	return entry.recv.Submit(entry.ctx.Imprint(), cnt)
}

// Destroy tears down the kernel PD. Per §8 property 5, callers must
// ensure all sessions have reached CLOSED and all issued caps are
// revoked before calling this.
func (pd *PD) Destroy() error {
	return pd.kernelPD.Destroy()
}
