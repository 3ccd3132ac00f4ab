package service

import (
	"errors"
	"sync"

	"github.com/genodego/core/account"
	"github.com/genodego/core/capability"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/sigkernel"
)

// ErrUnknownThread is returned by operations naming a thread capability
// this session never created.
var ErrUnknownThread = errors.New("service: unknown thread")

// threadEntry tracks one thread created by a CPU session: its kernel
// handle, its scheduler weight, and its affinity location within the
// session's rectangle of the platform affinity space (§4.5).
type threadEntry struct {
	kthread  kernelobj.Thread
	name     string
	weight   uint32
	affinity kernelobj.Affinity
	cap      capability.Capability

	excReceiver *sigkernel.Receiver
	excCtx      *sigkernel.Context
}

// CPU manages the threads of one component, scheduled within a
// rectangle of the platform's affinity space (§4.5). Quota is a
// scheduler share; CPU itself does not account RAM/caps for threads
// beyond the one cap each consumes.
type CPU struct {
	mtx sync.Mutex

	kern     kernelobj.Kernel
	Caps     *account.Guard
	capSpace *capability.Space

	threads    map[capability.Selector]*threadEntry
	totalQuota uint32
}

// NewCPU creates a CPU session backed by kern, charged to capRef's
// account (or a fresh root account when capRef is nil).
func NewCPU(kern kernelobj.Kernel, capRef *account.Guard, quota uint32) *CPU {
	var caps *account.Guard
	if capRef != nil {
		caps = capRef.NewChild()
	} else {
		caps = account.NewCapGuard(0)
	}
	return &CPU{
		kern:       kern,
		Caps:       caps,
		capSpace:   capability.NewSpace(),
		threads:    make(map[capability.Selector]*threadEntry),
		totalQuota: quota,
	}
}

// CreateThread creates a new kernel thread within pd, named for
// diagnostics, at the given affinity location with the given scheduler
// weight, returning its capability (§4.5's create_thread).
func (c *CPU) CreateThread(pd *PD, name string, affinity kernelobj.Affinity, weight uint32) (capability.Capability, error) {
	if err := c.Caps.Withdraw(1); err != nil {
		return capability.Capability{}, err
	}
	kt, err := c.kern.NewThread(pd.kernelPD)
	if err != nil {
		c.Caps.Replenish(1)
		return capability.Capability{}, err
	}
	cap, err := c.capSpace.Manufacture("thread:"+name, 0)
	if err != nil {
		c.Caps.Replenish(1)
		return capability.Capability{}, err
	}

	c.mtx.Lock()
	c.threads[cap.Selector()] = &threadEntry{kthread: kt, name: name, weight: weight, affinity: affinity, cap: cap}
	c.mtx.Unlock()
	return cap, nil
}

func (c *CPU) lookup(cap capability.Capability) (*threadEntry, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	te, ok := c.threads[cap.Selector()]
	if !ok {
		return nil, ErrUnknownThread
	}
	return te, nil
}

// Start begins execution of thread at the given instruction/stack
// pointers.
func (c *CPU) Start(cap capability.Capability, ip, sp uint64) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	return te.kthread.Start(ip, sp)
}

// Pause suspends thread.
func (c *CPU) Pause(cap capability.Capability) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	return te.kthread.Pause()
}

// Resume resumes a paused thread.
func (c *CPU) Resume(cap capability.Capability) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	return te.kthread.Resume()
}

// State reads back a thread's execution state.
func (c *CPU) State(cap capability.Capability) (kernelobj.ThreadState, error) {
	te, err := c.lookup(cap)
	if err != nil {
		return kernelobj.ThreadState{}, err
	}
	return te.kthread.State()
}

// Affinity reassigns thread's scheduling location.
func (c *CPU) Affinity(cap capability.Capability, a kernelobj.Affinity) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	te.affinity = a
	return te.kthread.SetAffinity(a)
}

// SingleStep toggles single-instruction-step execution for thread
// (§4.5's single_step).
func (c *CPU) SingleStep(cap capability.Capability, enable bool) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	return te.kthread.SingleStep(enable)
}

// TraceControl arms or disarms thread's trace buffer under policyID
// (§4.5's trace_control).
func (c *CPU) TraceControl(cap capability.Capability, enable bool, policyID uint32) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	return te.kthread.TraceControl(enable, policyID)
}

// ExceptionSigh installs receiver as the destination for thread's CPU
// exceptions (page faults, traps), mirroring IRQSession.Sigh's binding
// of a signal context to the delivery mechanism (§4.5's exception_sigh).
func (c *CPU) ExceptionSigh(cap capability.Capability, receiver *sigkernel.Receiver, imprint uint64) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	ctx, err := receiver.NewContext(imprint)
	if err != nil {
		return err
	}
	c.mtx.Lock()
	te.excReceiver = receiver
	te.excCtx = ctx
	c.mtx.Unlock()
	return nil
}

// RaiseException submits one exception notification for thread to
// whatever receiver is currently bound via ExceptionSigh. It is a no-op
// if the thread has no exception handler installed, matching a real
// kernel's behavior of dropping the fault notification when no handler
// is registered.
func (c *CPU) RaiseException(cap capability.Capability) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	c.mtx.Lock()
	receiver, ctx := te.excReceiver, te.excCtx
	c.mtx.Unlock()
	if receiver == nil {
		return nil
	}
	return receiver.Submit(ctx.Imprint(), 1)
}

// KillThread destroys thread, closing its trace buffer and revoking its
// RPC capabilities (§4.5's contract on kill_thread).
func (c *CPU) KillThread(cap capability.Capability) error {
	te, err := c.lookup(cap)
	if err != nil {
		return err
	}
	if err := te.kthread.Destroy(); err != nil {
		return err
	}
	if err := c.capSpace.Revoke(cap.Selector()); err != nil {
		return err
	}
	c.mtx.Lock()
	delete(c.threads, cap.Selector())
	c.mtx.Unlock()
	c.Caps.Replenish(1)
	return nil
}

// Quota returns the session's total scheduler-share quota.
func (c *CPU) Quota() uint32 { return c.totalQuota }

// ThreadQuota returns cap's share of the session's total quota, the
// thread's weight divided by the sum of all live threads' weights
// (§4.5: "the session's total quota is distributed across its threads
// proportionally"). A thread with the only nonzero weight gets the
// whole quota; if every thread has weight zero, quota splits evenly.
func (c *CPU) ThreadQuota(cap capability.Capability) (uint32, error) {
	te, err := c.lookup(cap)
	if err != nil {
		return 0, err
	}

	c.mtx.Lock()
	var totalWeight uint64
	n := uint64(len(c.threads))
	for _, other := range c.threads {
		totalWeight += uint64(other.weight)
	}
	c.mtx.Unlock()

	if totalWeight == 0 {
		if n == 0 {
			return 0, nil
		}
		return uint32(uint64(c.totalQuota) / n), nil
	}
	return uint32(uint64(c.totalQuota) * uint64(te.weight) / totalWeight), nil
}

// RefAccount designates parent's cap account as this session's
// reference account, mirroring PD.RefAccount (§4.4) for CPU sessions.
func (c *CPU) RefAccount(parent *CPU) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.Caps = parent.Caps.NewChild()
}

// TransferQuota moves n units of capability quota between this session
// and target, mirroring PD.TransferQuota for CPU sessions (§4.5's
// transfer_quota).
func (c *CPU) TransferQuota(target *CPU, n uint64) error {
	return account.Transfer(c.Caps, target.Caps, n)
}
