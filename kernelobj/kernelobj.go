// Package kernelobj defines the boundary described in §6.4: the set of
// kernel-object primitives core assumes rather than implements. The
// interfaces here are the seam between core's resource accounting and
// whatever microkernel actually backs a deployment; production builds
// wire a platform-specific implementation in, and tests use the fake in
// fake.go.
package kernelobj

import "errors"

// ErrUnsupported is returned by any operation a given kernel backend
// does not implement on its platform (e.g. cap-quota transfer on a
// kernel with no native capability budget, per the open question in
// §10).
var ErrUnsupported = errors.New("kernelobj: operation unsupported on this platform")

// Affinity identifies a location inside the platform's affinity space,
// the rectangle of schedulable CPUs described in §4.5.
type Affinity struct {
	X, Y          int
	Width, Height int
}

// ThreadState is a readout of a thread's execution state, used by the
// CPU session's state() operation.
type ThreadState struct {
	IP, SP  uint64
	Running bool
}

// Trigger and Polarity describe how an IRQ line is sensed, passed
// through from the platform's boot-time IRQ range list (§6.1) to the
// kernel's interrupt object creation call (§6.4).
type Trigger int

const (
	TriggerLevel Trigger = iota
	TriggerEdge
)

type Polarity int

const (
	PolarityHigh Polarity = iota
	PolarityLow
)

// PD is the kernel-level protection domain primitive: creation,
// destruction, and capability revocation (§6.4).
type PD interface {
	Destroy() error
	Revoke(selector uint32) error
}

// Thread is the kernel-level thread primitive (§6.4): creation with
// SP/IP initialization, start/pause/resume, affinity assignment, and
// state readout.
type Thread interface {
	Start(ip, sp uint64) error
	Pause() error
	Resume() error
	SetAffinity(a Affinity) error
	State() (ThreadState, error)
	Destroy() error

	// SingleStep toggles single-instruction-step execution mode
	// (§4.5's single_step).
	SingleStep(enable bool) error
	// TraceControl arms or disarms this thread's trace buffer under the
	// given trace policy (§4.5's trace_control).
	TraceControl(enable bool, policyID uint32) error
}

// IPCEndpoint is the kernel-level portal/IPC-gate primitive backing an
// entrypoint (§4.11, §6.4): creation plus a blocking wait/reply cycle.
type IPCEndpoint interface {
	// Wait blocks for the next request, returning its raw wire bytes.
	Wait() ([]byte, error)
	// Reply sends the given wire bytes as the response to the request
	// most recently returned by Wait.
	Reply(msg []byte) error
	Destroy() error
}

// Interrupt is the kernel-level interrupt object primitive (§4.8,
// §6.4): creation, masking, and a blocking wait for the next latched
// interrupt.
type Interrupt interface {
	Wait() error
	Mask() error
	Unmask() error
	Destroy() error
}

// MMIO is the kernel-level MMIO mapping primitive (§6.4): map and unmap
// a physical range into the calling PD's address space, with an
// optional write-combining hint.
type MMIO interface {
	Map(physBase, size uint64, writeCombined bool) (virt uint64, err error)
	Unmap(virt uint64, size uint64) error
}

// Kernel bundles the object-creation entry points a platform backend
// must supply. Core's services depend only on this interface, never on
// a concrete kernel package, so platform support is added by providing
// a new Kernel implementation rather than touching core's logic.
type Kernel interface {
	NewPD() (PD, error)
	NewThread(pd PD) (Thread, error)
	NewIPCEndpoint() (IPCEndpoint, error)
	NewInterrupt(line int, trig Trigger, pol Polarity) (Interrupt, error)
	MMIO() MMIO

	// SupportsCapQuotaTransfer reports whether this kernel tracks a
	// native capability budget that can be transferred between PDs. On
	// kernels that do not (the open question in §10), capability
	// accounting is enforced purely in software by account.Guard, and
	// Kernel.TransferCapQuota always returns ErrUnsupported.
	SupportsCapQuotaTransfer() bool
	TransferCapQuota(from, to PD, n uint64) error
}
