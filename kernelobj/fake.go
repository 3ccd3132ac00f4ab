package kernelobj

import "sync"

// Fake is an in-process Kernel implementation for tests and for
// standalone demo components (cmd/launchpad, cmd/corestat) that run
// without a real microkernel underneath. It never fails except where
// the interface explicitly allows ErrUnsupported.
type Fake struct {
	mtx        sync.Mutex
	capQuotaOK bool
}

// NewFake creates a fake kernel. If capQuotaTransfer is false, the
// returned kernel mimics a platform with no native capability budget,
// exercising the ErrUnsupported path of §10's open question.
func NewFake(capQuotaTransfer bool) *Fake {
	return &Fake{capQuotaOK: capQuotaTransfer}
}

type fakePD struct{ mtx sync.Mutex }

func (p *fakePD) Destroy() error            { return nil }
func (p *fakePD) Revoke(selector uint32) error { return nil }

func (f *Fake) NewPD() (PD, error) { return &fakePD{}, nil }

type fakeThread struct {
	mtx         sync.Mutex
	state       ThreadState
	singleStep  bool
	traced      bool
	tracePolicy uint32
}

func (t *fakeThread) Start(ip, sp uint64) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.state = ThreadState{IP: ip, SP: sp, Running: true}
	return nil
}
func (t *fakeThread) Pause() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.state.Running = false
	return nil
}
func (t *fakeThread) Resume() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.state.Running = true
	return nil
}
func (t *fakeThread) SetAffinity(Affinity) error { return nil }
func (t *fakeThread) State() (ThreadState, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.state, nil
}
func (t *fakeThread) Destroy() error { return nil }

func (t *fakeThread) SingleStep(enable bool) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.singleStep = enable
	return nil
}

func (t *fakeThread) TraceControl(enable bool, policyID uint32) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.traced = enable
	t.tracePolicy = policyID
	return nil
}

func (f *Fake) NewThread(PD) (Thread, error) { return &fakeThread{}, nil }

// fakeEndpoint is a channel-backed stand-in for a kernel IPC gate: Wait
// reads the next request off an inbound channel, Reply writes the
// response to a matching outbound channel. A real backend would instead
// block in a kernel call; tests drive requests by writing to In
// directly.
type fakeEndpoint struct {
	In   chan []byte
	Out  chan []byte
}

func (e *fakeEndpoint) Wait() ([]byte, error) { return <-e.In, nil }
func (e *fakeEndpoint) Reply(msg []byte) error {
	e.Out <- msg
	return nil
}
func (e *fakeEndpoint) Destroy() error {
	close(e.In)
	close(e.Out)
	return nil
}

func (f *Fake) NewIPCEndpoint() (IPCEndpoint, error) {
	return &fakeEndpoint{In: make(chan []byte, 16), Out: make(chan []byte, 16)}, nil
}

type fakeInterrupt struct {
	fire   chan struct{}
	masked bool
}

func (i *fakeInterrupt) Wait() error { <-i.fire; return nil }
func (i *fakeInterrupt) Mask() error { i.masked = true; return nil }
func (i *fakeInterrupt) Unmask() error { i.masked = false; return nil }
func (i *fakeInterrupt) Destroy() error { close(i.fire); return nil }

func (f *Fake) NewInterrupt(line int, trig Trigger, pol Polarity) (Interrupt, error) {
	return &fakeInterrupt{fire: make(chan struct{}, 1)}, nil
}

// Latch simulates the platform latching irq, waking whatever goroutine
// is blocked in its Wait(). It only works on Interrupt values returned
// by Fake.NewInterrupt; other implementations return an error.
func Latch(irq Interrupt) error {
	fi, ok := irq.(*fakeInterrupt)
	if !ok {
		return ErrUnsupported
	}
	select {
	case fi.fire <- struct{}{}:
	default:
	}
	return nil
}

type fakeMMIO struct {
	mtx  sync.Mutex
	next uint64
}

func (m *fakeMMIO) Map(physBase, size uint64, writeCombined bool) (uint64, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.next == 0 {
		m.next = 0x4000_0000
	}
	virt := m.next
	m.next += size
	return virt, nil
}
func (m *fakeMMIO) Unmap(virt, size uint64) error { return nil }

func (f *Fake) MMIO() MMIO { return &fakeMMIO{} }

func (f *Fake) SupportsCapQuotaTransfer() bool { return f.capQuotaOK }

func (f *Fake) TransferCapQuota(from, to PD, n uint64) error {
	if !f.capQuotaOK {
		return ErrUnsupported
	}
	return nil
}
