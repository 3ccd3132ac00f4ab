package service

import (
	"errors"
	"sync"

	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/sigkernel"
)

// ErrAlreadyClaimed is returned when an IRQ line is requested twice.
var ErrAlreadyClaimed = errors.New("service: irq already claimed")

// IRQSession binds one kernel IRQ object to a signal context and
// dispatches a signal on every latched interrupt (§4.8). The client
// must Ack before the next signal can fire.
type IRQSession struct {
	mtx      sync.Mutex
	line     int
	kirq     kernelobj.Interrupt
	receiver *sigkernel.Receiver
	ctx      *sigkernel.Context
	acked    bool
	stop     chan struct{}
}

// Sigh installs handler as the signal destination for this IRQ's
// latches (§4.8's sigh).
func (s *IRQSession) Sigh(receiver *sigkernel.Receiver, imprint uint64) error {
	ctx, err := receiver.NewContext(imprint)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	s.receiver = receiver
	s.ctx = ctx
	s.acked = true
	s.mtx.Unlock()
	return nil
}

// AckIRQ acknowledges the last delivered interrupt, unmasking it so the
// next one can be latched and dispatched (§4.8's ack_irq).
func (s *IRQSession) AckIRQ() error {
	s.mtx.Lock()
	s.acked = true
	s.mtx.Unlock()
	return s.kirq.Unmask()
}

func (s *IRQSession) dispatchLoop() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.kirq.Wait(); err != nil {
			return
		}
		s.mtx.Lock()
		acked := s.acked
		s.acked = false
		receiver, ctx := s.receiver, s.ctx
		s.mtx.Unlock()
		if !acked || receiver == nil {
			continue
		}
		_ = receiver.Submit(ctx.Imprint(), 1)
		_ = s.kirq.Mask()
	}
}

// KernelInterrupt returns the underlying kernel interrupt object, for
// platform or test code that needs to drive it directly (e.g.
// kernelobj.Latch against a fake kernel).
func (s *IRQSession) KernelInterrupt() kernelobj.Interrupt { return s.kirq }

// Close stops the IRQ's dispatch goroutine and destroys the kernel
// object.
func (s *IRQSession) Close() error {
	close(s.stop)
	return s.kirq.Destroy()
}

// IRQ serves interrupt-line sessions (§4.8).
type IRQ struct {
	mtx    sync.Mutex
	kern   kernelobj.Kernel
	lines  map[int]*IRQSession
}

// NewIRQ creates an IRQ service backed by kern.
func NewIRQ(kern kernelobj.Kernel) *IRQ {
	return &IRQ{kern: kern, lines: make(map[int]*IRQSession)}
}

// Request binds a kernel interrupt object to irqNumber, failing with
// ErrAlreadyClaimed if another client already holds it (§4.8).
func (irq *IRQ) Request(irqNumber int, trig kernelobj.Trigger, pol kernelobj.Polarity) (*IRQSession, error) {
	irq.mtx.Lock()
	defer irq.mtx.Unlock()
	if _, ok := irq.lines[irqNumber]; ok {
		return nil, ErrAlreadyClaimed
	}
	ki, err := irq.kern.NewInterrupt(irqNumber, trig, pol)
	if err != nil {
		return nil, err
	}
	sess := &IRQSession{line: irqNumber, kirq: ki, stop: make(chan struct{})}
	irq.lines[irqNumber] = sess
	go sess.dispatchLoop()
	return sess, nil
}
