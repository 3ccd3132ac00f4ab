// Package sigkernel implements the signal context/receiver model of
// §3.7/§4.12: a process-wide context registry validated by imprint, a
// per-receiver pending-count accumulator, and a channel-fed blocking Wait
// that the caller's own dispatch goroutine drives in place of the
// signal-handler thread, following the design note in §9 to use a
// goroutine instead of a semaphore-blocked OS thread. The package starts
// no goroutine of its own.
package sigkernel

import (
	"errors"
	"sync"
)

var (
	// ErrDissolved is returned (and logged by callers) when Submit
	// targets a context whose imprint no longer resolves — the context
	// was destroyed and its memory potentially reused.
	ErrDissolved = errors.New("sigkernel: context dissolved")
	// ErrAlreadyBound is returned by Registry.Register when the imprint
	// is already in use.
	ErrAlreadyBound = errors.New("sigkernel: imprint already bound")
)

// Context is one signal destination: an opaque imprint plus an
// accumulating pending count. A context belongs to at most one Receiver.
type Context struct {
	imprint uint64
	mtx     sync.Mutex
	pending uint64
}

// Imprint returns the context's opaque identifier.
func (c *Context) Imprint() uint64 { return c.imprint }

func (c *Context) addPending(n uint64) uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.pending += n
	return c.pending
}

func (c *Context) drain() uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n := c.pending
	c.pending = 0
	return n
}

// Batch is one delivered wakeup: the context that fired and the
// accumulated count since it was last drained.
type Batch struct {
	Context *Context
	Count   uint64
}

// Registry validates imprints before a producer is allowed to
// dereference a context, per §4.12: "looks up the context through a
// process-wide registry that validates the imprint before
// dereferencing it."
type Registry struct {
	mtx  sync.Mutex
	byID map[uint64]*Context
}

// NewRegistry creates an empty context registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64]*Context)}
}

// Register binds imprint to ctx.
func (r *Registry) Register(ctx *Context) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.byID[ctx.imprint]; ok {
		return ErrAlreadyBound
	}
	r.byID[ctx.imprint] = ctx
	return nil
}

// Dissolve removes imprint from the registry; a context destroyed
// without being dissolved first would let a stale Submit resurrect
// reused memory, which §3.7 forbids.
func (r *Registry) Dissolve(imprint uint64) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.byID, imprint)
}

// Lookup resolves imprint to its live context, or reports that it has
// been dissolved.
func (r *Registry) Lookup(imprint uint64) (*Context, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	ctx, ok := r.byID[imprint]
	return ctx, ok
}

// Receiver owns a set of contexts and a wake channel that is signalled
// whenever any of them receives a signal; it starts no goroutine itself.
// NewContext/Submit are safe to call from any goroutine; Wait is for the
// single consumer goroutine that stands in for the component's
// signal-handler thread.
type Receiver struct {
	reg *Registry

	mtx      sync.Mutex
	contexts map[uint64]*Context

	wake chan struct{}
	onDrop func(imprint uint64, n uint64) // called when n==0, per §4.12's "logged but swallowed"
}

// NewReceiver creates a receiver backed by reg. onZero, if non-nil, is
// invoked whenever Submit is called with n==0 — the spec's "logged but
// otherwise swallowed" case.
func NewReceiver(reg *Registry, onZero func(imprint uint64, n uint64)) *Receiver {
	return &Receiver{
		reg:      reg,
		contexts: make(map[uint64]*Context),
		wake:     make(chan struct{}, 1),
		onDrop:   onZero,
	}
}

// NewContext allocates a context with the given imprint, registers it,
// and binds it to this receiver.
func (rcv *Receiver) NewContext(imprint uint64) (*Context, error) {
	ctx := &Context{imprint: imprint}
	if err := rcv.reg.Register(ctx); err != nil {
		return nil, err
	}
	rcv.mtx.Lock()
	rcv.contexts[imprint] = ctx
	rcv.mtx.Unlock()
	return ctx, nil
}

// FreeContext dissolves ctx: it is removed from the registry and this
// receiver so that any signal still in flight against its imprint is
// detected as dissolved and dropped, per §3.7.
func (rcv *Receiver) FreeContext(ctx *Context) {
	rcv.reg.Dissolve(ctx.imprint)
	rcv.mtx.Lock()
	delete(rcv.contexts, ctx.imprint)
	rcv.mtx.Unlock()
}

// Submit is the producer side of §4.12: it resolves imprint through the
// registry, rejecting dissolved contexts, and atomically increments the
// pending counter by n. n==0 is accepted and forwarded to onZero rather
// than treated as an error.
func (rcv *Receiver) Submit(imprint uint64, n uint64) error {
	ctx, ok := rcv.reg.Lookup(imprint)
	if !ok {
		return ErrDissolved
	}
	if n == 0 {
		if rcv.onDrop != nil {
			rcv.onDrop(imprint, 0)
		}
		return nil
	}
	ctx.addPending(n)
	select {
	case rcv.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until at least one bound context has a nonzero pending
// count, then returns the accumulated batches, draining each context's
// counter. It is meant to be called in a loop from the dedicated
// dispatch goroutine described in §4.12 and §5 — a goroutine rather than
// an OS thread, so that it can block on signals without risking
// deadlock against the entrypoint goroutine it may itself call into.
func (rcv *Receiver) Wait() []Batch {
	for {
		if batches := rcv.drainAll(); len(batches) > 0 {
			return batches
		}
		<-rcv.wake
	}
}

func (rcv *Receiver) drainAll() []Batch {
	rcv.mtx.Lock()
	ctxs := make([]*Context, 0, len(rcv.contexts))
	for _, c := range rcv.contexts {
		ctxs = append(ctxs, c)
	}
	rcv.mtx.Unlock()

	var out []Batch
	for _, c := range ctxs {
		if n := c.drain(); n > 0 {
			out = append(out, Batch{Context: c, Count: n})
		}
	}
	return out
}
