// Package rpc implements the entrypoint and wire format of §4.11/§6.3: a
// dedicated dispatch goroutine owning a capability registry. Every call on
// one entrypoint is serialized, whichever object it targets; calls on
// different entrypoints run concurrently.
package rpc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/genodego/core/capability"
)

// ExceptionCode is the numeric result of a call, per §6.3's reply
// format `{exception_code, result_blob, optional_capabilities}`.
type ExceptionCode int

const (
	// OK means the call's handler returned no error.
	OK ExceptionCode = iota
	// Unknown is used when a handler error has no entry in the
	// interface's exception-type list and is reported opaquely.
	Unknown
)

var (
	// ErrUnknownCapability is returned when a request names a capability
	// selector the entrypoint's registry does not recognize.
	ErrUnknownCapability = errors.New("rpc: unknown capability")
	// ErrNoHandler is returned when a capability is registered without a
	// dispatch function for the requested opcode.
	ErrNoHandler = errors.New("rpc: no handler for opcode")
	// ErrEntrypointClosed is returned by Call after Close.
	ErrEntrypointClosed = errors.New("rpc: entrypoint closed")
)

// Request is the wire-level call of §6.3: an opcode, the capability
// selector it targets, and an opaque argument blob.
type Request struct {
	Opcode     uint32
	Selector   capability.Selector
	Argument   []byte
	reply      chan Reply
}

// Reply is the wire-level response of §6.3.
type Reply struct {
	Exception    ExceptionCode
	Result       []byte
	Capabilities []capability.Capability
	Err          error
}

// ExceptionTable maps a handler's returned error to the numeric
// exception code the client stub re-raises as the corresponding
// variant, per §4.11: "exceptions thrown by the handler are mapped to
// numeric exception codes according to the interface's exception-type
// list."
type ExceptionTable map[error]ExceptionCode

// Lookup resolves err to its code, defaulting to Unknown for errors with
// no entry.
func (t ExceptionTable) Lookup(err error) ExceptionCode {
	if err == nil {
		return OK
	}
	for sentinel, code := range t {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return Unknown
}

// Handler processes one opcode's argument blob for a registered object
// and returns the result blob, any capabilities to delegate atomically
// with the reply, and an error the entrypoint maps through an
// ExceptionTable.
type Handler func(arg []byte) (result []byte, caps []capability.Capability, err error)

// object is a dispatch table of opcode -> handler, bound to one
// capability selector. Calls against the same object are serialized by
// virtue of running on the single entrypoint goroutine that owns it.
type object struct {
	handlers map[uint32]Handler
	excTable ExceptionTable
}

// Entrypoint is a dedicated dispatch goroutine owning a capability
// registry: exactly the channel-based task described in the design
// notes' replacement for "blocking semaphores inside RPC servers" — it
// receives Request values and sends Reply values, and Close (which closes
// its done channel) is how a call in flight is cancelled.
type Entrypoint struct {
	mtx     sync.RWMutex
	objects map[capability.Selector]*object

	requests  chan *Request
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an entrypoint with queue depth backlog for pending
// requests, and starts its dispatch loop.
func New(backlog int) *Entrypoint {
	ep := &Entrypoint{
		objects:  make(map[capability.Selector]*object),
		requests: make(chan *Request, backlog),
		done:     make(chan struct{}),
	}
	go ep.loop()
	return ep
}

// Register binds sel to a fresh dispatch table using excTable for
// handler-error translation. Handlers are added with Bind.
func (ep *Entrypoint) Register(sel capability.Selector, excTable ExceptionTable) {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	ep.objects[sel] = &object{handlers: make(map[uint32]Handler), excTable: excTable}
}

// Bind attaches h as the handler for opcode on the object at sel.
func (ep *Entrypoint) Bind(sel capability.Selector, opcode uint32, h Handler) error {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	obj, ok := ep.objects[sel]
	if !ok {
		return ErrUnknownCapability
	}
	obj.handlers[opcode] = h
	return nil
}

// Unregister removes sel's dispatch table, e.g. on object destruction.
func (ep *Entrypoint) Unregister(sel capability.Selector) {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	delete(ep.objects, sel)
}

// Call sends req to the entrypoint's dispatch loop and blocks for its
// reply. Calls on different entrypoints may run concurrently; every call
// on this entrypoint, to the same or to different objects, is serialized
// because the loop processes requests one at a time.
func (ep *Entrypoint) Call(opcode uint32, sel capability.Selector, arg []byte) Reply {
	req := &Request{Opcode: opcode, Selector: sel, Argument: arg, reply: make(chan Reply, 1)}
	select {
	case ep.requests <- req:
	case <-ep.done:
		return Reply{Exception: Unknown, Err: ErrEntrypointClosed}
	}
	select {
	case r := <-req.reply:
		return r
	case <-ep.done:
		return Reply{Exception: Unknown, Err: ErrEntrypointClosed}
	}
}

func (ep *Entrypoint) loop() {
	for {
		select {
		case req := <-ep.requests:
			req.reply <- ep.dispatch(req)
		case <-ep.done:
			return
		}
	}
}

func (ep *Entrypoint) dispatch(req *Request) Reply {
	ep.mtx.RLock()
	obj, ok := ep.objects[req.Selector]
	ep.mtx.RUnlock()
	if !ok {
		return Reply{Exception: Unknown, Err: ErrUnknownCapability}
	}

	h, ok := obj.handlers[req.Opcode]
	if !ok {
		return Reply{Exception: Unknown, Err: fmt.Errorf("%w: opcode %d", ErrNoHandler, req.Opcode)}
	}

	result, caps, err := h(req.Argument)
	return Reply{
		Exception:    obj.excTable.Lookup(err),
		Result:       result,
		Capabilities: caps,
		Err:          err,
	}
}

// Close stops the dispatch loop; calls in flight receive
// ErrEntrypointClosed.
func (ep *Entrypoint) Close() {
	ep.closeOnce.Do(func() {
		close(ep.done)
	})
}
