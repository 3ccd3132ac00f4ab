// Package session implements the session state machine, id-spaces, and
// parent/child session router of §3.2/§4.9/§4.10.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/genodego/core/capability"
)

// State is one phase of a session's lifecycle.
type State int

const (
	CreateRequested State = iota
	Available
	CapHandedOut
	UpgradeRequested
	CloseRequested
	Closed
	ServiceDenied
	InsufficientRAMQuota
	InsufficientCapQuota
)

func (s State) String() string {
	switch s {
	case CreateRequested:
		return "CREATE_REQUESTED"
	case Available:
		return "AVAILABLE"
	case CapHandedOut:
		return "CAP_HANDED_OUT"
	case UpgradeRequested:
		return "UPGRADE_REQUESTED"
	case CloseRequested:
		return "CLOSE_REQUESTED"
	case Closed:
		return "CLOSED"
	case ServiceDenied:
		return "SERVICE_DENIED"
	case InsufficientRAMQuota:
		return "INSUFFICIENT_RAM_QUOTA"
	case InsufficientCapQuota:
		return "INSUFFICIENT_CAP_QUOTA"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool {
	switch s {
	case Closed, ServiceDenied, InsufficientRAMQuota, InsufficientCapQuota:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidTransition is returned when a caller attempts a state
	// change the machine in §4.10 does not permit from the current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")
)

// Callback is invoked on every observed transition, per §4.10's "all
// transitions are observable through optional callbacks".
type Callback func(s *Session, from, to State)

// Session is the stateful client/server relationship of §3.2.
type Session struct {
	mtx sync.Mutex

	ID          string
	ServiceName string
	Label       string
	Args        string
	Affinity    string

	RAMQuota uint64
	CapQuota uint64

	ClientIDSpaceID uint64
	ServerIDSpaceID uint64

	Cap capability.Capability

	state   State
	async   bool
	onTrans []Callback
}

// New creates a session in CREATE_REQUESTED for serviceName/label/args,
// with a freshly generated id.
func New(serviceName, label, args, affinity string, ramQuota, capQuota uint64, async bool) *Session {
	return &Session{
		ID:          uuid.NewString(),
		ServiceName: serviceName,
		Label:       label,
		Args:        args,
		Affinity:    affinity,
		RAMQuota:    ramQuota,
		CapQuota:    capQuota,
		state:       CreateRequested,
		async:       async,
	}
}

// OnTransition registers cb to be called on every future transition.
func (s *Session) OnTransition(cb Callback) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.onTrans = append(s.onTrans, cb)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// Async reports whether the server answers this session's requests
// asynchronously, per §4.10's async_client_notify flag.
func (s *Session) Async() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.async
}

func (s *Session) transition(to State, allowed ...State) error {
	s.mtx.Lock()
	from := s.state
	ok := false
	for _, a := range allowed {
		if from == a {
			ok = true
			break
		}
	}
	if !ok {
		s.mtx.Unlock()
		return ErrInvalidTransition
	}
	s.state = to
	cbs := append([]Callback(nil), s.onTrans...)
	s.mtx.Unlock()

	for _, cb := range cbs {
		cb(s, from, to)
	}
	return nil
}

// Ready transitions CREATE_REQUESTED -> AVAILABLE on the server's
// session_ready callback.
func (s *Session) Ready() error {
	return s.transition(Available, CreateRequested)
}

// Deny transitions CREATE_REQUESTED -> SERVICE_DENIED.
func (s *Session) Deny() error {
	return s.transition(ServiceDenied, CreateRequested)
}

// DenyInsufficientRAM transitions CREATE_REQUESTED -> INSUFFICIENT_RAM_QUOTA.
func (s *Session) DenyInsufficientRAM() error {
	return s.transition(InsufficientRAMQuota, CreateRequested)
}

// DenyInsufficientCaps transitions CREATE_REQUESTED -> INSUFFICIENT_CAP_QUOTA.
func (s *Session) DenyInsufficientCaps() error {
	return s.transition(InsufficientCapQuota, CreateRequested)
}

// HandOutCap transitions AVAILABLE -> CAP_HANDED_OUT when the client
// retrieves the session capability, recording it on the session.
func (s *Session) HandOutCap(c capability.Capability) error {
	if err := s.transition(CapHandedOut, Available); err != nil {
		return err
	}
	s.mtx.Lock()
	s.Cap = c
	s.mtx.Unlock()
	return nil
}

// RequestUpgrade transitions CAP_HANDED_OUT -> UPGRADE_REQUESTED.
func (s *Session) RequestUpgrade(ramQuota, capQuota uint64) error {
	if err := s.transition(UpgradeRequested, CapHandedOut); err != nil {
		return err
	}
	return nil
}

// ConfirmUpgrade transitions UPGRADE_REQUESTED -> CAP_HANDED_OUT, raising
// the session's donated quotas; quotas are monotonically non-decreasing
// per §3.2.
func (s *Session) ConfirmUpgrade(ramQuota, capQuota uint64) error {
	if err := s.transition(CapHandedOut, UpgradeRequested); err != nil {
		return err
	}
	s.mtx.Lock()
	if ramQuota > s.RAMQuota {
		s.RAMQuota = ramQuota
	}
	if capQuota > s.CapQuota {
		s.CapQuota = capQuota
	}
	s.mtx.Unlock()
	return nil
}

// RequestClose transitions CAP_HANDED_OUT -> CLOSE_REQUESTED.
func (s *Session) RequestClose() error {
	return s.transition(CloseRequested, CapHandedOut)
}

// ConfirmClose transitions CLOSE_REQUESTED -> CLOSED.
func (s *Session) ConfirmClose() error {
	return s.transition(Closed, CloseRequested)
}

// Terminal reports whether the session has reached a state with no
// further transitions.
func (s *Session) Terminal() bool {
	return s.State().terminal()
}
