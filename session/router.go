package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/genodego/core/account"
)

var (
	// ErrServiceDenied mirrors the SERVICE_DENIED terminal state: no
	// route exists for the requested service name.
	ErrServiceDenied = errors.New("session: service denied")
	// ErrOutOfRAM and ErrOutOfCaps surface a failed quota withdrawal
	// during routing, driving the client toward resource_request+retry.
	ErrOutOfRAM  = account.ErrOutOfRam
	ErrOutOfCaps = account.ErrOutOfCaps
)

// Target is where a Router resolves a session request to, per §4.9 step 3.
type Target int

const (
	// TargetLocal means the component itself provides the service.
	TargetLocal Target = iota
	// TargetSibling means another child of the same parent provides it.
	TargetSibling
	// TargetForward means the request is passed up to this component's
	// own parent.
	TargetForward
)

// LocalHandler creates a session for a locally announced service.
type LocalHandler func(label, args, affinity string) error

// Policy resolves a (serviceName, label) pair to a routing target,
// external to the mechanism the router itself implements (§4.9: "the
// policy itself is external to the core specified here; the core
// specifies the mechanism of routing").
type Policy interface {
	Resolve(serviceName, label string) (Target, string, error) // string is sibling name for TargetSibling
}

// Sibling is the router's view of another child it can forward a
// session request to.
type Sibling interface {
	Name() string
	RequestSession(ctx context.Context, serviceName, label, args, affinity string, ramQuota, capQuota uint64) (*Session, error)
	// Account returns the sibling's own RAM and cap accounts, the second
	// leg's transfer target for §4.9 step 4.
	Account() (ram, caps *account.Guard)
}

// Parent is the router's view of the component's own parent RPC
// endpoint, per §4.9's parent protocol.
type Parent interface {
	Session(ctx context.Context, serviceName, args, affinity string, ramQuota, capQuota uint64) (*Session, error)
	Upgrade(ctx context.Context, sessionID string, ramQuota, capQuota uint64) error
	Close(ctx context.Context, sessionID string) error
	AnnounceService(serviceName string) error
	ResourceRequest(ctx context.Context, ramQuota, capQuota uint64) error
	Exit(value int) error
}

// Router implements the parent-side session mechanism described in
// §4.9: every component that hosts children runs the same routing code,
// differing only in the Policy it is configured with.
type Router struct {
	policy   Policy
	local    map[string]LocalHandler
	siblings map[string]Sibling
	parent   Parent

	routerRAM  *account.Guard // the router's own RAM account; quota transits through it
	routerCaps *account.Guard // the router's own cap account; quota transits through it

	clientIDs *IDSpace
	serverIDs *IDSpace

	group singleflight.Group
}

// NewRouter constructs a Router that resolves requests with policy,
// donating quota through routerRAM/routerCaps en route to whichever
// server account is designated for a given session.
func NewRouter(policy Policy, routerRAM, routerCaps *account.Guard) *Router {
	return &Router{
		policy:     policy,
		local:      make(map[string]LocalHandler),
		siblings:   make(map[string]Sibling),
		parent:     nil,
		routerRAM:  routerRAM,
		routerCaps: routerCaps,
		clientIDs:  NewIDSpace(),
		serverIDs:  NewIDSpace(),
	}
}

// SetParent installs the component's own parent endpoint, enabling
// TargetForward resolution.
func (r *Router) SetParent(p Parent) { r.parent = p }

// AnnounceLocal registers a locally implemented service, per the parent
// protocol's announce_service.
func (r *Router) AnnounceLocal(serviceName string, h LocalHandler) {
	r.local[serviceName] = h
}

// AddSibling registers another child this router may forward sibling
// session requests to.
func (r *Router) AddSibling(s Sibling) {
	r.siblings[s.Name()] = s
}

// Session implements parent protocol's session() operation (§4.9 steps
// 1-5): resolve the client's label via policy, withdraw quota from
// routerPD, place the session in both id-spaces, and dispatch to the
// resolved target. Concurrent identical requests (same serviceName,
// label, args) are coalesced via singleflight so a retry storm from one
// client doesn't fan out duplicate sibling/forward calls.
func (r *Router) Session(ctx context.Context, serviceName, label, args, affinity string, ramQuota, capQuota uint64) (*Session, error) {
	key := fmt.Sprintf("%s|%s|%s", serviceName, label, args)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.session(ctx, serviceName, label, args, affinity, ramQuota, capQuota)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Router) session(ctx context.Context, serviceName, label, args, affinity string, ramQuota, capQuota uint64) (*Session, error) {
	target, siblingName, err := r.policy.Resolve(serviceName, label)
	if err != nil {
		return nil, ErrServiceDenied
	}

	s := New(serviceName, label, args, affinity, ramQuota, capQuota, false)
	clientID := r.clientIDs.Insert(s)
	s.ClientIDSpaceID = clientID
	serverID := r.serverIDs.Insert(s)
	s.ServerIDSpaceID = serverID

	ramRes, rerr := r.routerRAM.Reserve(ramQuota)
	if rerr != nil {
		_ = s.DenyInsufficientRAM()
		r.unwind(s)
		return nil, rerr
	}
	defer ramRes.Release()

	capRes, cerr := r.routerCaps.Reserve(capQuota)
	if cerr != nil {
		_ = s.DenyInsufficientCaps()
		r.unwind(s)
		return nil, cerr
	}
	defer capRes.Release()

	switch target {
	case TargetLocal:
		h, ok := r.local[serviceName]
		if !ok {
			_ = s.Deny()
			r.unwind(s)
			return nil, ErrServiceDenied
		}
		if err := h(label, args, affinity); err != nil {
			_ = s.Deny()
			r.unwind(s)
			return nil, err
		}
	case TargetSibling:
		sib, ok := r.siblings[siblingName]
		if !ok {
			_ = s.Deny()
			r.unwind(s)
			return nil, ErrServiceDenied
		}
		// §4.9 step 4: the donated quota is transferred to the router's
		// PD first (the reservations above), then on to the server's PD,
		// before the server is asked to actually create the session.
		serverRAM, serverCaps := sib.Account()
		if err := account.Transfer(r.routerRAM, serverRAM, ramQuota); err != nil {
			_ = s.DenyInsufficientRAM()
			r.unwind(s)
			return nil, err
		}
		if err := account.Transfer(r.routerCaps, serverCaps, capQuota); err != nil {
			_ = account.Transfer(serverRAM, r.routerRAM, ramQuota)
			_ = s.DenyInsufficientCaps()
			r.unwind(s)
			return nil, err
		}
		if _, err := sib.RequestSession(ctx, serviceName, label, args, affinity, ramQuota, capQuota); err != nil {
			_ = account.Transfer(serverRAM, r.routerRAM, ramQuota)
			_ = account.Transfer(serverCaps, r.routerCaps, capQuota)
			_ = s.Deny()
			r.unwind(s)
			return nil, err
		}
	case TargetForward:
		if r.parent == nil {
			_ = s.Deny()
			r.unwind(s)
			return nil, ErrServiceDenied
		}
		// The server's PD lives beyond this component's boundary; the
		// quota transferred into routerRAM/routerCaps above travels with
		// the forwarded call, and the parent's own router completes the
		// second leg against whatever account it resolves to.
		if _, err := r.parent.Session(ctx, serviceName, args, affinity, ramQuota, capQuota); err != nil {
			_ = s.Deny()
			r.unwind(s)
			return nil, err
		}
	}

	capRes.Acknowledge()
	ramRes.Acknowledge()
	if err := s.Ready(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Router) unwind(s *Session) {
	_ = r.clientIDs.Remove(s.ClientIDSpaceID)
	_ = r.serverIDs.Remove(s.ServerIDSpaceID)
}

// Close implements the parent protocol's close() operation.
func (r *Router) Close(s *Session) error {
	if err := s.RequestClose(); err != nil {
		return err
	}
	if err := s.ConfirmClose(); err != nil {
		return err
	}
	r.routerRAM.Replenish(s.RAMQuota)
	r.routerCaps.Replenish(s.CapQuota)
	r.unwind(s)
	return nil
}

// RetryPolicy controls the client-side backoff of §4.9: on
// OUT_OF_RAM/OUT_OF_CAPS, the client asks its parent for more quota via
// resource_request and retries, up to MaxAttempts times (>=2).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches §4.9's "N>=2" floor with a modest base
// backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
}

// CallWithRetry runs attempt, and on ErrOutOfRAM/ErrOutOfCaps asks
// parent for more of the corresponding quota via ResourceRequest before
// retrying, waiting BaseDelay*2^i between attempts (the "fallback
// resource-available handler" of §4.9 is parent.ResourceRequest, which
// this helper blocks on synchronously rather than via a signal, since
// Parent.ResourceRequest already blocks until answered).
func CallWithRetry(ctx context.Context, parent Parent, p RetryPolicy, ramQuota, capQuota uint64, attempt func() (*Session, error)) (*Session, error) {
	if p.MaxAttempts < 2 {
		p.MaxAttempts = 2
	}
	var lastErr error
	for i := 0; i < p.MaxAttempts; i++ {
		s, err := attempt()
		if err == nil {
			return s, nil
		}
		lastErr = err
		if !errors.Is(err, ErrOutOfRAM) && !errors.Is(err, ErrOutOfCaps) {
			return nil, err
		}
		if parent != nil {
			_ = parent.ResourceRequest(ctx, ramQuota, capQuota)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.BaseDelay << i):
		}
	}
	return nil, lastErr
}
