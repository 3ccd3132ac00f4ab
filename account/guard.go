// Package account implements the quota-guarded RAM and capability accounts
// of §3.3/§4.3: every PD holds a Ram_quota_guard and a Cap_quota_guard, each
// tracking a limit and a used value charged against a reference account.
package account

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutOfRam is returned by a RamGuard when a withdrawal would push
	// used above limit.
	ErrOutOfRam = errors.New("account: out of ram")
	// ErrOutOfCaps is returned by a CapGuard when a withdrawal would push
	// used above limit.
	ErrOutOfCaps = errors.New("account: out of caps")
	// ErrTransferExceedsLimit is returned by Transfer when the donor does
	// not have enough unused limit to give away.
	ErrTransferExceedsLimit = errors.New("account: transfer exceeds donor limit")
	// ErrNotAcknowledged names the case of a Reservation dropped without
	// a call to Acknowledge or Cancel. No function in this package
	// returns it: Release performs the rollback for that case instead.
	ErrNotAcknowledged = errors.New("account: reservation dropped unacknowledged")
)

// every identity is a monotonically increasing sequence number used to fix
// the lock order between two guards involved in a Transfer, per §4.3 and
// §5: "donor first, recipient second, by account identity" precludes
// deadlock between concurrent opposite-direction transfers.
var identitySeq uint64

func nextIdentity() uint64 {
	return atomic.AddUint64(&identitySeq, 1)
}

// kind distinguishes the two account flavors so error values and callers
// can tell them apart without a type switch; account.Guard is otherwise
// identical code for both.
type kind int

const (
	kindRam kind = iota
	kindCaps
)

// Guard is a quota account: a limit, a used value, and a reference
// account it charges transfers to. RamGuard and CapGuard are both backed
// by Guard; see the constructors below.
type Guard struct {
	kind kind
	id   uint64

	mtx   sync.Mutex
	limit uint64
	used  uint64
	ref   *Guard
}

func newGuard(k kind, limit uint64, ref *Guard) *Guard {
	return &Guard{kind: k, id: nextIdentity(), limit: limit, ref: ref}
}

// NewRamGuard creates a root RAM account with no reference account. Only
// core's root account should be constructed this way; every other PD's
// account is created via Guard.NewChild so quota has somewhere to flow
// back to.
func NewRamGuard(limit uint64) *Guard { return newGuard(kindRam, limit, nil) }

// NewCapGuard creates a root capability account with no reference
// account.
func NewCapGuard(limit uint64) *Guard { return newGuard(kindCaps, limit, nil) }

// NewChild creates a guard of the same kind as g, charged to g as its
// reference account, starting with zero limit (the parent must Transfer
// quota into it before it can withdraw anything).
func (g *Guard) NewChild() *Guard {
	return newGuard(g.kind, 0, g)
}

func (g *Guard) errOutOf() error {
	if g.kind == kindRam {
		return ErrOutOfRam
	}
	return ErrOutOfCaps
}

// Limit returns the account's current limit.
func (g *Guard) Limit() uint64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.limit
}

// Used returns the account's current used value.
func (g *Guard) Used() uint64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.used
}

// Avail returns limit - used.
func (g *Guard) Avail() uint64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.limit - g.used
}

// Withdraw charges n against the account. It is all-or-nothing: on
// failure used is left exactly as it was.
func (g *Guard) Withdraw(n uint64) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.used+n > g.limit {
		return g.errOutOf()
	}
	g.used += n
	return nil
}

// Replenish lowers used by n, floored at zero (a bug in the caller that
// over-replenishes should not be able to drive used negative and wrap).
func (g *Guard) Replenish(n uint64) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if n > g.used {
		g.used = 0
		return
	}
	g.used -= n
}

// Transfer atomically moves n of limit from donor to recipient, charging
// both limits and leaving both used values untouched (§3.3). The two
// guards are locked in a fixed order by identity so that a concurrent
// transfer in the opposite direction cannot deadlock against this one.
func Transfer(donor, recipient *Guard, n uint64) error {
	first, second := donor, recipient
	if second.id < first.id {
		first, second = second, first
	}
	first.mtx.Lock()
	defer first.mtx.Unlock()
	if second != first {
		second.mtx.Lock()
		defer second.mtx.Unlock()
	}

	if n > donor.limit-donor.used {
		return ErrTransferExceedsLimit
	}
	donor.limit -= n
	recipient.limit += n
	return nil
}

// UpgradeFrom moves n of quota from other into g (other is g's donor for
// this call); it is sugar over Transfer(other, g, n).
func (g *Guard) UpgradeFrom(other *Guard, n uint64) error {
	return Transfer(other, g, n)
}

// DowngradeTo moves n of quota from g back into other; sugar over
// Transfer(g, other, n).
func (g *Guard) DowngradeTo(other *Guard, n uint64) error {
	return Transfer(g, other, n)
}

// Reservation is a pre-committed withdrawal that must be explicitly
// Acknowledged or Cancelled. If it is dropped via Release without either,
// it replenishes automatically — the RAII-guard idiom of §9, since Go has
// no destructors: callers are expected to `defer r.Release()` immediately
// after Reserve succeeds.
type Reservation struct {
	g    *Guard
	n    uint64
	done bool
}

// Reserve withdraws n from g and returns a Reservation that must be
// Acknowledged, Cancelled, or Released.
func (g *Guard) Reserve(n uint64) (*Reservation, error) {
	if err := g.Withdraw(n); err != nil {
		return nil, err
	}
	return &Reservation{g: g, n: n}, nil
}

// Acknowledge finalizes the reservation: the withdrawal stands.
func (r *Reservation) Acknowledge() {
	r.done = true
}

// Cancel replenishes the reservation's withdrawal immediately.
func (r *Reservation) Cancel() {
	if r.done {
		return
	}
	r.g.Replenish(r.n)
	r.done = true
}

// Release is the deferred-drop path: if the reservation was neither
// Acknowledged nor Cancelled, it replenishes now, matching §4.3's
// "replenishes automatically" contract for an unacknowledged reservation
// going out of scope.
func (r *Reservation) Release() {
	if !r.done {
		r.g.Replenish(r.n)
		r.done = true
	}
}
