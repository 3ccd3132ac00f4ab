package session

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by IDSpace.Remove/Lookup when id is absent.
var ErrNotFound = errors.New("session: id not present in id-space")

// IDSpace is the per-component registry described in §3.2: a session
// exists in exactly two id-spaces (its client's and its server's)
// between CREATE_REQUESTED and CLOSED. One IDSpace instance is used for
// the client side and a separate one for the server side of any
// component that routes sessions.
type IDSpace struct {
	mtx sync.Mutex
	byID map[uint64]*Session
	next uint64
}

// NewIDSpace creates an empty id-space.
func NewIDSpace() *IDSpace {
	return &IDSpace{byID: make(map[uint64]*Session)}
}

// Insert allocates the next id in this space for s and returns it.
func (sp *IDSpace) Insert(s *Session) uint64 {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	sp.next++
	id := sp.next
	sp.byID[id] = s
	return id
}

// Remove drops id from the space.
func (sp *IDSpace) Remove(id uint64) error {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	if _, ok := sp.byID[id]; !ok {
		return ErrNotFound
	}
	delete(sp.byID, id)
	return nil
}

// Lookup resolves id to its session.
func (sp *IDSpace) Lookup(id uint64) (*Session, error) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	s, ok := sp.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of sessions currently tracked.
func (sp *IDSpace) Len() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	return len(sp.byID)
}

// Each calls fn for every session currently tracked, in unspecified
// order.
func (sp *IDSpace) Each(fn func(id uint64, s *Session)) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	for id, s := range sp.byID {
		fn(id, s)
	}
}
