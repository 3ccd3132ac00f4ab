package session

import "github.com/genodego/core/capability"

// capabilityStub manufactures a throwaway capability for tests that only
// care about a session's state transitions, not what the capability
// actually refers to.
type capabilityStub struct{}

func (capabilityStub) cap() capability.Capability {
	sp := capability.NewSpace()
	c, _ := sp.Manufacture("session", 1)
	return c
}
