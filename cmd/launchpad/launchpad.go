// Package main implements launchpad, the parent half of §4.9 for a toy
// multi-child system: it reads a manifest, spawns one PD per child
// underneath its own root account, and routes each child's session
// requests to siblings or up to its own parent, the way
// repos/demo/include/launchpad/launchpad.h wraps Genode's Child_policy
// for a flat collection of children with no nested launchpads of its
// own.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/genodego/core/account"
	"github.com/genodego/core/corelog"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/manifest"
	"github.com/genodego/core/platform"
	"github.com/genodego/core/service"
	"github.com/genodego/core/session"
)

// ErrUnknownChild is returned when a route or sibling lookup names a
// child the launchpad never spawned.
var ErrUnknownChild = errors.New("launchpad: unknown child")

// launchChild is one spawned child: its own PD (and therefore its own
// RAM/cap accounts, charged against the launchpad's root account) plus
// the router it uses to resolve its own outgoing session requests.
type launchChild struct {
	spec     manifest.Child
	pd       *service.PD
	router   *session.Router
	provides map[string]bool
}

// Name implements session.Sibling.
func (c *launchChild) Name() string { return c.spec.Name }

// RequestSession implements session.Sibling: launchpad's toy children
// don't run their own service implementations, so serving a sibling's
// session request here just walks the session state machine to
// AVAILABLE against the requested child's own PD account, the same
// accounting a real service implementation would perform before
// handing back a session capability.
func (c *launchChild) RequestSession(ctx context.Context, serviceName, label, args, affinity string, ramQuota, capQuota uint64) (*session.Session, error) {
	if !c.provides[serviceName] {
		return nil, fmt.Errorf("launchpad: %s does not provide %s: %w", c.spec.Name, serviceName, session.ErrServiceDenied)
	}
	if err := c.pd.RAM.Withdraw(ramQuota); err != nil {
		return nil, err
	}
	if err := c.pd.Caps.Withdraw(capQuota); err != nil {
		c.pd.RAM.Replenish(ramQuota)
		return nil, err
	}
	s := session.New(serviceName, label, args, affinity, ramQuota, capQuota, false)
	if err := s.Ready(); err != nil {
		c.pd.RAM.Replenish(ramQuota)
		c.pd.Caps.Replenish(capQuota)
		return nil, err
	}
	return s, nil
}

// Account implements session.Sibling: the router's second donation leg
// transfers into this child's own RAM/cap accounts.
func (c *launchChild) Account() (ram, caps *account.Guard) { return c.pd.RAM, c.pd.Caps }

// childPolicy implements session.Policy from one child's manifest
// routes: each entry names either "parent" (forward to launchpad's own
// parent) or another child's name (route to that sibling).
type childPolicy struct {
	routes map[string]string
}

func newChildPolicy(routes []manifest.Route) childPolicy {
	m := make(map[string]string, len(routes))
	for _, r := range routes {
		m[r.ServiceName] = r.Target
	}
	return childPolicy{routes: m}
}

func (p childPolicy) Resolve(serviceName, label string) (session.Target, string, error) {
	target, ok := p.routes[serviceName]
	if !ok {
		return 0, "", session.ErrServiceDenied
	}
	if target == "parent" {
		return session.TargetForward, "", nil
	}
	return session.TargetSibling, target, nil
}

// Launchpad owns the root account a demo core instance would otherwise
// own, and spawns every manifest child as a PD underneath it.
type Launchpad struct {
	logger *corelog.Logger

	kern        kernelobj.Kernel
	rootPD      *service.PD
	rootRAM     *account.Guard
	rootCaps    *account.Guard
	targetClass platform.Class

	children map[string]*launchChild
	order    []string
}

// New constructs a Launchpad with its own simulated root account, sized
// ramLimit/capLimit.
func New(logger *corelog.Logger, ramLimit, capLimit uint64) (*Launchpad, error) {
	kern := kernelobj.NewFake(true)
	rootRAM := account.NewRamGuard(ramLimit)
	rootCaps := account.NewCapGuard(capLimit)
	rootPD, err := service.NewPD(kern, rootRAM, rootCaps)
	if err != nil {
		return nil, fmt.Errorf("launchpad: creating root PD: %w", err)
	}
	if err := account.Transfer(rootRAM, rootPD.RAM, ramLimit); err != nil {
		return nil, fmt.Errorf("launchpad: funding root PD RAM: %w", err)
	}
	if err := account.Transfer(rootCaps, rootPD.Caps, capLimit); err != nil {
		return nil, fmt.Errorf("launchpad: funding root PD caps: %w", err)
	}
	return &Launchpad{
		logger:      logger,
		kern:        kern,
		rootPD:      rootPD,
		rootRAM:     rootRAM,
		rootCaps:    rootCaps,
		targetClass: platform.Class64,
		children:    make(map[string]*launchChild),
	}, nil
}

// Session implements session.Parent for the top-level launchpad: when a
// child's policy says "parent", resolution comes here. A standalone
// launchpad has no further ancestor, so the only service it can itself
// satisfy is the degenerate case of a child asking for a service another
// child already provides but that its own routes didn't name; anything
// else is denied, exercising the forward path's failure branch.
func (l *Launchpad) Session(ctx context.Context, serviceName, args, affinity string, ramQuota, capQuota uint64) (*session.Session, error) {
	for _, name := range l.order {
		c := l.children[name]
		if c.provides[serviceName] {
			return c.RequestSession(ctx, serviceName, "", args, affinity, ramQuota, capQuota)
		}
	}
	return nil, session.ErrServiceDenied
}

func (l *Launchpad) Upgrade(ctx context.Context, sessionID string, ramQuota, capQuota uint64) error {
	return nil
}
func (l *Launchpad) Close(ctx context.Context, sessionID string) error { return nil }
func (l *Launchpad) AnnounceService(serviceName string) error          { return nil }
func (l *Launchpad) ResourceRequest(ctx context.Context, ramQuota, capQuota uint64) error {
	// The launchpad's root account is fixed-size in this demo; a real
	// core instance would grow the machine's RAM pool here instead.
	return nil
}
func (l *Launchpad) Exit(value int) error { return nil }

// spawn reads c's ROM module from disk, validates it as an ELF image
// (§6.2), creates its PD underneath the root account, and transfers its
// manifest-declared quota.
func (l *Launchpad) spawn(c manifest.Child) (*launchChild, error) {
	content, err := os.ReadFile(c.ROMModule)
	if err != nil {
		return nil, fmt.Errorf("launchpad: reading %s: %w", c.ROMModule, err)
	}
	img, err := platform.ParseImage(content)
	if err != nil {
		return nil, fmt.Errorf("launchpad: parsing %s: %w", c.ROMModule, err)
	}
	if err := platform.Validate(img, l.targetClass); err != nil {
		return nil, fmt.Errorf("launchpad: %s: %w", c.Name, err)
	}
	l.logger.Infof("%s: elf entry=0x%x segments=%d", c.Name, img.Entry, len(img.Segments))

	pd, err := service.NewPD(l.kern, l.rootRAM, l.rootCaps)
	if err != nil {
		return nil, fmt.Errorf("launchpad: creating PD for %s: %w", c.Name, err)
	}
	if err := l.rootPD.TransferQuota(pd, true, c.RAMQuota); err != nil {
		return nil, fmt.Errorf("launchpad: transferring RAM quota to %s: %w", c.Name, err)
	}
	if err := l.rootPD.TransferQuota(pd, false, c.CapQuota); err != nil {
		return nil, fmt.Errorf("launchpad: transferring cap quota to %s: %w", c.Name, err)
	}

	provides := make(map[string]bool, len(c.Provides))
	for _, p := range c.Provides {
		provides[p] = true
	}
	return &launchChild{spec: c, pd: pd, provides: provides}, nil
}

// Start spawns every child in m and wires each one's router against its
// siblings and against the launchpad itself as parent.
func (l *Launchpad) Start(m *manifest.Manifest) error {
	for _, c := range m.Children {
		if _, exists := l.children[c.Name]; exists {
			return fmt.Errorf("launchpad: duplicate child %q", c.Name)
		}
		lc, err := l.spawn(c)
		if err != nil {
			return err
		}
		l.children[c.Name] = lc
		l.order = append(l.order, c.Name)
	}

	for _, name := range l.order {
		c := l.children[name]
		c.router = session.NewRouter(newChildPolicy(c.spec.Routes), c.pd.RAM, c.pd.Caps)
		c.router.SetParent(l)
		for _, sibName := range l.order {
			if sibName == name {
				continue
			}
			c.router.AddSibling(l.children[sibName])
		}
	}
	return nil
}

// RouteSession asks childName's own router to resolve a session request
// for serviceName, exercising the sibling/forward paths end to end.
func (l *Launchpad) RouteSession(ctx context.Context, childName, serviceName, label, args, affinity string, ramQuota, capQuota uint64) (*session.Session, error) {
	c, ok := l.children[childName]
	if !ok {
		return nil, ErrUnknownChild
	}
	return c.router.Session(ctx, serviceName, label, args, affinity, ramQuota, capQuota)
}

// Child reports the spawned PD for name, for quota inspection.
func (l *Launchpad) Child(name string) (*service.PD, bool) {
	c, ok := l.children[name]
	if !ok {
		return nil, false
	}
	return c.pd, true
}

// ExitChild tears down name's PD, matching launchpad.h's exit_child.
func (l *Launchpad) ExitChild(name string) error {
	c, ok := l.children[name]
	if !ok {
		return ErrUnknownChild
	}
	if err := c.pd.Destroy(); err != nil {
		return err
	}
	delete(l.children, name)
	for i, n := range l.order {
		if n == name {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}
