package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/account"
)

type staticPolicy struct {
	target  Target
	sibling string
	err     error
}

func (p staticPolicy) Resolve(serviceName, label string) (Target, string, error) {
	return p.target, p.sibling, p.err
}

func TestRouterLocalService(t *testing.T) {
	root := account.NewRamGuard(1 << 20)
	rootCaps := account.NewCapGuard(1 << 10)
	r := NewRouter(staticPolicy{target: TargetLocal}, root, rootCaps)

	var called bool
	r.AnnounceLocal("ROM", func(label, args, affinity string) error {
		called = true
		return nil
	})

	s, err := r.Session(context.Background(), "ROM", "child -> config", "", "", 4096, 1)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, Available, s.State())
}

func TestRouterUnknownLocalServiceDenied(t *testing.T) {
	root := account.NewRamGuard(1 << 20)
	rootCaps := account.NewCapGuard(1 << 10)
	r := NewRouter(staticPolicy{target: TargetLocal}, root, rootCaps)

	_, err := r.Session(context.Background(), "ROM", "x", "", "", 100, 1)
	require.ErrorIs(t, err, ErrServiceDenied)
}

type fakeSibling struct {
	name string
	err  error
	ram  *account.Guard
	caps *account.Guard
}

func (f fakeSibling) Name() string { return f.name }
func (f fakeSibling) RequestSession(ctx context.Context, serviceName, label, args, affinity string, ramQuota, capQuota uint64) (*Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return New(serviceName, label, args, affinity, ramQuota, capQuota, false), nil
}
func (f fakeSibling) Account() (ram, caps *account.Guard) { return f.ram, f.caps }

func TestRouterForwardsToSibling(t *testing.T) {
	root := account.NewRamGuard(1 << 20)
	rootCaps := account.NewCapGuard(1 << 10)
	r := NewRouter(staticPolicy{target: TargetSibling, sibling: "logger"}, root, rootCaps)
	sibRAM := root.NewChild()
	sibCaps := rootCaps.NewChild()
	r.AddSibling(fakeSibling{name: "logger", ram: sibRAM, caps: sibCaps})

	s, err := r.Session(context.Background(), "LOG", "x", "", "", 4096, 1)
	require.NoError(t, err)
	require.Equal(t, Available, s.State())
	require.EqualValues(t, 4096, sibRAM.Limit())
	require.EqualValues(t, 1, sibCaps.Limit())
}

func TestRouterOutOfRAMDeniesCreation(t *testing.T) {
	root := account.NewRamGuard(100)
	rootCaps := account.NewCapGuard(1 << 10)
	r := NewRouter(staticPolicy{target: TargetLocal}, root, rootCaps)
	r.AnnounceLocal("ROM", func(label, args, affinity string) error { return nil })

	_, err := r.Session(context.Background(), "ROM", "x", "", "", 1000, 1)
	require.ErrorIs(t, err, ErrOutOfRAM)
}

func TestRouterOutOfCapsDeniesCreation(t *testing.T) {
	root := account.NewRamGuard(1 << 20)
	rootCaps := account.NewCapGuard(1)
	r := NewRouter(staticPolicy{target: TargetLocal}, root, rootCaps)
	r.AnnounceLocal("ROM", func(label, args, affinity string) error { return nil })

	_, err := r.Session(context.Background(), "ROM", "x", "", "", 100, 4)
	require.ErrorIs(t, err, ErrOutOfCaps)
}

func TestCallWithRetrySucceedsAfterResourceRequest(t *testing.T) {
	root := account.NewRamGuard(100)
	rootCaps := account.NewCapGuard(1 << 10)
	r := NewRouter(staticPolicy{target: TargetLocal}, root, rootCaps)
	r.AnnounceLocal("ROM", func(label, args, affinity string) error { return nil })

	attempts := 0
	parent := &countingParent{onResourceRequest: func() {
		require.NoError(t, account.Transfer(account.NewRamGuard(1<<20), root, 10000))
	}}

	policy := RetryPolicy{MaxAttempts: 3}
	s, err := CallWithRetry(context.Background(), parent, policy, 10000, 10, func() (*Session, error) {
		attempts++
		return r.Session(context.Background(), "ROM", "x", "", "", 10000, 1)
	})
	require.NoError(t, err)
	require.Equal(t, Available, s.State())
	require.Equal(t, 2, attempts)
}

type countingParent struct {
	onResourceRequest func()
}

func (p *countingParent) Session(ctx context.Context, serviceName, args, affinity string, ramQuota, capQuota uint64) (*Session, error) {
	return nil, nil
}
func (p *countingParent) Upgrade(ctx context.Context, sessionID string, ramQuota, capQuota uint64) error {
	return nil
}
func (p *countingParent) Close(ctx context.Context, sessionID string) error { return nil }
func (p *countingParent) AnnounceService(serviceName string) error         { return nil }
func (p *countingParent) ResourceRequest(ctx context.Context, ramQuota, capQuota uint64) error {
	if p.onResourceRequest != nil {
		p.onResourceRequest()
	}
	return nil
}
func (p *countingParent) Exit(value int) error { return nil }
