package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHappyPathTransitions(t *testing.T) {
	s := New("ROM", "child -> config", "", "", 4096, 4, false)
	require.Equal(t, CreateRequested, s.State())

	require.NoError(t, s.Ready())
	require.Equal(t, Available, s.State())

	var c capabilityStub
	require.NoError(t, s.HandOutCap(c.cap()))
	require.Equal(t, CapHandedOut, s.State())

	require.NoError(t, s.RequestUpgrade(8192, 8))
	require.Equal(t, UpgradeRequested, s.State())
	require.NoError(t, s.ConfirmUpgrade(8192, 8))
	require.Equal(t, CapHandedOut, s.State())
	require.EqualValues(t, 8192, s.RAMQuota)

	require.NoError(t, s.RequestClose())
	require.Equal(t, CloseRequested, s.State())
	require.NoError(t, s.ConfirmClose())
	require.Equal(t, Closed, s.State())
	require.True(t, s.Terminal())
}

func TestDenialPaths(t *testing.T) {
	s := New("ROM", "x", "", "", 0, 0, false)
	require.NoError(t, s.DenyInsufficientRAM())
	require.Equal(t, InsufficientRAMQuota, s.State())
	require.True(t, s.Terminal())

	s2 := New("ROM", "x", "", "", 0, 0, false)
	require.NoError(t, s2.Deny())
	require.Equal(t, ServiceDenied, s2.State())
}

func TestInvalidTransitionRejected(t *testing.T) {
	s := New("ROM", "x", "", "", 0, 0, false)
	require.ErrorIs(t, s.RequestClose(), ErrInvalidTransition)
}

func TestTransitionCallbacksObserveEveryHop(t *testing.T) {
	s := New("ROM", "x", "", "", 0, 0, false)
	var seen []string
	s.OnTransition(func(s *Session, from, to State) {
		seen = append(seen, from.String()+"->"+to.String())
	})
	require.NoError(t, s.Ready())
	var c capabilityStub
	require.NoError(t, s.HandOutCap(c.cap()))
	require.Equal(t, []string{"CREATE_REQUESTED->AVAILABLE", "AVAILABLE->CAP_HANDED_OUT"}, seen)
}

func TestQuotaIsMonotonicallyNonDecreasing(t *testing.T) {
	s := New("ROM", "x", "", "", 100, 1, false)
	require.NoError(t, s.Ready())
	var c capabilityStub
	require.NoError(t, s.HandOutCap(c.cap()))
	require.NoError(t, s.RequestUpgrade(50, 0)) // lower than current; ConfirmUpgrade must not shrink it
	require.NoError(t, s.ConfirmUpgrade(50, 0))
	require.EqualValues(t, 100, s.RAMQuota)
}
