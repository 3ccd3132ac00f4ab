package rpc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/capability"
)

func newSel(t *testing.T) capability.Selector {
	t.Helper()
	sp := capability.NewSpace()
	c, err := sp.Manufacture("obj", 1)
	require.NoError(t, err)
	return c.Selector()
}

func TestCallDispatchesToHandler(t *testing.T) {
	ep := New(4)
	defer ep.Close()

	sel := newSel(t)
	ep.Register(sel, nil)
	require.NoError(t, ep.Bind(sel, 1, func(arg []byte) ([]byte, []capability.Capability, error) {
		return append([]byte("echo:"), arg...), nil, nil
	}))

	r := ep.Call(1, sel, []byte("hi"))
	require.NoError(t, r.Err)
	require.Equal(t, "echo:hi", string(r.Result))
	require.Equal(t, OK, r.Exception)
}

func TestCallUnknownCapability(t *testing.T) {
	ep := New(4)
	defer ep.Close()

	r := ep.Call(1, 999, nil)
	require.ErrorIs(t, r.Err, ErrUnknownCapability)
}

func TestCallUnboundOpcode(t *testing.T) {
	ep := New(4)
	defer ep.Close()

	sel := newSel(t)
	ep.Register(sel, nil)
	r := ep.Call(7, sel, nil)
	require.ErrorIs(t, r.Err, ErrNoHandler)
}

var errDenied = errors.New("denied")

func TestExceptionTableMapsHandlerError(t *testing.T) {
	ep := New(4)
	defer ep.Close()

	sel := newSel(t)
	ep.Register(sel, ExceptionTable{errDenied: 42})
	require.NoError(t, ep.Bind(sel, 1, func(arg []byte) ([]byte, []capability.Capability, error) {
		return nil, nil, errDenied
	}))

	r := ep.Call(1, sel, nil)
	require.Equal(t, ExceptionCode(42), r.Exception)
}

func TestCallsToSameObjectAreSerialized(t *testing.T) {
	ep := New(4)
	defer ep.Close()

	sel := newSel(t)
	ep.Register(sel, nil)

	var active int32
	var raced bool
	require.NoError(t, ep.Bind(sel, 1, func(arg []byte) ([]byte, []capability.Capability, error) {
		if active != 0 {
			raced = true
		}
		active++
		time.Sleep(2 * time.Millisecond)
		active--
		return nil, nil, nil
	}))

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			ep.Call(1, sel, nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	require.False(t, raced)
}

func TestCloseUnblocksPendingCalls(t *testing.T) {
	ep := New(0)
	sel := newSel(t)
	ep.Register(sel, nil)

	ep.Close()
	r := ep.Call(1, sel, nil)
	require.ErrorIs(t, r.Err, ErrEntrypointClosed)
}
