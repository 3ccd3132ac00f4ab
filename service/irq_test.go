package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/sigkernel"
)

func TestIRQRequestTwiceFails(t *testing.T) {
	kern := kernelobj.NewFake(true)
	irq := NewIRQ(kern)

	_, err := irq.Request(9, kernelobj.TriggerEdge, kernelobj.PolarityHigh)
	require.NoError(t, err)
	_, err = irq.Request(9, kernelobj.TriggerEdge, kernelobj.PolarityHigh)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestIRQDispatchesSignalOnLatch(t *testing.T) {
	kern := kernelobj.NewFake(true)
	irq := NewIRQ(kern)

	sess, err := irq.Request(5, kernelobj.TriggerLevel, kernelobj.PolarityHigh)
	require.NoError(t, err)

	reg := sigkernel.NewRegistry()
	rcv := sigkernel.NewReceiver(reg, nil)
	require.NoError(t, sess.Sigh(rcv, 0xBEEF))

	require.NoError(t, kernelobj.Latch(sess.KernelInterrupt()))

	done := make(chan []sigkernel.Batch, 1)
	go func() { done <- rcv.Wait() }()

	select {
	case batches := <-done:
		require.Len(t, batches, 1)
		require.EqualValues(t, 1, batches[0].Count)
	case <-time.After(time.Second):
		t.Fatal("signal was not dispatched after latch")
	}

	require.NoError(t, sess.Close())
}
