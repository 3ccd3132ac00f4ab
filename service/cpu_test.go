package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/account"
	"github.com/genodego/core/capability"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/sigkernel"
)

func TestCPUCreateStartKillThread(t *testing.T) {
	kern := kernelobj.NewFake(true)
	capRoot := account.NewCapGuard(10)
	pd, err := NewPD(kern, nil, capRoot)
	require.NoError(t, err)

	cpu := NewCPU(kern, capRoot, 100)
	require.NoError(t, account.Transfer(capRoot, cpu.Caps, 5))

	th, err := cpu.CreateThread(pd, "main", kernelobj.Affinity{}, 1)
	require.NoError(t, err)

	require.NoError(t, cpu.Start(th, 0x1000, 0x2000))
	st, err := cpu.State(th)
	require.NoError(t, err)
	require.True(t, st.Running)

	require.NoError(t, cpu.Pause(th))
	require.NoError(t, cpu.KillThread(th))

	_, err = cpu.State(th)
	require.ErrorIs(t, err, ErrUnknownThread)
}

func TestCPUUnknownThread(t *testing.T) {
	kern := kernelobj.NewFake(true)
	cpu := NewCPU(kern, nil, 10)
	_, err := cpu.State(capability.Capability{})
	require.Error(t, err)
}

func TestCPUExceptionSighDeliversOnRaise(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)
	cpu := NewCPU(kern, nil, 100)

	th, err := cpu.CreateThread(pd, "main", kernelobj.Affinity{}, 1)
	require.NoError(t, err)

	reg := sigkernel.NewRegistry()
	receiver := sigkernel.NewReceiver(reg, nil)
	require.NoError(t, cpu.ExceptionSigh(th, receiver, 42))
	require.NoError(t, cpu.RaiseException(th))

	batches := receiver.Wait()
	require.Len(t, batches, 1)
	require.EqualValues(t, 42, batches[0].Context.Imprint())
	require.EqualValues(t, 1, batches[0].Count)
}

func TestCPURaiseExceptionWithoutSighIsNoop(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)
	cpu := NewCPU(kern, nil, 100)

	th, err := cpu.CreateThread(pd, "main", kernelobj.Affinity{}, 1)
	require.NoError(t, err)
	require.NoError(t, cpu.RaiseException(th))
}

func TestCPUSingleStepAndTraceControl(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)
	cpu := NewCPU(kern, nil, 100)

	th, err := cpu.CreateThread(pd, "main", kernelobj.Affinity{}, 1)
	require.NoError(t, err)
	require.NoError(t, cpu.SingleStep(th, true))
	require.NoError(t, cpu.TraceControl(th, true, 7))
}

func TestCPUThreadQuotaProportionalToWeight(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)
	cpu := NewCPU(kern, nil, 100)

	a, err := cpu.CreateThread(pd, "a", kernelobj.Affinity{}, 1)
	require.NoError(t, err)
	b, err := cpu.CreateThread(pd, "b", kernelobj.Affinity{}, 3)
	require.NoError(t, err)

	qa, err := cpu.ThreadQuota(a)
	require.NoError(t, err)
	qb, err := cpu.ThreadQuota(b)
	require.NoError(t, err)
	require.EqualValues(t, 25, qa)
	require.EqualValues(t, 75, qb)
}

func TestCPURefAccount(t *testing.T) {
	kern := kernelobj.NewFake(true)
	parentCaps := account.NewCapGuard(10)
	parent := NewCPU(kern, parentCaps, 100)
	child := NewCPU(kern, nil, 50)

	child.RefAccount(parent)
	require.NoError(t, account.Transfer(parent.Caps, child.Caps, 2))
	require.EqualValues(t, 2, child.Caps.Limit())
}
