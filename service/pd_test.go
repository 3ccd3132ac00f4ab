package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/account"
	"github.com/genodego/core/capability"
	"github.com/genodego/core/dataspace"
	"github.com/genodego/core/kernelobj"
)

func TestPDAllocFreeChargesAccounts(t *testing.T) {
	kern := kernelobj.NewFake(true)
	ramRoot := account.NewRamGuard(1 << 20)
	capRoot := account.NewCapGuard(100)

	pd, err := NewPD(kern, ramRoot, capRoot)
	require.NoError(t, err)
	require.NoError(t, account.Transfer(ramRoot, pd.RAM, 4096))
	require.NoError(t, account.Transfer(capRoot, pd.Caps, 10))

	ds, err := pd.Alloc(1024, dataspace.CacheCached)
	require.NoError(t, err)
	require.EqualValues(t, 1024, pd.UsedRAM())
	require.EqualValues(t, 1, pd.UsedCaps())

	require.NoError(t, pd.Free(ds))
	require.EqualValues(t, 0, pd.UsedRAM())
	require.EqualValues(t, 0, pd.UsedCaps())
}

func TestPDAllocOutOfRAM(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)

	_, err = pd.Alloc(10, dataspace.CacheCached)
	require.ErrorIs(t, err, account.ErrOutOfRam)
}

func TestAssignParentOnlyOnce(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)

	sp := newTestCapSpace(t)
	require.NoError(t, pd.AssignParent(sp))
	require.Error(t, pd.AssignParent(sp))
}

func TestPDSignalEndpointDeliversSubmit(t *testing.T) {
	kern := kernelobj.NewFake(true)
	capRoot := account.NewCapGuard(10)
	pd, err := NewPD(kern, nil, capRoot)
	require.NoError(t, err)
	require.NoError(t, account.Transfer(capRoot, pd.Caps, 3))

	src, recv, err := pd.AllocSignalSource()
	require.NoError(t, err)
	ctxCap, err := pd.AllocContext(src, 99)
	require.NoError(t, err)
	require.EqualValues(t, 2, pd.UsedCaps())

	require.NoError(t, pd.Submit(ctxCap, 5))
	batches := recv.Wait()
	require.Len(t, batches, 1)
	require.EqualValues(t, 99, batches[0].Context.Imprint())
	require.EqualValues(t, 5, batches[0].Count)

	require.NoError(t, pd.FreeContext(ctxCap))
	require.NoError(t, pd.FreeSignalSource(src))
	require.EqualValues(t, 0, pd.UsedCaps())
}

func TestPDSubmitUnknownContextFails(t *testing.T) {
	kern := kernelobj.NewFake(true)
	pd, err := NewPD(kern, nil, nil)
	require.NoError(t, err)

	err = pd.Submit(capability.Capability{}, 1)
	require.ErrorIs(t, err, ErrUnknownSignalContext)
}
