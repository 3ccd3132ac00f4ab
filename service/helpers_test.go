package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genodego/core/capability"
)

func newTestCapSpace(t *testing.T) capability.Capability {
	t.Helper()
	sp := capability.NewSpace()
	c, err := sp.Manufacture("test", 1)
	require.NoError(t, err)
	return c
}
