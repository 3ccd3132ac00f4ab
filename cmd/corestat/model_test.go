package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelReportsSeedAccountsAndSessions(t *testing.T) {
	m, err := newModel(1<<20, 4096)
	require.NoError(t, err)

	rows := m.pdRows()
	require.Len(t, rows, 4) // core + init + drivers + logger
	require.Equal(t, "core", rows[0].Name)
	require.Less(t, rows[0].RAMLimit, uint64(1<<20)) // quota transferred away to children
	require.Greater(t, rows[1].RAMUsed, uint64(0))   // init allocated a dataspace

	sessions := m.sessionRows()
	require.Len(t, sessions, 3)
	for _, s := range sessions {
		require.Equal(t, "AVAILABLE", s.State)
	}
}
