package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorePutAndLoadModules(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "boot.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutModule("init", []byte("elf-content")))
	require.NoError(t, s.PutModule("config", []byte("<config/>")))

	mods, err := s.LoadModules()
	require.NoError(t, err)
	require.Len(t, mods, 2)

	names := map[string]bool{}
	for _, m := range mods {
		names[m.Name] = true
	}
	require.True(t, names["init"])
	require.True(t, names["config"])
}

func TestStoreClosedOperationsFail(t *testing.T) {
	s := &Store{}
	require.ErrorIs(t, s.PutModule("x", nil), ErrStoreNotOpen)
	_, err := s.LoadModules()
	require.ErrorIs(t, err, ErrStoreNotOpen)
}

func TestBootInfoModuleLookup(t *testing.T) {
	b := BootInfo{Modules: []BootModule{{Name: "init", Size: 10}}}
	m, ok := b.Module("init")
	require.True(t, ok)
	require.EqualValues(t, 10, m.Size)

	_, ok = b.Module("missing")
	require.False(t, ok)
}
