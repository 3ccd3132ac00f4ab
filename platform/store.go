package platform

import (
	"errors"
	"time"

	"go.etcd.io/bbolt"
)

var bootModulesBucket = []byte("boot_modules")

// ErrStoreNotOpen is returned by operations on a closed Store.
var ErrStoreNotOpen = errors.New("platform: module store not open")

// Store is a bbolt-backed persistence layer for boot modules, used only
// by the demo platform binary to simulate a bootloader handing modules
// to core when no real one is present. Core's own runtime state never
// touches this store; see DESIGN.md and SPEC_FULL.md's non-goals.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if necessary) a bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bootModulesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// PutModule stores the raw content of a boot module under name.
func (s *Store) PutModule(name string, content []byte) error {
	if s.db == nil {
		return ErrStoreNotOpen
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bootModulesBucket).Put([]byte(name), content)
	})
}

// LoadModules reads every stored module back into a BootInfo's Modules
// slice, assigning each a synthetic physical base so ELF relocation
// logic has something consistent to reason about.
func (s *Store) LoadModules() ([]BootModule, error) {
	if s.db == nil {
		return nil, ErrStoreNotOpen
	}
	var mods []BootModule
	var base uint64 = 0x0010_0000
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bootModulesBucket).ForEach(func(k, v []byte) error {
			content := append([]byte(nil), v...)
			mods = append(mods, BootModule{
				Name:     string(k),
				PhysBase: base,
				Size:     uint64(len(content)),
				Content:  content,
			})
			base += uint64(len(content))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return mods, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
