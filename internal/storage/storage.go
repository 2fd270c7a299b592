// Package storage holds the current key/value mapping of a store.
//
// Storage is polymorphic over where records live: MemStorage keeps them in
// process memory, FileStorage mirrors every mutation to a key=value text file,
// and BoltStorage persists them in a bbolt database. All variants serve reads
// from an ordered in-memory map, so Iter lists keys in ascending order.
package storage

import (
	"fmt"

	"github.com/MikhailWahib/walkv/internal/config"
	"github.com/MikhailWahib/walkv/internal/diskmanager"
	"github.com/MikhailWahib/walkv/internal/record"
)

// Storage is the capability set the store needs from a backend.
// Implementations are not safe for concurrent use.
type Storage interface {
	// Get returns the current value for key.
	Get(key string) (string, bool)
	// Insert overwrites key and returns the previous value, if any.
	Insert(key, value string) (prev string, existed bool, err error)
	// Delete removes key and reports whether it was present.
	Delete(key string) (bool, error)
	// Apply runs entries in order as one mutation.
	Apply(entries []record.Entry) error
	// Iter returns a copy of the current records in key order.
	Iter() []record.Pair
	Len() int
	Clear() error
	Close() error
	Name() string
}

// New builds the backend selected by cfg.Backend.
func New(cfg *config.Config, dm diskmanager.DiskManager) (Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemStorage(), nil
	case config.BackendFile:
		return NewFileStorage(dm, cfg.StoragePath)
	case config.BackendBolt:
		return NewBoltStorage(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}
