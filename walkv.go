// Package walkv is a small durable key-value store.
//
// Records are string keys mapped to string values. Every mutation is appended
// to a write-ahead log and fsynced before it is applied, so a restart replays
// the log to rebuild the store. Snapshots bound the log: Snapshot writes the
// current records to a file and empties the log. Keys can be given a TTL,
// which is enforced lazily when the key is read, and writes can be staged in
// a transaction that becomes visible and durable on commit.
//
// A DB is safe for concurrent use. Every call runs under one lock, so
// operations are totally ordered and the log order is a valid linearization.
//
// Example usage:
//
//	cfg := walkv.DefaultConfig()
//	cfg.WALPath = "/var/lib/app/kv.wal"
//	cfg.SnapshotPath = "/var/lib/app/kv.snapshot"
//
//	db, err := walkv.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, _, err := db.Put("key", "value"); err != nil {
//		log.Printf("Put failed: %v", err)
//	}
//
//	value, exists := db.Get("key")
//	if exists {
//		fmt.Printf("Value: %s\n", value)
//	}
package walkv

import (
	"errors"
	"sync"
	"time"

	"github.com/MikhailWahib/walkv/internal/config"
	"github.com/MikhailWahib/walkv/internal/engine"
	"github.com/MikhailWahib/walkv/internal/record"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// Backend is an alias for config.Backend.
type Backend = config.Backend

// Storage backends, re-exported for user convenience.
const (
	BackendMemory = config.BackendMemory
	BackendFile   = config.BackendFile
	BackendBolt   = config.BackendBolt
)

// DefaultConfig returns a Config struct populated with default values. Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

// Pair is one stored record.
type Pair = record.Pair

// Stats describes the store, see Stats.
type Stats = engine.Stats

// Option configures Open.
type Option = engine.Option

// WithClock replaces time.Now for TTL checks.
var WithClock = engine.WithClock

var (
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("walkv: database is closed")

	// ErrInvalidKey is returned for an empty, too long, or reserved-character key.
	ErrInvalidKey = record.ErrInvalidKey

	// ErrInvalidValue is returned for a value containing a line break.
	ErrInvalidValue = record.ErrInvalidValue
)

// DB is a thread-safe handle to one store.
type DB struct {
	mu     sync.Mutex
	store  *engine.Store
	cfg    Config
	closed bool
}

// Open opens or creates the store described by cfg. A nil cfg uses
// DefaultConfig. When cfg.SnapshotPath is set and the file exists, the
// snapshot is loaded first and the log replayed on top of it.
func Open(cfg *Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := *cfg
	c.FillDefaults()

	s, err := engine.OpenConfig(&c, opts...)
	if err != nil {
		return nil, err
	}
	return &DB{store: s, cfg: c}, nil
}

// do runs fn with the lock held. The deferred unlock releases the lock even
// if fn panics.
func (db *DB) do(fn func(s *engine.Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return fn(db.store)
}

// Put sets key to value and returns the value it replaced, if any.
func (db *DB) Put(key, value string) (prev string, existed bool, err error) {
	err = db.do(func(s *engine.Store) error {
		prev, existed, err = s.Insert(key, value)
		return err
	})
	return
}

// Get returns the value for key, or false if it is absent or expired.
func (db *DB) Get(key string) (value string, found bool) {
	_ = db.do(func(s *engine.Store) error {
		value, found = s.Get(key)
		return nil
	})
	return
}

// Delete removes key and reports whether it existed.
func (db *DB) Delete(key string) (existed bool, err error) {
	err = db.do(func(s *engine.Store) error {
		existed, err = s.Delete(key)
		return err
	})
	return
}

// SetTTL makes key expire after seconds. The deadline is kept in memory only.
func (db *DB) SetTTL(key string, seconds uint64) error {
	return db.do(func(s *engine.Store) error {
		return s.SetTTL(key, seconds)
	})
}

// TTL returns the time left before key expires.
func (db *DB) TTL(key string) (left time.Duration, ok bool) {
	_ = db.do(func(s *engine.Store) error {
		left, ok = s.TTL(key)
		return nil
	})
	return
}

// Snapshot writes every record to snapshotPath and truncates the log at
// walPath. Empty paths default to the configured ones. No other operation
// runs while the snapshot is taken.
func (db *DB) Snapshot(snapshotPath, walPath string) error {
	if snapshotPath == "" {
		snapshotPath = db.cfg.SnapshotPath
	}
	if walPath == "" {
		walPath = db.cfg.WALPath
	}
	return db.do(func(s *engine.Store) error {
		return s.SnapshotAndCompact(snapshotPath, walPath)
	})
}

// Compact snapshots to the configured paths.
func (db *DB) Compact() error {
	return db.Snapshot("", "")
}

// List returns every record in key order. Keys past their deadline appear
// until they are next read with Get.
func (db *DB) List() (pairs []Pair) {
	_ = db.do(func(s *engine.Store) error {
		pairs = s.Iter()
		return nil
	})
	return
}

// Len returns the number of stored records.
func (db *DB) Len() (n int) {
	_ = db.do(func(s *engine.Store) error {
		n = s.Len()
		return nil
	})
	return
}

// Clear deletes every record.
func (db *DB) Clear() error {
	return db.do(func(s *engine.Store) error {
		return s.Clear()
	})
}

// Begin opens the store's transaction, discarding one that is already open.
// There is one transaction per store, shared by every caller of the DB.
func (db *DB) Begin() error {
	return db.do(func(s *engine.Store) error {
		s.BeginTx()
		return nil
	})
}

// Commit makes the transaction's writes durable and visible.
func (db *DB) Commit() error {
	return db.do(func(s *engine.Store) error {
		return s.CommitTx()
	})
}

// Rollback discards the transaction's writes.
func (db *DB) Rollback() error {
	return db.do(func(s *engine.Store) error {
		s.RollbackTx()
		return nil
	})
}

// Stats returns counters describing the store.
func (db *DB) Stats() (st Stats) {
	_ = db.do(func(s *engine.Store) error {
		st = s.Stats()
		return nil
	})
	return
}

// Config returns the configuration the DB was opened with.
func (db *DB) Config() Config {
	return db.cfg
}

// Close releases the log and storage files. Later calls return ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.store.Close()
}
