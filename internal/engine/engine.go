// Package engine implements the store that ties storage, the write-ahead log,
// key expiration and transactions together.
package engine

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/MikhailWahib/walkv/internal/config"
	"github.com/MikhailWahib/walkv/internal/diskmanager"
	"github.com/MikhailWahib/walkv/internal/record"
	"github.com/MikhailWahib/walkv/internal/storage"
	"github.com/MikhailWahib/walkv/internal/wal"
)

// Store is the single entry point for reads and writes. Mutations are logged
// before they are applied to storage, so replaying the log after a crash
// rebuilds every acknowledged write.
//
// A Store is not safe for concurrent use; callers share one behind a lock.
type Store struct {
	storage storage.Storage
	wal     *wal.WAL
	dm      diskmanager.DiskManager

	expirations map[string]time.Time
	tx          *txBuffer

	maxKeyLen int
	now       func() time.Time
}

// Stats describes a store for diagnostics.
type Stats struct {
	Backend  string
	Keys     int
	Expiring int
	InTx     bool
	// Pending is the number of writes buffered in the open transaction.
	Pending int
	WAL     wal.Stats
}

type options struct {
	dm            diskmanager.DiskManager
	maxKeyLen     int
	now           func() time.Time
	latencyWindow int
}

// Option configures a Store.
type Option func(*options)

// WithDiskManager sets the file layer used for snapshots.
func WithDiskManager(dm diskmanager.DiskManager) Option {
	return func(o *options) { o.dm = dm }
}

// WithMaxKeyLen sets the longest accepted key in bytes.
func WithMaxKeyLen(n int) Option {
	return func(o *options) { o.maxKeyLen = n }
}

// WithClock replaces time.Now for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLatencyWindow sets the number of appends averaged in WAL stats.
func WithLatencyWindow(n int) Option {
	return func(o *options) { o.latencyWindow = n }
}

func buildOptions(opts []Option) options {
	o := options{
		dm:        diskmanager.NewDiskManager(),
		maxKeyLen: record.DefaultMaxKeyLen,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open replays the log at walPath into fresh in-memory storage.
func Open(walPath string, opts ...Option) (*Store, error) {
	return OpenWithBackend(walPath, storage.NewMemStorage(), opts...)
}

// OpenWithBackend replays the log at walPath into backend. The backend keeps
// whatever it already holds; log entries are applied on top in order.
func OpenWithBackend(walPath string, backend storage.Storage, opts ...Option) (*Store, error) {
	return open("", walPath, backend, buildOptions(opts))
}

// OpenWithSnapshot loads snapshotPath, when it exists, into fresh in-memory
// storage and then replays the log at walPath on top of it.
func OpenWithSnapshot(snapshotPath, walPath string, opts ...Option) (*Store, error) {
	return open(snapshotPath, walPath, storage.NewMemStorage(), buildOptions(opts))
}

// OpenConfig opens the backend described by cfg and recovers it from
// cfg.SnapshotPath, if set, and cfg.WALPath.
func OpenConfig(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(append([]Option{
		WithMaxKeyLen(cfg.MaxKeyLen),
		WithLatencyWindow(cfg.LatencyWindow),
	}, opts...))

	backend, err := storage.New(cfg, o.dm)
	if err != nil {
		return nil, err
	}
	s, err := open(cfg.SnapshotPath, cfg.WALPath, backend, o)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}

func open(snapshotPath, walPath string, backend storage.Storage, o options) (*Store, error) {
	var entries []record.Entry
	if snapshotPath != "" {
		snap, err := loadSnapshot(o.dm, snapshotPath)
		if err != nil {
			return nil, err
		}
		entries = snap
	}

	var walOpts []wal.Option
	if o.latencyWindow > 0 {
		walOpts = append(walOpts, wal.WithLatencyWindow(o.latencyWindow))
	}
	w, err := wal.NewWAL(walPath, walOpts...)
	if err != nil {
		return nil, err
	}

	logged, err := w.Replay()
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	entries = append(entries, logged...)

	if err := backend.Apply(entries); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("engine recover: %w", err)
	}

	return &Store{
		storage:     backend,
		wal:         w,
		dm:          o.dm,
		expirations: make(map[string]time.Time),
		maxKeyLen:   o.maxKeyLen,
		now:         o.now,
	}, nil
}

// Get returns the value for key. A key whose deadline has passed is purged
// and reported absent. An open transaction's buffered writes are not visible.
func (s *Store) Get(key string) (string, bool) {
	if s.expired(key) {
		return "", false
	}
	return s.storage.Get(key)
}

// Contains reports whether Get would find key.
func (s *Store) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Insert sets key to value and returns the value it replaced. Inside a
// transaction the write is only buffered.
func (s *Store) Insert(key, value string) (string, bool, error) {
	if err := record.ValidateKey(key, s.maxKeyLen); err != nil {
		return "", false, err
	}
	if err := record.ValidateValue(value); err != nil {
		return "", false, err
	}
	s.expired(key)

	if s.tx != nil {
		prev, existed := s.tx.get(key, s.storage)
		s.tx.put(key, value)
		return prev, existed, nil
	}

	entry := record.Put(key, value)
	undo := s.preimage([]record.Entry{entry})
	if err := s.wal.Append(entry); err != nil {
		return "", false, err
	}
	prev, existed, err := s.storage.Insert(key, value)
	if err != nil {
		return "", false, s.revert(fmt.Errorf("engine apply put %q: %w", key, err), undo)
	}
	return prev, existed, nil
}

// Delete removes key and reports whether it was present. Nothing is logged
// for a key that is absent.
func (s *Store) Delete(key string) (bool, error) {
	if err := record.ValidateKey(key, s.maxKeyLen); err != nil {
		return false, err
	}
	if s.expired(key) {
		return false, nil
	}

	if s.tx != nil {
		if _, ok := s.tx.get(key, s.storage); !ok {
			return false, nil
		}
		s.tx.remove(key)
		return true, nil
	}

	prev, ok := s.storage.Get(key)
	if !ok {
		return false, nil
	}
	if err := s.wal.AppendDelete(key); err != nil {
		return false, err
	}
	if _, err := s.storage.Delete(key); err != nil {
		return false, s.revert(fmt.Errorf("engine apply delete %q: %w", key, err),
			[]record.Entry{record.Put(key, prev)})
	}
	delete(s.expirations, key)
	return true, nil
}

// maxTTLSeconds is the longest TTL a time.Duration can hold; longer ones are capped.
const maxTTLSeconds = uint64(math.MaxInt64 / int64(time.Second))

// SetTTL makes key expire seconds from now, replacing any earlier deadline.
// The key does not need to exist yet. Deadlines are not persisted.
func (s *Store) SetTTL(key string, seconds uint64) error {
	if err := record.ValidateKey(key, s.maxKeyLen); err != nil {
		return err
	}
	seconds = min(seconds, maxTTLSeconds)
	s.expirations[key] = s.now().Add(time.Duration(seconds) * time.Second)
	return nil
}

// TTL returns the time left before key expires.
func (s *Store) TTL(key string) (time.Duration, bool) {
	deadline, ok := s.expirations[key]
	if !ok {
		return 0, false
	}
	return max(deadline.Sub(s.now()), 0), true
}

// expired purges key if its deadline has passed and reports whether it did.
// The purge is logged so a restart does not bring the key back; if logging
// fails the deadline is kept and the key stays hidden until a later retry.
func (s *Store) expired(key string) bool {
	deadline, ok := s.expirations[key]
	if !ok || s.now().Before(deadline) {
		return false
	}

	if _, present := s.storage.Get(key); present {
		if err := s.wal.AppendDelete(key); err != nil {
			log.Printf("engine: expire %q: %v", key, err)
			return true
		}
		if _, err := s.storage.Delete(key); err != nil {
			log.Printf("engine: expire %q: %v", key, err)
			return true
		}
	}
	delete(s.expirations, key)
	return true
}

// Iter returns every stored record in key order. Keys past their deadline are
// included until they are next read.
func (s *Store) Iter() []record.Pair {
	return s.storage.Iter()
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return s.storage.Len()
}

// Clear deletes every record, logging a delete for each so replay agrees.
func (s *Store) Clear() error {
	pairs := s.storage.Iter()
	entries := make([]record.Entry, 0, len(pairs))
	undo := make([]record.Entry, 0, len(pairs))
	for _, p := range pairs {
		entries = append(entries, record.Delete(p.Key))
		undo = append(undo, record.Put(p.Key, p.Value))
	}
	if err := s.wal.Append(entries...); err != nil {
		return err
	}
	if err := s.storage.Clear(); err != nil {
		return s.revert(fmt.Errorf("engine clear: %w", err), undo)
	}
	clear(s.expirations)
	return nil
}

// preimage returns the entries that put back the current storage value of
// every key entries touch.
func (s *Store) preimage(entries []record.Entry) []record.Entry {
	seen := make(map[string]struct{}, len(entries))
	undo := make([]record.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Key]; ok {
			continue
		}
		seen[e.Key] = struct{}{}
		if v, ok := s.storage.Get(e.Key); ok {
			undo = append(undo, record.Put(e.Key, v))
		} else {
			undo = append(undo, record.Delete(e.Key))
		}
	}
	return undo
}

// revert logs undo after storage rejected a mutation the log already holds,
// so that replay ends where storage stayed. It returns cause, joined with the
// log error if undo could not be written either.
func (s *Store) revert(cause error, undo []record.Entry) error {
	if err := s.wal.Append(undo...); err != nil {
		log.Printf("engine: log may replay a rejected write: %v", err)
		return errors.Join(cause, err)
	}
	return cause
}

// Stats returns counters describing the store.
func (s *Store) Stats() Stats {
	st := Stats{
		Backend:  s.storage.Name(),
		Keys:     s.storage.Len(),
		Expiring: len(s.expirations),
		InTx:     s.tx != nil,
		WAL:      s.wal.Stats(),
	}
	if s.tx != nil {
		st.Pending = s.tx.len()
	}
	return st
}

// WALPath returns the path of the log.
func (s *Store) WALPath() string {
	return s.wal.Path()
}

// Close releases the log and storage file handles.
func (s *Store) Close() error {
	return errors.Join(s.wal.Close(), s.storage.Close())
}
