package engine

import (
	"fmt"
	"log"
	"slices"

	"github.com/MikhailWahib/walkv/internal/record"
	"github.com/MikhailWahib/walkv/internal/storage"
	"golang.org/x/exp/maps"
)

// txWrite is a buffered mutation; deleted marks a tombstone.
type txWrite struct {
	value   string
	deleted bool
}

// txBuffer stages writes until commit.
type txBuffer struct {
	writes map[string]txWrite
}

func newTxBuffer() *txBuffer {
	return &txBuffer{writes: make(map[string]txWrite)}
}

// get returns key as the transaction sees it: its own writes over base.
func (b *txBuffer) get(key string, base storage.Storage) (string, bool) {
	if w, ok := b.writes[key]; ok {
		return w.value, !w.deleted
	}
	return base.Get(key)
}

func (b *txBuffer) put(key, value string) {
	b.writes[key] = txWrite{value: value}
}

func (b *txBuffer) remove(key string) {
	b.writes[key] = txWrite{deleted: true}
}

func (b *txBuffer) len() int {
	return len(b.writes)
}

// entries returns the buffered writes in key order. Tombstones for keys base
// does not hold are dropped.
func (b *txBuffer) entries(base storage.Storage) []record.Entry {
	keys := maps.Keys(b.writes)
	slices.Sort(keys)

	entries := make([]record.Entry, 0, len(keys))
	for _, k := range keys {
		w := b.writes[k]
		if !w.deleted {
			entries = append(entries, record.Put(k, w.value))
			continue
		}
		if _, ok := base.Get(k); ok {
			entries = append(entries, record.Delete(k))
		}
	}
	return entries
}

// BeginTx opens a transaction. A transaction that is already open is
// discarded along with its buffered writes; transactions do not nest.
func (s *Store) BeginTx() {
	if s.tx != nil && s.tx.len() > 0 {
		log.Printf("engine: discarding %d buffered writes of an unfinished transaction", s.tx.len())
	}
	s.tx = newTxBuffer()
}

// CommitTx logs every buffered write with a single append and then applies
// them to storage. If the append fails the transaction stays open so the
// caller may retry or roll back. If storage rejects the writes the transaction
// is gone and the log is told to undo them. Committing without a transaction
// is a no-op.
func (s *Store) CommitTx() error {
	if s.tx == nil {
		return nil
	}

	// Deadlines that passed while the transaction was open purge the old
	// value now, so committed puts start fresh like a plain Insert.
	for key := range s.tx.writes {
		s.expired(key)
	}

	entries := s.tx.entries(s.storage)
	undo := s.preimage(entries)
	if err := s.wal.Append(entries...); err != nil {
		return err
	}
	s.tx = nil

	if err := s.storage.Apply(entries); err != nil {
		return s.revert(fmt.Errorf("engine apply commit: %w", err), undo)
	}
	for _, e := range entries {
		if e.Type == record.DeleteEntry {
			delete(s.expirations, e.Key)
		}
	}
	return nil
}

// RollbackTx discards the open transaction, if any.
func (s *Store) RollbackTx() {
	s.tx = nil
}

// InTx reports whether a transaction is open.
func (s *Store) InTx() bool {
	return s.tx != nil
}
