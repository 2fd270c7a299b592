package storage

import (
	"github.com/MikhailWahib/walkv/internal/record"
	"github.com/tidwall/btree"
)

// MemStorage keeps records in an in-memory B-tree. Its contents are lost when
// the process exits and are rebuilt from the log on open.
type MemStorage struct {
	tree *btree.Map[string, string]
}

var _ Storage = (*MemStorage)(nil)

// NewMemStorage creates an empty MemStorage.
func NewMemStorage() *MemStorage {
	return &MemStorage{tree: new(btree.Map[string, string])}
}

// Name returns the backend name.
func (m *MemStorage) Name() string { return "memory" }

// Get returns the value stored for key.
func (m *MemStorage) Get(key string) (string, bool) {
	return m.tree.Get(key)
}

// Insert overwrites key and returns the value it replaced.
func (m *MemStorage) Insert(key, value string) (string, bool, error) {
	prev, existed := m.tree.Set(key, value)
	return prev, existed, nil
}

// Delete removes key.
func (m *MemStorage) Delete(key string) (bool, error) {
	_, existed := m.tree.Delete(key)
	return existed, nil
}

// Apply runs entries in order.
func (m *MemStorage) Apply(entries []record.Entry) error {
	applyTo(m.tree, entries)
	return nil
}

// Iter returns the records in key order. Later mutations do not affect the result.
func (m *MemStorage) Iter() []record.Pair {
	return pairs(m.tree)
}

// Len returns the number of records.
func (m *MemStorage) Len() int {
	return m.tree.Len()
}

// Clear removes every record.
func (m *MemStorage) Clear() error {
	m.tree = new(btree.Map[string, string])
	return nil
}

// Close is a no-op.
func (m *MemStorage) Close() error { return nil }

func applyTo(tree *btree.Map[string, string], entries []record.Entry) {
	for _, e := range entries {
		switch e.Type {
		case record.PutEntry:
			tree.Set(e.Key, e.Value)
		case record.DeleteEntry:
			tree.Delete(e.Key)
		}
	}
}

func pairs(tree *btree.Map[string, string]) []record.Pair {
	out := make([]record.Pair, 0, tree.Len())
	tree.Scan(func(key, value string) bool {
		out = append(out, record.Pair{Key: key, Value: value})
		return true
	})
	return out
}
