package storage

import (
	"time"

	"github.com/MikhailWahib/walkv/internal/record"
	. "github.com/stevegt/goadapt"
	"github.com/tidwall/btree"
	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// BoltStorage persists records in a bbolt database and serves reads from an
// in-memory cache. Unlike FileStorage, a mutation touches only the keys it
// changes. The cache is updated after the bolt transaction commits.
type BoltStorage struct {
	bdb  *bolt.DB
	tree *btree.Map[string, string]
}

var _ Storage = (*BoltStorage)(nil)

// NewBoltStorage opens or creates the database at path and loads its records.
func NewBoltStorage(path string) (bs *BoltStorage, err error) {
	defer Return(&err)
	opts := &bolt.Options{Timeout: 10 * time.Second}
	bdb, err := bolt.Open(path, 0600, opts)
	Ck(err, "storage open %s", path)

	bs = &BoltStorage{bdb: bdb, tree: new(btree.Map[string, string])}
	err = bdb.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(recordsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			bs.tree.Set(string(k), string(v))
			return nil
		})
	})
	if err != nil {
		_ = bdb.Close()
	}
	Ck(err, "storage load %s", path)
	return
}

// Name returns the backend name.
func (s *BoltStorage) Name() string { return "bolt" }

// Path returns the database file.
func (s *BoltStorage) Path() string { return s.bdb.Path() }

// Get returns the cached value for key.
func (s *BoltStorage) Get(key string) (string, bool) {
	return s.tree.Get(key)
}

// Insert overwrites key in the database, then in the cache.
func (s *BoltStorage) Insert(key, value string) (prev string, existed bool, err error) {
	defer Return(&err)
	err = s.update([]record.Entry{record.Put(key, value)})
	Ck(err)
	prev, existed = s.tree.Set(key, value)
	return
}

// Delete removes key from the database, then from the cache.
func (s *BoltStorage) Delete(key string) (existed bool, err error) {
	defer Return(&err)
	if _, ok := s.tree.Get(key); !ok {
		return
	}
	err = s.update([]record.Entry{record.Delete(key)})
	Ck(err)
	_, existed = s.tree.Delete(key)
	return
}

// Apply runs entries in order inside a single bolt transaction.
func (s *BoltStorage) Apply(entries []record.Entry) (err error) {
	defer Return(&err)
	if len(entries) == 0 {
		return
	}
	err = s.update(entries)
	Ck(err)
	applyTo(s.tree, entries)
	return
}

// Iter returns the records in key order.
func (s *BoltStorage) Iter() []record.Pair {
	return pairs(s.tree)
}

// Len returns the number of records.
func (s *BoltStorage) Len() int {
	return s.tree.Len()
}

// Clear drops and recreates the records bucket.
func (s *BoltStorage) Clear() (err error) {
	defer Return(&err)
	err = s.bdb.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(recordsBucket)
		return err
	})
	Ck(err, "storage clear %s", s.bdb.Path())
	s.tree = new(btree.Map[string, string])
	return
}

// Close closes the database.
func (s *BoltStorage) Close() (err error) {
	defer Return(&err)
	err = s.bdb.Close()
	Ck(err)
	return
}

func (s *BoltStorage) update(entries []record.Entry) (err error) {
	defer Return(&err)
	err = s.bdb.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		for _, e := range entries {
			var err error
			switch e.Type {
			case record.PutEntry:
				err = b.Put([]byte(e.Key), []byte(e.Value))
			case record.DeleteEntry:
				err = b.Delete([]byte(e.Key))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	Ck(err, "storage write %s", s.bdb.Path())
	return
}
