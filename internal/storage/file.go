package storage

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/MikhailWahib/walkv/internal/diskmanager"
	"github.com/MikhailWahib/walkv/internal/record"
	"github.com/tidwall/btree"
)

// FileStorage caches records in memory and rewrites the whole backing file,
// one <key>=<value> line per record, on every mutation. Each write costs
// O(records), so it suits small datasets only.
//
// A mutation is built on a copy of the cache and only becomes visible once the
// file has been rewritten, so a failed write leaves cache and disk in agreement.
type FileStorage struct {
	dm   diskmanager.DiskManager
	path string
	tree *btree.Map[string, string]
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage loads existing records from path. Lines that do not parse
// are skipped; a missing file starts an empty store.
func NewFileStorage(dm diskmanager.DiskManager, path string) (*FileStorage, error) {
	fs := &FileStorage{
		dm:   dm,
		path: path,
		tree: new(btree.Map[string, string]),
	}

	r, err := dm.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage open %s: %w", path, err)
	}
	defer r.Close()

	err = record.ScanLines(r, func(l record.Line) error {
		p, err := record.DecodeFileLine(l.Text)
		if err != nil {
			log.Printf("storage: %s line %d: skipping: %v", path, l.Number, err)
			return nil
		}
		fs.tree.Set(p.Key, p.Value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage load %s: %w", path, err)
	}
	return fs, nil
}

// Name returns the backend name.
func (f *FileStorage) Name() string { return "file" }

// Path returns the backing file.
func (f *FileStorage) Path() string { return f.path }

// Get returns the cached value for key.
func (f *FileStorage) Get(key string) (string, bool) {
	return f.tree.Get(key)
}

// Insert overwrites key and rewrites the file.
func (f *FileStorage) Insert(key, value string) (string, bool, error) {
	prev, existed := f.tree.Get(key)
	if err := f.mutate(func(tree *btree.Map[string, string]) { tree.Set(key, value) }); err != nil {
		return "", false, err
	}
	return prev, existed, nil
}

// Delete removes key and rewrites the file. Deleting a missing key writes nothing.
func (f *FileStorage) Delete(key string) (bool, error) {
	if _, ok := f.tree.Get(key); !ok {
		return false, nil
	}
	if err := f.mutate(func(tree *btree.Map[string, string]) { tree.Delete(key) }); err != nil {
		return false, err
	}
	return true, nil
}

// Apply runs entries in order and rewrites the file once.
func (f *FileStorage) Apply(entries []record.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return f.mutate(func(tree *btree.Map[string, string]) { applyTo(tree, entries) })
}

// Iter returns the records in key order.
func (f *FileStorage) Iter() []record.Pair {
	return pairs(f.tree)
}

// Len returns the number of records.
func (f *FileStorage) Len() int {
	return f.tree.Len()
}

// Clear removes every record and leaves an empty file.
func (f *FileStorage) Clear() error {
	empty := new(btree.Map[string, string])
	if err := f.persist(empty); err != nil {
		return err
	}
	f.tree = empty
	return nil
}

// Close is a no-op; the file is not held open between writes.
func (f *FileStorage) Close() error { return nil }

func (f *FileStorage) mutate(fn func(tree *btree.Map[string, string])) error {
	next := f.tree.Copy()
	fn(next)
	if err := f.persist(next); err != nil {
		return err
	}
	f.tree = next
	return nil
}

func (f *FileStorage) persist(tree *btree.Map[string, string]) error {
	err := f.dm.WriteFile(f.path, func(w io.Writer) error {
		var werr error
		tree.Scan(func(key, value string) bool {
			_, werr = io.WriteString(w, record.EncodeFileLine(record.Pair{Key: key, Value: value}))
			return werr == nil
		})
		return werr
	})
	if err != nil {
		return fmt.Errorf("storage write %s: %w", f.path, err)
	}
	return nil
}
