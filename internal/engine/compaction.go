package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/MikhailWahib/walkv/internal/diskmanager"
	"github.com/MikhailWahib/walkv/internal/record"
)

// ErrWALPathMismatch is returned when compaction names a log other than the store's own.
var ErrWALPathMismatch = errors.New("wal path does not match the open log")

// SnapshotAndCompact writes every live record to snapshotPath and then
// truncates the log. Keys past their deadline are left out of the snapshot
// and purged. walPath, if not empty, must name the store's own log.
//
// The caller must hold off every other operation on the store until this
// returns, or a write landing between the snapshot and the truncation is lost.
func (s *Store) SnapshotAndCompact(snapshotPath, walPath string) error {
	if walPath != "" && filepath.Clean(walPath) != filepath.Clean(s.wal.Path()) {
		return fmt.Errorf("%w: %s (open log is %s)", ErrWALPathMismatch, walPath, s.wal.Path())
	}

	now := s.now()
	var live []record.Pair
	var expired []record.Entry
	for _, p := range s.storage.Iter() {
		if deadline, ok := s.expirations[p.Key]; ok && !now.Before(deadline) {
			expired = append(expired, record.Delete(p.Key))
			continue
		}
		live = append(live, p)
	}

	if err := writeSnapshot(s.dm, snapshotPath, live); err != nil {
		return err
	}
	if err := s.wal.Truncate(); err != nil {
		return err
	}

	// Neither the snapshot nor the emptied log holds the expired keys any more.
	if err := s.storage.Apply(expired); err != nil {
		log.Printf("engine: purge %d expired keys after compaction: %v", len(expired), err)
		return nil
	}
	for _, e := range expired {
		delete(s.expirations, e.Key)
	}
	return nil
}

func writeSnapshot(dm diskmanager.DiskManager, path string, pairs []record.Pair) error {
	err := dm.WriteFile(path, func(w io.Writer) error {
		for _, p := range pairs {
			if _, err := io.WriteString(w, record.EncodeSnapshotLine(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine write snapshot %s: %w", path, err)
	}
	return nil
}

// loadSnapshot reads snapshot lines as put entries. A missing snapshot yields
// none; unparsable lines are skipped.
func loadSnapshot(dm diskmanager.DiskManager, path string) ([]record.Entry, error) {
	ok, err := dm.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("engine stat snapshot %s: %w", path, err)
	}
	if !ok {
		return nil, nil
	}

	r, err := dm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("engine open snapshot %s: %w", path, err)
	}
	defer r.Close()

	var entries []record.Entry
	err = record.ScanLines(r, func(l record.Line) error {
		p, err := record.DecodeSnapshotLine(l.Text)
		if err != nil {
			log.Printf("engine: snapshot %s line %d: skipping: %v", path, l.Number, err)
			return nil
		}
		entries = append(entries, record.Put(p.Key, p.Value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine read snapshot %s: %w", path, err)
	}
	return entries, nil
}
