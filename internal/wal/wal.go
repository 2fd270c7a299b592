// Package wal implements Write-Ahead Logging for durability.
//
// The log is a text file of newline-terminated entries, PUT|<key>|<value> or
// DELETE|<key>, appended in operation order and fsynced before an append
// returns. Replay applies entries in file order; lines that do not parse are
// skipped with a diagnostic.
package wal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MikhailWahib/walkv/internal/record"
	movingaverage "github.com/RobinUS2/golang-moving-average"
)

const defaultLatencyWindow = 128

// ErrClosed is returned by operations on a closed WAL.
var ErrClosed = errors.New("wal is closed")

// WAL manages the write-ahead log file
type WAL struct {
	mu sync.Mutex

	path        string
	file        *os.File
	writeOffset int64

	appends uint64
	skipped uint64
	latency *movingaverage.MovingAverage
}

// Stats describes the log for diagnostics.
type Stats struct {
	Path    string
	Size    int64
	Appends uint64
	// Skipped counts malformed lines seen by the last replay.
	Skipped          uint64
	AvgAppendLatency time.Duration
}

// Option configures a WAL.
type Option func(*WAL)

// WithLatencyWindow sets how many recent appends AvgAppendLatency averages over.
func WithLatencyWindow(n int) Option {
	return func(w *WAL) {
		if n > 0 {
			w.latency = movingaverage.New(n)
		}
	}
}

// NewWAL opens or creates the log at path. A torn final line left by an
// interrupted append is cut off so later appends start on a fresh line.
func NewWAL(path string, opts ...Option) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal open %s: %w", path, err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal stat %s: %w", path, err)
	}

	end, err := lastLineEnd(file, fileInfo.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal open %s: %w", path, err)
	}
	if end < fileInfo.Size() {
		log.Printf("wal: discarding torn tail of %s (%d bytes)", path, fileInfo.Size()-end)
		if err := file.Truncate(end); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("wal truncate %s: %w", path, err)
		}
	}

	w := &WAL{
		path:        path,
		file:        file,
		writeOffset: end,
		latency:     movingaverage.New(defaultLatencyWindow),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// lastLineEnd returns the offset just past the last newline in the first size bytes of f.
func lastLineEnd(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// AppendPut appends a put operation to the WAL
func (w *WAL) AppendPut(key, value string) error {
	return w.Append(record.Put(key, value))
}

// AppendDelete appends a delete operation to the WAL
func (w *WAL) AppendDelete(key string) error {
	return w.Append(record.Delete(key))
}

// Append writes entries with a single write and one fsync. On failure the
// file is cut back to its previous length and none of the entries count as
// written.
func (w *WAL) Append(entries ...record.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(record.EncodeLogLine(e))
	}
	buf := []byte(sb.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}

	start := time.Now()
	if _, err := w.file.WriteAt(buf, w.writeOffset); err != nil {
		w.rewind()
		return fmt.Errorf("wal append %s: %w", w.path, err)
	}
	// Sync after each write for durability
	if err := w.file.Sync(); err != nil {
		w.rewind()
		return fmt.Errorf("wal sync %s: %w", w.path, err)
	}

	w.writeOffset += int64(len(buf))
	w.appends += uint64(len(entries))
	w.latency.Add(float64(time.Since(start).Nanoseconds()))
	return nil
}

// rewind drops bytes past the last acknowledged append.
func (w *WAL) rewind() {
	if err := w.file.Truncate(w.writeOffset); err != nil {
		log.Printf("wal: failed to cut %s back to %d bytes: %v", w.path, w.writeOffset, err)
	}
}

// Replay reads every entry from the beginning of the log in append order.
func (w *WAL) Replay() ([]record.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil, ErrClosed
	}

	var entries []record.Entry
	var skipped uint64
	r := io.NewSectionReader(w.file, 0, w.writeOffset)
	err := record.ScanLines(r, func(l record.Line) error {
		if l.Torn {
			log.Printf("wal: %s line %d: skipping torn entry %q", w.path, l.Number, l.Text)
			skipped++
			return nil
		}
		e, err := record.DecodeLogLine(l.Text)
		if err != nil {
			log.Printf("wal: %s line %d: skipping unrecognized entry: %v", w.path, l.Number, err)
			skipped++
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("wal replay %s: %w", w.path, err)
	}

	w.skipped = skipped
	return entries, nil
}

// LoadInto replays the log into a fresh map: a put overwrites any earlier
// value, a delete removes the key if present.
func (w *WAL) LoadInto() (map[string]string, error) {
	entries, err := w.Replay()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		record.Apply(m, e)
	}
	return m, nil
}

// Truncate discards every entry. Callers must have captured their effect
// elsewhere, normally in a snapshot, before calling it.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal truncate %s: %w", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync %s: %w", w.path, err)
	}
	w.writeOffset = 0
	return nil
}

// Path returns the log file path
func (w *WAL) Path() string {
	return w.path
}

// Size returns the number of bytes of acknowledged entries
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeOffset
}

// Stats returns a snapshot of the log counters
func (w *WAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Stats{
		Path:    w.path,
		Size:    w.writeOffset,
		Appends: w.appends,
		Skipped: w.skipped,
	}
	if w.appends > 0 {
		s.AvgAppendLatency = time.Duration(w.latency.Avg())
	}
	return s
}

// Close closes the WAL file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	if err != nil {
		return fmt.Errorf("wal close %s: %w", w.path, err)
	}
	return nil
}
