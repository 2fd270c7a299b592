// Package mockdm provides a mock implementation of the disk manager for testing
package mockdm

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/MikhailWahib/walkv/internal/diskmanager"
)

var _ diskmanager.DiskManager = (*MockDiskManager)(nil)

// MockDiskManager implements diskmanager.DiskManager in memory and can be told
// to fail reads or writes.
type MockDiskManager struct {
	mu       sync.Mutex
	files    map[string][]byte
	writeErr error
	readErr  error
	writes   int
}

// NewMockDiskManager creates a new MockDiskManager instance
func NewMockDiskManager() *MockDiskManager {
	return &MockDiskManager{
		files: make(map[string][]byte),
	}
}

// FailWrites makes every following WriteFile return err. A nil err heals it.
func (dm *MockDiskManager) FailWrites(err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.writeErr = err
}

// FailReads makes every following Open return err. A nil err heals it.
func (dm *MockDiskManager) FailReads(err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.readErr = err
}

// SetFile seeds the content of a mock file
func (dm *MockDiskManager) SetFile(path string, data []byte) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.files[path] = append([]byte(nil), data...)
}

// File returns the content of a mock file
func (dm *MockDiskManager) File(path string) ([]byte, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	data, ok := dm.files[path]
	return append([]byte(nil), data...), ok
}

// Writes returns the number of successful WriteFile calls
func (dm *MockDiskManager) Writes() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writes
}

// Open returns a reader over a snapshot of the mock file
func (dm *MockDiskManager) Open(path string) (io.ReadCloser, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.readErr != nil {
		return nil, dm.readErr
	}
	data, ok := dm.files[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

// WriteFile replaces the mock file only if write succeeds
func (dm *MockDiskManager) WriteFile(path string, write func(w io.Writer) error) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.writeErr != nil {
		return dm.writeErr
	}
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	dm.files[path] = buf.Bytes()
	dm.writes++
	return nil
}

// Exists reports whether the mock file is present
func (dm *MockDiskManager) Exists(path string) (bool, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	_, ok := dm.files[path]
	return ok, nil
}
