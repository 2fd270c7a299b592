// Package config provides configuration structures and defaults for walkv.
package config

import (
	"errors"
	"fmt"
)

const (
	defaultWALPath       = ".walkv.wal"
	defaultSnapshotPath  = ".walkv.snapshot"
	defaultStoragePath   = ".walkv.data"
	defaultMaxKeyLen     = 255
	defaultListenAddr    = "127.0.0.1:6379"
	defaultMaxConns      = 256
	defaultLatencyWindow = 128
)

// Backend selects where the store keeps its records.
type Backend string

const (
	// BackendMemory keeps records in process memory only.
	BackendMemory Backend = "memory"
	// BackendFile mirrors records to a key=value text file on every mutation.
	BackendFile Backend = "file"
	// BackendBolt keeps records in a bbolt database file.
	BackendBolt Backend = "bolt"
)

// ErrUnknownBackend is returned by Validate for an unrecognized Backend.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Config holds all tunable parameters for a walkv store and its front ends.
type Config struct {
	// WALPath is the write-ahead log file.
	WALPath string
	// SnapshotPath is where snapshots are written and recovered from.
	SnapshotPath string

	Backend Backend
	// StoragePath is the backing file for the file and bolt backends.
	StoragePath string

	MaxKeyLen int

	ListenAddr string
	// MaxConns bounds the number of connections served at once.
	MaxConns int

	// LatencyWindow is the number of log appends averaged in Stats.
	LatencyWindow int
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		WALPath:       defaultWALPath,
		SnapshotPath:  defaultSnapshotPath,
		Backend:       BackendMemory,
		StoragePath:   defaultStoragePath,
		MaxKeyLen:     defaultMaxKeyLen,
		ListenAddr:    defaultListenAddr,
		MaxConns:      defaultMaxConns,
		LatencyWindow: defaultLatencyWindow,
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.WALPath == "" {
		c.WALPath = def.WALPath
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = def.SnapshotPath
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.StoragePath == "" {
		c.StoragePath = def.StoragePath
	}
	if c.MaxKeyLen == 0 {
		c.MaxKeyLen = def.MaxKeyLen
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MaxConns == 0 {
		c.MaxConns = def.MaxConns
	}
	if c.LatencyWindow == 0 {
		c.LatencyWindow = def.LatencyWindow
	}
}

// Validate reports settings that FillDefaults cannot repair.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendFile, BackendBolt:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.MaxKeyLen < 0 {
		return fmt.Errorf("max key length must be positive, got %d", c.MaxKeyLen)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max connections must be positive, got %d", c.MaxConns)
	}
	return nil
}
