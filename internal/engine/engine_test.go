package engine_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MikhailWahib/walkv/internal/config"
	"github.com/MikhailWahib/walkv/internal/diskmanager/mockdm"
	"github.com/MikhailWahib/walkv/internal/engine"
	"github.com/MikhailWahib/walkv/internal/record"
	"github.com/MikhailWahib/walkv/internal/storage"
	"github.com/MikhailWahib/walkv/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func openStore(t *testing.T, opts ...engine.Option) (*engine.Store, string) {
	t.Helper()
	walPath := filepath.Join(t.TempDir(), "store.wal")
	s, err := engine.Open(walPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, walPath
}

func TestEngine_BasicPutGetDelete(t *testing.T) {
	s, _ := openStore(t)

	prev, existed, err := s.Insert("foo", "bar")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "", prev)

	val, found := s.Get("foo")
	assert.True(t, found)
	assert.Equal(t, "bar", val)

	deleted, err := s.Delete("foo")
	require.NoError(t, err)
	assert.True(t, deleted)

	val, found = s.Get("foo")
	assert.False(t, found)
	assert.Equal(t, "", val)

	deleted, err = s.Delete("foo")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestEngine_InsertReturnsPrevious(t *testing.T) {
	s, _ := openStore(t)

	_, _, err := s.Insert("k", "1")
	require.NoError(t, err)
	prev, existed, err := s.Insert("k", "2")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "1", prev)
}

func TestEngine_WALReplay(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "store.wal")

	func() {
		db, err := engine.Open(walPath)
		require.NoError(t, err)
		defer db.Close()

		for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", ""}, {"a", "3"}} {
			_, _, err = db.Insert(kv[0], kv[1])
			require.NoError(t, err)
		}
		_, err = db.Delete("b")
		require.NoError(t, err)
		_, err = db.Delete("missing")
		require.NoError(t, err)
	}()

	// Simulate restart (replay WAL)
	db2, err := engine.Open(walPath)
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, []record.Pair{{Key: "a", Value: "3"}, {Key: "c", Value: ""}}, db2.Iter())

	// nothing was logged for the delete of a missing key
	data, err := os.ReadFile(walPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "missing")
}

func TestEngine_ReplayOrder(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "store.wal")
	require.NoError(t, os.WriteFile(walPath, []byte("PUT|x|1\nPUT|x|2\nDELETE|x\nPUT|x|3\n"), 0644))

	s, err := engine.Open(walPath)
	require.NoError(t, err)
	defer s.Close()

	val, found := s.Get("x")
	assert.True(t, found)
	assert.Equal(t, "3", val)
	assert.Equal(t, 1, s.Len())
}

func TestEngine_ReplaySkipsGarbage(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "store.wal")
	require.NoError(t, os.WriteFile(walPath, []byte("%%garbage%%\nPUT|good|yes\nnot|a|valid|line\n"), 0644))

	s, err := engine.Open(walPath)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []record.Pair{{Key: "good", Value: "yes"}}, s.Iter())
	assert.Equal(t, uint64(2), s.Stats().WAL.Skipped)
}

func TestEngine_InvalidPath(t *testing.T) {
	_, err := engine.Open("/nonexistent/directory/store.wal")
	assert.Error(t, err)
}

func TestEngine_InvalidKeyChangesNothing(t *testing.T) {
	s, walPath := openStore(t)

	for _, key := range []string{"", "a|b", "a=b", string(make([]byte, 256))} {
		_, _, err := s.Insert(key, "v")
		assert.ErrorIs(t, err, record.ErrInvalidKey)
		_, err = s.Delete(key)
		assert.ErrorIs(t, err, record.ErrInvalidKey)
		assert.ErrorIs(t, s.SetTTL(key, 1), record.ErrInvalidKey)
	}
	_, _, err := s.Insert("k", "line\nbreak")
	assert.ErrorIs(t, err, record.ErrInvalidValue)

	assert.Zero(t, s.Len())
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestEngine_MaxKeyLenOption(t *testing.T) {
	s, _ := openStore(t, engine.WithMaxKeyLen(4))

	_, _, err := s.Insert("four", "ok")
	require.NoError(t, err)
	_, _, err = s.Insert("fives", "no")
	assert.ErrorIs(t, err, record.ErrInvalidKey)
}

func TestEngine_FailedAppendDoesNotMutate(t *testing.T) {
	s, _ := openStore(t)

	_, _, err := s.Insert("a", "1")
	require.NoError(t, err)

	// closing the log makes every following append fail
	require.NoError(t, s.Close())

	_, _, err = s.Insert("a", "2")
	assert.ErrorIs(t, err, wal.ErrClosed)
	_, err = s.Delete("a")
	assert.ErrorIs(t, err, wal.ErrClosed)

	val, found := s.Get("a")
	assert.True(t, found)
	assert.Equal(t, "1", val)
}

func TestEngine_TTLZeroExpiresImmediately(t *testing.T) {
	s, walPath := openStore(t)

	_, _, err := s.Insert("k", "v")
	require.NoError(t, err)
	require.NoError(t, s.SetTTL("k", 0))

	_, found := s.Get("k")
	assert.False(t, found)
	assert.Zero(t, s.Len(), "expired key should be purged from storage")
	assert.Zero(t, s.Stats().Expiring)

	// the purge is durable
	require.NoError(t, s.Close())
	s2, err := engine.Open(walPath)
	require.NoError(t, err)
	defer s2.Close()
	_, found = s2.Get("k")
	assert.False(t, found)
}

func TestEngine_TTLWithClock(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s, _ := openStore(t, engine.WithClock(clock.Now))

	_, _, err := s.Insert("session", "abc")
	require.NoError(t, err)
	require.NoError(t, s.SetTTL("session", 10))

	left, ok := s.TTL("session")
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, left)

	clock.Advance(9 * time.Second)
	val, found := s.Get("session")
	assert.True(t, found)
	assert.Equal(t, "abc", val)

	// listing does not filter keys past their deadline
	clock.Advance(time.Second)
	assert.Len(t, s.Iter(), 1)

	_, found = s.Get("session")
	assert.False(t, found)
	assert.Empty(t, s.Iter())

	_, ok = s.TTL("session")
	assert.False(t, ok)
}

func TestEngine_TTLOnMissingKey(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s, _ := openStore(t, engine.WithClock(clock.Now))

	require.NoError(t, s.SetTTL("later", 5))
	_, _, err := s.Insert("later", "v")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	assert.False(t, s.Contains("later"))
}

func TestEngine_InsertAfterExpiryStartsFresh(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s, _ := openStore(t, engine.WithClock(clock.Now))

	_, _, err := s.Insert("k", "old")
	require.NoError(t, err)
	require.NoError(t, s.SetTTL("k", 1))
	clock.Advance(2 * time.Second)

	prev, existed, err := s.Insert("k", "new")
	require.NoError(t, err)
	assert.False(t, existed, "an expired value is not reported as previous")
	assert.Equal(t, "", prev)

	val, found := s.Get("k")
	assert.True(t, found)
	assert.Equal(t, "new", val)
}

func TestEngine_DeleteClearsDeadline(t *testing.T) {
	s, _ := openStore(t)

	_, _, err := s.Insert("k", "v")
	require.NoError(t, err)
	require.NoError(t, s.SetTTL("k", 60))

	deleted, err := s.Delete("k")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Zero(t, s.Stats().Expiring)
}

func TestEngine_Clear(t *testing.T) {
	s, walPath := openStore(t)

	for _, k := range []string{"a", "b", "c"} {
		_, _, err := s.Insert(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, s.Clear())
	assert.Zero(t, s.Len())

	require.NoError(t, s.Close())
	s2, err := engine.Open(walPath)
	require.NoError(t, err)
	defer s2.Close()
	assert.Zero(t, s2.Len())
}

func TestEngine_FileBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.WALPath = filepath.Join(dir, "store.wal")
	cfg.SnapshotPath = ""
	cfg.Backend = config.BackendFile
	cfg.StoragePath = filepath.Join(dir, "store.data")

	s, err := engine.OpenConfig(cfg)
	require.NoError(t, err)

	_, _, err = s.Insert("a", "1")
	require.NoError(t, err)
	_, _, err = s.Insert("b", "2")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(cfg.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "a=1\nb=2\n", string(data))

	s, err = engine.OpenConfig(cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "file", s.Stats().Backend)
	assert.Equal(t, []record.Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, s.Iter())
}

func TestEngine_BoltBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.WALPath = filepath.Join(dir, "store.wal")
	cfg.SnapshotPath = filepath.Join(dir, "store.snapshot")
	cfg.Backend = config.BackendBolt
	cfg.StoragePath = filepath.Join(dir, "store.bolt")

	s, err := engine.OpenConfig(cfg)
	require.NoError(t, err)
	_, _, err = s.Insert("a", "1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = engine.OpenConfig(cfg)
	require.NoError(t, err)
	defer s.Close()
	val, found := s.Get("a")
	assert.True(t, found)
	assert.Equal(t, "1", val)
}

func TestEngine_OpenConfigRejectsUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "tape"
	_, err := engine.OpenConfig(cfg)
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestEngine_StorageFailureSurfaces(t *testing.T) {
	dm := mockdm.NewMockDiskManager()
	fs, err := storage.NewFileStorage(dm, "store.data")
	require.NoError(t, err)

	walPath := filepath.Join(t.TempDir(), "store.wal")
	s, err := engine.OpenWithBackend(walPath, fs)
	require.NoError(t, err)

	_, _, err = s.Insert("b", "old")
	require.NoError(t, err)
	_, _, err = s.Insert("kept", "1")
	require.NoError(t, err)

	boom := errors.New("disk full")
	dm.FailWrites(boom)

	_, _, err = s.Insert("a", "1")
	assert.ErrorIs(t, err, boom)
	_, found := s.Get("a")
	assert.False(t, found)

	_, _, err = s.Insert("b", "new")
	assert.ErrorIs(t, err, boom)
	_, err = s.Delete("kept")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Clear(), boom)

	want := []record.Pair{{Key: "b", Value: "old"}, {Key: "kept", Value: "1"}}
	assert.Equal(t, want, s.Iter())
	require.NoError(t, s.Close())

	// rejected writes must not come back on replay
	reopened, err := engine.Open(walPath)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, want, reopened.Iter())
}

func TestEngine_HugeTTLDoesNotExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s, _ := openStore(t, engine.WithClock(clock.Now))

	_, _, err := s.Insert("a", "1")
	require.NoError(t, err)
	require.NoError(t, s.SetTTL("a", math.MaxUint64))

	const century = 100 * 365 * 24 * time.Hour
	clock.Advance(century)

	val, found := s.Get("a")
	assert.True(t, found)
	assert.Equal(t, "1", val)

	left, ok := s.TTL("a")
	assert.True(t, ok)
	assert.Greater(t, left, century)
}

func TestEngine_Stats(t *testing.T) {
	s, walPath := openStore(t)

	_, _, err := s.Insert("a", "1")
	require.NoError(t, err)
	require.NoError(t, s.SetTTL("a", 100))
	s.BeginTx()
	_, _, err = s.Insert("b", "2")
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, "memory", st.Backend)
	assert.Equal(t, 1, st.Keys)
	assert.Equal(t, 1, st.Expiring)
	assert.True(t, st.InTx)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, uint64(1), st.WAL.Appends)
	assert.Equal(t, walPath, s.WALPath())
}
