package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCliConfig(stdin string) (*CliConfig, *bytes.Buffer) {
	var out bytes.Buffer
	config := NewCliConfig()
	config.Exit = func(int) {}
	config.Stdin = strings.NewReader(stdin)
	config.Stdout = &out
	config.Stderr = &out
	return config, &out
}

func pathFlags(dir string, extra ...string) []string {
	args := []string{
		"--wal", filepath.Join(dir, "db.wal"),
		"--snapshot", filepath.Join(dir, "db.snapshot"),
		"--data", filepath.Join(dir, "db.data"),
	}
	return append(args, extra...)
}

func TestCli_Repl(t *testing.T) {
	dir := t.TempDir()

	config, out := testCliConfig("put foo bar\nget foo\nsnapshot\nput baz qux\nexit\n")
	require.NoError(t, Cli(context.Background(), pathFlags(dir, "repl"), config))
	assert.Contains(t, out.String(), "> ok\n> bar\n> Snapshot and compaction complete.\n")

	// a second session recovers from the snapshot plus the log
	config, out = testCliConfig("list\n")
	require.NoError(t, Cli(context.Background(), pathFlags(dir, "repl"), config))
	assert.Contains(t, out.String(), "baz = qux\nfoo = bar\n")
}

func TestCli_ReplBackends(t *testing.T) {
	for _, backend := range []string{"memory", "file", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			args := pathFlags(dir, "--backend", backend, "repl")

			config, _ := testCliConfig("put k v\n")
			require.NoError(t, Cli(context.Background(), args, config))

			config, out := testCliConfig("get k\n")
			require.NoError(t, Cli(context.Background(), args, config))
			assert.Contains(t, out.String(), "> v\n")
		})
	}
}

func TestCli_UnknownBackend(t *testing.T) {
	config, _ := testCliConfig("")
	err := Cli(context.Background(), pathFlags(t.TempDir(), "--backend", "paper", "repl"), config)
	assert.Error(t, err)
}

func TestCli_ServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config, _ := testCliConfig("")
	err := Cli(ctx, pathFlags(t.TempDir(), "serve", "--listen", "127.0.0.1:0"), config)
	assert.NoError(t, err)
}
