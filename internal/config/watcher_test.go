package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path string, cfg *Config) {
	t.Helper()
	require.NoError(t, cfg.Save(path))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.MaxFilesPerRun = 5
	writeConfigFile(t, path, cfg)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	cfg.MaxFilesPerRun = 9
	writeConfigFile(t, path, cfg)

	select {
	case c := <-reloaded:
		assert.Equal(t, 9, c.MaxFilesPerRun)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was never observed")
	}
}

func TestWatcherSkipsUnreadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, Default())

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0644))

	select {
	case <-reloaded:
		t.Fatal("callback fired for an unreadable config")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatcherStartStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, Default())

	w, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx)) // second Start is a no-op
	assert.True(t, w.IsWatching())

	w.Stop()
	w.Stop() // second Stop is a no-op
	assert.False(t, w.IsWatching())
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, Default())

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0644))

	select {
	case <-reloaded:
		t.Fatal("callback fired for an unrelated file")
	case <-time.After(1200 * time.Millisecond):
	}
}
