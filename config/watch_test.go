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

func writeConfig(t *testing.T, path, symbol string) {
	t.Helper()
	body := "env: simulation\nsymbol: " + symbol + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "BNB/USDT")

	reloaded := make(chan AppConfig, 4)
	w, err := NewWatcher(path, 10*time.Millisecond, func(cfg AppConfig) error {
		reloaded <- cfg
		return nil
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeConfig(t, path, "ETH/USDT")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "ETH/USDT", cfg.Symbol)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after file change")
	}
	assert.False(t, w.LastReload().IsZero(), "last reload time not recorded")
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "BNB/USDT")

	calls := make(chan struct{}, 4)
	w, err := NewWatcher(path, 10*time.Millisecond, func(cfg AppConfig) error {
		calls <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("env: [broken"), 0o644))

	select {
	case <-calls:
		t.Fatal("invalid config must not reach the reload callback")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherSkipsTruncatedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "BNB/USDT")

	calls := make(chan AppConfig, 4)
	w, err := NewWatcher(path, 10*time.Millisecond, func(cfg AppConfig) error {
		calls <- cfg
		return nil
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// 截断后的空文件不能当成默认配置回调
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	select {
	case cfg := <-calls:
		t.Fatalf("truncated config reached the reload callback: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherMissingFile(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), 0, nil)
	require.NoError(t, err)
	defer w.Stop()
	assert.Error(t, w.Start(context.Background()))
}
