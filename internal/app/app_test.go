package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/logging"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("KOLWATCH_CONFIG", filepath.Join(dir, "conf", "config.toml"))
	t.Setenv("KOLWATCH_X_USERNAME", "")
	os.Unsetenv("KOLWATCH_X_USERNAME")
	return dir
}

func TestLoadConfigCreatesDefaultsAndReadsEnvFile(t *testing.T) {
	dir := isolate(t)

	cfg, created, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, config.Default().Tracking.Handles, cfg.Tracking.Handles)
	assert.FileExists(t, filepath.Join(dir, "conf", "config.toml"))
	assert.NotEmpty(t, cfg.Storage.Path)
	assert.NotEmpty(t, cfg.Source.CookieDir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", ".env"), []byte("KOLWATCH_X_USERNAME=envbot\n"), 0600))
	cfg, created, err = LoadConfig()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "envbot", cfg.Source.Username)
}

func testConfig(t *testing.T) *config.Config {
	dir := isolate(t)
	cfg := config.Default()
	cfg.Classifier.Provider = config.ProviderNone
	cfg.Storage.Path = filepath.Join(dir, "kw.db")
	cfg.Source.CookieDir = filepath.Join(dir, "cookies")
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Pipeline())
	assert.NotNil(t, a.Fetcher())
	assert.NotNil(t, a.Auth())
	assert.False(t, a.Auth().IsAuthenticated())

	counts, err := a.Store().Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Posts)

	// disabled metrics return at once
	require.NoError(t, a.ServeMetrics(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tracking.Handles = nil
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Report.Enabled = true
	cfg.Email = config.EmailConfig{Provider: "pigeon", SMTPHost: "h", FromAddr: "a@b", ToAddr: "c@d"}
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestServeMetricsStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	a, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServeMetrics(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
