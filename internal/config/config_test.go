package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Classifier.APIKey = "sk-test"
	return cfg
}

func TestDefaultIsValidWithKey(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	d, err := cfg.Interval()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)
	assert.Equal(t, "-is:retweet (from:Keeper_Degen) -filter:replies", cfg.Tracking.Query("Keeper_Degen"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no handles", func(c *Config) { c.Tracking.Handles = nil }, "tracking.handles is empty"},
		{"blank handle", func(c *Config) { c.Tracking.Handles = []string{"a", " "} }, "tracking.handles[1] is blank"},
		{"bad template", func(c *Config) { c.Tracking.QueryTemplate = "from:me" }, "exactly one %s"},
		{"bad mode", func(c *Config) { c.Tracking.SearchMode = "Oldest" }, "search_mode"},
		{"bad fetcher", func(c *Config) { c.Source.Fetcher = "rss" }, "source.fetcher"},
		{"missing key", func(c *Config) { c.Classifier.APIKey = "" }, "classifier.api_key"},
		{"libsql without url", func(c *Config) { c.Storage.Driver = "libsql" }, "storage.url"},
		{"short interval", func(c *Config) { c.Schedule.Interval = "30s" }, "shorter than a minute"},
		{"report without smtp", func(c *Config) { c.Report.Enabled = true }, "report.enabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	none := validConfig()
	none.Classifier.Provider = ProviderNone
	none.Classifier.APIKey = ""
	assert.NoError(t, none.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := validConfig()
	cfg.Tracking.Handles = []string{"alpha", "beta"}
	cfg.Schedule.Interval = "15m"
	require.NoError(t, cfg.SaveFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[tracking]\nhandles = [\"solo\"]\n"), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, cfg.Tracking.Handles)
	assert.Equal(t, 10, cfg.Tracking.PostsPerHandle)
	assert.Equal(t, FetcherGraphQL, cfg.Source.Fetcher)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"KOLWATCH_X_USERNAME": "bot",
		"KOLWATCH_X_PASSWORD": "hunter2",
		"ANTHROPIC_API_KEY":   "sk-ant",
		"OPENAI_API_KEY":      "sk-oai",
	}
	cfg := Default()
	cfg.Classifier.Provider = ProviderAnthropic
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "bot", cfg.Source.Username)
	assert.Equal(t, "hunter2", cfg.Source.Password)
	assert.Equal(t, "sk-ant", cfg.Classifier.APIKey)

	cfg.Classifier.APIKey = "from-file"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "from-file", cfg.Classifier.APIKey, "file key wins over provider env")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("KOLWATCH_TEST_DOTENV=from-file\nKOLWATCH_TEST_SET=from-file\n"), 0600))
	t.Setenv("KOLWATCH_TEST_SET", "from-env")
	t.Setenv("KOLWATCH_TEST_DOTENV", "")
	os.Unsetenv("KOLWATCH_TEST_DOTENV")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("KOLWATCH_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("KOLWATCH_TEST_SET"))
}

func TestResolvePaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg := Default()
	require.NoError(t, cfg.ResolvePaths())
	assert.Equal(t, "cookies", filepath.Base(cfg.Source.CookieDir))
	assert.Equal(t, "kolwatch.db", filepath.Base(cfg.Storage.Path))

	cfg = Default()
	cfg.Storage.Path = "/data/kw.db"
	require.NoError(t, cfg.ResolvePaths())
	assert.Equal(t, "/data/kw.db", cfg.Storage.Path)
}
