package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Classifier providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// Fetcher implementations
const (
	FetcherGraphQL = "graphql"
	FetcherBrowser = "browser"
)

// Search modes
const (
	SearchLatest = "Latest"
	SearchTop    = "Top"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Tracking   TrackingConfig   `toml:"tracking"`
	Source     SourceConfig     `toml:"source"`
	Classifier ClassifierConfig `toml:"classifier"`
	Storage    StorageConfig    `toml:"storage"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
	Report     ReportConfig     `toml:"report"`
	Email      EmailConfig      `toml:"email"`
	Debug      DebugConfig      `toml:"debug"`
}

// TrackingConfig lists the authors to watch and how to query them.
type TrackingConfig struct {
	Handles        []string `toml:"handles"`
	PostsPerHandle int      `toml:"posts_per_handle"`
	// QueryTemplate has one %s, replaced by the handle.
	QueryTemplate string `toml:"query_template"`
	SearchMode    string `toml:"search_mode"`
}

type SourceConfig struct {
	Fetcher           string  `toml:"fetcher"`
	Username          string  `toml:"username"`
	Password          string  `toml:"password"`
	Email             string  `toml:"email"`
	CookieDir         string  `toml:"cookie_dir"`
	Headless          bool    `toml:"headless"`
	SearchQueryID     string  `toml:"search_query_id"`
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	RequestTimeoutSec int     `toml:"request_timeout_seconds"`
	LoginTimeoutMin   int     `toml:"login_timeout_minutes"`
}

type ClassifierConfig struct {
	Provider   string `toml:"provider"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	TimeoutSec int    `toml:"timeout_seconds"`
}

type StorageConfig struct {
	Driver    string `toml:"driver"`
	Path      string `toml:"path"`
	URL       string `toml:"url"`
	AuthToken string `toml:"auth_token"`
}

type ScheduleConfig struct {
	Interval      string `toml:"interval"`
	Timezone      string `toml:"timezone"`
	RunOnStart    bool   `toml:"run_on_start"`
	RunTimeoutMin int    `toml:"run_timeout_minutes"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// File, when set, receives logs instead of stderr and is rotated.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// ReportConfig controls the new-asset email.
type ReportConfig struct {
	Enabled   bool `toml:"enabled"`
	MaxAssets int  `toml:"max_assets"`
}

type EmailConfig struct {
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

type DebugConfig struct {
	Cache bool `toml:"cache"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Tracking: TrackingConfig{
			Handles:        []string{"Keeper_Degen", "CryptoBionic", "whalehamlux"},
			PostsPerHandle: 10,
			QueryTemplate:  "-is:retweet (from:%s) -filter:replies",
			SearchMode:     SearchLatest,
		},
		Source: SourceConfig{
			Fetcher:           FetcherGraphQL,
			Headless:          true,
			SearchQueryID:     "nK1dw4oV3k4w5TdtcAdSww",
			RequestsPerMinute: 30,
			RequestTimeoutSec: 30,
			LoginTimeoutMin:   5,
		},
		Classifier: ClassifierConfig{
			Provider:   ProviderOpenAI,
			Model:      "gpt-4o",
			TimeoutSec: 60,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Schedule: ScheduleConfig{
			Interval:      "10m",
			Timezone:      "UTC",
			RunOnStart:    true,
			RunTimeoutMin: 30,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Report: ReportConfig{
			MaxAssets: 50,
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "kolwatch"), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "kolwatch"), nil
}

// ConfigPath returns the full path to the config file. KOLWATCH_CONFIG
// overrides the platform default.
func ConfigPath() (string, error) {
	if p := os.Getenv("KOLWATCH_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config from disk
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile decodes path over the defaults, so omitted keys keep their
// default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

// LoadEnvFile exports the KEY=value pairs in path into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

// EnvFilePath is the .env file next to the config file.
func EnvFilePath() (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(path), ".env"), nil
}

// ApplyEnv overrides secrets from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Source.Username, "KOLWATCH_X_USERNAME")
	set(&c.Source.Password, "KOLWATCH_X_PASSWORD")
	set(&c.Source.Email, "KOLWATCH_X_EMAIL")
	set(&c.Storage.AuthToken, "KOLWATCH_LIBSQL_TOKEN")
	set(&c.Email.SMTPPass, "KOLWATCH_SMTP_PASS")

	if c.Classifier.APIKey == "" {
		switch c.Classifier.Provider {
		case ProviderOpenAI:
			set(&c.Classifier.APIKey, "OPENAI_API_KEY")
		case ProviderAnthropic:
			set(&c.Classifier.APIKey, "ANTHROPIC_API_KEY")
		}
	}
}

// ResolvePaths fills derived paths left empty in the file.
func (c *Config) ResolvePaths() error {
	if c.Source.CookieDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		c.Source.CookieDir = filepath.Join(dir, "cookies")
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		c.Storage.Path = filepath.Join(dir, "kolwatch.db")
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, errors.Errorf(format, args...).Error())
	}

	if len(c.Tracking.Handles) == 0 {
		add("tracking.handles is empty")
	}
	for i, h := range c.Tracking.Handles {
		if strings.TrimSpace(h) == "" {
			add("tracking.handles[%d] is blank", i)
		}
	}
	if c.Tracking.PostsPerHandle <= 0 {
		add("tracking.posts_per_handle must be positive")
	}
	if strings.Count(c.Tracking.QueryTemplate, "%s") != 1 {
		add("tracking.query_template must contain exactly one %%s")
	}
	switch c.Tracking.SearchMode {
	case SearchLatest, SearchTop:
	default:
		add("unknown tracking.search_mode: %s", c.Tracking.SearchMode)
	}

	switch c.Source.Fetcher {
	case FetcherGraphQL, FetcherBrowser:
	default:
		add("unknown source.fetcher: %s", c.Source.Fetcher)
	}

	switch c.Classifier.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.Classifier.APIKey == "" {
			add("classifier.api_key is required for %s", c.Classifier.Provider)
		}
	case ProviderNone:
	default:
		add("unknown classifier.provider: %s", c.Classifier.Provider)
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "libsql":
		if c.Storage.URL == "" {
			add("storage.url is required for libsql")
		}
	default:
		add("unknown storage.driver: %s", c.Storage.Driver)
	}

	if _, err := c.Interval(); err != nil {
		add("schedule.interval: %v", err)
	}

	if c.Report.Enabled && (c.Email.SMTPHost == "" || c.Email.ToAddr == "" || c.Email.FromAddr == "") {
		add("report.enabled requires email.smtp_host, email.from_address and email.to_address")
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Interval parses schedule.interval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Schedule.Interval)
	if err != nil {
		return 0, err
	}
	if d < time.Minute {
		return 0, errors.Errorf("interval %s is shorter than a minute", d)
	}
	return d, nil
}

// Query renders the search query for a handle.
func (t TrackingConfig) Query(handle string) string {
	return strings.Replace(t.QueryTemplate, "%s", handle, 1)
}
