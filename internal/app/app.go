// Package app wires configuration into the running components shared by the
// daemon and the kw command.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/analyzer"
	"github.com/ibeckermayer/kolwatch/internal/auth"
	"github.com/ibeckermayer/kolwatch/internal/catalog"
	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/metrics"
	"github.com/ibeckermayer/kolwatch/internal/notifier"
	"github.com/ibeckermayer/kolwatch/internal/persist"
	"github.com/ibeckermayer/kolwatch/internal/pipeline"
	"github.com/ibeckermayer/kolwatch/internal/scraper"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/xhttp"
)

// App holds the application state.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store    *store.Store
	cache    *store.Cache
	auth     *auth.Manager
	fetcher  scraper.Fetcher
	pipeline *pipeline.Orchestrator
}

// LoadConfig reads the config file, writing the defaults on first run.
// created reports whether the file was just written. Variables from the .env
// file beside it, environment overrides and derived paths are applied to the
// result.
func LoadConfig() (cfg *config.Config, created bool, err error) {
	cfg, err = config.Load()
	switch {
	case err == nil:
	case os.IsNotExist(err) || errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
		if err := cfg.Save(); err != nil {
			return nil, false, errors.Wrap(err, "save default config")
		}
		created = true
	default:
		return nil, false, errors.Wrap(err, "load config")
	}

	envPath, err := config.EnvFilePath()
	if err != nil {
		return nil, false, err
	}
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, false, err
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.ResolvePaths(); err != nil {
		return nil, false, errors.Wrap(err, "resolve paths")
	}
	return cfg, created, nil
}

// NewAuth builds the X client and the session manager for cfg.
func NewAuth(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*auth.Manager, *xhttp.Client, error) {
	client, err := xhttp.New(xhttp.Options{
		Timeout: time.Duration(cfg.Source.RequestTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}

	cookies := auth.NewCookieStore(auth.CookiePath(cfg.Source.CookieDir, cfg.Source.Username))
	login := &auth.BrowserLogin{
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Email:    cfg.Source.Email,
		Headless: cfg.Source.Headless,
		Timeout:  time.Duration(cfg.Source.LoginTimeoutMin) * time.Minute,
	}
	mgr := auth.NewManager(cookies, cfg.Source.Username,
		auth.WithVerifier(auth.NewAPIVerifier(client)),
		auth.WithLoginer(login),
		auth.WithMetrics(m),
		auth.WithLogger(logger),
	)
	return mgr, client, nil
}

// New validates cfg and builds every component. Close releases them.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{config: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	if cfg.Debug.Cache {
		dir, err := config.CacheDir()
		if err != nil {
			return nil, err
		}
		a.cache = store.NewCache(dir)
	}

	s, err := store.Open(store.Options{
		Driver:    cfg.Storage.Driver,
		Path:      cfg.Storage.Path,
		URL:       cfg.Storage.URL,
		AuthToken: cfg.Storage.AuthToken,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	a.store = s

	mgr, client, err := NewAuth(cfg, a.metrics, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	a.auth = mgr

	a.fetcher, err = scraper.New(cfg, client, scraper.Options{
		Cache:   a.cache,
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Handles:        cfg.Tracking.Handles,
		PostsPerHandle: cfg.Tracking.PostsPerHandle,
		Sessions:       mgr,
		Fetcher:        a.fetcher,
		Persister:      persist.New(s, persist.WithLogger(logger)),
		Resolver:       catalog.New(s, logger),
		Metrics:        a.metrics,
		Logger:         logger,
	}

	classifier, err := analyzer.New(cfg.Classifier, a.cache, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if classifier.Enabled() {
		deps.Classifier = classifier
	}

	if cfg.Report.Enabled {
		n, err := notifier.NewFromConfig(cfg.Email, cfg.Report, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		deps.Reporter = n
	}

	a.pipeline = pipeline.New(deps)
	return a, nil
}

func (a *App) Config() *config.Config           { return a.config }
func (a *App) Store() *store.Store              { return a.store }
func (a *App) Auth() *auth.Manager              { return a.auth }
func (a *App) Fetcher() scraper.Fetcher         { return a.fetcher }
func (a *App) Pipeline() *pipeline.Orchestrator { return a.pipeline }

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// RunOnce performs one pipeline run. Stats are written to the debug cache
// when it is enabled.
func (a *App) RunOnce(ctx context.Context) (pipeline.Stats, error) {
	stats, err := a.pipeline.Run(ctx)
	if !errors.Is(err, pipeline.ErrRunInProgress) {
		if path, cerr := a.cache.Save(store.CacheRuns, "stats", stats); cerr != nil {
			a.logger.Warn("failed to cache run stats", "err", cerr)
		} else if path != "" {
			a.logger.Debug("cached run stats", "path", path)
		}
	}
	return stats, err
}

// IngestJob is RunOnce shaped for the scheduler. A run that finds another
// one active is logged and dropped.
func (a *App) IngestJob(ctx context.Context) error {
	_, err := a.RunOnce(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		a.logger.Warn("previous run still active, skipping")
		return nil
	}
	return err
}

// TriggerLogin forces a fresh login and saves the cookies.
func (a *App) TriggerLogin(ctx context.Context) error {
	a.logger.Info("login triggered")
	if _, err := a.auth.Login(ctx); err != nil {
		return err
	}
	a.logger.Info("login successful, cookies saved")
	return nil
}

// TriggerLogout clears stored X.com credentials.
func (a *App) TriggerLogout() error {
	a.logger.Info("logout triggered, clearing stored cookies")
	return a.auth.Logout()
}

// ServeMetrics serves /metrics on the configured address until ctx is done.
// It returns immediately when metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.metrics == nil {
		return nil
	}
	logger := logging.Component(a.logger, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
