package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/metrics"
)

// Loginer performs an interactive or scripted login and returns the
// resulting browser cookies.
type Loginer interface {
	Login(ctx context.Context) ([]*network.Cookie, error)
}

// Manager handles X.com authentication for one account.
type Manager struct {
	cookieStore *CookieStore
	username    string
	verifier    Verifier
	loginer     Loginer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	cached *Session
}

// Option configures a Manager.
type Option func(*Manager)

func WithVerifier(v Verifier) Option { return func(m *Manager) { m.verifier = v } }
func WithLoginer(l Loginer) Option   { return func(m *Manager) { m.loginer = l } }

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a new auth manager
func NewManager(cookieStore *CookieStore, username string, opts ...Option) *Manager {
	m := &Manager{
		cookieStore: cookieStore,
		username:    username,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.Component(m.logger, "auth")
	return m
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.cookieStore.IsValid()
}

// Acquire returns an authenticated session. Stored cookies are restored and
// verified first; only when that fails is a fresh login performed. Failures
// are AuthErrors.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, nil
	}

	sess, err := m.restore(ctx)
	if err == nil {
		m.logger.Debug("restored session from cookies", "username", m.username, "path", m.cookieStore.Path())
		m.cached = sess
		return sess, nil
	}
	m.logger.Info("stored session unusable, logging in", "username", m.username, "reason", err)

	sess, err = m.login(ctx)
	if err != nil {
		return nil, err
	}
	m.cached = sess
	return sess, nil
}

// Login forces a fresh login regardless of stored cookies.
func (m *Manager) Login(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.login(ctx)
	if err != nil {
		return nil, err
	}
	m.cached = sess
	return sess, nil
}

// Invalidate drops the cached session so the next Acquire restores again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	m.Invalidate()
	return m.cookieStore.Clear()
}

func (m *Manager) restore(ctx context.Context) (*Session, error) {
	stored, err := m.cookieStore.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load cookies")
	}
	if !stored.Valid(m.now()) {
		return nil, errors.New("stored cookies expired or incomplete")
	}

	sess := &Session{Username: m.username, Cookies: stored.Cookies, AcquiredAt: m.now()}
	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, sess); err != nil {
			return nil, errors.Wrap(err, "verify session")
		}
	}
	return sess, nil
}

func (m *Manager) login(ctx context.Context) (*Session, error) {
	if m.loginer == nil {
		return nil, errs.Auth("login", errors.New("no login method configured"))
	}

	cookies, err := m.loginer.Login(ctx)
	if err != nil {
		return nil, errs.Auth("login", err)
	}
	m.metrics.IncSessionLogins()

	if !hasAuthCookies(cookies) {
		return nil, errs.Auth("login", errors.New("login finished without auth_token and ct0 cookies"))
	}
	if err := m.cookieStore.Save(cookies); err != nil {
		return nil, errs.Auth("save cookies", err)
	}

	m.logger.Info("logged in", "username", m.username, "cookies", len(cookies))
	return &Session{Username: m.username, Cookies: cookies, AcquiredAt: m.now()}, nil
}
