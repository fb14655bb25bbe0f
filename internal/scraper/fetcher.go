// Package scraper pulls posts for tracked authors from X, either through the
// web client's GraphQL API or by driving a real browser.
package scraper

import (
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/kolwatch/internal/auth"
	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/metrics"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
	"github.com/ibeckermayer/kolwatch/internal/xhttp"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("stream closed")

// Fetcher opens post streams for an authenticated session.
type Fetcher interface {
	// FetchHandle streams the most recent posts of one author.
	FetchHandle(ctx context.Context, sess *auth.Session, handle string, limit int) (Stream, error)
	// Search streams up to limit posts matching a raw search query.
	Search(ctx context.Context, sess *auth.Session, query string, limit int, mode string) (Stream, error)
}

// Stream yields raw posts lazily. Next returns io.EOF once drained; a drained
// or closed stream stays that way.
type Stream interface {
	Next(ctx context.Context) (types.RawPost, error)
	Close() error
}

// Options are shared by both fetcher implementations.
type Options struct {
	// Query renders the search query for a handle.
	Query             func(handle string) string
	Mode              string
	RequestsPerMinute float64
	Cache             *store.Cache
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

func (o *Options) defaults() {
	if o.Query == nil {
		o.Query = config.Default().Tracking.Query
	}
	if o.Mode == "" {
		o.Mode = config.SearchLatest
	}
}

func (o *Options) limiter() *rate.Limiter {
	if o.RequestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(o.RequestsPerMinute/60), 1)
}

// New builds the fetcher named by cfg.Source.Fetcher.
func New(cfg *config.Config, client *xhttp.Client, opts Options) (Fetcher, error) {
	if opts.Query == nil {
		opts.Query = cfg.Tracking.Query
	}
	if opts.Mode == "" {
		opts.Mode = cfg.Tracking.SearchMode
	}
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = cfg.Source.RequestsPerMinute
	}

	switch cfg.Source.Fetcher {
	case config.FetcherGraphQL, "":
		return NewGraphQL(client, cfg.Source.SearchQueryID, opts), nil
	case config.FetcherBrowser:
		return NewBrowser(cfg.Source.Headless, opts), nil
	default:
		return nil, errors.Errorf("unknown fetcher: %s", cfg.Source.Fetcher)
	}
}

// pageFunc loads the next page of a stream. more is false on the last page.
type pageFunc func(ctx context.Context) (posts []types.RawPost, more bool, err error)

type pageStream struct {
	next    pageFunc
	limiter *rate.Limiter
	limit   int
	onClose func()

	buf     []types.RawPost
	seen    map[string]bool
	emitted int
	more    bool
	done    bool
	closed  bool
}

func newPageStream(next pageFunc, limit int, limiter *rate.Limiter, onClose func()) *pageStream {
	return &pageStream{
		next:    next,
		limiter: limiter,
		limit:   limit,
		onClose: onClose,
		seen:    make(map[string]bool),
		more:    true,
	}
}

func (s *pageStream) Next(ctx context.Context) (types.RawPost, error) {
	if s.closed {
		return types.RawPost{}, ErrStreamClosed
	}
	for {
		if s.done || (s.limit > 0 && s.emitted >= s.limit) {
			s.finish()
			return types.RawPost{}, io.EOF
		}
		if len(s.buf) > 0 {
			p := s.buf[0]
			s.buf = s.buf[1:]
			// Posts without an id pass through so normalization rejects them.
			if p.ID != "" {
				if s.seen[p.ID] {
					continue
				}
				s.seen[p.ID] = true
			}
			s.emitted++
			return p, nil
		}
		if !s.more {
			s.finish()
			return types.RawPost{}, io.EOF
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return types.RawPost{}, errs.Fetch("wait for rate limit", err)
			}
		}
		posts, more, err := s.next(ctx)
		if err != nil {
			s.finish()
			return types.RawPost{}, errs.Fetch("next page", err)
		}
		s.buf = posts
		s.more = more && len(posts) > 0
	}
}

func (s *pageStream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.buf = nil
	if s.onClose != nil {
		s.onClose()
		s.onClose = nil
	}
}

func (s *pageStream) Close() error {
	s.finish()
	s.closed = true
	return nil
}
