// Package persist writes one normalized post graph per transaction.
package persist

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

// Hook runs inside the transaction after the post row is written and before
// any sub-entity. A non-nil error aborts the transaction.
type Hook func(ctx context.Context, np types.NormalizedPost) error

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHook installs a Hook.
func WithHook(h Hook) Option {
	return func(c *Coordinator) { c.hook = h }
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.Component(l, "persist") }
}

// Coordinator upserts a post and its sub-entities atomically.
type Coordinator struct {
	store  *store.Store
	hook   Hook
	logger *slog.Logger
}

// New creates a coordinator over s.
func New(s *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{store: s, logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Persist writes np in a single transaction: the post first, then thread
// children, mentions, photos and videos as four concurrent groups joined
// before commit. On any failure nothing is kept and a PersistenceError is
// returned.
func (c *Coordinator) Persist(ctx context.Context, np types.NormalizedPost) error {
	postID := np.Post.PostID

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return errs.Persistence("begin "+postID, err)
	}
	defer tx.Rollback()

	if err := tx.UpsertPost(ctx, np.Post); err != nil {
		return errs.Persistence("post "+postID, err)
	}

	if c.hook != nil {
		if err := c.hook(ctx, np); err != nil {
			return errs.Persistence("hook "+postID, err)
		}
	}

	// Plain Group: every group runs to completion before the rollback.
	var g errgroup.Group
	g.Go(func() error {
		for _, child := range np.Thread {
			if err := tx.UpsertThreadChild(ctx, child); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, m := range np.Mentions {
			if err := tx.UpsertMention(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, p := range np.Photos {
			if err := tx.UpsertPhoto(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for _, v := range np.Videos {
			if err := tx.UpsertVideo(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return errs.Persistence("sub-entities "+postID, err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Persistence("commit "+postID, err)
	}

	c.logger.Debug("post persisted",
		"post_id", postID,
		"thread", len(np.Thread),
		"mentions", len(np.Mentions),
		"photos", len(np.Photos),
		"videos", len(np.Videos))
	return nil
}
