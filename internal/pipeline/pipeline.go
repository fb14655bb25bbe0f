// Package pipeline runs the ingestion flow: one session per run, then for
// each tracked handle fetch, normalize, persist, classify and resolve.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/auth"
	"github.com/ibeckermayer/kolwatch/internal/catalog"
	"github.com/ibeckermayer/kolwatch/internal/digest"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/metrics"
	"github.com/ibeckermayer/kolwatch/internal/normalize"
	"github.com/ibeckermayer/kolwatch/internal/persist"
	"github.com/ibeckermayer/kolwatch/internal/scraper"
	"github.com/ibeckermayer/kolwatch/internal/types"
	"github.com/ibeckermayer/kolwatch/internal/xhttp"
)

// ErrRunInProgress is returned by Run while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Stage names a per-post step.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
	StageClassify  Stage = "classify"
	StageResolve   Stage = "resolve"
)

// SessionSource hands out the authenticated session for a run.
type SessionSource interface {
	Acquire(ctx context.Context) (*auth.Session, error)
}

// Classifier extracts an asset candidate from a post, or nil for none.
type Classifier interface {
	Classify(ctx context.Context, post types.Post) (*types.AssetCandidate, error)
}

// Reporter is told about the assets a run added to the catalog.
type Reporter interface {
	ReportNewAssets(ctx context.Context, entries []digest.AssetEntry, run digest.RunSummary) error
}

// NewAsset is an asset first cataloged during a run.
type NewAsset struct {
	Asset   types.Asset
	Handle  string
	PostID  string
	PostURL *string
}

// Stats summarizes one run.
type Stats struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	HandlesAttempted int
	HandlesFailed    int
	PostsFetched     int

	// Done counts posts that went through every stage and resolved an asset.
	Done int
	// NoAsset counts persisted posts the classifier found no asset in,
	// including those whose classification failed.
	NoAsset        int
	ClassifyErrors int
	Failed         map[Stage]int

	AssetsLinked int
	NewAssets    []NewAsset
}

// FailedPosts is the number of posts that stopped at a failing stage.
func (s Stats) FailedPosts() int {
	n := 0
	for _, c := range s.Failed {
		n += c
	}
	return n
}

// Deps are the collaborators of an Orchestrator. Classifier and Reporter
// are optional.
type Deps struct {
	Handles        []string
	PostsPerHandle int

	Sessions   SessionSource
	Fetcher    scraper.Fetcher
	Persister  *persist.Coordinator
	Classifier Classifier
	Resolver   *catalog.Resolver
	Reporter   Reporter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Orchestrator drives pipeline runs. At most one run is active at a time.
type Orchestrator struct {
	deps    Deps
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
}

// New returns an orchestrator over d. Optional dependencies may be nil.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		deps:   d,
		logger: logging.Component(d.Logger, "pipeline"),
		now:    time.Now,
	}
}

// Run performs one ingestion pass. A session failure aborts the run with an
// AuthError. Every other failure is contained: a failing handle is skipped
// and a failing post is counted, and the run moves on.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.deps.Metrics.ObserveRun("skipped", 0)
		return Stats{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	stats := Stats{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
		Failed:    make(map[Stage]int),
	}
	logger := o.logger.With("run_id", stats.RunID)
	logger.Info("run started", "handles", len(o.deps.Handles))

	finish := func(result string) {
		stats.Duration = o.now().Sub(stats.StartedAt)
		o.deps.Metrics.ObserveRun(result, stats.Duration)
	}

	sess, err := o.deps.Sessions.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, errs.ErrAuth) {
			err = errs.Auth("acquire session", err)
		}
		finish("auth_error")
		logger.Error("run aborted, no session", "err", err)
		return stats, err
	}

	resolver := o.deps.Resolver.WithRunID(stats.RunID)
	for _, handle := range o.deps.Handles {
		if err := ctx.Err(); err != nil {
			finish("error")
			return stats, err
		}

		stats.HandlesAttempted++
		hlog := logger.With("handle", handle)
		if err := o.runHandle(ctx, hlog, sess, resolver, handle, &stats); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				finish("error")
				return stats, ctxErr
			}
			stats.HandlesFailed++
			o.deps.Metrics.IncHandleFailed()
			hlog.Error("handle skipped", "err", err)
			if xhttp.IsUnauthorized(err) {
				o.invalidateSession(hlog)
			}
		}
	}

	finish("ok")
	logger.Info("run finished",
		"duration", stats.Duration,
		"posts", stats.PostsFetched,
		"done", stats.Done,
		"no_asset", stats.NoAsset,
		"failed", stats.FailedPosts(),
		"handles_failed", stats.HandlesFailed,
		"new_assets", len(stats.NewAssets),
		"links", stats.AssetsLinked,
	)

	o.report(ctx, logger, stats)
	return stats, nil
}

func (o *Orchestrator) runHandle(ctx context.Context, logger *slog.Logger, sess *auth.Session, resolver *catalog.Resolver, handle string, stats *Stats) error {
	stream, err := o.deps.Fetcher.FetchHandle(ctx, sess, handle, o.deps.PostsPerHandle)
	if err != nil {
		if !errors.Is(err, errs.ErrFetch) {
			err = errs.Fetch("open stream for "+handle, err)
		}
		return err
	}
	defer stream.Close()

	for {
		raw, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if !errors.Is(err, errs.ErrFetch) {
				err = errs.Fetch("read stream for "+handle, err)
			}
			return err
		}

		stats.PostsFetched++
		o.deps.Metrics.IncPostsFetched()
		o.processPost(ctx, logger, resolver, handle, raw, stats)
	}
}

// processPost runs one post through normalize, persist, classify and
// resolve. Failures are logged and counted, never returned.
func (o *Orchestrator) processPost(ctx context.Context, logger *slog.Logger, resolver *catalog.Resolver, handle string, raw types.RawPost, stats *Stats) {
	logger = logger.With("post_id", raw.ID)
	fail := func(stage Stage, err error) {
		stats.Failed[stage]++
		o.deps.Metrics.ObservePost(string(stage), "failed")
		logger.Error("post failed", "stage", stage, "err", err)
	}

	var np types.NormalizedPost
	err := o.timed(StageNormalize, func() (err error) {
		np, err = normalize.Normalize(raw, o.now())
		return err
	})
	if err != nil {
		fail(StageNormalize, err)
		return
	}
	if np.Skipped > 0 {
		logger.Debug("dropped invalid sub-entities", "count", np.Skipped)
	}

	if err := o.timed(StagePersist, func() error { return o.deps.Persister.Persist(ctx, np) }); err != nil {
		fail(StagePersist, err)
		return
	}

	var cand *types.AssetCandidate
	if o.deps.Classifier != nil {
		err := o.timed(StageClassify, func() (err error) {
			cand, err = o.deps.Classifier.Classify(ctx, np.Post)
			return err
		})
		if err != nil {
			stats.ClassifyErrors++
			logger.Warn("classification failed, treating as no asset", "stage", StageClassify, "err", err)
			cand = nil
		}
	}
	if cand == nil {
		stats.NoAsset++
		o.deps.Metrics.ObservePost(string(StageClassify), "no_asset")
		return
	}

	var res catalog.Resolution
	err = o.timed(StageResolve, func() (err error) {
		res, err = resolver.Resolve(ctx, *cand, np.Post.PostID)
		return err
	})
	if err != nil {
		fail(StageResolve, err)
		return
	}

	stats.Done++
	o.deps.Metrics.ObservePost(string(StageResolve), "done")
	if res.Linked {
		stats.AssetsLinked++
		o.deps.Metrics.IncAssetsLinked()
	}
	if res.Created {
		o.deps.Metrics.IncAssetsCreated()
		stats.NewAssets = append(stats.NewAssets, NewAsset{
			Asset:   res.Asset,
			Handle:  handle,
			PostID:  np.Post.PostID,
			PostURL: np.Post.PermanentURL,
		})
		logger.Info("new asset", "symbol", res.Asset.Symbol, "asset_id", res.Asset.ID)
	}
}

func (o *Orchestrator) timed(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	o.deps.Metrics.ObserveStage(string(stage), time.Since(start))
	return err
}

func (o *Orchestrator) invalidateSession(logger *slog.Logger) {
	if inv, ok := o.deps.Sessions.(interface{ Invalidate() }); ok {
		logger.Warn("session rejected by x, dropping it for the next run")
		inv.Invalidate()
	}
}

func (o *Orchestrator) report(ctx context.Context, logger *slog.Logger, stats Stats) {
	if o.deps.Reporter == nil || len(stats.NewAssets) == 0 {
		return
	}

	entries := make([]digest.AssetEntry, len(stats.NewAssets))
	for i, a := range stats.NewAssets {
		entries[i] = digest.AssetEntry{Asset: a.Asset, Handle: a.Handle, PostID: a.PostID}
		if a.PostURL != nil {
			entries[i].PostURL = *a.PostURL
		}
	}
	run := digest.RunSummary{
		RunID:        stats.RunID,
		Handles:      stats.HandlesAttempted,
		PostsFetched: stats.PostsFetched,
		AssetsLinked: stats.AssetsLinked,
	}
	if err := o.deps.Reporter.ReportNewAssets(ctx, entries, run); err != nil {
		logger.Error("failed to send new-asset report", "err", err)
	}
}
