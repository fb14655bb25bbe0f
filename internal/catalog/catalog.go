// Package catalog resolves classifier candidates to deduplicated assets and
// links them to posts.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

// ErrEmptySymbol is returned for a candidate without a symbol.
var ErrEmptySymbol = errors.New("asset symbol is empty")

// Resolution is the outcome of resolving one candidate for one post.
type Resolution struct {
	Asset   types.Asset
	Created bool // the asset did not exist before
	Linked  bool // the post to asset link is new
}

// Resolver matches candidates against the catalog.
type Resolver struct {
	store  *store.Store
	runID  string
	logger *slog.Logger
}

// New creates a resolver over s.
func New(s *store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, logger: logging.Component(logger, "catalog")}
}

// WithRunID returns a copy that stamps links with runID.
func (r *Resolver) WithRunID(runID string) *Resolver {
	cp := *r
	cp.runID = runID
	return &cp
}

// Resolve finds the asset for cand by dedup key, creating it when absent and
// refreshing its descriptive fields otherwise, and links it to postID. All of
// it happens in one transaction. Failures are AssetResolutionErrors.
func (r *Resolver) Resolve(ctx context.Context, cand types.AssetCandidate, postID string) (Resolution, error) {
	cand = Clean(cand)
	if cand.Symbol == "" {
		return Resolution{}, errs.AssetResolution("resolve "+postID, ErrEmptySymbol)
	}

	var res Resolution
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.FindAsset(ctx, cand.Symbol, cand.ContractAddress)
		if err != nil {
			return err
		}

		var asset *types.Asset
		if existing == nil {
			asset, err = tx.InsertAsset(ctx, cand)
			res.Created = true
		} else {
			asset, err = tx.RefreshAsset(ctx, existing.ID, cand)
		}
		if err != nil {
			return err
		}

		linked, err := tx.LinkPostAsset(ctx, postID, asset.ID, r.runID)
		if err != nil {
			return err
		}
		res.Asset = *asset
		res.Linked = linked
		return nil
	})
	if err != nil {
		return Resolution{}, errs.AssetResolution("resolve "+postID, err)
	}

	r.logger.Debug("asset resolved",
		"post_id", postID,
		"asset_id", res.Asset.ID,
		"symbol", res.Asset.Symbol,
		"created", res.Created,
		"linked", res.Linked)
	return res, nil
}

// Clean trims the candidate's strings and turns blank optional values into nil.
// A blank contract address is the same as no contract address.
func Clean(c types.AssetCandidate) types.AssetCandidate {
	c.Symbol = strings.TrimPrefix(strings.TrimSpace(c.Symbol), "$")
	c.Name = blankToNil(c.Name)
	c.ContractAddress = blankToNil(c.ContractAddress)
	c.Chain = blankToNil(c.Chain)
	return c
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
