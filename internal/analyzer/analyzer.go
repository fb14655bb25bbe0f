package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ibeckermayer/kolwatch/internal/analyzer/providers"
	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

// Provider defines the interface for LLM providers
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Classifier asks an LLM whether a post references a tradable asset.
type Classifier struct {
	provider Provider // nil when classification is disabled
	timeout  time.Duration
	cache    *store.Cache
	logger   *slog.Logger
}

// New creates a classifier with the provider named in config. Provider
// "none" yields a classifier that never reports an asset.
func New(cfg config.ClassifierConfig, cache *store.Cache, logger *slog.Logger) (*Classifier, error) {
	var provider Provider

	switch cfg.Provider {
	case config.ProviderOpenAI:
		provider = providers.NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case config.ProviderAnthropic:
		provider = providers.NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case config.ProviderNone, "":
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}

	return NewWithProvider(provider, time.Duration(cfg.TimeoutSec)*time.Second, cache, logger), nil
}

// NewWithProvider creates a classifier around an explicit provider.
func NewWithProvider(p Provider, timeout time.Duration, cache *store.Cache, logger *slog.Logger) *Classifier {
	return &Classifier{
		provider: p,
		timeout:  timeout,
		cache:    cache,
		logger:   logging.Component(logger, "classifier"),
	}
}

// Enabled reports whether a provider is configured.
func (c *Classifier) Enabled() bool {
	return c != nil && c.provider != nil
}

// Classify returns the asset a post refers to, or nil when it refers to none.
// Transport and format failures are ClassificationErrors.
func (c *Classifier) Classify(ctx context.Context, post types.Post) (*types.AssetCandidate, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if post.Text == nil || strings.TrimSpace(*post.Text) == "" {
		return nil, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := providers.BuildPrompt(post)
	response, callErr := c.provider.Complete(ctx, prompt)

	exchange := store.LLMExchange{
		Timestamp: time.Now(),
		Provider:  c.provider.Name(),
		Model:     c.provider.Model(),
		PostID:    post.PostID,
		Prompt:    prompt,
		Response:  response,
	}
	if callErr != nil {
		exchange.Error = callErr.Error()
	}
	if path, err := c.cache.SaveLLMExchange(exchange); err != nil {
		c.logger.Warn("failed to cache LLM exchange", "err", err)
	} else if path != "" {
		c.logger.Debug("cached LLM exchange", "path", path)
	}

	if callErr != nil {
		return nil, errs.Classification("classify "+post.PostID, callErr)
	}

	cand, err := providers.ParseVerdict(response)
	if err != nil {
		return nil, errs.Classification("parse "+post.PostID, err)
	}
	return cand, nil
}
