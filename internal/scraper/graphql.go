package scraper

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/kolwatch/internal/auth"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/metrics"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
	"github.com/ibeckermayer/kolwatch/internal/xhttp"
)

const (
	searchOperation = "SearchTimeline"
	maxPageSize     = 20
)

// searchFeatures are the feature switches the web client sends with
// SearchTimeline. The endpoint rejects requests that omit required ones.
var searchFeatures = map[string]any{
	"rweb_tipjar_consumption_enabled":                                         true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"verified_phone_label_enabled":                                            false,
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"communities_web_enable_tweet_community_results_fetch":                    true,
	"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
	"articles_preview_enabled":                                                true,
	"tweetypie_unmention_optimization_enabled":                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"creator_subscriptions_quote_tweet_preview_enabled":                       false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"rweb_video_timestamps_enabled":                                           true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"responsive_web_enhance_cards_enabled":                                    false,
}

// GraphQLFetcher reads the SearchTimeline endpoint of X's web API.
type GraphQLFetcher struct {
	client  *xhttp.Client
	queryID string
	opts    Options
	limiter *rate.Limiter
	metrics *metrics.Metrics
	cache   *store.Cache
	logger  *slog.Logger
}

// NewGraphQL creates a fetcher. The limiter is shared by every stream it
// opens so pacing holds across handles.
func NewGraphQL(client *xhttp.Client, queryID string, opts Options) *GraphQLFetcher {
	opts.defaults()
	return &GraphQLFetcher{
		client:  client,
		queryID: queryID,
		opts:    opts,
		limiter: opts.limiter(),
		metrics: opts.Metrics,
		cache:   opts.Cache,
		logger:  logging.Component(opts.Logger, "fetcher"),
	}
}

func (f *GraphQLFetcher) FetchHandle(ctx context.Context, sess *auth.Session, handle string, limit int) (Stream, error) {
	return f.Search(ctx, sess, f.opts.Query(handle), limit, f.opts.Mode)
}

func (f *GraphQLFetcher) Search(ctx context.Context, sess *auth.Session, query string, limit int, mode string) (Stream, error) {
	if sess == nil {
		return nil, errs.Fetch("search", errors.New("no session"))
	}
	if limit <= 0 {
		return nil, errs.Fetch("search", errors.Errorf("limit must be positive, got %d", limit))
	}
	if mode == "" {
		mode = f.opts.Mode
	}

	creds := sess.Credentials()
	var cursor string
	remaining := limit

	next := func(ctx context.Context) ([]types.RawPost, bool, error) {
		count := remaining
		if count > maxPageSize {
			count = maxPageSize
		}
		vars := map[string]any{
			"rawQuery":    query,
			"count":       count,
			"querySource": "typed_query",
			"product":     mode,
		}
		if cursor != "" {
			vars["cursor"] = cursor
		}

		body, err := f.client.GraphQL(ctx, creds, f.queryID, searchOperation, vars, searchFeatures)
		if err != nil {
			f.metrics.IncFetchRequests(requestStatus(err))
			return nil, false, errors.Wrapf(err, "search %q", query)
		}
		f.metrics.IncFetchRequests("ok")

		if path, err := f.cache.Save(store.CachePages, "search", json.RawMessage(body)); err != nil {
			f.logger.Warn("failed to cache page", "err", err)
		} else if path != "" {
			f.logger.Debug("cached page", "path", path)
		}

		page, err := parseSearchTimeline(body)
		if err != nil {
			return nil, false, err
		}
		f.logger.Debug("fetched page", "query", query, "posts", len(page.Posts), "cursor", page.BottomCursor)

		remaining -= len(page.Posts)
		more := page.BottomCursor != "" && page.BottomCursor != cursor && remaining > 0
		cursor = page.BottomCursor
		return page.Posts, more, nil
	}

	return newPageStream(next, limit, f.limiter, nil), nil
}

func requestStatus(err error) string {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.Code)
	}
	return "error"
}
