package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/kolwatch/internal/auth"
	"github.com/ibeckermayer/kolwatch/internal/browser"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/metrics"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

// BrowserFetcher reads the search results page in a real browser and
// extracts posts from the DOM. Each stream owns one browser, closed when the
// stream is drained or closed.
type BrowserFetcher struct {
	headless bool
	opts     Options
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewBrowser(headless bool, opts Options) *BrowserFetcher {
	opts.defaults()
	return &BrowserFetcher{
		headless: headless,
		opts:     opts,
		limiter:  opts.limiter(),
		metrics:  opts.Metrics,
		logger:   logging.Component(opts.Logger, "fetcher"),
	}
}

func (b *BrowserFetcher) FetchHandle(ctx context.Context, sess *auth.Session, handle string, limit int) (Stream, error) {
	return b.Search(ctx, sess, b.opts.Query(handle), limit, b.opts.Mode)
}

func (b *BrowserFetcher) Search(ctx context.Context, sess *auth.Session, query string, limit int, mode string) (Stream, error) {
	if sess == nil {
		return nil, errs.Fetch("search", errors.New("no session"))
	}
	if limit <= 0 {
		return nil, errs.Fetch("search", errors.Errorf("limit must be positive, got %d", limit))
	}
	if mode == "" {
		mode = b.opts.Mode
	}

	browserCtx, closeBrowser := browser.NewContext(ctx, b.headless)

	if err := injectCookies(browserCtx, sess.XCookies()); err != nil {
		closeBrowser()
		return nil, errs.Fetch("inject cookies", err)
	}

	loadCtx, cancelLoad := context.WithTimeout(browserCtx, time.Minute)
	err := chromedp.Run(loadCtx,
		chromedp.Navigate(searchURL(query, mode)),
		chromedp.WaitVisible(WaitForFeed, chromedp.ByQuery),
	)
	cancelLoad()
	if err != nil {
		b.metrics.IncFetchRequests("error")
		closeBrowser()
		return nil, errs.Fetch("load search page", err)
	}
	b.metrics.IncFetchRequests("ok")

	// Rough estimate: ~5 posts per scroll
	maxScrolls := limit/5 + 2
	scrolls := 0
	next := func(ctx context.Context) ([]types.RawPost, bool, error) {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if scrolls > 0 {
			if err := scroll(browserCtx); err != nil {
				return nil, false, err
			}
			time.Sleep(time.Duration(500+scrolls*100) * time.Millisecond)
		}
		scrolls++

		posts, err := extractVisiblePosts(browserCtx)
		if err != nil {
			return nil, false, err
		}
		b.logger.Debug("extracted posts", "query", query, "visible", len(posts), "scroll", scrolls)
		return posts, scrolls < maxScrolls, nil
	}

	return newPageStream(next, limit, b.limiter, closeBrowser), nil
}

// injectCookies sets cookies in the browser context
func injectCookies(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)

				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
}

// domPost represents the raw data extracted from the DOM via JavaScript
type domPost struct {
	ID           string   `json:"id"`
	AuthorHandle string   `json:"authorHandle"`
	AuthorName   string   `json:"authorName"`
	Content      string   `json:"content"`
	HTML         string   `json:"html"`
	PhotoURLs    []string `json:"photoUrls"`
	VideoURLs    []string `json:"videoUrls"`
	VideoPosters []string `json:"videoPosters"`
	Hashtags     []string `json:"hashtags"`
	Mentions     []string `json:"mentions"`
	Links        []string `json:"links"`
	Timestamp    string   `json:"timestamp"`
	Likes        string   `json:"likes"`
	Retweets     string   `json:"retweets"`
	Replies      string   `json:"replies"`
	IsRetweet    bool     `json:"isRetweet"`
	IsQuoteTweet bool     `json:"isQuoteTweet"`
	IsReply      bool     `json:"isReply"`
	OriginalURL  string   `json:"originalUrl"`
}

const extractJS = `
	(function(sel) {
		const tweets = document.querySelectorAll(sel.article);
		const results = [];

		tweets.forEach(el => {
			try {
				const statusLink = el.querySelector(sel.link);
				const id = statusLink?.href?.match(/status\/(\d+)/)?.[1];
				if (!id) return;

				const userNameEl = el.querySelector(sel.author);
				let authorHandle = '';
				let authorName = '';
				if (userNameEl) {
					const handleLink = userNameEl.querySelector('a[href^="/"]');
					if (handleLink) {
						authorHandle = handleLink.getAttribute('href')?.replace('/', '') || '';
					}
					const nameSpan = userNameEl.querySelector('span');
					authorName = nameSpan?.textContent || '';
				}

				const textEl = el.querySelector(sel.text);
				const content = textEl?.textContent || '';
				const html = textEl?.innerHTML || '';

				const hashtags = [];
				const mentions = [];
				const links = [];
				if (textEl) {
					textEl.querySelectorAll('a').forEach(a => {
						const href = a.getAttribute('href') || '';
						const label = a.textContent || '';
						if (href.startsWith('/hashtag/')) {
							hashtags.push(label.replace(/^#/, ''));
						} else if (label.startsWith('@')) {
							mentions.push(label.slice(1));
						} else if (href.startsWith('http')) {
							links.push(href);
						}
					});
				}

				const photoUrls = [];
				el.querySelectorAll(sel.photo).forEach(m => { if (m.src) photoUrls.push(m.src); });
				const videoUrls = [];
				const videoPosters = [];
				el.querySelectorAll(sel.video).forEach(v => {
					videoUrls.push(v.src || v.querySelector('source')?.src || '');
					videoPosters.push(v.poster || '');
				});

				const timeEl = el.querySelector('time');
				const timestamp = timeEl?.getAttribute('datetime') || '';

				const getMetric = (testId) => {
					const metricEl = el.querySelector('[data-testid="' + testId + '"]');
					if (!metricEl) return '';
					const ariaLabel = metricEl.getAttribute('aria-label');
					if (ariaLabel) {
						const match = ariaLabel.match(/^([\d,.]+[KkMm]?)/);
						return match ? match[1] : '0';
					}
					return metricEl.textContent?.trim() || '0';
				};

				const socialContext = el.querySelector(sel.retweeted);
				const contextText = socialContext?.textContent?.toLowerCase() || '';
				const isRetweet = contextText.includes('repost') || contextText.includes('retweeted');

				results.push({
					id,
					authorHandle,
					authorName,
					content,
					html,
					photoUrls,
					videoUrls,
					videoPosters,
					hashtags,
					mentions,
					links,
					timestamp,
					likes: getMetric(sel.like),
					retweets: getMetric(sel.retweet),
					replies: getMetric(sel.reply),
					isRetweet,
					isQuoteTweet: el.querySelector(sel.quote) !== null,
					isReply: el.textContent?.includes('Replying to') || false,
					originalUrl: statusLink?.href || ''
				});
			} catch (e) {
				console.error('Error extracting tweet:', e);
			}
		});

		return results;
	})(%s)
`

// extractVisiblePosts parses currently visible tweets
func extractVisiblePosts(ctx context.Context) ([]types.RawPost, error) {
	var raw []domPost
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(extractJS, selectorsJSON()), &raw),
	); err != nil {
		return nil, fmt.Errorf("failed to extract posts from DOM: %w", err)
	}

	posts := make([]types.RawPost, 0, len(raw))
	for _, dp := range raw {
		if dp.ID == "" {
			continue
		}
		posts = append(posts, dp.toRaw())
	}
	return posts, nil
}

func (dp domPost) toRaw() types.RawPost {
	p := types.RawPost{
		ID:           dp.ID,
		Username:     nonEmpty(dp.AuthorHandle),
		Name:         nonEmpty(dp.AuthorName),
		Text:         nonEmpty(dp.Content),
		HTML:         nonEmpty(dp.HTML),
		Likes:        parseMetric(dp.Likes),
		Retweets:     parseMetric(dp.Retweets),
		Replies:      parseMetric(dp.Replies),
		IsRetweet:    &dp.IsRetweet,
		IsQuoted:     &dp.IsQuoteTweet,
		IsReply:      &dp.IsReply,
		Hashtags:     dp.Hashtags,
		URLs:         dp.Links,
		PermanentURL: nonEmpty(dp.OriginalURL),
	}

	if dp.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, dp.Timestamp); err == nil {
			t = t.UTC()
			ts := strconv.FormatInt(t.Unix(), 10)
			p.TimeParsed = &t
			p.Timestamp = &ts
		}
	}

	for _, m := range dp.Mentions {
		p.Mentions = append(p.Mentions, types.RawMention{Username: m})
	}
	for _, u := range dp.PhotoURLs {
		p.Photos = append(p.Photos, types.RawPhoto{ID: mediaID(u), URL: u})
	}
	for i, u := range dp.VideoURLs {
		var poster string
		if i < len(dp.VideoPosters) {
			poster = dp.VideoPosters[i]
		}
		id := mediaID(poster)
		if id == "" {
			id = mediaID(u)
		}
		p.Videos = append(p.Videos, types.RawVideo{ID: id, URL: u, Preview: poster})
	}
	return p
}

// mediaID derives a stable media id from a pbs.twimg.com URL, e.g.
// https://pbs.twimg.com/media/GabcXYZ?format=jpg -> GabcXYZ. Video posters
// live under .../amplify_video_thumb/<id>/img/<name>.jpg.
func mediaID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Scheme == "blob" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if strings.HasSuffix(part, "_thumb") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	base := path.Base(u.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

// scroll scrolls the page down
func scroll(ctx context.Context) error {
	return chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
	)
}

// parseMetric converts abbreviated metric strings like "1.2K", "5.7M", or
// "423". An empty string means the metric was not rendered.
func parseMetric(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", "")

	multiplier := 1.0
	if strings.HasSuffix(strings.ToUpper(s), "K") {
		multiplier = 1000
		s = s[:len(s)-1]
	} else if strings.HasSuffix(strings.ToUpper(s), "M") {
		multiplier = 1000000
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int64(value * multiplier)
	return &n
}
