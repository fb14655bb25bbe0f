package scraper

import (
	"encoding/json"
	"net/url"

	"github.com/ibeckermayer/kolwatch/internal/config"
)

// X.com DOM selectors
// These are isolated here because X changes their DOM frequently
// Update these when scraping breaks

const (
	// Feed selectors
	FeedContainer = `[data-testid="primaryColumn"]`
	TweetArticle  = `article[data-testid="tweet"]`

	// Tweet content selectors
	TweetText   = `[data-testid="tweetText"]`
	TweetAuthor = `[data-testid="User-Name"]`
	TweetLink   = `a[href*="/status/"]`
	TweetPhoto  = `[data-testid="tweetPhoto"] img`
	TweetVideo  = `[data-testid="videoPlayer"] video`

	// Engagement selectors, matched by data-testid
	ReplyCount   = "reply"
	RetweetCount = "retweet"
	LikeCount    = "like"

	// Tweet type indicators
	RetweetIndicator = `[data-testid="socialContext"]`
	QuoteIndicator   = `[data-testid="quoteTweet"]`

	// Login page indicators (for detecting auth state)
	HomeIndicator = `[data-testid="SideNav_NewTweet_Button"]`
)

// Common wait conditions
const (
	WaitForFeed   = FeedContainer
	WaitForTweets = TweetArticle
)

// selectorsJSON is handed to the extraction script so the selectors above
// stay the single source of truth.
func selectorsJSON() string {
	b, _ := json.Marshal(map[string]string{
		"article":   TweetArticle,
		"text":      TweetText,
		"author":    TweetAuthor,
		"link":      TweetLink,
		"photo":     TweetPhoto,
		"video":     TweetVideo,
		"reply":     ReplyCount,
		"retweet":   RetweetCount,
		"like":      LikeCount,
		"retweeted": RetweetIndicator,
		"quote":     QuoteIndicator,
	})
	return string(b)
}

// searchURL is the web search page for query in the given mode.
func searchURL(query, mode string) string {
	f := "live"
	if mode == config.SearchTop {
		f = "top"
	}
	v := url.Values{}
	v.Set("q", query)
	v.Set("src", "typed_query")
	v.Set("f", f)
	return "https://x.com/search?" + v.Encode()
}
