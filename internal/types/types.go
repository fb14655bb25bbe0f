package types

import (
	"math/big"
	"time"
)

// RawPost is a post as produced by a scraper.Fetcher. ID is the only required
// field; everything else is optional and nil means the provider did not report it.
type RawPost struct {
	ID string `json:"id"`

	UserID   *string `json:"user_id,omitempty"`
	Username *string `json:"username,omitempty"`
	Name     *string `json:"name,omitempty"`
	Text     *string `json:"text,omitempty"`
	HTML     *string `json:"html,omitempty"`

	Likes         *int64 `json:"likes,omitempty"`
	Retweets      *int64 `json:"retweets,omitempty"`
	Replies       *int64 `json:"replies,omitempty"`
	Views         *int64 `json:"views,omitempty"`
	BookmarkCount *int64 `json:"bookmark_count,omitempty"`

	IsRetweet        *bool `json:"is_retweet,omitempty"`
	IsReply          *bool `json:"is_reply,omitempty"`
	IsQuoted         *bool `json:"is_quoted,omitempty"`
	IsPin            *bool `json:"is_pin,omitempty"`
	IsSelfThread     *bool `json:"is_self_thread,omitempty"`
	SensitiveContent *bool `json:"sensitive_content,omitempty"`

	Hashtags []string `json:"hashtags,omitempty"`
	URLs     []string `json:"urls,omitempty"`

	ConversationID *string `json:"conversation_id,omitempty"`
	PermanentURL   *string `json:"permanent_url,omitempty"`

	// Timestamp is the provider's integer timestamp as a decimal string. It is
	// kept as text so no precision is lost at the boundary.
	Timestamp  *string    `json:"timestamp,omitempty"`
	TimeParsed *time.Time `json:"time_parsed,omitempty"`

	Mentions []RawMention `json:"mentions,omitempty"`
	Photos   []RawPhoto   `json:"photos,omitempty"`
	Videos   []RawVideo   `json:"videos,omitempty"`
	Thread   []RawPost    `json:"thread,omitempty"`
}

// RawMention is a user referenced from a post.
type RawMention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// RawPhoto is a photo attached to a post.
type RawPhoto struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

// RawVideo is a video attached to a post.
type RawVideo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Preview string `json:"preview,omitempty"`
}

// Post is the canonical, persisted form of a post. PostID is the external id
// and the sole identity key.
type Post struct {
	PostID   string  `json:"post_id"`
	UserID   *string `json:"user_id,omitempty"`
	Username *string `json:"username,omitempty"`
	Name     *string `json:"name,omitempty"`
	Text     *string `json:"text,omitempty"`
	HTML     *string `json:"html,omitempty"`

	Likes         *int64 `json:"likes,omitempty"`
	Retweets      *int64 `json:"retweets,omitempty"`
	Replies       *int64 `json:"replies,omitempty"`
	Views         *int64 `json:"views,omitempty"`
	BookmarkCount *int64 `json:"bookmark_count,omitempty"`

	IsRetweet        *bool `json:"is_retweet,omitempty"`
	IsReply          *bool `json:"is_reply,omitempty"`
	IsQuoted         *bool `json:"is_quoted,omitempty"`
	IsPin            *bool `json:"is_pin,omitempty"`
	IsSelfThread     *bool `json:"is_self_thread,omitempty"`
	SensitiveContent *bool `json:"sensitive_content,omitempty"`

	Hashtags []string `json:"hashtags"`
	URLs     []string `json:"urls"`

	ConversationID *string `json:"conversation_id,omitempty"`
	ParentThreadID *string `json:"parent_thread_id,omitempty"`
	PermanentURL   *string `json:"permanent_url,omitempty"`

	Timestamp  *big.Int   `json:"timestamp,omitempty"`
	TimeParsed *time.Time `json:"time_parsed,omitempty"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// Mention is identified by (PostID, Username).
type Mention struct {
	PostID   string `json:"post_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Photo is identified by its external media id.
type Photo struct {
	PhotoID string  `json:"photo_id"`
	PostID  string  `json:"post_id"`
	URL     string  `json:"url"`
	AltText *string `json:"alt_text,omitempty"`
}

// Video is identified by its external media id.
type Video struct {
	VideoID string  `json:"video_id"`
	PostID  string  `json:"post_id"`
	URL     string  `json:"url"`
	Preview *string `json:"preview,omitempty"`
}

// NormalizedPost is a post plus its extracted sub-entities, ready to persist.
type NormalizedPost struct {
	Post     Post      `json:"post"`
	Mentions []Mention `json:"mentions"`
	Photos   []Photo   `json:"photos"`
	Videos   []Video   `json:"videos"`
	Thread   []Post    `json:"thread"`

	// Skipped counts sub-items dropped for lacking their own id.
	Skipped int `json:"skipped"`
}

// Asset is a crypto token inferred from post text.
type Asset struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Name            *string   `json:"name,omitempty"`
	ContractAddress *string   `json:"contract_address,omitempty"`
	Chain           *string   `json:"chain,omitempty"`
	Decimals        *int      `json:"decimals,omitempty"`
	MarketCap       *float64  `json:"market_cap,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AssetCandidate is what the classifier reports for a post that references a coin.
type AssetCandidate struct {
	Symbol          string   `json:"symbol"`
	Name            *string  `json:"name,omitempty"`
	ContractAddress *string  `json:"contract_address,omitempty"`
	Chain           *string  `json:"chain,omitempty"`
	Decimals        *int     `json:"decimals,omitempty"`
	MarketCap       *float64 `json:"market_cap,omitempty"`
}
