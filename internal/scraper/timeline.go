package scraper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/types"
)

// createdAtLayout is the legacy created_at format, e.g.
// "Wed Oct 10 20:19:24 +0000 2018".
const createdAtLayout = time.RubyDate

type searchResponse struct {
	Data struct {
		SearchByRawQuery struct {
			SearchTimeline struct {
				Timeline struct {
					Instructions []instruction `json:"instructions"`
				} `json:"timeline"`
			} `json:"search_timeline"`
		} `json:"search_by_raw_query"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type instruction struct {
	Type    string  `json:"type"`
	Entries []entry `json:"entries"`
	Entry   *entry  `json:"entry"`
}

type entry struct {
	EntryID string       `json:"entryId"`
	Content entryContent `json:"content"`
}

type entryContent struct {
	EntryType   string       `json:"entryType"`
	CursorType  string       `json:"cursorType"`
	Value       string       `json:"value"`
	ItemContent *itemContent `json:"itemContent"`
	Items       []struct {
		Item struct {
			ItemContent *itemContent `json:"itemContent"`
		} `json:"item"`
	} `json:"items"`
}

type itemContent struct {
	TweetResults struct {
		Result *tweetResult `json:"result"`
	} `json:"tweet_results"`
}

type userResult struct {
	RestID string `json:"rest_id"`
	Core   struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"core"`
	Legacy struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"legacy"`
}

type tweetResult struct {
	Typename string       `json:"__typename"`
	RestID   string       `json:"rest_id"`
	Tweet    *tweetResult `json:"tweet"`
	Core     struct {
		UserResults struct {
			Result *userResult `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Views struct {
		Count string `json:"count"`
	} `json:"views"`
	NoteTweet struct {
		NoteTweetResults struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
	Legacy *tweetLegacy `json:"legacy"`
}

type tweetLegacy struct {
	IDStr                string          `json:"id_str"`
	FullText             string          `json:"full_text"`
	CreatedAt            string          `json:"created_at"`
	ConversationIDStr    string          `json:"conversation_id_str"`
	UserIDStr            string          `json:"user_id_str"`
	InReplyToStatusIDStr string          `json:"in_reply_to_status_id_str"`
	FavoriteCount        *int64          `json:"favorite_count"`
	RetweetCount         *int64          `json:"retweet_count"`
	ReplyCount           *int64          `json:"reply_count"`
	BookmarkCount        *int64          `json:"bookmark_count"`
	IsQuoteStatus        *bool           `json:"is_quote_status"`
	PossiblySensitive    *bool           `json:"possibly_sensitive"`
	RetweetedStatus      json.RawMessage `json:"retweeted_status_result"`
	SelfThread           *struct {
		IDStr string `json:"id_str"`
	} `json:"self_thread"`
	Entities struct {
		Hashtags []struct {
			Text string `json:"text"`
		} `json:"hashtags"`
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
		UserMentions []struct {
			IDStr      string `json:"id_str"`
			Name       string `json:"name"`
			ScreenName string `json:"screen_name"`
		} `json:"user_mentions"`
	} `json:"entities"`
	ExtendedEntities struct {
		Media []media `json:"media"`
	} `json:"extended_entities"`
}

type media struct {
	IDStr         string `json:"id_str"`
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	ExtAltText    string `json:"ext_alt_text"`
	VideoInfo     struct {
		Variants []struct {
			Bitrate     int    `json:"bitrate"`
			ContentType string `json:"content_type"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

type searchPage struct {
	Posts        []types.RawPost
	BottomCursor string
}

// parseSearchTimeline extracts posts and the bottom cursor from a
// SearchTimeline response body.
func parseSearchTimeline(body []byte) (searchPage, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return searchPage{}, errors.Wrap(err, "decode search timeline")
	}

	instructions := resp.Data.SearchByRawQuery.SearchTimeline.Timeline.Instructions
	if len(instructions) == 0 && len(resp.Errors) > 0 {
		return searchPage{}, errors.Errorf("search timeline: %s", resp.Errors[0].Message)
	}

	var page searchPage
	visit := func(e entry) {
		c := e.Content
		switch {
		case c.CursorType == "Bottom":
			page.BottomCursor = c.Value
		case c.ItemContent != nil:
			if p, ok := convertTweet(c.ItemContent.TweetResults.Result); ok {
				page.Posts = append(page.Posts, p)
			}
		case len(c.Items) > 0:
			if p, ok := convertModule(c); ok {
				page.Posts = append(page.Posts, p)
			}
		}
	}

	for _, ins := range instructions {
		for _, e := range ins.Entries {
			visit(e)
		}
		if ins.Entry != nil {
			visit(*ins.Entry)
		}
	}
	return page, nil
}

// convertModule turns a conversation module into its first post, with the
// author's following posts in the module attached as the thread.
func convertModule(c entryContent) (types.RawPost, bool) {
	var root types.RawPost
	found := false
	for _, it := range c.Items {
		if it.Item.ItemContent == nil {
			continue
		}
		p, ok := convertTweet(it.Item.ItemContent.TweetResults.Result)
		if !ok {
			continue
		}
		if !found {
			root, found = p, true
			continue
		}
		if sameAuthor(root, p) {
			root.Thread = append(root.Thread, p)
		}
	}
	return root, found
}

func sameAuthor(a, b types.RawPost) bool {
	if a.UserID != nil && b.UserID != nil {
		return *a.UserID == *b.UserID
	}
	return a.Username != nil && b.Username != nil && strings.EqualFold(*a.Username, *b.Username)
}

// convertTweet reports false only when the result has no tweet body. A blank
// id is kept so normalization can reject the post.
func convertTweet(r *tweetResult) (types.RawPost, bool) {
	if r == nil {
		return types.RawPost{}, false
	}
	if r.Typename == "TweetWithVisibilityResults" && r.Tweet != nil {
		r = r.Tweet
	}
	if r.Legacy == nil {
		return types.RawPost{}, false
	}
	l := r.Legacy

	id := r.RestID
	if id == "" {
		id = l.IDStr
	}

	p := types.RawPost{
		ID:               id,
		UserID:           nonEmpty(l.UserIDStr),
		Likes:            l.FavoriteCount,
		Retweets:         l.RetweetCount,
		Replies:          l.ReplyCount,
		BookmarkCount:    l.BookmarkCount,
		IsQuoted:         l.IsQuoteStatus,
		SensitiveContent: l.PossiblySensitive,
		ConversationID:   nonEmpty(l.ConversationIDStr),
	}

	if u := r.Core.UserResults.Result; u != nil {
		screen, name := u.Core.ScreenName, u.Core.Name
		if screen == "" {
			screen = u.Legacy.ScreenName
		}
		if name == "" {
			name = u.Legacy.Name
		}
		p.Username = nonEmpty(screen)
		p.Name = nonEmpty(name)
		if p.UserID == nil {
			p.UserID = nonEmpty(u.RestID)
		}
	}

	text := l.FullText
	if note := r.NoteTweet.NoteTweetResults.Result.Text; note != "" {
		text = note
	}
	p.Text = nonEmpty(text)

	if v, err := strconv.ParseInt(r.Views.Count, 10, 64); err == nil {
		p.Views = &v
	}

	isReply := l.InReplyToStatusIDStr != ""
	isRetweet := len(l.RetweetedStatus) > 0 && string(l.RetweetedStatus) != "null"
	isSelfThread := id != "" && l.SelfThread != nil && l.SelfThread.IDStr == id
	p.IsReply = &isReply
	p.IsRetweet = &isRetweet
	p.IsSelfThread = &isSelfThread

	if t, err := time.Parse(createdAtLayout, l.CreatedAt); err == nil {
		t = t.UTC()
		ts := strconv.FormatInt(t.Unix(), 10)
		p.TimeParsed = &t
		p.Timestamp = &ts
	}

	if p.Username != nil && id != "" {
		u := fmt.Sprintf("https://x.com/%s/status/%s", *p.Username, id)
		p.PermanentURL = &u
	}

	for _, h := range l.Entities.Hashtags {
		p.Hashtags = append(p.Hashtags, h.Text)
	}
	for _, u := range l.Entities.URLs {
		if u.ExpandedURL != "" {
			p.URLs = append(p.URLs, u.ExpandedURL)
		}
	}
	for _, m := range l.Entities.UserMentions {
		p.Mentions = append(p.Mentions, types.RawMention{ID: m.IDStr, Username: m.ScreenName, Name: m.Name})
	}
	for _, m := range l.ExtendedEntities.Media {
		switch m.Type {
		case "photo":
			p.Photos = append(p.Photos, types.RawPhoto{ID: m.IDStr, URL: m.MediaURLHTTPS, AltText: m.ExtAltText})
		case "video", "animated_gif":
			p.Videos = append(p.Videos, types.RawVideo{ID: m.IDStr, URL: bestVariant(m), Preview: m.MediaURLHTTPS})
		}
	}

	return p, true
}

// bestVariant picks the highest-bitrate mp4 rendition.
func bestVariant(m media) string {
	best, bestRate := "", -1
	for _, v := range m.VideoInfo.Variants {
		if v.ContentType != "video/mp4" {
			continue
		}
		if v.Bitrate > bestRate {
			best, bestRate = v.URL, v.Bitrate
		}
	}
	return best
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
