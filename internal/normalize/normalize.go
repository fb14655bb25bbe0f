// Package normalize maps fetcher output onto the canonical post graph.
package normalize

import (
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

// ErrMissingID is wrapped by the NormalizationError returned for a post
// without an id.
var ErrMissingID = errors.New("post id is required")

// Normalize converts a raw post into a post plus its sub-entities. It is pure:
// now only stamps IngestedAt. Optional fields the source did not report stay
// nil. Sub-items without their own id are dropped and counted in Skipped.
func Normalize(raw types.RawPost, now time.Time) (types.NormalizedPost, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return types.NormalizedPost{}, errs.Normalization("normalize", ErrMissingID)
	}

	np := types.NormalizedPost{
		Post: toPost(raw, id, now),
	}

	seenMention := make(map[string]bool)
	for _, m := range raw.Mentions {
		username := strings.TrimSpace(m.Username)
		if username == "" || seenMention[strings.ToLower(username)] {
			np.Skipped++
			continue
		}
		seenMention[strings.ToLower(username)] = true
		np.Mentions = append(np.Mentions, types.Mention{
			PostID:   id,
			UserID:   strings.TrimSpace(m.ID),
			Username: username,
			Name:     m.Name,
		})
	}

	seenPhoto := make(map[string]bool)
	for _, ph := range raw.Photos {
		pid := strings.TrimSpace(ph.ID)
		if pid == "" || seenPhoto[pid] {
			np.Skipped++
			continue
		}
		seenPhoto[pid] = true
		np.Photos = append(np.Photos, types.Photo{
			PhotoID: pid,
			PostID:  id,
			URL:     ph.URL,
			AltText: optString(ph.AltText),
		})
	}

	seenVideo := make(map[string]bool)
	for _, v := range raw.Videos {
		vid := strings.TrimSpace(v.ID)
		if vid == "" || seenVideo[vid] {
			np.Skipped++
			continue
		}
		seenVideo[vid] = true
		np.Videos = append(np.Videos, types.Video{
			VideoID: vid,
			PostID:  id,
			URL:     v.URL,
			Preview: optString(v.Preview),
		})
	}

	seenChild := map[string]bool{id: true}
	for _, c := range raw.Thread {
		cid := strings.TrimSpace(c.ID)
		if cid == "" || seenChild[cid] {
			np.Skipped++
			continue
		}
		seenChild[cid] = true
		child := toPost(c, cid, now)
		parent := id
		child.ParentThreadID = &parent
		np.Thread = append(np.Thread, child)
	}

	return np, nil
}

func toPost(raw types.RawPost, id string, now time.Time) types.Post {
	return types.Post{
		PostID:           id,
		UserID:           raw.UserID,
		Username:         raw.Username,
		Name:             raw.Name,
		Text:             raw.Text,
		HTML:             raw.HTML,
		Likes:            raw.Likes,
		Retweets:         raw.Retweets,
		Replies:          raw.Replies,
		Views:            raw.Views,
		BookmarkCount:    raw.BookmarkCount,
		IsRetweet:        raw.IsRetweet,
		IsReply:          raw.IsReply,
		IsQuoted:         raw.IsQuoted,
		IsPin:            raw.IsPin,
		IsSelfThread:     raw.IsSelfThread,
		SensitiveContent: raw.SensitiveContent,
		Hashtags:         dedupe(raw.Hashtags),
		URLs:             dedupe(raw.URLs),
		ConversationID:   raw.ConversationID,
		PermanentURL:     raw.PermanentURL,
		Timestamp:        ParseTimestamp(raw.Timestamp),
		TimeParsed:       raw.TimeParsed,
		IngestedAt:       now,
	}
}

// ParseTimestamp parses a decimal digit string. Anything else yields nil.
func ParseTimestamp(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil
	}
	return n
}

// dedupe drops blanks and repeats, keeping first-seen order.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func optString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
