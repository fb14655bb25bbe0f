package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/types"
)

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("not found")

// AssetSummary is an asset with the number of posts linked to it.
type AssetSummary struct {
	types.Asset
	PostCount int `json:"post_count"`
}

// Counts holds row counts per table.
type Counts struct {
	Posts      int `json:"posts"`
	Mentions   int `json:"mentions"`
	Photos     int `json:"photos"`
	Videos     int `json:"videos"`
	Assets     int `json:"assets"`
	PostAssets int `json:"post_assets"`
}

const postColumns = `post_id, user_id, username, name, text, html,
	likes, retweets, replies, views, bookmark_count,
	is_retweet, is_reply, is_quoted, is_pin, is_self_thread, sensitive_content,
	hashtags, urls, conversation_id, parent_thread_id, permanent_url,
	timestamp, time_parsed, ingested_at`

// GetPost loads a post by external id.
func (s *Store) GetPost(ctx context.Context, postID string) (*types.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE post_id = ?`, postID)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, errors.Wrapf(err, "get post %s", postID)
}

// PostExists checks if a post ID already exists
func (s *Store) PostExists(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE post_id = ?)`, postID).Scan(&exists)
	return exists, errors.Wrap(err, "post exists")
}

// ListThreadChildren returns the posts whose parent is postID, ordered by id.
func (s *Store) ListThreadChildren(ctx context.Context, postID string) ([]types.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE parent_thread_id = ?
		ORDER BY post_id`, postID)
	if err != nil {
		return nil, errors.Wrap(err, "list thread children")
	}
	defer rows.Close()

	var posts []types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan thread child")
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// ListMentions returns a post's mentions in insertion order.
func (s *Store) ListMentions(ctx context.Context, postID string) ([]types.Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, COALESCE(user_id, ''), username, COALESCE(name, '')
		FROM mentions WHERE post_id = ? ORDER BY id`, postID)
	if err != nil {
		return nil, errors.Wrap(err, "list mentions")
	}
	defer rows.Close()

	var out []types.Mention
	for rows.Next() {
		var m types.Mention
		if err := rows.Scan(&m.PostID, &m.UserID, &m.Username, &m.Name); err != nil {
			return nil, errors.Wrap(err, "scan mention")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPhotos returns a post's photos in insertion order.
func (s *Store) ListPhotos(ctx context.Context, postID string) ([]types.Photo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT photo_id, post_id, url, alt_text
		FROM photos WHERE post_id = ? ORDER BY id`, postID)
	if err != nil {
		return nil, errors.Wrap(err, "list photos")
	}
	defer rows.Close()

	var out []types.Photo
	for rows.Next() {
		var p types.Photo
		var alt sql.NullString
		if err := rows.Scan(&p.PhotoID, &p.PostID, &p.URL, &alt); err != nil {
			return nil, errors.Wrap(err, "scan photo")
		}
		p.AltText = strPtr(alt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListVideos returns a post's videos in insertion order.
func (s *Store) ListVideos(ctx context.Context, postID string) ([]types.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, post_id, url, preview
		FROM videos WHERE post_id = ? ORDER BY id`, postID)
	if err != nil {
		return nil, errors.Wrap(err, "list videos")
	}
	defer rows.Close()

	var out []types.Video
	for rows.Next() {
		var v types.Video
		var preview sql.NullString
		if err := rows.Scan(&v.VideoID, &v.PostID, &v.URL, &preview); err != nil {
			return nil, errors.Wrap(err, "scan video")
		}
		v.Preview = strPtr(preview)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListAssets returns every asset with its linked post count, oldest first.
func (s *Store) ListAssets(ctx context.Context) ([]AssetSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.symbol, a.name, a.contract_address, a.chain, a.decimals, a.market_cap,
			a.created_at, a.updated_at, COUNT(pa.post_id)
		FROM assets a
		LEFT JOIN post_assets pa ON pa.asset_id = a.id
		GROUP BY a.id
		ORDER BY a.created_at, a.id`)
	if err != nil {
		return nil, errors.Wrap(err, "list assets")
	}
	defer rows.Close()

	var out []AssetSummary
	for rows.Next() {
		var sum AssetSummary
		a, err := scanAsset(rows, &sum.PostCount)
		if err != nil {
			return nil, errors.Wrap(err, "scan asset")
		}
		sum.Asset = *a
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AssetPostIDs returns the ids of posts linked to an asset.
func (s *Store) AssetPostIDs(ctx context.Context, assetID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id FROM post_assets WHERE asset_id = ? ORDER BY linked_at, post_id`, assetID)
	if err != nil {
		return nil, errors.Wrap(err, "asset posts")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan asset post")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Counts returns row counts for every table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM mentions),
			(SELECT COUNT(*) FROM photos),
			(SELECT COUNT(*) FROM videos),
			(SELECT COUNT(*) FROM assets),
			(SELECT COUNT(*) FROM post_assets)`).
		Scan(&c.Posts, &c.Mentions, &c.Photos, &c.Videos, &c.Assets, &c.PostAssets)
	return c, errors.Wrap(err, "count rows")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*types.Post, error) {
	var (
		p                                                  types.Post
		userID, username, name, text, html                 sql.NullString
		likes, retweets, replies, views, bookmarks         sql.NullInt64
		isRetweet, isReply, isQuoted, isPin, isSelf, sens  sql.NullBool
		hashtags, urls, convID, parentID, permURL, ts, tps sql.NullString
		ingested                                           string
	)
	err := row.Scan(&p.PostID, &userID, &username, &name, &text, &html,
		&likes, &retweets, &replies, &views, &bookmarks,
		&isRetweet, &isReply, &isQuoted, &isPin, &isSelf, &sens,
		&hashtags, &urls, &convID, &parentID, &permURL,
		&ts, &tps, &ingested)
	if err != nil {
		return nil, err
	}

	p.UserID, p.Username, p.Name = strPtr(userID), strPtr(username), strPtr(name)
	p.Text, p.HTML = strPtr(text), strPtr(html)
	p.Likes, p.Retweets, p.Replies = int64Ptr(likes), int64Ptr(retweets), int64Ptr(replies)
	p.Views, p.BookmarkCount = int64Ptr(views), int64Ptr(bookmarks)
	p.IsRetweet, p.IsReply, p.IsQuoted = boolPtr(isRetweet), boolPtr(isReply), boolPtr(isQuoted)
	p.IsPin, p.IsSelfThread, p.SensitiveContent = boolPtr(isPin), boolPtr(isSelf), boolPtr(sens)
	p.ConversationID, p.ParentThreadID, p.PermanentURL = strPtr(convID), strPtr(parentID), strPtr(permURL)

	if hashtags.Valid {
		_ = json.Unmarshal([]byte(hashtags.String), &p.Hashtags)
	}
	if urls.Valid {
		_ = json.Unmarshal([]byte(urls.String), &p.URLs)
	}
	if ts.Valid {
		if n, ok := new(big.Int).SetString(ts.String, 10); ok {
			p.Timestamp = n
		}
	}
	if tps.Valid {
		if t, err := parseTime(tps.String); err == nil {
			p.TimeParsed = &t
		}
	}
	if t, err := parseTime(ingested); err == nil {
		p.IngestedAt = t
	}
	return &p, nil
}

func scanAsset(row scanner, extra ...any) (*types.Asset, error) {
	var (
		a                     types.Asset
		name, contract, chain sql.NullString
		decimals              sql.NullInt64
		marketCap             sql.NullFloat64
		createdAt, updatedAt  string
	)
	dest := []any{&a.ID, &a.Symbol, &name, &contract, &chain, &decimals, &marketCap, &createdAt, &updatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	a.Name, a.ContractAddress, a.Chain = strPtr(name), strPtr(contract), strPtr(chain)
	if decimals.Valid {
		d := int(decimals.Int64)
		a.Decimals = &d
	}
	if marketCap.Valid {
		m := marketCap.Float64
		a.MarketCap = &m
	}
	a.CreatedAt, _ = parseTime(createdAt)
	a.UpdatedAt, _ = parseTime(updatedAt)
	return &a, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
