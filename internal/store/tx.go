package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/types"
)

// Tx is an open transaction. Write methods never erase a known column with
// an absent (nil) value.
type Tx struct {
	tx  *sql.Tx
	now func() time.Time
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return errors.Wrap(t.tx.Commit(), "commit")
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.Wrap(err, "rollback")
}

const insertPostSQL = `
	INSERT INTO posts (post_id, user_id, username, name, text, html,
		likes, retweets, replies, views, bookmark_count,
		is_retweet, is_reply, is_quoted, is_pin, is_self_thread, sensitive_content,
		hashtags, urls, conversation_id, parent_thread_id, permanent_url,
		timestamp, time_parsed, ingested_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// UpsertPost inserts a post or merges it into the existing row.
func (t *Tx) UpsertPost(ctx context.Context, p types.Post) error {
	_, err := t.tx.ExecContext(ctx, insertPostSQL+`
	ON CONFLICT(post_id) DO UPDATE SET
		user_id = COALESCE(excluded.user_id, posts.user_id),
		username = COALESCE(excluded.username, posts.username),
		name = COALESCE(excluded.name, posts.name),
		text = COALESCE(excluded.text, posts.text),
		html = COALESCE(excluded.html, posts.html),
		likes = COALESCE(excluded.likes, posts.likes),
		retweets = COALESCE(excluded.retweets, posts.retweets),
		replies = COALESCE(excluded.replies, posts.replies),
		views = COALESCE(excluded.views, posts.views),
		bookmark_count = COALESCE(excluded.bookmark_count, posts.bookmark_count),
		is_retweet = COALESCE(excluded.is_retweet, posts.is_retweet),
		is_reply = COALESCE(excluded.is_reply, posts.is_reply),
		is_quoted = COALESCE(excluded.is_quoted, posts.is_quoted),
		is_pin = COALESCE(excluded.is_pin, posts.is_pin),
		is_self_thread = COALESCE(excluded.is_self_thread, posts.is_self_thread),
		sensitive_content = COALESCE(excluded.sensitive_content, posts.sensitive_content),
		hashtags = COALESCE(excluded.hashtags, posts.hashtags),
		urls = COALESCE(excluded.urls, posts.urls),
		conversation_id = COALESCE(excluded.conversation_id, posts.conversation_id),
		parent_thread_id = COALESCE(excluded.parent_thread_id, posts.parent_thread_id),
		permanent_url = COALESCE(excluded.permanent_url, posts.permanent_url),
		timestamp = COALESCE(excluded.timestamp, posts.timestamp),
		time_parsed = COALESCE(excluded.time_parsed, posts.time_parsed),
		updated_at = excluded.updated_at`,
		t.postArgs(p)...)
	return errors.Wrapf(err, "upsert post %s", p.PostID)
}

// UpsertThreadChild inserts a thread child, or for an existing post only
// refreshes its parent link.
func (t *Tx) UpsertThreadChild(ctx context.Context, child types.Post) error {
	if child.ParentThreadID == nil {
		return errors.Errorf("thread child %s has no parent", child.PostID)
	}
	_, err := t.tx.ExecContext(ctx, insertPostSQL+`
	ON CONFLICT(post_id) DO UPDATE SET
		parent_thread_id = excluded.parent_thread_id,
		updated_at = excluded.updated_at`,
		t.postArgs(child)...)
	return errors.Wrapf(err, "upsert thread child %s", child.PostID)
}

// UpsertMention inserts or refreshes a mention keyed by (post, username).
// Usernames compare case-insensitively and keep the latest spelling.
func (t *Tx) UpsertMention(ctx context.Context, m types.Mention) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO mentions (post_id, user_id, username, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id, username) DO UPDATE SET
			username = excluded.username,
			user_id = COALESCE(excluded.user_id, mentions.user_id),
			name = COALESCE(excluded.name, mentions.name)`,
		m.PostID, emptyToNull(m.UserID), m.Username, emptyToNull(m.Name))
	return errors.Wrapf(err, "upsert mention %s on %s", m.Username, m.PostID)
}

// UpsertPhoto inserts or refreshes a photo keyed by its media id.
func (t *Tx) UpsertPhoto(ctx context.Context, p types.Photo) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO photos (photo_id, post_id, url, alt_text)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(photo_id) DO UPDATE SET
			post_id = excluded.post_id,
			url = excluded.url,
			alt_text = COALESCE(excluded.alt_text, photos.alt_text)`,
		p.PhotoID, p.PostID, p.URL, nullString(p.AltText))
	return errors.Wrapf(err, "upsert photo %s", p.PhotoID)
}

// UpsertVideo inserts or refreshes a video keyed by its media id.
func (t *Tx) UpsertVideo(ctx context.Context, v types.Video) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO videos (video_id, post_id, url, preview)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			post_id = excluded.post_id,
			url = excluded.url,
			preview = COALESCE(excluded.preview, videos.preview)`,
		v.VideoID, v.PostID, v.URL, nullString(v.Preview))
	return errors.Wrapf(err, "upsert video %s", v.VideoID)
}

const assetColumns = `id, symbol, name, contract_address, chain, decimals, market_cap, created_at, updated_at`

// FindAsset returns the earliest asset whose symbol matches case-insensitively
// and whose contract matches case-insensitively, or which has no contract when
// contract is nil. It returns nil when nothing matches.
func (t *Tx) FindAsset(ctx context.Context, symbol string, contract *string) (*types.Asset, error) {
	c := nullString(contract)
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE lower(symbol) = lower(?)
			AND ((? IS NULL AND (contract_address IS NULL OR contract_address = ''))
				OR lower(contract_address) = lower(?))
		ORDER BY created_at, id
		LIMIT 1`, symbol, c, c)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find asset %s", symbol)
	}
	return a, nil
}

// InsertAsset creates an asset from a candidate.
func (t *Tx) InsertAsset(ctx context.Context, c types.AssetCandidate) (*types.Asset, error) {
	now := formatTime(t.now())
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO assets (symbol, name, contract_address, chain, decimals, market_cap, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Symbol, nullString(c.Name), nullString(c.ContractAddress), nullString(c.Chain),
		nullInt(c.Decimals), nullFloat(c.MarketCap), now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "insert asset %s", c.Symbol)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "asset id")
	}
	return t.assetByID(ctx, id)
}

// RefreshAsset overwrites an asset's descriptive fields with the candidate's
// non-nil values. Symbol and contract are identity and never change.
func (t *Tx) RefreshAsset(ctx context.Context, id int64, c types.AssetCandidate) (*types.Asset, error) {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE assets SET
			name = COALESCE(?, name),
			chain = COALESCE(?, chain),
			decimals = COALESCE(?, decimals),
			market_cap = COALESCE(?, market_cap),
			updated_at = ?
		WHERE id = ?`,
		nullString(c.Name), nullString(c.Chain), nullInt(c.Decimals), nullFloat(c.MarketCap),
		formatTime(t.now()), id)
	if err != nil {
		return nil, errors.Wrapf(err, "refresh asset %d", id)
	}
	return t.assetByID(ctx, id)
}

// LinkPostAsset links a post to an asset. It reports false when the link
// already existed.
func (t *Tx) LinkPostAsset(ctx context.Context, postID string, assetID int64, runID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO post_assets (post_id, asset_id, run_id, linked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id, asset_id) DO NOTHING`,
		postID, assetID, emptyToNull(runID), formatTime(t.now()))
	if err != nil {
		return false, errors.Wrapf(err, "link post %s to asset %d", postID, assetID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "link rows affected")
	}
	return n > 0, nil
}

func (t *Tx) assetByID(ctx context.Context, id int64) (*types.Asset, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	return a, errors.Wrapf(err, "load asset %d", id)
}

func (t *Tx) postArgs(p types.Post) []any {
	now := formatTime(t.now())
	ingested := now
	if !p.IngestedAt.IsZero() {
		ingested = formatTime(p.IngestedAt)
	}
	var ts any
	if p.Timestamp != nil {
		ts = p.Timestamp.String()
	}
	var parsed any
	if p.TimeParsed != nil {
		parsed = formatTime(*p.TimeParsed)
	}
	return []any{
		p.PostID, nullString(p.UserID), nullString(p.Username), nullString(p.Name),
		nullString(p.Text), nullString(p.HTML),
		nullInt64(p.Likes), nullInt64(p.Retweets), nullInt64(p.Replies), nullInt64(p.Views), nullInt64(p.BookmarkCount),
		nullBool(p.IsRetweet), nullBool(p.IsReply), nullBool(p.IsQuoted), nullBool(p.IsPin),
		nullBool(p.IsSelfThread), nullBool(p.SensitiveContent),
		jsonList(p.Hashtags), jsonList(p.URLs),
		nullString(p.ConversationID), nullString(p.ParentThreadID), nullString(p.PermanentURL),
		ts, parsed, ingested, now,
	}
}

// jsonList encodes a non-empty list; an empty list is absent.
func jsonList(list []string) any {
	if len(list) == 0 {
		return nil
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func emptyToNull(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
