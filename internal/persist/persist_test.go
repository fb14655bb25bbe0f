package persist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/normalize"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

func str(s string) *string { return &s }
func i64(n int64) *int64 { return &n }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "kolwatch.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func normalized(t *testing.T, raw types.RawPost) types.NormalizedPost {
	t.Helper()
	np, err := normalize.Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return np
}

func counts(t *testing.T, s *store.Store) store.Counts {
	t.Helper()
	c, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	return c
}

func TestScenarioAThenB(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	raw := types.RawPost{
		ID:       "123",
		Text:     str("gm"),
		Likes:    i64(10),
		Mentions: []types.RawMention{{ID: "9", Username: "alice"}},
	}
	if err := c.Persist(ctx, normalized(t, raw)); err != nil {
		t.Fatalf("Persist A: %v", err)
	}

	got := counts(t, s)
	if got.Posts != 1 || got.Mentions != 1 {
		t.Fatalf("after A counts = %+v, want 1 post and 1 mention", got)
	}
	mentions, err := s.ListMentions(ctx, "123")
	if err != nil {
		t.Fatalf("ListMentions: %v", err)
	}
	if len(mentions) != 1 || mentions[0].Username != "alice" || mentions[0].UserID != "9" {
		t.Fatalf("mentions = %+v, want alice/9", mentions)
	}

	raw.Likes = i64(50)
	if err := c.Persist(ctx, normalized(t, raw)); err != nil {
		t.Fatalf("Persist B: %v", err)
	}
	got = counts(t, s)
	if got.Posts != 1 || got.Mentions != 1 {
		t.Fatalf("after B counts = %+v, want 1 post and 1 mention", got)
	}
	p, err := s.GetPost(ctx, "123")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Likes == nil || *p.Likes != 50 {
		t.Fatalf("likes = %v, want 50", p.Likes)
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	ts := "1700000000000"
	raw := types.RawPost{
		ID:        "200",
		Text:      str("thread start $ABC"),
		Timestamp: &ts,
		Hashtags:  []string{"abc"},
		Mentions:  []types.RawMention{{ID: "1", Username: "a"}, {ID: "2", Username: "b"}},
		Photos:    []types.RawPhoto{{ID: "ph1", URL: "https://img/1"}},
		Videos:    []types.RawVideo{{ID: "vd1", URL: "https://vid/1"}},
		Thread:    []types.RawPost{{ID: "201", Text: str("part 2")}},
	}
	np := normalized(t, raw)

	for i := 0; i < 3; i++ {
		if err := c.Persist(ctx, np); err != nil {
			t.Fatalf("Persist #%d: %v", i, err)
		}
	}

	want := store.Counts{Posts: 2, Mentions: 2, Photos: 1, Videos: 1}
	if got := counts(t, s); got != want {
		t.Fatalf("counts = %+v, want %+v", got, want)
	}

	p, err := s.GetPost(ctx, "200")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Timestamp == nil || p.Timestamp.String() != ts {
		t.Fatalf("timestamp = %v, want %s", p.Timestamp, ts)
	}
	if len(p.Hashtags) != 1 || p.Hashtags[0] != "abc" {
		t.Fatalf("hashtags = %v, want [abc]", p.Hashtags)
	}

	children, err := s.ListThreadChildren(ctx, "200")
	if err != nil {
		t.Fatalf("ListThreadChildren: %v", err)
	}
	if len(children) != 1 || children[0].PostID != "201" {
		t.Fatalf("children = %+v, want [201]", children)
	}
}

func TestPersistNeverErasesKnownValues(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	first := types.RawPost{ID: "300", Text: str("original"), Likes: i64(7), Username: str("kol")}
	if err := c.Persist(ctx, normalized(t, first)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := c.Persist(ctx, normalized(t, types.RawPost{ID: "300", Retweets: i64(2)})); err != nil {
		t.Fatalf("Persist sparse: %v", err)
	}

	p, err := s.GetPost(ctx, "300")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Text == nil || *p.Text != "original" {
		t.Fatalf("text = %v, want original", p.Text)
	}
	if p.Likes == nil || *p.Likes != 7 {
		t.Fatalf("likes = %v, want 7", p.Likes)
	}
	if p.Retweets == nil || *p.Retweets != 2 {
		t.Fatalf("retweets = %v, want 2", p.Retweets)
	}

	if err := c.Persist(ctx, normalized(t, types.RawPost{ID: "300", Text: str("edited")})); err != nil {
		t.Fatalf("Persist edit: %v", err)
	}
	p, _ = s.GetPost(ctx, "300")
	if p.Text == nil || *p.Text != "edited" {
		t.Fatalf("text = %v, want edited", p.Text)
	}
}

func TestExistingThreadChildOnlyGetsParentLink(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	if err := c.Persist(ctx, normalized(t, types.RawPost{ID: "401", Text: str("standalone"), Likes: i64(9)})); err != nil {
		t.Fatalf("Persist child: %v", err)
	}
	parent := types.RawPost{
		ID:     "400",
		Text:   str("parent"),
		Thread: []types.RawPost{{ID: "401", Text: str("from listing"), Likes: i64(1)}},
	}
	if err := c.Persist(ctx, normalized(t, parent)); err != nil {
		t.Fatalf("Persist parent: %v", err)
	}

	child, err := s.GetPost(ctx, "401")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if child.ParentThreadID == nil || *child.ParentThreadID != "400" {
		t.Fatalf("parent = %v, want 400", child.ParentThreadID)
	}
	if *child.Text != "standalone" || *child.Likes != 9 {
		t.Fatalf("child fields changed: text=%q likes=%d", *child.Text, *child.Likes)
	}

	// Seen again on its own, the child keeps its parent link.
	if err := c.Persist(ctx, normalized(t, types.RawPost{ID: "401", Likes: i64(12)})); err != nil {
		t.Fatalf("Persist child again: %v", err)
	}
	child, _ = s.GetPost(ctx, "401")
	if child.ParentThreadID == nil || *child.ParentThreadID != "400" {
		t.Fatalf("parent = %v after refresh, want 400", child.ParentThreadID)
	}
}

func TestHookFailureLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	boom := errors.New("injected")
	c := New(s, WithHook(func(ctx context.Context, np types.NormalizedPost) error {
		return boom
	}))

	raw := types.RawPost{
		ID:       "500",
		Text:     str("never lands"),
		Mentions: []types.RawMention{{ID: "1", Username: "a"}},
		Photos:   []types.RawPhoto{{ID: "p", URL: "u"}},
		Videos:   []types.RawVideo{{ID: "v", URL: "u"}},
		Thread:   []types.RawPost{{ID: "501"}},
	}
	err := c.Persist(ctx, normalized(t, raw))
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected cause", err)
	}
	if got := counts(t, s); got != (store.Counts{}) {
		t.Fatalf("counts = %+v, want all zero", got)
	}
}

func TestSubEntityFailureRollsBackPost(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	np := normalized(t, types.RawPost{
		ID:     "600",
		Photos: []types.RawPhoto{{ID: "ok", URL: "u"}},
	})
	// A mention pointing at a post that does not exist violates the foreign key.
	np.Mentions = append(np.Mentions, types.Mention{PostID: "ghost", Username: "x"})

	err := c.Persist(ctx, np)
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if got := counts(t, s); got != (store.Counts{}) {
		t.Fatalf("counts = %+v, want all zero", got)
	}
}

func TestMentionDedupAcrossIngestions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	raw := types.RawPost{ID: "700", Mentions: []types.RawMention{{ID: "1", Username: "alice", Name: "A"}}}
	if err := c.Persist(ctx, normalized(t, raw)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	raw.Mentions = []types.RawMention{{ID: "1", Username: "alice", Name: "Alice"}, {ID: "2", Username: "bob"}}
	if err := c.Persist(ctx, normalized(t, raw)); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	mentions, err := s.ListMentions(ctx, "700")
	if err != nil {
		t.Fatalf("ListMentions: %v", err)
	}
	if len(mentions) != 2 {
		t.Fatalf("mentions = %+v, want 2", mentions)
	}
	if mentions[0].Name != "Alice" {
		t.Fatalf("mention name = %q, want Alice", mentions[0].Name)
	}
}

func TestMentionUsernameIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := New(s)

	raw := types.RawPost{ID: "123", Mentions: []types.RawMention{{ID: "9", Username: "alice"}}}
	if err := c.Persist(ctx, normalized(t, raw)); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	raw.Mentions = []types.RawMention{{ID: "9", Username: "Alice"}}
	if err := c.Persist(ctx, normalized(t, raw)); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	mentions, err := s.ListMentions(ctx, "123")
	if err != nil {
		t.Fatalf("ListMentions: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions = %+v, want 1", mentions)
	}
	if mentions[0].Username != "Alice" {
		t.Fatalf("username = %q, want latest spelling Alice", mentions[0].Username)
	}
}
