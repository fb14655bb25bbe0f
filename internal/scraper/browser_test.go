package scraper

import (
	"strings"
	"testing"
)

func TestParseMetric(t *testing.T) {
	cases := map[string]int64{
		"423":   423,
		"1,234": 1234,
		"1.2K":  1200,
		"5.7M":  5700000,
		"3k":    3000,
	}
	for in, want := range cases {
		got := parseMetric(in)
		if got == nil || *got != want {
			t.Fatalf("parseMetric(%q) = %v, want %d", in, got, want)
		}
	}
	for _, in := range []string{"", "  ", "n/a"} {
		if got := parseMetric(in); got != nil {
			t.Fatalf("parseMetric(%q) = %d, want nil", in, *got)
		}
	}
}

func TestMediaID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://pbs.twimg.com/media/GabcXYZ?format=jpg&name=small", "GabcXYZ"},
		{"https://pbs.twimg.com/amplify_video_thumb/1789/img/poster.jpg", "1789"},
		{"https://pbs.twimg.com/ext_tw_video_thumb/42/pu/img/frame.jpg", "42"},
		{"blob:https://x.com/3f1c", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := mediaID(c.in); got != c.want {
			t.Fatalf("mediaID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDOMPostToRaw(t *testing.T) {
	dp := domPost{
		ID:           "7",
		AuthorHandle: "kol",
		AuthorName:   "The KOL",
		Content:      "buy $ABC @friend",
		PhotoURLs:    []string{"https://pbs.twimg.com/media/P1?format=jpg"},
		VideoURLs:    []string{"blob:https://x.com/abc"},
		VideoPosters: []string{"https://pbs.twimg.com/amplify_video_thumb/99/img/p.jpg"},
		Mentions:     []string{"friend"},
		Timestamp:    "2024-05-01T12:00:00.000Z",
		Likes:        "1.5K",
		Replies:      "",
		OriginalURL:  "https://x.com/kol/status/7",
	}
	p := dp.toRaw()

	if *p.Username != "kol" || *p.Text != "buy $ABC @friend" {
		t.Fatalf("author/text = %v/%v", *p.Username, *p.Text)
	}
	if p.Likes == nil || *p.Likes != 1500 {
		t.Fatalf("likes = %v, want 1500", p.Likes)
	}
	if p.Replies != nil {
		t.Fatalf("replies = %d, want unknown", *p.Replies)
	}
	if p.Timestamp == nil || *p.Timestamp != "1714564800" {
		t.Fatalf("timestamp = %v, want 1714564800", p.Timestamp)
	}
	if len(p.Photos) != 1 || p.Photos[0].ID != "P1" {
		t.Fatalf("photos = %+v", p.Photos)
	}
	if len(p.Videos) != 1 || p.Videos[0].ID != "99" {
		t.Fatalf("videos = %+v", p.Videos)
	}
	if len(p.Mentions) != 1 || p.Mentions[0].Username != "friend" {
		t.Fatalf("mentions = %+v", p.Mentions)
	}
}

func TestSearchURL(t *testing.T) {
	u := searchURL("from:kol -filter:replies", "Latest")
	if !strings.HasPrefix(u, "https://x.com/search?") || !strings.Contains(u, "f=live") || !strings.Contains(u, "q=from%3Akol+-filter%3Areplies") {
		t.Fatalf("searchURL = %s", u)
	}
	if u := searchURL("q", "Top"); !strings.Contains(u, "f=top") {
		t.Fatalf("searchURL(Top) = %s", u)
	}
}

func TestExtractScriptEmbedsSelectors(t *testing.T) {
	if !strings.Contains(selectorsJSON(), `"article":"article[data-testid=\"tweet\"]"`) {
		t.Fatalf("selectorsJSON = %s", selectorsJSON())
	}
}
