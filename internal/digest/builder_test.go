package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/ibeckermayer/kolwatch/internal/types"
)

func str(s string) *string { return &s }

func entry(id int64, symbol string, created time.Time) AssetEntry {
	return AssetEntry{
		Asset:   types.Asset{ID: id, Symbol: symbol, CreatedAt: created},
		Handle:  "kol",
		PostID:  "1",
		PostURL: "https://x.com/kol/status/1",
	}
}

func TestBuildOrdersNewestFirstAndCaps(t *testing.T) {
	b, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	d, err := b.Build([]AssetEntry{
		entry(1, "OLD", base),
		entry(2, "NEW", base.Add(2*time.Hour)),
		entry(3, "MID", base.Add(time.Hour)),
	}, RunSummary{RunID: "run-1", Handles: 3, PostsFetched: 30})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(d.AssetIDs) != 2 || d.AssetIDs[0] != 2 || d.AssetIDs[1] != 3 {
		t.Fatalf("AssetIDs = %v, want [2 3]", d.AssetIDs)
	}
	if d.Subject != "kolwatch: $NEW, $MID and 1 more" {
		t.Fatalf("Subject = %q", d.Subject)
	}
	if !strings.Contains(d.PlainBody, "3 new assets spotted") || !strings.Contains(d.PlainBody, "...and 1 more") {
		t.Fatalf("PlainBody:\n%s", d.PlainBody)
	}
	if !strings.Contains(d.HTMLBody, "Showing 2 of 3") || strings.Contains(d.HTMLBody, "$OLD") {
		t.Fatalf("HTMLBody does not reflect the cap")
	}
}

func TestBuildRendersOptionalFields(t *testing.T) {
	b, _ := New(10)
	e := entry(1, "ABC", time.Now())
	e.Asset.Name = str("Alpha <script>")
	e.Asset.Chain = str("base")
	e.Asset.ContractAddress = str("0xAA")
	mc := 2_500_000.0
	e.Asset.MarketCap = &mc

	d, err := b.Build([]AssetEntry{e}, RunSummary{RunID: "r"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if d.Subject != "kolwatch: $ABC" {
		t.Fatalf("Subject = %q", d.Subject)
	}
	for _, want := range []string{"1 new asset spotted", "$ABC (Alpha <script>) on base", "contract: 0xAA", "market cap: $2.5M"} {
		if !strings.Contains(d.PlainBody, want) {
			t.Fatalf("PlainBody missing %q:\n%s", want, d.PlainBody)
		}
	}
	if strings.Contains(d.HTMLBody, "<script>") {
		t.Fatalf("HTMLBody is not escaped")
	}
}

func TestBuildRejectsEmpty(t *testing.T) {
	b, _ := New(10)
	if _, err := b.Build(nil, RunSummary{}); err == nil {
		t.Fatalf("Build(nil) err = nil, want error")
	}
}

func TestFormatMarketCap(t *testing.T) {
	cases := map[float64]string{950: "$950", 12_300: "$12.3K", 4.2e9: "$4.2B"}
	for in, want := range cases {
		if got := formatMarketCap(&in); got != want {
			t.Fatalf("formatMarketCap(%v) = %q, want %q", in, got, want)
		}
	}
	if got := formatMarketCap(nil); got != "" {
		t.Fatalf("formatMarketCap(nil) = %q, want empty", got)
	}
}
