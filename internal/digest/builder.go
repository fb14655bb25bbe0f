package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/types"
)

// Builder renders the new-asset report sent after a run.
type Builder struct {
	maxAssets int
	template  *template.Template
	now       func() time.Time
}

// New creates a new digest builder
func New(maxAssets int) (*Builder, error) {
	tmpl, err := template.New("digest").Parse(defaultTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse template")
	}

	return &Builder{
		maxAssets: maxAssets,
		template:  tmpl,
		now:       time.Now,
	}, nil
}

// Digest represents a compiled digest ready for sending
type Digest struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	AssetIDs  []int64
	CreatedAt time.Time
}

// AssetEntry is one newly cataloged asset and the post that introduced it.
type AssetEntry struct {
	Asset   types.Asset
	Handle  string
	PostID  string
	PostURL string
}

// RunSummary describes the run that produced the report.
type RunSummary struct {
	RunID        string
	Handles      int
	PostsFetched int
	AssetsLinked int
}

// DigestData is the template data structure
type DigestData struct {
	Title  string
	Date   string
	Assets []AssetData
	Run    RunSummary
	Total  int
}

// AssetData represents an asset in the digest template
type AssetData struct {
	Symbol    string
	Name      string
	Chain     string
	Contract  string
	MarketCap string
	Handle    string
	PostURL   string
}

// Build renders entries, most recently created first.
func (b *Builder) Build(entries []AssetEntry, run RunSummary) (*Digest, error) {
	if len(entries) == 0 {
		return nil, errors.New("no assets to include in digest")
	}

	entries = append([]AssetEntry(nil), entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Asset.CreatedAt.After(entries[j].Asset.CreatedAt)
	})
	total := len(entries)
	if b.maxAssets > 0 && len(entries) > b.maxAssets {
		entries = entries[:b.maxAssets]
	}

	now := b.now()
	data := DigestData{
		Title:  fmt.Sprintf("%d new %s spotted", total, plural(total, "asset", "assets")),
		Date:   now.Format("Monday, January 2 15:04 MST"),
		Assets: make([]AssetData, len(entries)),
		Run:    run,
		Total:  total,
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		data.Assets[i] = AssetData{
			Symbol:    e.Asset.Symbol,
			Name:      deref(e.Asset.Name),
			Chain:     deref(e.Asset.Chain),
			Contract:  deref(e.Asset.ContractAddress),
			MarketCap: formatMarketCap(e.Asset.MarketCap),
			Handle:    e.Handle,
			PostURL:   e.PostURL,
		}
		ids[i] = e.Asset.ID
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, errors.Wrap(err, "failed to render template")
	}

	symbols := make([]string, 0, 3)
	for i := 0; i < len(entries) && i < 3; i++ {
		symbols = append(symbols, "$"+entries[i].Asset.Symbol)
	}
	subject := "kolwatch: " + strings.Join(symbols, ", ")
	if total > len(symbols) {
		subject += fmt.Sprintf(" and %d more", total-len(symbols))
	}

	return &Digest{
		Subject:   subject,
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		AssetIDs:  ids,
		CreatedAt: now,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func formatMarketCap(v *float64) string {
	if v == nil {
		return ""
	}
	switch m := *v; {
	case m >= 1e9:
		return fmt.Sprintf("$%.1fB", m/1e9)
	case m >= 1e6:
		return fmt.Sprintf("$%.1fM", m/1e6)
	case m >= 1e3:
		return fmt.Sprintf("$%.1fK", m/1e3)
	default:
		return fmt.Sprintf("$%.0f", m)
	}
}

func buildPlainText(data DigestData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%s\n%s\n\n", data.Title, data.Date))

	for i, a := range data.Assets {
		line := fmt.Sprintf("%d. $%s", i+1, a.Symbol)
		if a.Name != "" {
			line += " (" + a.Name + ")"
		}
		if a.Chain != "" {
			line += " on " + a.Chain
		}
		buf.WriteString(line + "\n")
		if a.Contract != "" {
			buf.WriteString(fmt.Sprintf("   contract: %s\n", a.Contract))
		}
		if a.MarketCap != "" {
			buf.WriteString(fmt.Sprintf("   market cap: %s\n", a.MarketCap))
		}
		buf.WriteString(fmt.Sprintf("   first seen from @%s: %s\n\n", a.Handle, a.PostURL))
	}

	if len(data.Assets) < data.Total {
		buf.WriteString(fmt.Sprintf("...and %d more\n\n", data.Total-len(data.Assets)))
	}
	buf.WriteString(fmt.Sprintf("run %s: %d posts from %d handles\n", data.Run.RunID, data.Run.PostsFetched, data.Run.Handles))
	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #1da1f2; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .asset { border-bottom: 1px solid #eee; padding: 15px 0; }
        .asset:last-child { border-bottom: none; }
        .symbol { font-weight: bold; color: #333; font-size: 18px; }
        .name { color: #666; }
        .detail { color: #444; font-size: 13px; margin: 4px 0; }
        .contract { font-family: monospace; word-break: break-all; }
        .link { color: #1da1f2; text-decoration: none; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>

        {{range .Assets}}
        <div class="asset">
            <div class="symbol">${{.Symbol}} {{if .Name}}<span class="name">{{.Name}}</span>{{end}}</div>
            {{if .Chain}}<div class="detail">Chain: {{.Chain}}</div>{{end}}
            {{if .Contract}}<div class="detail contract">{{.Contract}}</div>{{end}}
            {{if .MarketCap}}<div class="detail">Market cap: {{.MarketCap}}</div>{{end}}
            <div class="detail">First seen from @{{.Handle}}</div>
            {{if .PostURL}}<a href="{{.PostURL}}" class="link">View on X →</a>{{end}}
        </div>
        {{end}}

        <div class="footer">
            {{if lt (len .Assets) .Total}}Showing {{len .Assets}} of {{.Total}} · {{end}}Run {{.Run.RunID}} · {{.Run.PostsFetched}} posts from {{.Run.Handles}} handles · Generated by kolwatch
        </div>
    </div>
</body>
</html>`
