package providers

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/types"
)

// SystemPrompt frames every classification request.
const SystemPrompt = "You are a helpful assistant for crypto KOL analysis."

// Verdict represents the expected JSON structure from any LLM provider
type Verdict struct {
	IsCoin          bool     `json:"is_coin"`
	Symbol          *string  `json:"symbol"`
	Name            *string  `json:"name"`
	ContractAddress *string  `json:"contract_address"`
	Chain           *string  `json:"chain"`
	Decimals        *float64 `json:"decimals"`
	MarketCap       *float64 `json:"market_cap"`

	// camelCase spellings some models drift to
	ContractAddressAlt *string  `json:"contractAddress,omitempty"`
	MarketCapAlt       *float64 `json:"marketCap,omitempty"`
}

// verdictSchema is the JSON schema sent to providers that support
// structured output.
var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_coin":          map[string]any{"type": "boolean"},
		"symbol":           map[string]any{"type": []string{"string", "null"}},
		"name":             map[string]any{"type": []string{"string", "null"}},
		"contract_address": map[string]any{"type": []string{"string", "null"}},
		"chain":            map[string]any{"type": []string{"string", "null"}},
		"decimals":         map[string]any{"type": []string{"integer", "null"}},
		"market_cap":       map[string]any{"type": []string{"number", "null"}},
	},
	"required":             []string{"is_coin", "symbol", "name", "contract_address", "chain", "decimals", "market_cap"},
	"additionalProperties": false,
}

// BuildPrompt constructs the LLM prompt for classifying one post
func BuildPrompt(post types.Post) string {
	var sb strings.Builder

	sb.WriteString("Decide whether the following X post references one specific, tradable crypto token.\n\n")

	sb.WriteString("## Post\n")
	sb.WriteString(fmt.Sprintf("ID: %s\n", post.PostID))
	if post.Username != nil {
		author := "@" + *post.Username
		if post.Name != nil && *post.Name != "" {
			author += fmt.Sprintf(" (%s)", *post.Name)
		}
		sb.WriteString(fmt.Sprintf("Author: %s\n", author))
	}
	if post.Text != nil {
		sb.WriteString(fmt.Sprintf("Content: %s\n", *post.Text))
	}
	if len(post.Hashtags) > 0 {
		sb.WriteString(fmt.Sprintf("Hashtags: %s\n", strings.Join(post.Hashtags, ", ")))
	}
	if len(post.URLs) > 0 {
		sb.WriteString(fmt.Sprintf("Links: %s\n", strings.Join(post.URLs, ", ")))
	}

	sb.WriteString("\n## Task\n\n")
	sb.WriteString("If the post is about a specific token (a $TICKER, a contract address, a token launch or call), set is_coin to true and fill in what the post states or what is well known about that token:\n")
	sb.WriteString("1. symbol: ticker without the $ sign\n")
	sb.WriteString("2. name: token name\n")
	sb.WriteString("3. contract_address: only if it appears in the post or is unambiguous\n")
	sb.WriteString("4. chain: e.g. solana, ethereum, base, bsc\n")
	sb.WriteString("5. decimals and market_cap (USD) when known\n")
	sb.WriteString("Use null for anything you do not know. General market talk, majors mentioned in passing, or no token at all means is_coin is false.\n\n")

	sb.WriteString("IMPORTANT: Respond with ONLY a valid JSON object. No markdown, no code blocks, no explanation.\n\n")
	sb.WriteString("Example structure:\n")
	sb.WriteString(`{"is_coin": true, "symbol": "ABC", "name": "Alpha Beta", "contract_address": "0x...", "chain": "ethereum", "decimals": 18, "market_cap": 1500000}`)
	sb.WriteString("\n")

	return sb.String()
}

// ParseVerdict turns a provider response into a candidate. A verdict that is
// not a coin, or has no symbol, yields nil.
func ParseVerdict(text string) (*types.AssetCandidate, error) {
	jsonText := extractJSON(text)

	var v Verdict
	if err := json.Unmarshal([]byte(jsonText), &v); err != nil {
		return nil, errors.Wrapf(err, "failed to parse verdict JSON (response was: %.500s)", text)
	}
	if !v.IsCoin || v.Symbol == nil {
		return nil, nil
	}
	symbol := strings.TrimPrefix(strings.TrimSpace(*v.Symbol), "$")
	if symbol == "" {
		return nil, nil
	}

	cand := &types.AssetCandidate{
		Symbol:          symbol,
		Name:            v.Name,
		ContractAddress: v.ContractAddress,
		Chain:           v.Chain,
		MarketCap:       v.MarketCap,
	}
	if cand.ContractAddress == nil {
		cand.ContractAddress = v.ContractAddressAlt
	}
	if cand.MarketCap == nil {
		cand.MarketCap = v.MarketCapAlt
	}
	if v.Decimals != nil && *v.Decimals >= 0 && *v.Decimals == math.Trunc(*v.Decimals) {
		d := int(*v.Decimals)
		cand.Decimals = &d
	}
	return cand, nil
}

var (
	codeBlockRe = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(\{.*?\})\s*\n?` + "```")
	objectRe    = regexp.MustCompile(`(?s)(\{.*\})`)
)

// extractJSON pulls a JSON object out of a response, handling markdown code blocks
func extractJSON(text string) string {
	if m := codeBlockRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	if m := objectRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	return text
}
