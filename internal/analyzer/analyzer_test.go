package analyzer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/store"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
	prompts  []string
	block    bool
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func str(s string) *string { return &s }

func post(text string) types.Post {
	return types.Post{PostID: "42", Username: str("kol"), Text: str(text)}
}

func TestClassifyCoin(t *testing.T) {
	p := &fakeProvider{response: `{"is_coin": true, "symbol": "$ABC", "name": "Alpha", "contract_address": "0xAA", "chain": "base", "decimals": 18, "market_cap": null}`}
	c := NewWithProvider(p, time.Second, nil, nil)

	cand, err := c.Classify(context.Background(), post("aping $ABC 0xAA"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cand == nil {
		t.Fatalf("Classify = nil, want candidate")
	}
	if cand.Symbol != "ABC" {
		t.Fatalf("symbol = %q, want ABC", cand.Symbol)
	}
	if cand.ContractAddress == nil || *cand.ContractAddress != "0xAA" {
		t.Fatalf("contract = %v, want 0xAA", cand.ContractAddress)
	}
	if cand.Decimals == nil || *cand.Decimals != 18 {
		t.Fatalf("decimals = %v, want 18", cand.Decimals)
	}
	if cand.MarketCap != nil {
		t.Fatalf("market cap = %v, want nil", *cand.MarketCap)
	}
}

func TestClassifyNotCoin(t *testing.T) {
	for _, resp := range []string{
		`{"is_coin": false, "symbol": null}`,
		`{"is_coin": true, "symbol": "  "}`,
		`{"is_coin": true, "symbol": null}`,
	} {
		c := NewWithProvider(&fakeProvider{response: resp}, 0, nil, nil)
		cand, err := c.Classify(context.Background(), post("gm"))
		if err != nil {
			t.Fatalf("Classify(%s): %v", resp, err)
		}
		if cand != nil {
			t.Fatalf("Classify(%s) = %+v, want nil", resp, cand)
		}
	}
}

func TestClassifyFailuresAreClassificationErrors(t *testing.T) {
	cases := []*fakeProvider{
		{err: errors.New("connection reset")},
		{response: "I think this is about a coin"},
	}
	for _, p := range cases {
		c := NewWithProvider(p, 0, nil, nil)
		_, err := c.Classify(context.Background(), post("gm"))
		if !errors.Is(err, errs.ErrClassification) {
			t.Fatalf("err = %v, want ClassificationError", err)
		}
	}
}

func TestClassifyTimeout(t *testing.T) {
	c := NewWithProvider(&fakeProvider{block: true}, 20*time.Millisecond, nil, nil)
	_, err := c.Classify(context.Background(), post("gm"))
	if !errors.Is(err, errs.ErrClassification) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ClassificationError wrapping deadline", err)
	}
}

func TestClassifySkipsEmptyText(t *testing.T) {
	p := &fakeProvider{response: `{"is_coin": true, "symbol": "X"}`}
	c := NewWithProvider(p, 0, nil, nil)
	cand, err := c.Classify(context.Background(), types.Post{PostID: "1"})
	if err != nil || cand != nil {
		t.Fatalf("Classify = %v, %v; want nil, nil", cand, err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times, want 0", p.calls)
	}
}

func TestProviderNoneDisables(t *testing.T) {
	c, err := New(config.ClassifierConfig{Provider: config.ProviderNone}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Enabled() {
		t.Fatalf("Enabled() = true, want false")
	}
	cand, err := c.Classify(context.Background(), post("$ABC"))
	if err != nil || cand != nil {
		t.Fatalf("Classify = %v, %v; want nil, nil", cand, err)
	}

	if _, err := New(config.ClassifierConfig{Provider: "bogus"}, nil, nil); err == nil {
		t.Fatalf("New(bogus) err = nil, want error")
	}
}

func TestClassifyCachesExchange(t *testing.T) {
	cache := store.NewCache(t.TempDir())
	p := &fakeProvider{response: `{"is_coin": false}`}
	c := NewWithProvider(p, 0, cache, nil)

	if _, err := c.Classify(context.Background(), post("gm")); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	ex, path, err := store.LoadLatest[store.LLMExchange](cache, store.CacheLLM)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file: %v", err)
	}
	if ex.PostID != "42" || ex.Provider != "fake" || ex.Response != p.response {
		t.Fatalf("exchange = %+v", ex)
	}
	if ex.Prompt != p.prompts[0] {
		t.Fatalf("cached prompt differs from sent prompt")
	}
}
