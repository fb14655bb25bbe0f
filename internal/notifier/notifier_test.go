package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/digest"
	"github.com/ibeckermayer/kolwatch/internal/types"
)

type fakeSender struct {
	to, subject string
	calls       int
	err         error
}

func (f *fakeSender) Send(to, subject, htmlBody, plainBody string) error {
	f.calls++
	f.to, f.subject = to, subject
	return f.err
}

func entries() []digest.AssetEntry {
	return []digest.AssetEntry{{Asset: types.Asset{ID: 1, Symbol: "ABC", CreatedAt: time.Now()}, Handle: "kol"}}
}

func TestReportNewAssets(t *testing.T) {
	b, err := digest.New(10)
	if err != nil {
		t.Fatalf("digest.New: %v", err)
	}
	s := &fakeSender{}
	n := New(s, b, "me@example.com", nil)

	if err := n.ReportNewAssets(context.Background(), nil, digest.RunSummary{}); err != nil || s.calls != 0 {
		t.Fatalf("empty report: err = %v, calls = %d; want nil, 0", err, s.calls)
	}
	if err := n.ReportNewAssets(context.Background(), entries(), digest.RunSummary{RunID: "r"}); err != nil {
		t.Fatalf("ReportNewAssets: %v", err)
	}
	if s.to != "me@example.com" || s.subject != "kolwatch: $ABC" {
		t.Fatalf("sent to %q subject %q", s.to, s.subject)
	}

	s.err = errors.New("smtp down")
	if err := n.ReportNewAssets(context.Background(), entries(), digest.RunSummary{}); err == nil {
		t.Fatalf("err = nil, want send failure")
	}
}

func TestNewFromConfig(t *testing.T) {
	if _, err := NewFromConfig(config.EmailConfig{Provider: "smtp"}, config.ReportConfig{MaxAssets: 5}, nil); err != nil {
		t.Fatalf("NewFromConfig(smtp): %v", err)
	}
	if _, err := NewFromConfig(config.EmailConfig{Provider: "pigeon"}, config.ReportConfig{}, nil); err == nil {
		t.Fatalf("NewFromConfig(pigeon) err = nil, want error")
	}
}
