package notifier

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/digest"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/notifier/providers"
)

// Notifier handles sending digest notifications
type Notifier struct {
	sender  Sender
	builder *digest.Builder
	to      string
	logger  *slog.Logger
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a notifier that renders reports with builder and mails them to
// toAddr through sender.
func New(sender Sender, builder *digest.Builder, toAddr string, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		builder: builder,
		to:      toAddr,
		logger:  logging.Component(logger, "notifier"),
	}
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(email config.EmailConfig, report config.ReportConfig, logger *slog.Logger) (*Notifier, error) {
	var sender Sender

	switch email.Provider {
	case "smtp", "":
		sender = providers.NewSMTPSender(
			email.SMTPHost,
			email.SMTPPort,
			email.SMTPUser,
			email.SMTPPass,
			email.FromAddr,
		)
	default:
		return nil, errors.Errorf("unknown email provider: %s", email.Provider)
	}

	builder, err := digest.New(report.MaxAssets)
	if err != nil {
		return nil, err
	}
	return New(sender, builder, email.ToAddr, logger), nil
}

// SendDigest sends a digest email
func (n *Notifier) SendDigest(d *digest.Digest) error {
	return n.sender.Send(n.to, d.Subject, d.HTMLBody, d.PlainBody)
}

// ReportNewAssets renders and sends the new-asset report for one run.
func (n *Notifier) ReportNewAssets(ctx context.Context, entries []digest.AssetEntry, run digest.RunSummary) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d, err := n.builder.Build(entries, run)
	if err != nil {
		return errors.Wrap(err, "build report")
	}
	if err := n.SendDigest(d); err != nil {
		return errors.Wrap(err, "send report")
	}
	n.logger.Info("sent new-asset report", "to", n.to, "assets", len(d.AssetIDs), "run_id", run.RunID)
	return nil
}
