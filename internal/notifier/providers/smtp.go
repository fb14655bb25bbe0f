package providers

import (
	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"
)

// SMTPSender sends emails via SMTP
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender creates a new SMTP sender. Authentication is skipped when no
// username is configured; port 465 implies implicit TLS.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send sends a multipart email with plain text and HTML alternatives.
func (s *SMTPSender) Send(to, subject, htmlBody, plainBody string) error {
	if err := s.dialer.DialAndSend(newMessage(s.from, to, subject, htmlBody, plainBody)); err != nil {
		return errors.Wrap(err, "failed to send email")
	}
	return nil
}

func newMessage(from, to, subject, htmlBody, plainBody string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", plainBody)
	msg.AddAlternative("text/html", htmlBody)
	return msg
}
