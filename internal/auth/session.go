package auth

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/kolwatch/internal/xhttp"
)

// Session is an authenticated X web session. It is read-only once acquired.
type Session struct {
	Username   string
	Cookies    []*network.Cookie
	AcquiredAt time.Time
}

// XCookies returns only the x.com cookies, for injection into a browser.
func (s *Session) XCookies() []*network.Cookie {
	var out []*network.Cookie
	for _, c := range s.Cookies {
		if isXDomain(c.Domain) {
			out = append(out, c)
		}
	}
	return out
}

// Credentials returns the session cookies in the form the HTTP transport sends.
func (s *Session) Credentials() xhttp.Credentials {
	creds := xhttp.Credentials{Cookies: make(map[string]string)}
	for _, c := range s.XCookies() {
		creds.Cookies[c.Name] = c.Value
	}
	return creds
}

// Verifier checks that a restored session is still accepted by X.
type Verifier interface {
	Verify(ctx context.Context, s *Session) error
}

// APIVerifier verifies sessions with the account/verify_credentials endpoint.
type APIVerifier struct {
	client *xhttp.Client
}

func NewAPIVerifier(client *xhttp.Client) *APIVerifier {
	return &APIVerifier{client: client}
}

func (v *APIVerifier) Verify(ctx context.Context, s *Session) error {
	return v.client.VerifyCredentials(ctx, s.Credentials())
}
