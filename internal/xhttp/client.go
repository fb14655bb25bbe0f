// Package xhttp is the TLS-fingerprinted HTTP transport used to talk to X's
// web API as a logged-in browser session.
package xhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/pkg/errors"
)

const (
	DefaultGraphQLBase = "https://x.com/i/api/graphql"
	DefaultAPIBase     = "https://api.x.com"

	// PublicBearer is the bearer token the x.com web client sends with every
	// request.
	PublicBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Credentials are the cookies of a logged-in web session.
type Credentials struct {
	Cookies map[string]string
}

// CSRFToken returns the ct0 cookie, which X expects echoed in x-csrf-token.
func (c Credentials) CSRFToken() string {
	return c.Cookies["ct0"]
}

// CookieHeader renders the cookies as a Cookie header value, sorted by name.
func (c Credentials) CookieHeader() string {
	names := make([]string, 0, len(c.Cookies))
	for name := range c.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+c.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("x api status %d: %.200s", e.Code, e.Body)
}

// IsUnauthorized reports whether err is a 401 or 403 from the API.
func IsUnauthorized(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
	}
	return false
}

// Options configures a Client.
type Options struct {
	GraphQLBase string
	APIBase     string
	Bearer      string
	UserAgent   string
	Timeout     time.Duration
	Proxy       string
}

// Client sends authenticated requests with a Chrome TLS fingerprint.
type Client struct {
	hc          tls_client.HttpClient
	graphqlBase string
	apiBase     string
	bearer      string
	userAgent   string
}

// New builds a client. Zero options fall back to the public x.com defaults.
func New(opts Options) (*Client, error) {
	if opts.GraphQLBase == "" {
		opts.GraphQLBase = DefaultGraphQLBase
	}
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.Bearer == "" {
		opts.Bearer = PublicBearer
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	clientOpts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(opts.Timeout / time.Second)),
		tls_client.WithClientProfile(profiles.Chrome_124),
		tls_client.WithNotFollowRedirects(),
	}
	if opts.Proxy != "" {
		clientOpts = append(clientOpts, tls_client.WithProxyUrl(opts.Proxy))
	}

	hc, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create tls client")
	}

	return &Client{
		hc:          hc,
		graphqlBase: strings.TrimRight(opts.GraphQLBase, "/"),
		apiBase:     strings.TrimRight(opts.APIBase, "/"),
		bearer:      opts.Bearer,
		userAgent:   opts.UserAgent,
	}, nil
}

// GraphQL issues a GET for operation queryID/name and returns the raw body.
func (c *Client) GraphQL(ctx context.Context, creds Credentials, queryID, name string, variables, features map[string]any) ([]byte, error) {
	q := url.Values{}
	for key, v := range map[string]map[string]any{"variables": variables, "features": features} {
		if v == nil {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", key)
		}
		q.Set(key, string(b))
	}
	u := fmt.Sprintf("%s/%s/%s?%s", c.graphqlBase, queryID, name, q.Encode())
	return c.get(ctx, creds, u)
}

// VerifyCredentials checks that creds still authenticate a session.
func (c *Client) VerifyCredentials(ctx context.Context, creds Credentials) error {
	_, err := c.get(ctx, creds, c.apiBase+"/1.1/account/verify_credentials.json")
	return err
}

func (c *Client) get(ctx context.Context, creds Credentials, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("X-Twitter-Active-User", "yes")
	req.Header.Set("X-Twitter-Client-Language", "en")
	if len(creds.Cookies) > 0 {
		req.Header.Set("Cookie", creds.CookieHeader())
		req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	}
	if csrf := creds.CSRFToken(); csrf != "" {
		req.Header.Set("X-Csrf-Token", csrf)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
