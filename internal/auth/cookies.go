package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/pkg/errors"
)

// CookieStore persists the cookies of one X account.
type CookieStore struct {
	path string
	now  func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	// ExpiresAt is the earliest expiry among auth_token and ct0. Zero means
	// neither carries an expiry.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path, now: time.Now}
}

// CookiePath returns the cookie file of username inside dir.
func CookiePath(dir, username string) string {
	if username == "" {
		username = "default"
	}
	return filepath.Join(dir, username+".cookies.json")
}

// Path returns the file backing the store.
func (cs *CookieStore) Path() string {
	return cs.path
}

// Save persists cookies to disk
// TODO: Encrypt cookies at rest
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(cs.path), 0700); err != nil {
		return errors.Wrap(err, "create cookie dir")
	}

	var earliestExpiry time.Time
	for _, c := range cookies {
		if !isAuthCookie(c.Name) || c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliestExpiry.IsZero() || exp.Before(earliestExpiry) {
			earliestExpiry = exp
		}
	}

	stored := StoredCookies{
		Cookies:    cookies,
		CapturedAt: cs.now(),
		ExpiresAt:  earliestExpiry,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode cookies")
	}

	tmp := cs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrap(err, "write cookies")
	}
	return errors.Wrap(os.Rename(tmp, cs.path), "replace cookie file")
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrapf(err, "decode %s", cs.path)
	}

	return &stored, nil
}

// IsValid checks if stored cookies are still valid
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}
	return stored.Valid(cs.now())
}

// Valid reports whether both auth cookies are present and unexpired at now.
func (s *StoredCookies) Valid(now time.Time) bool {
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return false
	}
	return hasAuthCookies(s.Cookies)
}

// Clear removes stored cookies
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func isAuthCookie(name string) bool {
	return name == "auth_token" || name == "ct0"
}

func isXDomain(domain string) bool {
	return domain == ".x.com" || domain == "x.com"
}

func hasAuthCookies(cookies []*network.Cookie) bool {
	hasAuthToken, hasCT0 := false, false
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		switch c.Name {
		case "auth_token":
			hasAuthToken = true
		case "ct0":
			hasCT0 = true
		}
	}
	return hasAuthToken && hasCT0
}
