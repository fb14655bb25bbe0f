package xhttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCredentials(t *testing.T) {
	c := Credentials{Cookies: map[string]string{"ct0": "csrf", "auth_token": "tok"}}
	if got := c.CSRFToken(); got != "csrf" {
		t.Fatalf("CSRFToken() = %q, want csrf", got)
	}
	if got, want := c.CookieHeader(), "auth_token=tok; ct0=csrf"; got != want {
		t.Fatalf("CookieHeader() = %q, want %q", got, want)
	}
}

func TestGraphQLSendsSessionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/QID/SearchTimeline" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-bearer" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Csrf-Token"); got != "csrf" {
			t.Errorf("x-csrf-token = %q", got)
		}
		if got := r.Header.Get("X-Twitter-Auth-Type"); got != "OAuth2Session" {
			t.Errorf("x-twitter-auth-type = %q", got)
		}
		if c, err := r.Cookie("auth_token"); err != nil || c.Value != "tok" {
			t.Errorf("auth_token cookie = %v, %v", c, err)
		}
		var vars map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars); err != nil {
			t.Errorf("variables: %v", err)
		}
		if vars["rawQuery"] != "from:kol" {
			t.Errorf("rawQuery = %v", vars["rawQuery"])
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, err := New(Options{GraphQLBase: srv.URL, APIBase: srv.URL, Bearer: "test-bearer"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	creds := Credentials{Cookies: map[string]string{"ct0": "csrf", "auth_token": "tok"}}
	body, err := c.GraphQL(context.Background(), creds, "QID", "SearchTimeline", map[string]any{"rawQuery": "from:kol"}, nil)
	if err != nil {
		t.Fatalf("GraphQL: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %s", body)
	}
}

func TestVerifyCredentialsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/account/verify_credentials.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"errors":[{"code":32}]}`)
	}))
	defer srv.Close()

	c, err := New(Options{GraphQLBase: srv.URL, APIBase: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.VerifyCredentials(context.Background(), Credentials{Cookies: map[string]string{"ct0": "x"}})
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}
