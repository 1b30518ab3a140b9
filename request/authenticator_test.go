package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plauth/plauth/credential"
)

type staticSource struct {
	cred *credential.Credential
	err  error
}

func (s *staticSource) Token(context.Context) (*credential.Credential, error) {
	return s.cred, s.err
}

func TestAuthenticateSetsHeaders(t *testing.T) {
	a := NewAuthenticator(&staticSource{cred: &credential.Credential{AccessToken: "tok-1"}})

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/data", nil)
	if err := a.Authenticate(req); err != nil {
		t.Fatal(err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get(AppHeader); got != AppHeaderValue {
		t.Errorf("%s = %q, want %q", AppHeader, got, AppHeaderValue)
	}
}

func TestAuthenticateCustomHeader(t *testing.T) {
	a := NewAuthenticator(
		&staticSource{cred: &credential.Credential{AccessToken: "PLAK42"}},
		WithHeader("X-API-Key", ""),
	)

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	if err := a.Authenticate(req); err != nil {
		t.Fatal(err)
	}
	if got := req.Header.Get("X-API-Key"); got != "PLAK42" {
		t.Errorf("X-API-Key = %q, want the bare key", got)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization unexpectedly set: %q", got)
	}
}

func TestAuthenticateNeverSendsUnauthenticated(t *testing.T) {
	srcErr := errors.New("no credential held")
	a := NewAuthenticator(&staticSource{err: srcErr})

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	err := a.Authenticate(req)
	if !errors.Is(err, srcErr) {
		t.Fatalf("got %v, want the token source error", err)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization set despite failure: %q", got)
	}
}

func TestTransportAuthenticatesWithoutMutatingOriginal(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
	}))
	defer server.Close()

	a := NewAuthenticator(&staticSource{cred: &credential.Credential{AccessToken: "tok-2"}})
	client := &http.Client{Transport: a.Transport(nil)}

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if seen != "Bearer tok-2" {
		t.Errorf("server saw Authorization %q", seen)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("original request mutated: %q", got)
	}
}

func TestTransportPropagatesTokenFailure(t *testing.T) {
	a := NewAuthenticator(&staticSource{err: errors.New("expired")})
	client := &http.Client{Transport: a.Transport(nil)}

	if _, err := client.Get("http://127.0.0.1:0/never-reached"); err == nil {
		t.Error("request without credential went out")
	}
}
