// Package request attaches credentials to outbound HTTP requests. The
// Authenticator never sends a request unauthenticated: when no valid
// credential can be produced, the failure is surfaced to the caller.
package request

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/plauth/plauth/credential"
)

// AppHeader identifies this library on every outbound request, including
// calls to the authorization server itself.
const AppHeader = "X-Plauth-App"

// AppHeaderValue is the default client-identifying header value.
const AppHeaderValue = "plauth-go"

// TokenSource produces a currently-valid credential, refreshing as needed.
// *plauth.Auth satisfies this.
type TokenSource interface {
	Token(ctx context.Context) (*credential.Credential, error)
}

// Authenticator decorates requests with a bearer token from a TokenSource.
type Authenticator struct {
	src    TokenSource
	header string
	prefix string
	log    logrus.FieldLogger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHeader overrides the header name and value prefix used to carry the
// token. Defaults are "Authorization" and "Bearer".
func WithHeader(header, prefix string) Option {
	return func(a *Authenticator) {
		a.header = header
		a.prefix = prefix
	}
}

// WithLogger overrides the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Authenticator) { a.log = log }
}

// NewAuthenticator creates an authenticator drawing tokens from src.
func NewAuthenticator(src TokenSource, opts ...Option) *Authenticator {
	a := &Authenticator{
		src:    src,
		header: "Authorization",
		prefix: "Bearer",
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate obtains a valid credential and sets the auth header on req.
// A CredentialUnavailableError from the token source propagates unchanged so
// callers can distinguish "needs login" from transport failures.
func (a *Authenticator) Authenticate(req *http.Request) error {
	cred, err := a.src.Token(req.Context())
	if err != nil {
		a.log.WithError(err).Debug("no credential available for outbound request")
		return fmt.Errorf("authenticate request to %s: %w", req.URL.Host, err)
	}
	payload := cred.AccessToken
	if a.prefix != "" {
		payload = a.prefix + " " + payload
	}
	req.Header.Set(a.header, payload)
	if req.Header.Get(AppHeader) == "" {
		req.Header.Set(AppHeader, AppHeaderValue)
	}
	return nil
}

// Transport wraps base so that every request sent through the returned
// RoundTripper is authenticated first. A nil base uses
// http.DefaultTransport.
func (a *Authenticator) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{auth: a, base: base}
}

type roundTripper struct {
	auth *Authenticator
	base http.RoundTripper
}

// RoundTrip clones the request before mutating headers, per the
// http.RoundTripper contract.
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if err := rt.auth.Authenticate(clone); err != nil {
		return nil, err
	}
	return rt.base.RoundTrip(clone)
}
