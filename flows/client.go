package flows

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/plauth/plauth/credential"
	"github.com/plauth/plauth/oidcclient"
)

// LoginOptions carries per-login overrides and the hooks interactive flows
// use to reach the user. Zero value is valid for non-interactive flows.
type LoginOptions struct {
	// Scopes and Audiences override the configured defaults when non-empty.
	Scopes    []string
	Audiences []string
	// Extra parameters are merged over the configured Extra map and passed
	// through verbatim to the authorization server.
	Extra map[string]string

	// OpenURL is called with the authorization URL for the browser redirect
	// flow. When nil the flow fails rather than silently blocking; opening
	// a browser must be an explicit application decision.
	OpenURL func(url string) error

	// DisplayDeviceCode is called with the device authorization so the
	// application can present the user code. When nil the flow fails.
	DisplayDeviceCode func(da *oidcclient.DeviceAuthorization) error
}

// AuthClient executes one configured login flow.
type AuthClient interface {
	// Config returns the immutable configuration this client was built from.
	Config() *ClientConfig

	// Login runs the flow to completion and returns a new credential.
	Login(ctx context.Context, opts *LoginOptions) (*credential.Credential, error)

	// Refresh exchanges a refresh token for a new credential. Flows without
	// refresh semantics return a RefreshError; flows with silent re-login
	// semantics (client credentials) may ignore refreshToken and log in
	// again instead.
	Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error)

	// NonInteractive reports whether Login completes without user action,
	// and so may be invoked implicitly to replace a missing credential.
	NonInteractive() bool
}

// Option configures client construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	log        logrus.FieldLogger
}

// WithHTTPClient overrides the HTTP client used for authorization server
// calls. Its timeout takes precedence over the config's TimeoutSeconds.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger overrides the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// New constructs the AuthClient for the config's grant kind.
func New(cfg *ClientConfig, opts ...Option) (AuthClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Grant == GrantStaticAPIKey {
		return &staticAPIKeyClient{cfg: cfg}, nil
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout()}
	}
	api := oidcclient.New(cfg.AuthServer,
		oidcclient.WithHTTPClient(hc),
		oidcclient.WithLogger(o.log),
	)
	base := oidcBase{cfg: cfg, api: api, log: o.log}
	if err := base.initClientAuth(); err != nil {
		return nil, err
	}
	switch cfg.Grant {
	case GrantAuthorizationCode:
		return &authCodeClient{oidcBase: base, httpClient: hc}, nil
	case GrantDeviceCode:
		return &deviceCodeClient{oidcBase: base}, nil
	case GrantClientCredentials:
		return &clientCredentialsClient{oidcBase: base}, nil
	}
	return nil, fmt.Errorf("unknown grant kind %q", cfg.Grant)
}
