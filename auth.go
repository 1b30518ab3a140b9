// Package plauth bundles an auth client, a credential store, and a request
// authenticator into one working set for a single client identity. It is
// geared toward the client side of authentication: obtaining tokens and
// presenting them to services. The service side lives in the validator
// package.
package plauth

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/credential"
	"github.com/plauth/plauth/flows"
	"github.com/plauth/plauth/oidcclient"
	"github.com/plauth/plauth/request"
	"github.com/plauth/plauth/storage"
)

// Auth manages the current credential for one client identity. All methods
// are safe for concurrent use; refreshes for the identity are serialized so
// concurrent callers never race the provider's token endpoint.
type Auth struct {
	client  flows.AuthClient
	store   storage.Store
	log     logrus.FieldLogger
	skew    time.Duration
	profile string

	group singleflight.Group
}

// Option configures an Auth container.
type Option func(*Auth)

// WithLogger overrides the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Auth) { a.log = log }
}

// WithExpirySkew overrides the safety margin used when judging whether a
// cached credential is still fresh.
func WithExpirySkew(skew time.Duration) Option {
	return func(a *Auth) { a.skew = skew }
}

// WithProfileName records a display name for this identity. Purely
// informational; it does not affect where anything is stored.
func WithProfileName(name string) Option {
	return func(a *Auth) { a.profile = name }
}

// New creates an Auth container from an already-constructed client and
// store. A nil store keeps credentials in memory only.
func New(client flows.AuthClient, store storage.Store, opts ...Option) *Auth {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	a := &Auth{
		client: client,
		store:  store,
		log:    logrus.StandardLogger(),
		skew:   credential.ExpirySkew,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig builds the flow client for cfg and wires it to a file store
// at tokenPath. An empty tokenPath keeps credentials in memory only.
func NewFromConfig(cfg *flows.ClientConfig, tokenPath string, opts ...Option) (*Auth, error) {
	client, err := flows.New(cfg)
	if err != nil {
		return nil, err
	}
	var store storage.Store
	if tokenPath != "" {
		store = storage.NewFileStore(tokenPath)
	}
	return New(client, store, opts...), nil
}

// NewFromConfigFile loads a client config JSON file and builds the
// container, the usual entry point for CLI-style applications.
func NewFromConfigFile(configPath, tokenPath string, opts ...Option) (*Auth, error) {
	cfg, err := flows.ClientConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, tokenPath, opts...)
}

// Client returns the configured auth client.
func (a *Auth) Client() flows.AuthClient { return a.client }

// Store returns the credential store.
func (a *Auth) Store() storage.Store { return a.store }

// ProfileName returns the display name given at construction, if any.
func (a *Auth) ProfileName() string { return a.profile }

// Authenticator returns a request authenticator drawing tokens from this
// container.
func (a *Auth) Authenticator(opts ...request.Option) *request.Authenticator {
	return request.NewAuthenticator(a, opts...)
}

// Login runs the configured flow, persists the new credential, and returns
// it.
func (a *Auth) Login(ctx context.Context, opts *flows.LoginOptions) (*credential.Credential, error) {
	cred, err := a.client.Login(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, cred); err != nil {
		return nil, err
	}
	a.log.WithField("client_id", a.client.Config().ClientID).Debug("login complete, credential saved")
	return cred, nil
}

// Token returns a currently-valid credential, transparently refreshing an
// expiring one. Concurrent callers observing the same expiring credential
// share a single refresh; the rest wait for its result. A failed refresh is
// never papered over with the stale token.
func (a *Auth) Token(ctx context.Context) (*credential.Credential, error) {
	cred, err := a.store.Load(ctx)
	if err == nil && !cred.Expired(a.skew) {
		return cred, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	result, refreshErr, _ := a.group.Do(a.client.Config().Identity(), func() (interface{}, error) {
		return a.refreshLocked(ctx)
	})
	if refreshErr != nil {
		return nil, refreshErr
	}
	return result.(*credential.Credential), nil
}

// refreshLocked runs under the singleflight lock for this identity.
func (a *Auth) refreshLocked(ctx context.Context) (*credential.Credential, error) {
	// Re-read the store first: another process sharing the token file may
	// have refreshed already. With refresh token rotation, its rotated
	// token must be used instead of our stale one.
	cred, err := a.store.Load(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if cred != nil && !cred.Expired(a.skew) {
		return cred, nil
	}

	var refreshToken string
	if cred != nil {
		refreshToken = cred.RefreshToken
	}

	var newCred *credential.Credential
	switch {
	case refreshToken != "":
		newCred, err = a.client.Refresh(ctx, refreshToken)
	case a.client.NonInteractive():
		// No refresh token, but the flow can log in again without a user.
		newCred, err = a.client.Login(ctx, nil)
	default:
		return nil, &autherr.CredentialUnavailableError{
			Reason: "no refresh token held and the configured flow requires user interaction; a fresh login is needed",
		}
	}
	if err != nil {
		var re *autherr.RefreshError
		var fe *autherr.FlowError
		if errors.As(err, &re) || errors.As(err, &fe) {
			return nil, &autherr.CredentialUnavailableError{Reason: "refresh rejected, a fresh login is needed", Cause: err}
		}
		return nil, err
	}
	if err := a.store.Save(ctx, newCred); err != nil {
		return nil, err
	}
	a.log.WithField("client_id", a.client.Config().ClientID).Debug("credential refreshed and saved")
	return newCred, nil
}

// Refresh forces a refresh regardless of the current credential's expiry,
// persisting and returning the result. This backs the CLI refresh command.
func (a *Auth) Refresh(ctx context.Context) (*credential.Credential, error) {
	result, err, _ := a.group.Do(a.client.Config().Identity(), func() (interface{}, error) {
		cred, err := a.store.Load(ctx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		var refreshToken string
		if cred != nil {
			refreshToken = cred.RefreshToken
		}
		newCred, err := a.client.Refresh(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		if err := a.store.Save(ctx, newCred); err != nil {
			return nil, err
		}
		return newCred, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*credential.Credential), nil
}

// AccessToken returns the current valid access token. This backs the CLI
// print-token command.
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	cred, err := a.Token(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Userinfo fetches the OIDC userinfo document for the current credential,
// refreshing it first if needed. Fails for flows with no userinfo endpoint,
// such as static API keys.
func (a *Auth) Userinfo(ctx context.Context) (map[string]interface{}, error) {
	up, ok := a.client.(interface {
		Userinfo(ctx context.Context, accessToken string) (map[string]interface{}, error)
	})
	if !ok {
		return nil, errors.New("configured flow does not support userinfo")
	}
	cred, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	return up.Userinfo(ctx, cred.AccessToken)
}

// DeviceLoginInitiate starts a device login, returning the user code and
// verification URI to present. Fails unless the configured flow is the
// device code grant.
func (a *Auth) DeviceLoginInitiate(ctx context.Context, opts *flows.LoginOptions) (*oidcclient.DeviceAuthorization, error) {
	dc, ok := a.client.(flows.DeviceAuthClient)
	if !ok {
		return nil, errors.New("configured flow does not support device login")
	}
	return dc.Initiate(ctx, opts)
}

// DeviceLoginComplete finishes a device login started with
// DeviceLoginInitiate, persisting the resulting credential.
func (a *Auth) DeviceLoginComplete(ctx context.Context, da *oidcclient.DeviceAuthorization) (*credential.Credential, error) {
	dc, ok := a.client.(flows.DeviceAuthClient)
	if !ok {
		return nil, errors.New("configured flow does not support device login")
	}
	cred, err := dc.Complete(ctx, da)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}
