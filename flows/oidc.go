package flows

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/credential"
	"github.com/plauth/plauth/oidcclient"
)

// assertionLifetime bounds the validity of a private_key_jwt client
// assertion. Assertions are minted per request, so short is fine.
const assertionLifetime = 5 * time.Minute

const assertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// oidcBase carries the pieces shared by all OAuth/OIDC flows: the endpoint
// client, config fallback handling, client authentication enrichment, and
// the refresh grant.
type oidcBase struct {
	cfg *ClientConfig
	api *oidcclient.Client
	log logrus.FieldLogger

	clientKey *rsa.PrivateKey
}

func (b *oidcBase) Config() *ClientConfig { return b.cfg }

// initClientAuth loads key material needed for the configured client auth
// method, failing at construction rather than first use.
func (b *oidcBase) initClientAuth() error {
	if b.cfg.clientAuth() != ClientAuthPrivateKeyJWT {
		return nil
	}
	pemBytes := []byte(b.cfg.ClientPrivateKeyPEM)
	if len(pemBytes) == 0 {
		read, err := os.ReadFile(b.cfg.ClientPrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read client private key %s: %w", b.cfg.ClientPrivateKeyFile, err)
		}
		pemBytes = read
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return fmt.Errorf("parse client private key: %w", err)
	}
	b.clientKey = key
	return nil
}

// enrich adds client authentication to a token request form. The token
// endpoint URL is needed because signed assertions name it as audience.
func (b *oidcBase) enrich(ctx context.Context, form url.Values) error {
	form.Set("client_id", b.cfg.ClientID)
	switch b.cfg.clientAuth() {
	case ClientAuthNone:
	case ClientAuthSecret:
		form.Set("client_secret", b.cfg.ClientSecret)
	case ClientAuthPrivateKeyJWT:
		md, err := b.api.Discover(ctx)
		if err != nil {
			return err
		}
		assertion, err := b.signClientAssertion(md.TokenEndpoint)
		if err != nil {
			return err
		}
		form.Set("client_assertion_type", assertionType)
		form.Set("client_assertion", assertion)
	}
	return nil
}

func (b *oidcBase) signClientAssertion(tokenEndpoint string) (string, error) {
	if b.clientKey == nil {
		return "", errors.New("client private key not loaded")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    b.cfg.ClientID,
		Subject:   b.cfg.ClientID,
		Audience:  jwt.ClaimStrings{tokenEndpoint},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(b.clientKey)
}

// applyFallback resolves effective scopes, audiences, and extra parameters
// from login options over configured defaults.
func (b *oidcBase) applyFallback(opts *LoginOptions) (scopes, audiences []string, extra map[string]string) {
	if opts == nil {
		opts = &LoginOptions{}
	}
	scopes = opts.Scopes
	if len(scopes) == 0 {
		scopes = b.cfg.Scopes
	}
	audiences = opts.Audiences
	if len(audiences) == 0 {
		audiences = b.cfg.Audiences
	}
	extra = make(map[string]string, len(b.cfg.Extra)+len(opts.Extra))
	for k, v := range b.cfg.Extra {
		extra[k] = v
	}
	for k, v := range opts.Extra {
		extra[k] = v
	}
	return scopes, audiences, extra
}

// applyRequestParams writes scopes, audiences, and extras into a form.
func applyRequestParams(form url.Values, scopes, audiences []string, extra map[string]string) {
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	for _, aud := range audiences {
		form.Add("audience", aud)
	}
	for k, v := range extra {
		form.Set(k, v)
	}
}

// Userinfo fetches the OIDC userinfo document with accessToken.
func (b *oidcBase) Userinfo(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	return b.api.Userinfo(ctx, accessToken)
}

// Refresh exchanges refreshToken at the token endpoint. No scope fallback
// is applied: an unadorned refresh should return what was already granted,
// not what the config would request on a fresh login.
func (b *oidcBase) Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error) {
	if refreshToken == "" {
		return nil, &autherr.RefreshError{Cause: errors.New("no refresh token held")}
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if err := b.enrich(ctx, form); err != nil {
		return nil, &autherr.RefreshError{Cause: err}
	}
	tr, err := b.api.Token(ctx, form)
	if err != nil {
		if autherr.Retryable(err) {
			return nil, fmt.Errorf("token refresh: %w", err)
		}
		return nil, &autherr.RefreshError{Cause: err}
	}
	cred := tr.Credential()
	// Providers rotating refresh tokens return a new one; those that do not
	// expect the old token to stay in use.
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	b.log.WithField("client_id", b.cfg.ClientID).Debug("refreshed access token")
	return cred, nil
}
