package oidcclient

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/plauth/plauth/credential"
)

// TokenResponse is the token endpoint's success payload, plus the local
// receipt time. Expiry is always derived from ExpiresIn relative to
// ReceivedAt: the server response is authoritative, since access tokens may
// be opaque and uninspectable.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Credential converts the response into a stored credential.
func (tr *TokenResponse) Credential() *credential.Credential {
	cred := &credential.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		IssuedAt:     tr.ReceivedAt.Unix(),
	}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = tr.ReceivedAt.Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
	}
	return cred
}

// Token POSTs the given form to the token endpoint. The form carries the
// grant type, client authentication, and any extra provider parameters; this
// method adds nothing.
func (c *Client) Token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	md, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	var tr TokenResponse
	if err := c.postForm(ctx, md.TokenEndpoint, form, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	tr.ReceivedAt = time.Now()
	return &tr, nil
}

// Userinfo queries the optional userinfo endpoint with the given access
// token and returns the raw claim set.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	md, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if md.UserinfoEndpoint == "" {
		return nil, errors.New("authorization server does not advertise a userinfo endpoint")
	}
	req, err := newBearerGet(ctx, md.UserinfoEndpoint, accessToken)
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := c.doJSON(req, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}
