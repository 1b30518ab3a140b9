// Package credential defines the token material produced by a login or
// refresh. A Credential is replaced, never mutated: refresh produces a new
// value and the store swaps it in atomically.
package credential

import (
	"errors"
	"time"
)

// ExpirySkew is the safety margin applied when deciding whether a credential
// is still usable. Accounts for clock skew and request latency.
const ExpirySkew = 30 * time.Second

// Credential holds the tokens and metadata resulting from a successful flow.
// ExpiresAt and IssuedAt are unix seconds derived from the token endpoint's
// response at the time it was received, not from token introspection; access
// tokens may be opaque to the client. Optional fields are omitted from the
// serialized form entirely rather than written as nulls.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	IssuedAt     int64  `json:"issued_at,omitempty"`
}

// Expired reports whether the credential is past expiry, allowing for the
// given skew margin. Credentials with no recorded expiry (static API keys)
// never expire.
func (c *Credential) Expired(skew time.Duration) bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(skew).Unix() >= c.ExpiresAt
}

// Expiry returns the expiry as a time.Time, zero if none is recorded.
func (c *Credential) Expiry() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.ExpiresAt, 0)
}

// RefreshAt returns the recommended proactive refresh point: three quarters
// of the way through the token lifetime. Falls back to the expiry itself
// when the issue time is unknown.
func (c *Credential) RefreshAt() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	if c.IssuedAt == 0 || c.IssuedAt >= c.ExpiresAt {
		return time.Unix(c.ExpiresAt, 0)
	}
	life := c.ExpiresAt - c.IssuedAt
	return time.Unix(c.IssuedAt+(3*life)/4, 0)
}

// Validate checks that the credential carries usable token material.
func (c *Credential) Validate() error {
	if c.AccessToken == "" {
		return errors.New("credential has no access token")
	}
	return nil
}
