package flows

import (
	"context"
	"errors"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/credential"
)

// staticAPIKeyClient wraps a pre-shared key as a pseudo-credential. No
// network calls, no expiry, no refresh.
type staticAPIKeyClient struct {
	cfg *ClientConfig
}

func (c *staticAPIKeyClient) Config() *ClientConfig { return c.cfg }

func (c *staticAPIKeyClient) NonInteractive() bool { return true }

func (c *staticAPIKeyClient) Login(_ context.Context, _ *LoginOptions) (*credential.Credential, error) {
	return &credential.Credential{AccessToken: c.cfg.APIKey}, nil
}

func (c *staticAPIKeyClient) Refresh(_ context.Context, _ string) (*credential.Credential, error) {
	return nil, &autherr.RefreshError{Cause: errors.New("static API keys cannot be refreshed")}
}
