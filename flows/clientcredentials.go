package flows

import (
	"context"
	"fmt"
	"net/url"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/credential"
)

// clientCredentialsClient implements machine-to-machine token issuance.
// There is no user, so "refresh" is a silent re-login: providers commonly
// issue no refresh token for this grant.
type clientCredentialsClient struct {
	oidcBase
}

func (c *clientCredentialsClient) NonInteractive() bool { return true }

func (c *clientCredentialsClient) Login(ctx context.Context, opts *LoginOptions) (*credential.Credential, error) {
	scopes, audiences, extra := c.applyFallback(opts)
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	applyRequestParams(form, scopes, audiences, extra)
	if err := c.enrich(ctx, form); err != nil {
		return nil, &autherr.FlowError{Flow: "client credentials", Cause: err}
	}
	tr, err := c.api.Token(ctx, form)
	if err != nil {
		if autherr.Retryable(err) {
			return nil, fmt.Errorf("client credentials grant: %w", err)
		}
		return nil, &autherr.FlowError{Flow: "client credentials", Cause: err}
	}
	c.log.WithField("client_id", c.cfg.ClientID).Debug("client credentials login complete")
	return tr.Credential(), nil
}

// Refresh uses the refresh token when the provider issued one, and falls
// back to a fresh (non-interactive) login otherwise.
func (c *clientCredentialsClient) Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error) {
	if refreshToken != "" {
		return c.oidcBase.Refresh(ctx, refreshToken)
	}
	return c.Login(ctx, nil)
}
