package flows

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/credential"
	"github.com/plauth/plauth/oidcclient"
)

// Polling defaults per RFC 8628: 5s when the server advertises no interval,
// +5s whenever it answers slow_down.
const (
	defaultPollInterval = 5 * time.Second
	slowDownIncrement   = 5 * time.Second
)

// deviceCodeClient implements the device authorization grant for hosts with
// limited UI: the user approves on a second device while this client polls
// the token endpoint.
type deviceCodeClient struct {
	oidcBase

	// sleep is swapped out by tests to observe poll intervals.
	sleep func(ctx context.Context, d time.Duration) error
}

func (c *deviceCodeClient) NonInteractive() bool { return false }

func (c *deviceCodeClient) Login(ctx context.Context, opts *LoginOptions) (*credential.Credential, error) {
	if opts == nil || opts.DisplayDeviceCode == nil {
		return nil, &autherr.FlowError{
			Flow:  "device code",
			Cause: errors.New("no DisplayDeviceCode handler provided; presenting the user code is an application responsibility"),
		}
	}
	da, err := c.Initiate(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := opts.DisplayDeviceCode(da); err != nil {
		return nil, &autherr.FlowError{Flow: "device code", Cause: err}
	}
	return c.Complete(ctx, da)
}

// Initiate requests a device authorization. The result carries the user
// code and verification URI to present to the user; pass it to Complete to
// finish the login.
func (c *deviceCodeClient) Initiate(ctx context.Context, opts *LoginOptions) (*oidcclient.DeviceAuthorization, error) {
	scopes, audiences, extra := c.applyFallback(opts)
	form := url.Values{}
	applyRequestParams(form, scopes, audiences, extra)
	if err := c.enrich(ctx, form); err != nil {
		return nil, &autherr.FlowError{Flow: "device code", Cause: err}
	}
	da, err := c.api.DeviceAuthorize(ctx, form)
	if err != nil {
		if autherr.Retryable(err) {
			return nil, fmt.Errorf("device authorization: %w", err)
		}
		return nil, &autherr.FlowError{Flow: "device code", Cause: err}
	}
	c.log.WithField("user_code", da.UserCode).Debug("device authorization initiated")
	return da, nil
}

// Complete polls the token endpoint until the user approves, denies, the
// device code expires, or ctx is done. slow_down raises the interval before
// polling resumes; access_denied and expired_token are terminal.
func (c *deviceCodeClient) Complete(ctx context.Context, da *oidcclient.DeviceAuthorization) (*credential.Credential, error) {
	interval := defaultPollInterval
	if da.Interval > 0 {
		interval = time.Duration(da.Interval) * time.Second
	}
	deadline := da.ExpiresAt()
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, &autherr.FlowError{Flow: "device code", Cause: errors.New("device code expired before the user approved")}
		}
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}

		form := url.Values{}
		form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
		form.Set("device_code", da.DeviceCode)
		if err := c.enrich(ctx, form); err != nil {
			return nil, &autherr.FlowError{Flow: "device code", Cause: err}
		}
		tr, err := c.api.Token(ctx, form)
		if err == nil {
			c.log.WithField("client_id", c.cfg.ClientID).Debug("device login approved")
			return tr.Credential(), nil
		}

		var oe *autherr.OAuthError
		if !errors.As(err, &oe) {
			if autherr.Retryable(err) {
				return nil, fmt.Errorf("device code poll: %w", err)
			}
			return nil, &autherr.FlowError{Flow: "device code", Cause: err}
		}
		switch oe.Code {
		case "authorization_pending":
			// keep polling
		case "slow_down":
			interval += slowDownIncrement
			c.log.WithField("interval", interval).Debug("server requested slower device polling")
		case "access_denied", "expired_token":
			return nil, &autherr.FlowError{Flow: "device code", Cause: oe}
		default:
			return nil, &autherr.FlowError{Flow: "device code", Cause: oe}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
