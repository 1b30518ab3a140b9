package oidcclient

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// DeviceAuthorization is the device authorization endpoint's response,
// RFC 8628 §3.2. Applications present UserCode and VerificationURI (or
// VerificationURIComplete) to the user, then pass the whole value back to
// complete the login.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// ExpiresAt returns the absolute deadline by which the user must approve.
func (da *DeviceAuthorization) ExpiresAt() time.Time {
	return da.ReceivedAt.Add(time.Duration(da.ExpiresIn) * time.Second)
}

// DeviceAuthorize initiates a device login by POSTing to the device
// authorization endpoint.
func (c *Client) DeviceAuthorize(ctx context.Context, form url.Values) (*DeviceAuthorization, error) {
	md, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if md.DeviceAuthorizationEndpoint == "" {
		return nil, errors.New("authorization server does not advertise a device authorization endpoint")
	}
	var da DeviceAuthorization
	if err := c.postForm(ctx, md.DeviceAuthorizationEndpoint, form, &da); err != nil {
		return nil, err
	}
	if da.DeviceCode == "" {
		return nil, errors.New("device authorization response missing device_code")
	}
	da.ReceivedAt = time.Now()
	return &da, nil
}
