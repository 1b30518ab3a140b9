// Package oidcclient wraps the HTTP endpoints of an OAuth2/OIDC
// authorization server: discovery, token, device authorization, and
// userinfo. It knows nothing about flows; the flows package drives it.
package oidcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/request"
)

// metadataTTL bounds how long a discovery document is cached before being
// re-fetched from the issuer.
const metadataTTL = 30 * time.Minute

// DefaultTimeout applies to endpoint calls when the caller does not supply
// an HTTP client of its own.
const DefaultTimeout = 30 * time.Second

// ProviderMetadata is the subset of the OIDC discovery document the library
// consumes.
type ProviderMetadata struct {
	Issuer                      string   `json:"issuer"`
	AuthorizationEndpoint       string   `json:"authorization_endpoint"`
	TokenEndpoint               string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string   `json:"device_authorization_endpoint"`
	JWKSURI                     string   `json:"jwks_uri"`
	UserinfoEndpoint            string   `json:"userinfo_endpoint"`
	ScopesSupported             []string `json:"scopes_supported"`
}

// Client talks to one authorization server. Safe for concurrent use.
type Client struct {
	authServer string
	httpClient *http.Client
	log        logrus.FieldLogger

	mu        sync.RWMutex
	metadata  *ProviderMetadata
	fetchedAt time.Time
	group     singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for all endpoint calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the given authorization server base URL.
func New(authServer string, opts ...Option) *Client {
	c := &Client{
		authServer: strings.TrimRight(authServer, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthServer returns the configured authorization server base URL.
func (c *Client) AuthServer() string { return c.authServer }

// Discover returns the provider metadata, fetching and caching the
// discovery document on first use. Concurrent callers share one fetch.
func (c *Client) Discover(ctx context.Context) (*ProviderMetadata, error) {
	c.mu.RLock()
	if c.metadata != nil && time.Since(c.fetchedAt) < metadataTTL {
		md := c.metadata
		c.mu.RUnlock()
		return md, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do("discovery", func() (interface{}, error) {
		c.mu.RLock()
		if c.metadata != nil && time.Since(c.fetchedAt) < metadataTTL {
			md := c.metadata
			c.mu.RUnlock()
			return md, nil
		}
		c.mu.RUnlock()
		return c.fetchMetadata(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ProviderMetadata), nil
}

func (c *Client) fetchMetadata(ctx context.Context) (*ProviderMetadata, error) {
	wellKnown := c.authServer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(request.AppHeader, request.AppHeaderValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oidc discovery failed: %s", resp.Status)
	}
	var md ProviderMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("oidc discovery: decode document: %w", err)
	}
	if md.TokenEndpoint == "" {
		return nil, errors.New("oidc discovery: document missing token_endpoint")
	}

	c.mu.Lock()
	c.metadata = &md
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"auth_server": c.authServer,
		"issuer":      md.Issuer,
	}).Debug("fetched provider metadata")
	return &md, nil
}

// postForm POSTs url-encoded form data and decodes a JSON response.
// Non-2xx responses with an OAuth error body surface as *autherr.OAuthError.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(request.AppHeader, request.AppHeaderValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response from %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oe autherr.OAuthError
		if jsonErr := json.Unmarshal(body, &oe); jsonErr == nil && oe.Code != "" {
			oe.StatusCode = resp.StatusCode
			return &oe
		}
		return fmt.Errorf("request to %s failed: %s", endpoint, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}
