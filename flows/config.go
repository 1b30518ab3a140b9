// Package flows implements the OAuth2/OIDC login flows: authorization code
// with PKCE (public, confidential-secret, and private-key-assertion
// variants), device code, client credentials, and static API keys. Each flow
// satisfies AuthClient; which flow a ClientConfig selects is a tagged
// variant, not a class hierarchy.
package flows

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// GrantKind selects the protocol flow a client uses to obtain tokens.
type GrantKind string

const (
	GrantAuthorizationCode GrantKind = "authorization_code"
	GrantDeviceCode        GrantKind = "device_code"
	GrantClientCredentials GrantKind = "client_credentials"
	GrantStaticAPIKey      GrantKind = "static_api_key"
)

// ClientAuthMethod selects how the client authenticates itself to the token
// endpoint. Combined with GrantAuthorizationCode this yields the public
// PKCE, confidential secret, and signed-assertion variants.
type ClientAuthMethod string

const (
	ClientAuthNone          ClientAuthMethod = "none"
	ClientAuthSecret        ClientAuthMethod = "client_secret"
	ClientAuthPrivateKeyJWT ClientAuthMethod = "private_key_jwt"
)

// ClientConfig describes how one logical client identity authenticates.
// It is immutable once constructed and fully resolved: the library never
// consults environment variables or profile files. Optional fields are
// omitted from the serialized form.
type ClientConfig struct {
	// AuthServer is the authorization server base URL, used for discovery.
	AuthServer string `json:"auth_server"`
	// Issuer overrides the issuer learned from discovery. Rarely needed
	// outside proxy deployments where the two deviate.
	Issuer   string    `json:"issuer,omitempty"`
	ClientID string    `json:"client_id"`
	Grant    GrantKind `json:"grant"`

	ClientAuth           ClientAuthMethod `json:"client_auth,omitempty"`
	ClientSecret         string           `json:"client_secret,omitempty"`
	ClientPrivateKeyPEM  string           `json:"client_private_key_pem,omitempty"`
	ClientPrivateKeyFile string           `json:"client_private_key_file,omitempty"`

	Scopes    []string `json:"scopes,omitempty"`
	Audiences []string `json:"audiences,omitempty"`
	// Extra parameters are passed through verbatim to authorization and
	// token requests (e.g. organization, project_id). The library does not
	// interpret them.
	Extra map[string]string `json:"extra,omitempty"`

	// RedirectURI is the authorization code callback. It must resolve to a
	// loopback address for the built-in callback listener to serve it.
	RedirectURI string `json:"redirect_uri,omitempty"`
	// CallbackAcknowledgement is the response body shown in the browser
	// after the redirect completes. A plain default is used when empty.
	CallbackAcknowledgement string `json:"callback_acknowledgement,omitempty"`

	APIKey string `json:"api_key,omitempty"`

	// TimeoutSeconds bounds each network call to the authorization server.
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`

	// Endpoint overrides; discovered when empty.
	AuthorizationEndpoint       string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint               string `json:"token_endpoint,omitempty"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`
	JWKSEndpoint                string `json:"jwks_endpoint,omitempty"`
	UserinfoEndpoint            string `json:"userinfo_endpoint,omitempty"`
}

// Identity returns the stable key identifying this client configuration,
// used to serialize refreshes per logical client.
func (c *ClientConfig) Identity() string {
	return c.ClientID + "@" + c.AuthServer
}

// Timeout returns the per-call network timeout.
func (c *ClientConfig) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// Validate checks the configuration for the selected grant.
func (c *ClientConfig) Validate() error {
	if c.Grant == GrantStaticAPIKey {
		if c.APIKey == "" {
			return errors.New("static_api_key client requires api_key")
		}
		return nil
	}
	if c.AuthServer == "" {
		return fmt.Errorf("%s client requires auth_server", c.Grant)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s client requires client_id", c.Grant)
	}
	switch c.Grant {
	case GrantAuthorizationCode, GrantDeviceCode:
	case GrantClientCredentials:
		if c.clientAuth() == ClientAuthNone {
			return errors.New("client_credentials client requires client_secret or private_key_jwt authentication")
		}
	default:
		return fmt.Errorf("unknown grant kind %q", c.Grant)
	}
	switch c.clientAuth() {
	case ClientAuthNone:
	case ClientAuthSecret:
		if c.ClientSecret == "" {
			return errors.New("client_secret authentication requires client_secret")
		}
	case ClientAuthPrivateKeyJWT:
		if c.ClientPrivateKeyPEM == "" && c.ClientPrivateKeyFile == "" {
			return errors.New("private_key_jwt authentication requires a client private key")
		}
	default:
		return fmt.Errorf("unknown client auth method %q", c.ClientAuth)
	}
	if len(c.Audiences) > 1 {
		return errors.New("at most one audience may be configured per client")
	}
	return nil
}

// clientAuth returns the effective client auth method, inferring
// client_secret when a secret is configured but no method is named.
func (c *ClientConfig) clientAuth() ClientAuthMethod {
	if c.ClientAuth != "" {
		return c.ClientAuth
	}
	if c.ClientSecret != "" {
		return ClientAuthSecret
	}
	if c.ClientPrivateKeyPEM != "" || c.ClientPrivateKeyFile != "" {
		return ClientAuthPrivateKeyJWT
	}
	return ClientAuthNone
}

// ClientConfigFromJSON parses and validates a client config document.
func ClientConfigFromJSON(b []byte) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ClientConfigFromFile loads a client config from a JSON file.
func ClientConfigFromFile(path string) (*ClientConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client config %s: %w", path, err)
	}
	cfg, err := ClientConfigFromJSON(b)
	if err != nil {
		return nil, fmt.Errorf("client config %s: %w", path, err)
	}
	return cfg, nil
}
