// Package validator checks inbound bearer tokens against a configured set
// of trusted issuers. Trust is boolean: an issuer is either in the trusted
// set or its tokens are not considered at all. Signing keys are fetched
// from each issuer's JWKS endpoint and cached independently per issuer.
package validator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/oidcclient"
)

// Defaults for signing key caching. Stale key sets are refreshed on next
// use; within the grace window a failing JWKS endpoint falls back to the
// prior keys rather than taking the service down with it.
const (
	DefaultKeyTTL   = 5 * time.Minute
	DefaultKeyGrace = 10 * time.Minute
)

// TrustedIssuer configures one issuer whose tokens are accepted.
type TrustedIssuer struct {
	// Issuer is the expected iss claim value, also used for JWKS discovery
	// when JWKSURL is empty.
	Issuer string `json:"issuer"`
	// Audiences a token must intersect. At least one must be configured.
	Audiences []string `json:"audiences"`
	// JWKSURL overrides discovery of the signing key endpoint.
	JWKSURL string `json:"jwks_url,omitempty"`
	// Algorithms is the signature algorithm allowlist. Empty defaults to
	// RS256. A token whose header names anything else is rejected before
	// signature verification.
	Algorithms []string `json:"algorithms,omitempty"`
	// ScopesAnyOf, when non-empty, requires the token's scope claim to
	// grant at least one of these scopes.
	ScopesAnyOf []string `json:"scopes_any_of,omitempty"`
	// LogResult enables per-validation result logging for this issuer.
	LogResult bool `json:"log_result,omitempty"`
}

// Result is a successful validation: the decoded claims and which trusted
// issuer vouched for them.
type Result struct {
	Issuer  string
	Subject string
	Expiry  time.Time
	Claims  map[string]interface{}
}

// Scope returns the token's space-separated scope claim, split.
func (r *Result) Scope() []string {
	raw, _ := r.Claims["scope"].(string)
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

type issuerEntry struct {
	cfg  TrustedIssuer
	api  *oidcclient.Client
	keys keyCache
}

// Validator validates bearer tokens against its trusted issuer set. Safe
// for concurrent use.
type Validator struct {
	issuers    map[string]*issuerEntry
	httpClient *http.Client
	log        logrus.FieldLogger
	keyTTL     time.Duration
	keyGrace   time.Duration
	group      singleflight.Group
}

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient overrides the HTTP client used for JWKS and discovery.
func WithHTTPClient(hc *http.Client) Option {
	return func(v *Validator) { v.httpClient = hc }
}

// WithLogger overrides the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(v *Validator) { v.log = log }
}

// WithKeyTTL overrides how long fetched signing keys are considered fresh.
func WithKeyTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.keyTTL = ttl }
}

// WithKeyGrace overrides how long past the TTL stale keys remain usable
// when the JWKS endpoint cannot be reached.
func WithKeyGrace(grace time.Duration) Option {
	return func(v *Validator) { v.keyGrace = grace }
}

// New creates a validator for the given trusted issuers.
func New(trusted []TrustedIssuer, opts ...Option) (*Validator, error) {
	if len(trusted) == 0 {
		return nil, errors.New("validator requires at least one trusted issuer")
	}
	v := &Validator{
		issuers:    make(map[string]*issuerEntry, len(trusted)),
		httpClient: &http.Client{Timeout: oidcclient.DefaultTimeout},
		log:        logrus.StandardLogger(),
		keyTTL:     DefaultKeyTTL,
		keyGrace:   DefaultKeyGrace,
	}
	for _, opt := range opts {
		opt(v)
	}
	for _, ti := range trusted {
		if ti.Issuer == "" {
			return nil, errors.New("trusted issuer requires an issuer URL")
		}
		if len(ti.Audiences) == 0 {
			return nil, fmt.Errorf("trusted issuer %s requires at least one audience", ti.Issuer)
		}
		if len(ti.Algorithms) == 0 {
			ti.Algorithms = []string{"RS256"}
		}
		entry := &issuerEntry{
			cfg: ti,
			api: oidcclient.New(ti.Issuer,
				oidcclient.WithHTTPClient(v.httpClient),
				oidcclient.WithLogger(v.log),
			),
		}
		v.issuers[normalizeIssuer(ti.Issuer)] = entry
	}
	return v, nil
}

// ValidateToken validates signature, trust, and claims of a bearer token.
func (v *Validator) ValidateToken(ctx context.Context, raw string) (*Result, error) {
	result, entry, err := v.validate(ctx, raw)
	if entry != nil && entry.cfg.LogResult {
		if err != nil {
			v.log.WithError(err).WithField("issuer", entry.cfg.Issuer).Warn("token validation failed")
		} else {
			v.log.WithFields(logrus.Fields{
				"issuer":  result.Issuer,
				"subject": result.Subject,
			}).Info("token validated")
		}
	}
	return result, err
}

func (v *Validator) validate(ctx context.Context, raw string) (*Result, *issuerEntry, error) {
	// Peek at the token without trusting anything in it: we need iss to
	// pick the trusted issuer and the header kid/alg to pick the key.
	unverified, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return nil, nil, &autherr.TokenValidationError{Reason: "malformed token", Cause: err}
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil || len(msg.Signatures()) == 0 {
		return nil, nil, &autherr.TokenValidationError{Reason: "malformed token signature", Cause: err}
	}
	headers := msg.Signatures()[0].ProtectedHeaders()
	kid := headers.KeyID()
	alg := headers.Algorithm().String()

	entry, ok := v.issuers[normalizeIssuer(unverified.Issuer())]
	if !ok {
		return nil, nil, &autherr.UnknownIssuerError{Issuer: unverified.Issuer()}
	}

	// Algorithm allowlist comes before any key handling: a token already
	// outside the allowlist never causes a JWKS fetch, and "none" or an
	// unexpected symmetric algorithm is rejected here no matter what key
	// material exists.
	if !contains(entry.cfg.Algorithms, alg) {
		return nil, entry, &autherr.TokenValidationError{
			Reason: fmt.Sprintf("algorithm %q not allowed for issuer %s", alg, entry.cfg.Issuer),
		}
	}

	key, err := v.signingKey(ctx, entry, kid)
	if err != nil {
		return nil, entry, err
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithContext(ctx),
		jwt.WithKey(headers.Algorithm(), key),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, entry, &autherr.TokenValidationError{Reason: "signature or temporal claims", Cause: err}
	}

	if !intersects(tok.Audience(), entry.cfg.Audiences) {
		return nil, entry, &autherr.TokenValidationError{
			Reason: fmt.Sprintf("token audience %v does not include any of %v", tok.Audience(), entry.cfg.Audiences),
		}
	}

	claims, err := tok.AsMap(ctx)
	if err != nil {
		return nil, entry, &autherr.TokenValidationError{Reason: "decode claims", Cause: err}
	}
	result := &Result{
		Issuer:  entry.cfg.Issuer,
		Subject: tok.Subject(),
		Expiry:  tok.Expiration(),
		Claims:  claims,
	}

	if len(entry.cfg.ScopesAnyOf) > 0 && !intersects(result.Scope(), entry.cfg.ScopesAnyOf) {
		return nil, entry, &autherr.TokenValidationError{
			Reason: fmt.Sprintf("token grants none of the required scopes %v", entry.cfg.ScopesAnyOf),
		}
	}
	return result, entry, nil
}

func normalizeIssuer(issuer string) string {
	return strings.TrimRight(issuer, "/")
}

func contains(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}

func intersects(have, want []string) bool {
	for _, w := range want {
		if contains(have, w) {
			return true
		}
	}
	return false
}
