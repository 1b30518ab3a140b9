// Package autherr defines the error taxonomy shared by the plauth client,
// store, and validator layers. Callers are expected to branch on error type
// with errors.As rather than string matching: a FlowError or RefreshError
// means a fresh login is needed, a CredentialUnavailableError means no usable
// token could be produced right now, and the validator errors distinguish
// "we don't trust this issuer at all" from "we trust it but the token is bad".
package autherr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// OAuthError is a definitive error response from an authorization server,
// per RFC 6749 §5.2. Code and Description are surfaced verbatim so that
// applications can react to specific provider rejections.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("auth server error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("auth server error %q", e.Code)
}

// FlowError indicates a login flow could not complete. The user may have
// denied the request, the flow may have timed out, or a network or provider
// failure interrupted it.
type FlowError struct {
	Flow  string
	Cause error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s login failed: %v", e.Flow, e.Cause)
}

func (e *FlowError) Unwrap() error { return e.Cause }

// RefreshError indicates a token refresh was rejected or is not possible.
// Recovering requires a fresh login.
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Cause)
}

func (e *RefreshError) Unwrap() error { return e.Cause }

// CredentialUnavailableError indicates that no valid credential could be
// obtained for a request right now. It is never produced while a stale but
// syntactically valid credential could still be refreshed; it means refresh
// was attempted (or is impossible) and failed.
type CredentialUnavailableError struct {
	Reason string
	Cause  error
}

func (e *CredentialUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("no valid credential available: %s: %v", e.Reason, e.Cause)
	}
	return "no valid credential available: " + e.Reason
}

func (e *CredentialUnavailableError) Unwrap() error { return e.Cause }

// UnknownIssuerError is returned by the validator when a token's issuer is
// not in the trusted set. The token is not considered at all.
type UnknownIssuerError struct {
	Issuer string
}

func (e *UnknownIssuerError) Error() string {
	return fmt.Sprintf("token issuer %q is not trusted", e.Issuer)
}

// UnknownSigningKeyError is returned when a token's key id cannot be
// resolved from the issuer's signing keys, even after a forced JWKS refresh.
// Issuers may publish keys a validator was not expecting, so this is
// reported distinctly from a hard validation failure; downstream policy
// decides whether it is fatal.
type UnknownSigningKeyError struct {
	Issuer string
	KeyID  string
}

func (e *UnknownSigningKeyError) Error() string {
	return fmt.Sprintf("issuer %q has no signing key %q", e.Issuer, e.KeyID)
}

// TokenValidationError indicates a token failed signature, algorithm,
// expiry, audience, or scope checks. Always fatal to that validation call.
type TokenValidationError struct {
	Reason string
	Cause  error
}

func (e *TokenValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token validation failed: %s: %v", e.Reason, e.Cause)
	}
	return "token validation failed: " + e.Reason
}

func (e *TokenValidationError) Unwrap() error { return e.Cause }

// Retryable reports whether an operation that produced err may reasonably be
// retried by the caller. Timeouts and transport failures are retryable;
// definitive provider rejections (OAuthError, e.g. invalid_grant) and
// validation failures are not. The library never retries internally.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var oe *OAuthError
	if errors.As(err, &oe) {
		return false
	}
	var ve *TokenValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ie *UnknownIssuerError
	if errors.As(err, &ie) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// Transport-level failures surface as *url.Error wrapping an opErr; if we
	// got here without a definitive rejection, treat connection problems as
	// transient.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
