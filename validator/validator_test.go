package validator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/plauthtest"
)

func newValidator(t *testing.T, trusted ...TrustedIssuer) *Validator {
	t.Helper()
	v, err := New(trusted)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestValidateToken(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	v := newValidator(t, TrustedIssuer{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	})
	token := issuer.MintTokenWithClaims("alice", "api://test", map[string]interface{}{
		"scope": "read:data write:data",
	})

	res, err := v.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if res.Subject != "alice" {
		t.Errorf("subject = %q, want alice", res.Subject)
	}
	if res.Issuer != issuer.URL() {
		t.Errorf("issuer = %q, want %q", res.Issuer, issuer.URL())
	}
	if res.Expiry.Before(time.Now()) {
		t.Errorf("expiry %v is in the past", res.Expiry)
	}
	scopes := res.Scope()
	if len(scopes) != 2 || scopes[0] != "read:data" {
		t.Errorf("Scope() = %v", scopes)
	}
}

func TestValidateTokenRejections(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	v := newValidator(t, TrustedIssuer{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	})
	ctx := context.Background()

	t.Run("garbage", func(t *testing.T) {
		if _, err := v.ValidateToken(ctx, "not.a.jwt"); err == nil {
			t.Error("garbage token accepted")
		}
	})

	t.Run("untrusted issuer", func(t *testing.T) {
		other := plauthtest.NewIssuer()
		defer other.Close()
		_, err := v.ValidateToken(ctx, other.MintToken("mallory", "api://test"))
		var uie *autherr.UnknownIssuerError
		if !errors.As(err, &uie) {
			t.Errorf("got %v, want UnknownIssuerError", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := v.ValidateToken(ctx, issuer.MintToken("alice", "api://other"))
		var tve *autherr.TokenValidationError
		if !errors.As(err, &tve) {
			t.Errorf("got %v, want TokenValidationError", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token := issuer.MintTokenWithClaims("alice", "api://test", map[string]interface{}{
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		if _, err := v.ValidateToken(ctx, token); err == nil {
			t.Error("expired token accepted")
		}
	})
}

func TestDisallowedAlgorithmRejectedBeforeKeyFetch(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	v := newValidator(t, TrustedIssuer{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	})

	// Symmetric signature with the real kid in the header. The allowlist
	// must reject it without ever consulting the JWKS.
	_, err := v.ValidateToken(context.Background(), issuer.MintHS256Token("alice", "api://test"))
	var tve *autherr.TokenValidationError
	if !errors.As(err, &tve) {
		t.Fatalf("got %v, want TokenValidationError", err)
	}
	if hits := issuer.JWKSRequests(); hits != 0 {
		t.Errorf("JWKS fetched %d times for a disallowed algorithm, want 0", hits)
	}
}

func TestKeyRotationTriggersSingleRefetch(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	v := newValidator(t, TrustedIssuer{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	})
	ctx := context.Background()

	if _, err := v.ValidateToken(ctx, issuer.MintToken("alice", "api://test")); err != nil {
		t.Fatal(err)
	}
	if hits := issuer.JWKSRequests(); hits != 1 {
		t.Fatalf("JWKS fetched %d times after first validation, want 1", hits)
	}

	issuer.RotateKey()
	if _, err := v.ValidateToken(ctx, issuer.MintToken("alice", "api://test")); err != nil {
		t.Fatalf("token under rotated key rejected: %v", err)
	}
	if hits := issuer.JWKSRequests(); hits != 2 {
		t.Errorf("JWKS fetched %d times after rotation, want 2", hits)
	}
}

func TestUnknownKeyIDFailsAfterOneRefetch(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	v := newValidator(t, TrustedIssuer{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	})
	if _, err := v.ValidateToken(context.Background(), issuer.MintToken("alice", "api://test")); err != nil {
		t.Fatal(err)
	}

	// Signed by a key the issuer has never published. The fresh cached set
	// misses the kid, forcing one refetch before the miss is final.
	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": issuer.URL(),
		"sub": "mallory",
		"aud": "api://test",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "rogue-key"
	signed, err := tok.SignedString(rogue)
	if err != nil {
		t.Fatal(err)
	}

	_, err = v.ValidateToken(context.Background(), signed)
	var uke *autherr.UnknownSigningKeyError
	if !errors.As(err, &uke) {
		t.Fatalf("got %v, want UnknownSigningKeyError", err)
	}
	if hits := issuer.JWKSRequests(); hits != 2 {
		t.Errorf("JWKS fetched %d times in total, want exactly 2 (initial + one forced refetch)", hits)
	}
}

func TestMultipleTrustedIssuers(t *testing.T) {
	issuerA := plauthtest.NewIssuer()
	defer issuerA.Close()
	issuerB := plauthtest.NewIssuer()
	defer issuerB.Close()

	v := newValidator(t,
		TrustedIssuer{Issuer: issuerA.URL(), Audiences: []string{"api://a"}},
		TrustedIssuer{Issuer: issuerB.URL(), Audiences: []string{"api://b"}},
	)
	ctx := context.Background()

	resA, err := v.ValidateToken(ctx, issuerA.MintToken("alice", "api://a"))
	if err != nil {
		t.Fatal(err)
	}
	if resA.Issuer != issuerA.URL() {
		t.Errorf("issuer = %q, want %q", resA.Issuer, issuerA.URL())
	}

	resB, err := v.ValidateToken(ctx, issuerB.MintToken("bob", "api://b"))
	if err != nil {
		t.Fatal(err)
	}
	if resB.Issuer != issuerB.URL() {
		t.Errorf("issuer = %q, want %q", resB.Issuer, issuerB.URL())
	}

	// Audience lists are per issuer, not pooled across them.
	if _, err := v.ValidateToken(ctx, issuerA.MintToken("alice", "api://b")); err == nil {
		t.Error("token with the other issuer's audience accepted")
	}
}

func TestScopesAnyOf(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	ctx := context.Background()

	token := issuer.MintTokenWithClaims("alice", "api://test", map[string]interface{}{
		"scope": "read:data",
	})

	granted := newValidator(t, TrustedIssuer{
		Issuer:      issuer.URL(),
		Audiences:   []string{"api://test"},
		ScopesAnyOf: []string{"read:data", "admin"},
	})
	if _, err := granted.ValidateToken(ctx, token); err != nil {
		t.Errorf("token with matching scope rejected: %v", err)
	}

	denied := newValidator(t, TrustedIssuer{
		Issuer:      issuer.URL(),
		Audiences:   []string{"api://test"},
		ScopesAnyOf: []string{"admin"},
	})
	var tve *autherr.TokenValidationError
	if _, err := denied.ValidateToken(ctx, token); !errors.As(err, &tve) {
		t.Errorf("token without required scope: got %v, want TokenValidationError", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("empty issuer set accepted")
	}
	if _, err := New([]TrustedIssuer{{Issuer: "https://iss.example.com"}}); err == nil {
		t.Error("issuer without audiences accepted")
	}
	if _, err := New([]TrustedIssuer{{Audiences: []string{"a"}}}); err == nil {
		t.Error("issuer without URL accepted")
	}
}
