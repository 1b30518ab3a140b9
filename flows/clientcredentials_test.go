package flows

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/plauthtest"
)

func TestClientCredentialsLogin(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.SetClientSecret("s3cret")

	client, err := New(&ClientConfig{
		AuthServer:   issuer.URL(),
		ClientID:     "svc-1",
		Grant:        GrantClientCredentials,
		ClientSecret: "s3cret",
		Scopes:       []string{"read:data"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !client.NonInteractive() {
		t.Error("client credentials flow must be non-interactive")
	}

	cred, err := client.Login(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken == "" {
		t.Error("login returned no access token")
	}
	if cred.ExpiresAt == 0 {
		t.Error("login recorded no expiry")
	}

	reqs := issuer.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", len(reqs))
	}
	form := reqs[0]
	if form["grant_type"] != "client_credentials" || form["client_secret"] != "s3cret" {
		t.Errorf("token request form = %v", form)
	}
	if form["scope"] != "read:data" {
		t.Errorf("scope = %q, want read:data", form["scope"])
	}
}

func TestClientCredentialsRefreshFallsBackToLogin(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	client, err := New(&ClientConfig{
		AuthServer:   issuer.URL(),
		ClientID:     "svc-1",
		Grant:        GrantClientCredentials,
		ClientSecret: "s3cret",
	})
	if err != nil {
		t.Fatal(err)
	}

	// No refresh token held: the flow re-runs the grant instead of failing.
	cred, err := client.Refresh(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken == "" {
		t.Error("refresh fallback returned no access token")
	}
	reqs := issuer.TokenRequests()
	if len(reqs) != 1 || reqs[0]["grant_type"] != "client_credentials" {
		t.Errorf("expected one client_credentials request, got %v", reqs)
	}
}

func TestClientCredentialsRejectsBadSecret(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.SetClientSecret("right")

	client, err := New(&ClientConfig{
		AuthServer:   issuer.URL(),
		ClientID:     "svc-1",
		Grant:        GrantClientCredentials,
		ClientSecret: "wrong",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Login(context.Background(), nil)
	var oe *autherr.OAuthError
	if !errors.As(err, &oe) || oe.Code != "invalid_client" {
		t.Errorf("got %v, want invalid_client OAuthError", err)
	}
}

func TestClientCredentialsPrivateKeyJWT(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	issuer.SetClientSecret("never-sent")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	client, err := New(&ClientConfig{
		AuthServer:          issuer.URL(),
		ClientID:            "svc-jwt",
		Grant:               GrantClientCredentials,
		ClientAuth:          ClientAuthPrivateKeyJWT,
		ClientPrivateKeyPEM: string(keyPEM),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Login(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	reqs := issuer.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", len(reqs))
	}
	form := reqs[0]
	if form["client_assertion"] == "" {
		t.Error("token request carried no client assertion")
	}
	if form["client_assertion_type"] != assertionType {
		t.Errorf("client_assertion_type = %q", form["client_assertion_type"])
	}
	if form["client_secret"] != "" {
		t.Error("client secret sent alongside signed assertion")
	}
}

func TestStaticAPIKeyClient(t *testing.T) {
	client, err := New(&ClientConfig{Grant: GrantStaticAPIKey, APIKey: "PLAK42"})
	if err != nil {
		t.Fatal(err)
	}
	if !client.NonInteractive() {
		t.Error("static key flow must be non-interactive")
	}

	cred, err := client.Login(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken != "PLAK42" {
		t.Errorf("access token = %q, want the configured key", cred.AccessToken)
	}
	if cred.Expired(0) {
		t.Error("static key credential must never expire")
	}

	var re *autherr.RefreshError
	if _, err := client.Refresh(context.Background(), ""); !errors.As(err, &re) {
		t.Errorf("Refresh on static key: got %v, want RefreshError", err)
	}
}
