package flows

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/plauthtest"
)

func newAuthCodeClient(t *testing.T, issuer *plauthtest.Issuer) AuthClient {
	t.Helper()
	client, err := New(&ClientConfig{
		AuthServer: issuer.URL(),
		ClientID:   "cli-browser",
		Grant:      GrantAuthorizationCode,
		Scopes:     []string{"openid", "offline_access"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

// followRedirect plays the browser's part: it inspects the authorization
// URL, "approves" at the issuer, and hits the loopback callback.
func followRedirect(t *testing.T, issuer *plauthtest.Issuer, mutate func(q url.Values)) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
			t.Errorf("authorization URL missing PKCE parameters: %s", authURL)
		}
		if q.Get("state") == "" {
			t.Errorf("authorization URL missing state: %s", authURL)
		}

		cb, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			return err
		}
		cbq := url.Values{}
		cbq.Set("code", issuer.NewAuthCode("alice"))
		cbq.Set("state", q.Get("state"))
		if mutate != nil {
			mutate(cbq)
		}
		cb.RawQuery = cbq.Encode()

		resp, err := http.Get(cb.String())
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestAuthCodeLogin(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	client := newAuthCodeClient(t, issuer)
	cred, err := client.Login(context.Background(), &LoginOptions{
		OpenURL: followRedirect(t, issuer, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccessToken == "" {
		t.Error("login returned no access token")
	}
	if cred.RefreshToken == "" {
		t.Error("login returned no refresh token")
	}
	if cred.ExpiresAt == 0 || cred.IssuedAt == 0 {
		t.Errorf("login recorded no timing: %+v", cred)
	}

	reqs := issuer.TokenRequests()
	if len(reqs) != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", len(reqs))
	}
	if reqs[0]["code_verifier"] == "" {
		t.Error("code exchange carried no PKCE verifier")
	}
}

func TestAuthCodeLoginStateMismatch(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	client := newAuthCodeClient(t, issuer)
	_, err := client.Login(context.Background(), &LoginOptions{
		OpenURL: followRedirect(t, issuer, func(q url.Values) {
			q.Set("state", "forged")
		}),
	})
	var fe *autherr.FlowError
	if !errors.As(err, &fe) {
		t.Errorf("forged state: got %v, want FlowError", err)
	}
}

func TestAuthCodeLoginProviderError(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	client := newAuthCodeClient(t, issuer)
	_, err := client.Login(context.Background(), &LoginOptions{
		OpenURL: followRedirect(t, issuer, func(q url.Values) {
			q.Del("code")
			q.Del("state")
			q.Set("error", "access_denied")
			q.Set("error_description", "user said no")
		}),
	})
	var oe *autherr.OAuthError
	if !errors.As(err, &oe) || oe.Code != "access_denied" {
		t.Errorf("got %v, want access_denied OAuthError", err)
	}
}

func TestAuthCodeLoginRequiresOpenURL(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	client := newAuthCodeClient(t, issuer)
	var fe *autherr.FlowError
	if _, err := client.Login(context.Background(), nil); !errors.As(err, &fe) {
		t.Errorf("Login without OpenURL: got %v, want FlowError", err)
	}
}

func TestAuthCodeRejectsNonLoopbackRedirect(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()

	client, err := New(&ClientConfig{
		AuthServer:  issuer.URL(),
		ClientID:    "cli-browser",
		Grant:       GrantAuthorizationCode,
		RedirectURI: "http://attacker.example.com/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Login(context.Background(), &LoginOptions{OpenURL: func(string) error { return nil }}); err == nil {
		t.Error("non-loopback redirect URI accepted")
	}
}
