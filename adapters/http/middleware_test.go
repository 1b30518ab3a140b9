package authhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plauth/plauth/plauthtest"
	"github.com/plauth/plauth/validator"
)

func newProtectedHandler(t *testing.T, issuer *plauthtest.Issuer) http.Handler {
	t.Helper()
	v, err := validator.New([]validator.TrustedIssuer{{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return RequireBearer(v, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := ResultFromContext(r.Context())
		if !ok {
			t.Error("no validation result in request context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(res.Subject))
	}))
}

func TestRequireBearerAcceptsValidToken(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	handler := newProtectedHandler(t, issuer)

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer "+issuer.MintToken("alice", "api://test"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "alice" {
		t.Errorf("subject = %q", rec.Body.String())
	}
}

func TestRequireScopes(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	v, err := validator.New([]validator.TrustedIssuer{{
		Issuer:    issuer.URL(),
		Audiences: []string{"api://test"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	handler := RequireBearer(v, RequireScopes(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
		"write:data",
	))

	call := func(scope string) int {
		token := issuer.MintTokenWithClaims("alice", "api://test", map[string]interface{}{"scope": scope})
		req := httptest.NewRequest(http.MethodPost, "/data", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call("read:data write:data"); code != http.StatusNoContent {
		t.Errorf("sufficient scope: status = %d", code)
	}
	if code := call("read:data"); code != http.StatusForbidden {
		t.Errorf("insufficient scope: status = %d, want 403", code)
	}
}

func TestRequireBearerRejections(t *testing.T) {
	issuer := plauthtest.NewIssuer()
	defer issuer.Close()
	other := plauthtest.NewIssuer()
	defer other.Close()
	handler := newProtectedHandler(t, issuer)

	cases := []struct {
		name       string
		authHeader string
		wantReason string
	}{
		{"no header", "", "missing bearer token"},
		{"wrong scheme", "Basic dXNlcjpwdw==", "missing bearer token"},
		{"garbage token", "Bearer not.a.jwt", "invalid token"},
		{"untrusted issuer", "Bearer " + other.MintToken("mallory", "api://test"), "untrusted issuer"},
		{"wrong audience", "Bearer " + issuer.MintToken("alice", "api://else"), "invalid token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/data", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate header")
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("non-JSON error body: %s", rec.Body.String())
			}
			if body["error"] != tc.wantReason {
				t.Errorf("error = %q, want %q", body["error"], tc.wantReason)
			}
		})
	}
}
