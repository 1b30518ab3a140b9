// Package plauthtest provides a fake in-process authorization server for
// testing code that uses plauth. It serves discovery, JWKS, token, device
// authorization, and userinfo endpoints, signs real RS256 tokens that
// validate against its own JWKS, and can script device-flow poll responses
// and refresh-token rotation.
//
// Example:
//
//	issuer := plauthtest.NewIssuer()
//	defer issuer.Close()
//
//	v, _ := validator.New([]validator.TrustedIssuer{{
//		Issuer:    issuer.URL(),
//		Audiences: []string{"api://test"},
//	}})
//	token := issuer.MintToken("user-1", "api://test")
package plauthtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Issuer is a scriptable fake OAuth2/OIDC authorization server.
type Issuer struct {
	server *httptest.Server

	mu             sync.Mutex
	keys           []*signingKey
	accessTTL      time.Duration
	clientSecret   string
	rotateRefresh  bool
	authCodes      map[string]string   // code -> subject
	refreshTokens  map[string]string   // refresh token -> subject
	accessTokens   map[string]string   // access token -> subject
	deviceScript   []string            // scripted poll outcomes
	deviceCodes    map[string]struct{} // outstanding device codes
	tokenRequests  []map[string]string
	deviceInterval int64
	jwksHits       int64
}

type signingKey struct {
	kid string
	key *rsa.PrivateKey
}

// NewIssuer starts a fake issuer with one RSA signing key.
func NewIssuer() *Issuer {
	iss := &Issuer{
		accessTTL:      time.Hour,
		authCodes:      make(map[string]string),
		refreshTokens:  make(map[string]string),
		accessTokens:   make(map[string]string),
		deviceCodes:    make(map[string]struct{}),
		deviceInterval: 1,
	}
	iss.addKey()

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", iss.handleDiscovery)
	mux.HandleFunc("/jwks", iss.handleJWKS)
	mux.HandleFunc("/token", iss.handleToken)
	mux.HandleFunc("/device_authorization", iss.handleDeviceAuthorization)
	mux.HandleFunc("/userinfo", iss.handleUserinfo)
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		// Browser endpoint; tests drive the redirect themselves.
		w.WriteHeader(http.StatusOK)
	})
	iss.server = httptest.NewServer(mux)
	return iss
}

// URL returns the issuer base URL. Use it as auth_server and as the
// trusted issuer value.
func (iss *Issuer) URL() string { return iss.server.URL }

// Close shuts the server down.
func (iss *Issuer) Close() { iss.server.Close() }

// KeyID returns the kid of the current signing key.
func (iss *Issuer) KeyID() string {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.keys[len(iss.keys)-1].kid
}

// RotateKey generates a new signing key and drops all prior keys from the
// JWKS, simulating provider key rotation.
func (iss *Issuer) RotateKey() string {
	iss.mu.Lock()
	iss.keys = nil
	iss.mu.Unlock()
	return iss.addKey()
}

// SetClientSecret makes the token endpoint require this client_secret on
// confidential grants.
func (iss *Issuer) SetClientSecret(secret string) {
	iss.mu.Lock()
	iss.clientSecret = secret
	iss.mu.Unlock()
}

// SetAccessTokenTTL controls expires_in on issued tokens.
func (iss *Issuer) SetAccessTokenTTL(ttl time.Duration) {
	iss.mu.Lock()
	iss.accessTTL = ttl
	iss.mu.Unlock()
}

// SetRotateRefreshTokens makes every refresh invalidate the used refresh
// token and issue a new one, like providers with rotation enabled.
func (iss *Issuer) SetRotateRefreshTokens(on bool) {
	iss.mu.Lock()
	iss.rotateRefresh = on
	iss.mu.Unlock()
}

// ScriptDeviceFlow sets the outcome of successive device-code polls. Each
// element is one of "pending", "slow_down", "denied", "expired", "ok".
func (iss *Issuer) ScriptDeviceFlow(outcomes ...string) {
	iss.mu.Lock()
	iss.deviceScript = append([]string(nil), outcomes...)
	iss.mu.Unlock()
}

// NewAuthCode registers an authorization code redeemable for subject's
// tokens.
func (iss *Issuer) NewAuthCode(subject string) string {
	code := randomToken("code")
	iss.mu.Lock()
	iss.authCodes[code] = subject
	iss.mu.Unlock()
	return code
}

// NewRefreshToken registers a refresh token for subject.
func (iss *Issuer) NewRefreshToken(subject string) string {
	rt := randomToken("rt")
	iss.mu.Lock()
	iss.refreshTokens[rt] = subject
	iss.mu.Unlock()
	return rt
}

// JWKSRequests returns how many times the JWKS endpoint has been fetched.
func (iss *Issuer) JWKSRequests() int64 {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.jwksHits
}

// TokenRequests returns the forms received by the token endpoint, oldest
// first.
func (iss *Issuer) TokenRequests() []map[string]string {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	out := make([]map[string]string, len(iss.tokenRequests))
	copy(out, iss.tokenRequests)
	return out
}

// MintToken signs an RS256 access token for subject and audience with the
// current key, valid for an hour.
func (iss *Issuer) MintToken(subject, audience string) string {
	return iss.MintTokenWithClaims(subject, audience, nil)
}

// MintTokenWithClaims signs a token with extra claims merged over the
// standard set. Extra claims override standard ones, so tests can force
// expired or misdated tokens.
func (iss *Issuer) MintTokenWithClaims(subject, audience string, extra map[string]interface{}) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": iss.URL(),
		"sub": subject,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	iss.mu.Lock()
	sk := iss.keys[len(iss.keys)-1]
	iss.mu.Unlock()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = sk.kid
	signed, err := tok.SignedString(sk.key)
	if err != nil {
		panic("plauthtest: sign token: " + err.Error())
	}
	return signed
}

// MintHS256Token signs a token with a symmetric key but the current kid in
// the header, for algorithm-confusion tests.
func (iss *Issuer) MintHS256Token(subject, audience string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": iss.URL(),
		"sub": subject,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = iss.KeyID()
	signed, err := tok.SignedString([]byte("not-a-real-secret"))
	if err != nil {
		panic("plauthtest: sign token: " + err.Error())
	}
	return signed
}

func (iss *Issuer) addKey() string {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("plauthtest: generate RSA key: " + err.Error())
	}
	kid := randomToken("key")
	iss.mu.Lock()
	iss.keys = append(iss.keys, &signingKey{kid: kid, key: key})
	iss.mu.Unlock()
	return kid
}

func randomToken(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return prefix + "-" + hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func oauthError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func (iss *Issuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	base := iss.URL()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                        base,
		"authorization_endpoint":        base + "/authorize",
		"token_endpoint":                base + "/token",
		"device_authorization_endpoint": base + "/device_authorization",
		"jwks_uri":                      base + "/jwks",
		"userinfo_endpoint":             base + "/userinfo",
		"scopes_supported":              []string{"openid", "profile", "offline_access"},
	})
}

func (iss *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	iss.mu.Lock()
	iss.jwksHits++
	keys := append([]*signingKey(nil), iss.keys...)
	iss.mu.Unlock()

	set := jwk.NewSet()
	for _, sk := range keys {
		pub, err := jwk.FromRaw(sk.key.Public())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = pub.Set(jwk.KeyIDKey, sk.kid)
		_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
		_ = pub.Set(jwk.KeyUsageKey, "sig")
		_ = set.AddKey(pub)
	}
	writeJSON(w, http.StatusOK, set)
}

func (iss *Issuer) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request", err.Error())
		return
	}
	dc := randomToken("device")
	iss.mu.Lock()
	iss.deviceCodes[dc] = struct{}{}
	interval := iss.deviceInterval
	iss.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_code":               dc,
		"user_code":                 "WDJB-MJHT",
		"verification_uri":          iss.URL() + "/device",
		"verification_uri_complete": iss.URL() + "/device?user_code=WDJB-MJHT",
		"expires_in":                300,
		"interval":                  interval,
	})
}

func (iss *Issuer) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	iss.mu.Lock()
	subject, ok := iss.accessTokens[h[len(prefix):]]
	iss.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sub": subject})
}
