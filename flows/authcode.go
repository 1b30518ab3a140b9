package flows

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/oauth2"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/credential"
)

const defaultCallbackAck = "Login complete. You may close this window."

// authCodeClient implements the authorization code flow. PKCE is always
// used, regardless of whether the client also authenticates with a secret
// or a signed assertion.
type authCodeClient struct {
	oidcBase
	httpClient *http.Client
}

func (c *authCodeClient) NonInteractive() bool { return false }

func (c *authCodeClient) Login(ctx context.Context, opts *LoginOptions) (*credential.Credential, error) {
	if opts == nil || opts.OpenURL == nil {
		return nil, &autherr.FlowError{
			Flow:  "authorization code",
			Cause: errors.New("no OpenURL handler provided; opening a browser must be an explicit application decision"),
		}
	}
	cred, err := c.login(ctx, opts)
	if err != nil {
		var oe *autherr.OAuthError
		if errors.As(err, &oe) || !autherr.Retryable(err) {
			return nil, &autherr.FlowError{Flow: "authorization code", Cause: err}
		}
		return nil, err
	}
	return cred, nil
}

func (c *authCodeClient) login(ctx context.Context, opts *LoginOptions) (*credential.Credential, error) {
	md, err := c.api.Discover(ctx)
	if err != nil {
		return nil, err
	}
	authEndpoint := c.cfg.AuthorizationEndpoint
	if authEndpoint == "" {
		authEndpoint = md.AuthorizationEndpoint
	}
	if authEndpoint == "" {
		return nil, errors.New("authorization server does not advertise an authorization endpoint")
	}

	scopes, audiences, extra := c.applyFallback(opts)
	verifier := oauth2.GenerateVerifier()
	state, err := newState()
	if err != nil {
		return nil, err
	}

	listener, redirectURI, err := c.listen()
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	conf := &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authEndpoint,
			TokenURL: md.TokenEndpoint,
		},
	}

	authOpts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for _, aud := range audiences {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("audience", aud))
	}
	for k, v := range extra {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := conf.AuthCodeURL(state, authOpts...)

	codeCh := make(chan callbackResult, 1)
	go c.serveCallback(listener, state, codeCh)

	if err := opts.OpenURL(authURL); err != nil {
		return nil, fmt.Errorf("open authorization URL: %w", err)
	}

	var cb callbackResult
	select {
	case cb = <-codeCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if cb.err != nil {
		return nil, cb.err
	}

	return c.exchange(ctx, conf, cb.code, verifier, extra)
}

// exchange trades the authorization code for tokens. Public and
// secret-authenticated clients go through the oauth2 package; signed
// assertions need the raw token endpoint.
func (c *authCodeClient) exchange(ctx context.Context, conf *oauth2.Config, code, verifier string, extra map[string]string) (*credential.Credential, error) {
	if c.cfg.clientAuth() == ClientAuthPrivateKeyJWT {
		form := url.Values{}
		form.Set("grant_type", "authorization_code")
		form.Set("code", code)
		form.Set("redirect_uri", conf.RedirectURL)
		form.Set("code_verifier", verifier)
		if err := c.enrich(ctx, form); err != nil {
			return nil, err
		}
		tr, err := c.api.Token(ctx, form)
		if err != nil {
			return nil, err
		}
		return tr.Credential(), nil
	}

	conf.ClientSecret = c.cfg.ClientSecret
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	exchangeOpts := []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
	for k, v := range extra {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam(k, v))
	}
	tok, err := conf.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, &autherr.OAuthError{
				Code:        re.ErrorCode,
				Description: re.ErrorDescription,
				StatusCode:  re.Response.StatusCode,
			}
		}
		return nil, err
	}
	cred := &credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		cred.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiresAt = tok.Expiry.Unix()
	}
	cred.IssuedAt = time.Now().Unix()
	return cred, nil
}

type callbackResult struct {
	code string
	err  error
}

// listen binds the loopback listener for the redirect. The configured
// RedirectURI fixes the port; an empty config picks an ephemeral port.
func (c *authCodeClient) listen() (net.Listener, string, error) {
	addr := "127.0.0.1:0"
	path := "/callback"
	if c.cfg.RedirectURI != "" {
		u, err := url.Parse(c.cfg.RedirectURI)
		if err != nil {
			return nil, "", fmt.Errorf("parse redirect_uri: %w", err)
		}
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return nil, "", fmt.Errorf("redirect_uri %q is not a loopback address", c.cfg.RedirectURI)
		}
		addr = net.JoinHostPort("127.0.0.1", u.Port())
		if u.Path != "" {
			path = u.Path
		}
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen for authorization callback: %w", err)
	}
	redirectURI := "http://" + listener.Addr().String() + path
	return listener, redirectURI, nil
}

// serveCallback answers exactly one redirect request and reports the code.
func (c *authCodeClient) serveCallback(listener net.Listener, state string, out chan<- callbackResult) {
	ack := c.cfg.CallbackAcknowledgement
	if ack == "" {
		ack = defaultCallbackAck
	}
	deliver := func(res callbackResult) {
		// Only the first callback counts; stray requests are answered but
		// dropped.
		select {
		case out <- res:
		default:
		}
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "Login failed: "+errCode, http.StatusBadRequest)
			deliver(callbackResult{err: &autherr.OAuthError{Code: errCode, Description: q.Get("error_description")}})
			return
		}
		if q.Get("state") != state {
			http.Error(w, "Login failed: state mismatch", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("authorization callback state mismatch")})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Login failed: no code", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("authorization callback carried no code")})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(ack))
		deliver(callbackResult{code: code})
	})}
	_ = srv.Serve(listener)
}

// newState generates an unguessable state parameter. base58 keeps it URL
// safe without padding characters.
func newState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base58.Encode(b), nil
}
