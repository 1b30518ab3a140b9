package plauthtest

import (
	"net/http"
	"time"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

func (iss *Issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request", err.Error())
		return
	}
	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	iss.mu.Lock()
	iss.tokenRequests = append(iss.tokenRequests, form)
	secret := iss.clientSecret
	iss.mu.Unlock()

	grant := form["grant_type"]
	switch grant {
	case "authorization_code":
		iss.mu.Lock()
		subject, ok := iss.authCodes[form["code"]]
		delete(iss.authCodes, form["code"])
		iss.mu.Unlock()
		if !ok {
			oauthError(w, "invalid_grant", "unknown or used authorization code")
			return
		}
		if form["code_verifier"] == "" {
			oauthError(w, "invalid_request", "code_verifier is required")
			return
		}
		iss.issueTokens(w, subject, form["scope"], true)

	case "refresh_token":
		rt := form["refresh_token"]
		iss.mu.Lock()
		subject, ok := iss.refreshTokens[rt]
		rotate := iss.rotateRefresh
		if ok && rotate {
			delete(iss.refreshTokens, rt)
		}
		iss.mu.Unlock()
		if !ok {
			oauthError(w, "invalid_grant", "unknown refresh token")
			return
		}
		iss.issueTokens(w, subject, form["scope"], rotate)

	case "client_credentials":
		if secret != "" && form["client_secret"] != secret && form["client_assertion"] == "" {
			oauthError(w, "invalid_client", "client authentication failed")
			return
		}
		iss.issueTokens(w, form["client_id"], form["scope"], false)

	case deviceGrantType:
		iss.handleDevicePoll(w, form)

	default:
		oauthError(w, "unsupported_grant_type", grant)
	}
}

func (iss *Issuer) handleDevicePoll(w http.ResponseWriter, form map[string]string) {
	iss.mu.Lock()
	_, known := iss.deviceCodes[form["device_code"]]
	var outcome string
	if len(iss.deviceScript) > 0 {
		outcome = iss.deviceScript[0]
		iss.deviceScript = iss.deviceScript[1:]
	} else {
		outcome = "ok"
	}
	iss.mu.Unlock()

	if !known {
		oauthError(w, "invalid_grant", "unknown device code")
		return
	}
	switch outcome {
	case "pending":
		oauthError(w, "authorization_pending", "user has not yet approved")
	case "slow_down":
		oauthError(w, "slow_down", "poll less often")
	case "denied":
		oauthError(w, "access_denied", "user denied the request")
	case "expired":
		oauthError(w, "expired_token", "device code expired")
	default:
		iss.mu.Lock()
		delete(iss.deviceCodes, form["device_code"])
		iss.mu.Unlock()
		iss.issueTokens(w, "device-user", form["scope"], true)
	}
}

func (iss *Issuer) issueTokens(w http.ResponseWriter, subject, scope string, withRefresh bool) {
	iss.mu.Lock()
	ttl := iss.accessTTL
	iss.mu.Unlock()

	at := iss.MintTokenWithClaims(subject, "api://test", map[string]interface{}{
		"exp": time.Now().Add(ttl).Unix(),
	})
	iss.mu.Lock()
	iss.accessTokens[at] = subject
	iss.mu.Unlock()

	body := map[string]interface{}{
		"access_token": at,
		"token_type":   "Bearer",
		"expires_in":   int64(ttl / time.Second),
	}
	if scope != "" {
		body["scope"] = scope
	}
	if withRefresh {
		body["refresh_token"] = iss.NewRefreshToken(subject)
	}
	writeJSON(w, http.StatusOK, body)
}
