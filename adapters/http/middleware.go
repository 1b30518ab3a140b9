// Package authhttp integrates the token validator with net/http services.
package authhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/validator"
)

type contextKey struct{}

// ResultFromContext returns the validation result stored by RequireBearer.
func ResultFromContext(ctx context.Context) (*validator.Result, bool) {
	res, ok := ctx.Value(contextKey{}).(*validator.Result)
	return res, ok
}

// RequireBearer rejects requests without a valid bearer token. On success
// the validation result is available via ResultFromContext. Unknown-issuer
// and validation failures answer 401; an unknown signing key answers 401 as
// well but is logged by the validator as a distinct condition.
func RequireBearer(v *validator.Validator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}
		res, err := v.ValidateToken(r.Context(), raw)
		if err != nil {
			unauthorized(w, reasonFor(err))
			return
		}
		ctx := context.WithValue(r.Context(), contextKey{}, res)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// reasonFor maps validation errors to client-safe descriptions. Details
// stay in the server logs.
func reasonFor(err error) string {
	var ie *autherr.UnknownIssuerError
	if errors.As(err, &ie) {
		return "untrusted issuer"
	}
	var ke *autherr.UnknownSigningKeyError
	if errors.As(err, &ke) {
		return "unknown signing key"
	}
	return "invalid token"
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
