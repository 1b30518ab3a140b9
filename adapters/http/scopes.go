package authhttp

import (
	"encoding/json"
	"net/http"
)

// RequireScopes rejects requests whose validated token does not grant every
// named scope. It must wrap a handler already behind RequireBearer; a
// request that skipped validation is rejected outright.
func RequireScopes(next http.Handler, scopes ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := ResultFromContext(r.Context())
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}
		granted := res.Scope()
		for _, want := range scopes {
			if !containsScope(granted, want) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "insufficient scope"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func containsScope(granted []string, want string) bool {
	for _, s := range granted {
		if s == want {
			return true
		}
	}
	return false
}
