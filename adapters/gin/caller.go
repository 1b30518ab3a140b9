package authgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Caller is a handler-friendly view of the validated token bearer.
type Caller struct {
	Subject string   `json:"subject"`
	Issuer  string   `json:"issuer"`
	Scopes  []string `json:"scopes,omitempty"`
}

// CurrentCaller returns the caller snapshot for the request, false when no
// bearer token was validated on this route.
func CurrentCaller(c *gin.Context) (Caller, bool) {
	res, ok := ResultFromGin(c)
	if !ok {
		return Caller{}, false
	}
	return Caller{
		Subject: res.Subject,
		Issuer:  res.Issuer,
		Scopes:  res.Scope(),
	}, true
}

// RequireScopes aborts with 403 unless the validated token grants every
// named scope. Must run after RequireBearer on the same route.
func RequireScopes(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := ResultFromGin(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		granted := res.Scope()
		for _, want := range scopes {
			if !containsScope(granted, want) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
				return
			}
		}
		c.Next()
	}
}

func containsScope(granted []string, want string) bool {
	for _, s := range granted {
		if s == want {
			return true
		}
	}
	return false
}
