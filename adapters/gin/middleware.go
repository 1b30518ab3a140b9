// Package authgin integrates the token validator with gin services.
package authgin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/plauth/plauth/autherr"
	"github.com/plauth/plauth/validator"
)

const resultKey = "plauth.result"

// ResultFromGin returns the validation result stored by RequireBearer.
func ResultFromGin(c *gin.Context) (*validator.Result, bool) {
	v, ok := c.Get(resultKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*validator.Result)
	return res, ok
}

// RequireBearer aborts requests without a valid bearer token and stores the
// validation result in the gin context otherwise.
func RequireBearer(v *validator.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		res, err := v.ValidateToken(c.Request.Context(), raw)
		if err != nil {
			abortUnauthorized(c, reasonFor(err))
			return
		}
		c.Set(resultKey, res)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

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

func abortUnauthorized(c *gin.Context, reason string) {
	c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}
