package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"leaguehub.com/app/internal/shared/apperr"
)

const CtxKeyPrincipal = "principal_id"

// Principal resolves the caller from an HS256 bearer token issued by the
// identity service. The token subject is the principal id. Requests without
// a valid token are rejected with 401.
func Principal(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}); err != nil {
			Fail(c, apperr.New(apperr.Unauthorized, "Invalid or expired token.", err))
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			Fail(c, apperr.New(apperr.Unauthorized, "Invalid or expired token.", errors.New("token has no subject")))
			return
		}

		c.Set(CtxKeyPrincipal, claims.Subject)
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated principal id.
func CurrentPrincipal(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxKeyPrincipal)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func bearerToken(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
