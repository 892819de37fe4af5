package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/echocast/core/internal/pkg/jwt"
	"github.com/echocast/core/internal/pkg/response"
)

const ctxKeyAuthed = "authed"

// NormalizeToken strips the optional "Bearer " prefix from a token value.
func NormalizeToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}

func extractToken(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return NormalizeToken(v)
	}
	if v := c.Query("token"); v != "" {
		return NormalizeToken(v)
	}
	return ""
}

// Attach marks the request authenticated when a valid token is present,
// without rejecting anonymous requests.
func Attach() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if _, err := jwt.Parse(token); err == nil {
				c.Set(ctxKeyAuthed, true)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests that do not carry a valid token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}
		claims, err := jwt.Parse(token)
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ctxKeyAuthed, true)
		c.Set("auth_subject", claims.Subject)
		c.Next()
	}
}

// IsAuthenticated reports whether earlier middleware validated a token.
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(ctxKeyAuthed)
}

// ValidateToken checks a raw token string. Used by the gateway admin
// namespace, which authenticates outside the gin middleware chain.
func ValidateToken(raw string) bool {
	token := NormalizeToken(raw)
	if token == "" {
		return false
	}
	_, err := jwt.Parse(token)
	return err == nil
}
