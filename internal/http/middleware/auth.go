package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/guildauth/internal/domain"
)

// SessionCookie carries the session token set after login.
const SessionCookie = "auth_token"

const principalKey = "principal"

// SessionParser verifies session tokens.
type SessionParser interface {
	Parse(token string) (domain.Principal, error)
}

// Auth authenticates requests from the session cookie or a bearer token.
type Auth struct {
	Sessions SessionParser
}

// NewAuth constructs the authentication middleware.
func NewAuth(sessions SessionParser) *Auth {
	return &Auth{Sessions: sessions}
}

// ValidateJWT ensures the request carries a valid session and attaches the
// principal for handlers.
func (m *Auth) ValidateJWT(c *gin.Context) {
	token, ok := sessionToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	principal, err := m.Sessions.Parse(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid or expired session."})
		return
	}
	c.Set(principalKey, principal)
	c.Next()
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return domain.Principal{}, false
	}
	p, ok := value.(domain.Principal)
	return p, ok
}

func sessionToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), true
		}
		return "", false
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}
