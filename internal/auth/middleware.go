package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	userIDContextKey = "auth_user_id"
	anonIDContextKey = "anon_session_id"
)

// Middleware validates bearer access tokens and stores the user id in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractBearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateAccessToken(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// AnonymousSession makes sure every visitor carries a pu_session_id cookie.
func (s *Service) AnonymousSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(s.anonCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(s.anonCookie, id, int(s.anonTTL.Seconds()), "/", "", s.secureCookies, true)
		}
		c.Set(anonIDContextKey, id)
		c.Next()
	}
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok
}

// AnonymousIDFromContext returns the visitor id set by AnonymousSession.
func AnonymousIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(anonIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

func (s *Service) extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
