package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CSRFMiddleware enforces double-submit protection on requests that ride on
// the refresh cookie. Requests without the cookie have nothing to forge.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		if _, err := c.Cookie(s.refreshCookie); err != nil {
			c.Next()
			return
		}
		headerToken := c.GetHeader(s.csrfHeaderName)
		cookieToken, err := c.Cookie(s.csrfCookieName)
		if err != nil || headerToken == "" || cookieToken == "" ||
			subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// SetSessionCookies stores the refresh token (httpOnly) and a fresh CSRF
// token readable by the frontend. It returns the CSRF token.
func (s *Service) SetSessionCookies(c *gin.Context, refresh string) (string, error) {
	csrf, err := s.NewCSRFToken()
	if err != nil {
		return "", err
	}
	maxAge := int(s.refreshTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.refreshCookie, refresh, maxAge, "/api/auth", "", s.secureCookies, true)
	c.SetCookie(s.csrfCookieName, csrf, maxAge, "/", "", s.secureCookies, false)
	return csrf, nil
}

// ClearSessionCookies expires the refresh and CSRF cookies.
func (s *Service) ClearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.refreshCookie, "", -1, "/api/auth", "", s.secureCookies, true)
	c.SetCookie(s.csrfCookieName, "", -1, "/", "", s.secureCookies, false)
}
