package api

import (
	"errors"
	"net/http"

	"prepareup/internal/auth"
	"prepareup/internal/models"
	"prepareup/internal/service/account"

	"github.com/gin-gonic/gin"
)

type googleLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

type userOut struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func toUserOut(u *models.User) userOut {
	return userOut{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

func (h *Handler) googleLogin(c *gin.Context) {
	var req googleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if h.google == nil || h.accounts == nil {
		fail(c, http.StatusInternalServerError, "Google login is not configured.", nil)
		return
	}
	identity, err := h.google.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, auth.ErrGoogleNotConfigured) {
			fail(c, http.StatusInternalServerError, "Google login is not configured.", err)
			return
		}
		fail(c, http.StatusUnauthorized, "Invalid Google token.", err)
		return
	}
	user, err := h.accounts.UpsertGoogleUser(c.Request.Context(), account.Profile{
		Subject:   identity.Subject,
		Email:     identity.Email,
		Name:      identity.Name,
		AvatarURL: identity.Picture,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "login failed", err)
		return
	}
	h.issueSession(c, user.ID, gin.H{"user": toUserOut(user)})
}

// issueSession mints an access token and a refresh cookie for userID and
// writes the login response, merged with extra.
func (h *Handler) issueSession(c *gin.Context, userID string, extra gin.H) {
	access, err := h.auth.IssueAccessToken(userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "login failed", err)
		return
	}
	refresh, err := h.auth.IssueRefreshToken(c.Request.Context(), userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "login failed", err)
		return
	}
	h.writeTokens(c, access, refresh, extra)
}

func (h *Handler) writeTokens(c *gin.Context, access, refresh string, extra gin.H) {
	csrf, err := h.auth.SetSessionCookies(c, refresh)
	if err != nil {
		fail(c, http.StatusInternalServerError, "login failed", err)
		return
	}
	body := gin.H{
		"access_token": access,
		"token_type":   "bearer",
		"expires_in":   int(h.auth.AccessTTL().Seconds()),
		"csrf_token":   csrf,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) me(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID == "" {
		fail(c, http.StatusUnauthorized, "authorization required", nil)
		return
	}
	if h.accounts == nil {
		fail(c, http.StatusInternalServerError, "accounts unavailable", nil)
		return
	}
	user, err := h.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			fail(c, http.StatusNotFound, "user not found", nil)
			return
		}
		fail(c, http.StatusInternalServerError, "load user failed", err)
		return
	}
	c.JSON(http.StatusOK, toUserOut(user))
}

func (h *Handler) refresh(c *gin.Context) {
	token, err := c.Cookie(h.auth.RefreshCookieName())
	if err != nil || token == "" {
		fail(c, http.StatusUnauthorized, "refresh token required", nil)
		return
	}
	userID, next, err := h.auth.RotateRefreshToken(c.Request.Context(), token)
	if err != nil {
		h.auth.ClearSessionCookies(c)
		switch {
		case errors.Is(err, auth.ErrTokenRevoked), errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrInvalidToken):
			fail(c, http.StatusUnauthorized, "invalid refresh token", err)
		default:
			fail(c, http.StatusInternalServerError, "refresh failed", err)
		}
		return
	}
	access, err := h.auth.IssueAccessToken(userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "refresh failed", err)
		return
	}
	h.writeTokens(c, access, next, nil)
}

func (h *Handler) logout(c *gin.Context) {
	if token, err := c.Cookie(h.auth.RefreshCookieName()); err == nil && token != "" {
		if err := h.auth.RevokeRefreshToken(c.Request.Context(), token); err != nil {
			h.log.Warn("revoke refresh token failed", "error", err)
		}
	}
	h.auth.ClearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
