package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"prepareup/internal/auth"
	"prepareup/internal/discord"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

const (
	discordStateCookie = "pu_discord_state"
	discordStateMaxAge = 10 * 60
)

func (h *Handler) discordAuth(c *gin.Context) {
	if h.discordOAuth == nil || !h.discordOAuth.Configured() {
		fail(c, http.StatusInternalServerError, "Discord is not configured.", nil)
		return
	}
	state, err := discord.NewState()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Discord login failed.", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(discordStateCookie, state, discordStateMaxAge, "/api/auth/discord", "", h.auth.SecureCookies(), true)
	c.Redirect(http.StatusFound, h.discordOAuth.AuthCodeURL(state))
}

func (h *Handler) discordCallback(c *gin.Context) {
	if h.discordOAuth == nil {
		fail(c, http.StatusInternalServerError, "Discord is not configured.", nil)
		return
	}
	if c.Query("error") != "" {
		c.Redirect(http.StatusFound, h.discordOAuth.DashboardURL("error"))
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		fail(c, http.StatusBadRequest, "Missing code/state from Discord callback.", nil)
		return
	}
	expected, err := c.Cookie(discordStateCookie)
	if err != nil || expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		fail(c, http.StatusBadRequest, "Invalid OAuth state.", nil)
		return
	}
	c.SetCookie(discordStateCookie, "", -1, "/api/auth/discord", "", h.auth.SecureCookies(), true)

	browserID, _ := auth.AnonymousIDFromContext(c)
	tok, err := h.discordOAuth.Exchange(c.Request.Context(), code)
	if err == nil && h.vault != nil {
		err = h.vault.Put(c.Request.Context(), browserID, tok)
	}
	if err != nil {
		h.log.Warn("Discord callback failed", "error", err)
		c.Redirect(http.StatusFound, h.discordOAuth.DashboardURL("error"))
		return
	}
	c.Redirect(http.StatusFound, h.discordOAuth.DashboardURL("connected"))
}

// linkedToken returns the browser's Discord token or answers 401.
func (h *Handler) linkedToken(c *gin.Context) (*oauth2.Token, bool) {
	browserID, _ := auth.AnonymousIDFromContext(c)
	if h.vault == nil {
		fail(c, http.StatusUnauthorized, "Discord not connected", nil)
		return nil, false
	}
	tok, err := h.vault.Get(c.Request.Context(), browserID)
	if err != nil {
		var cause error
		if !errors.Is(err, discord.ErrNotLinked) {
			cause = err
		}
		fail(c, http.StatusUnauthorized, "Discord not connected", cause)
		return nil, false
	}
	return tok, true
}

func (h *Handler) discordStatus(c *gin.Context) {
	connected := false
	if h.vault != nil {
		browserID, _ := auth.AnonymousIDFromContext(c)
		_, err := h.vault.Get(c.Request.Context(), browserID)
		connected = err == nil
	}
	c.JSON(http.StatusOK, gin.H{"connected": connected})
}

func (h *Handler) discordLogout(c *gin.Context) {
	if h.vault != nil {
		browserID, _ := auth.AnonymousIDFromContext(c)
		if err := h.vault.Delete(c.Request.Context(), browserID); err != nil {
			h.log.Warn("Discord unlink failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) discordMe(c *gin.Context) {
	tok, ok := h.linkedToken(c)
	if !ok {
		return
	}
	me, err := h.discord.Me(c.Request.Context(), tok.AccessToken)
	if err != nil {
		discordError(c, err)
		return
	}
	c.JSON(http.StatusOK, me)
}

func (h *Handler) discordGuilds(c *gin.Context) {
	tok, ok := h.linkedToken(c)
	if !ok {
		return
	}
	guilds, err := h.discord.Guilds(c.Request.Context(), tok.AccessToken)
	if err != nil {
		discordError(c, err)
		return
	}
	if guilds == nil {
		guilds = []discord.Guild{}
	}
	c.JSON(http.StatusOK, gin.H{"guilds": guilds})
}

func (h *Handler) discordInstallURL(c *gin.Context) {
	if h.discordOAuth == nil || !h.discordOAuth.Configured() {
		fail(c, http.StatusInternalServerError, "Discord is not configured.", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": h.discordOAuth.InstallURL()})
}

func (h *Handler) discordChannels(c *gin.Context) {
	chans, err := h.discord.Channels(c.Request.Context(), c.Param("guild_id"))
	if err != nil {
		discordError(c, err)
		return
	}
	if chans == nil {
		chans = []discord.Channel{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

func (h *Handler) discordMessages(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 100, 1, 100)
	if !ok {
		return
	}
	msgs, err := h.discord.Messages(c.Request.Context(), c.Param("channel_id"), limit, c.Query("before"))
	if err != nil {
		discordError(c, err)
		return
	}
	if msgs == nil {
		msgs = []discord.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) discordImport(c *gin.Context) {
	maxMessages, ok := intQuery(c, "max_messages", discord.DefaultImportMessages, 1, discord.MaxImportMessages)
	if !ok {
		return
	}
	tr, err := h.discord.ImportChannel(c.Request.Context(), c.Param("channel_id"), maxMessages)
	if err != nil {
		discordError(c, err)
		return
	}
	body := gin.H{
		"channel_id": tr.ChannelID,
		"count":      tr.Count,
		"text":       tr.Text,
	}
	if tr.Text != "" {
		id, err := h.ingest.Store(c.Request.Context(), "--- discord #"+tr.ChannelID+" ---\n"+tr.Text)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to store session text.", err)
			return
		}
		body["session_id"] = id
		body["ttl_seconds"] = int(h.ingest.TTL().Seconds())
	}
	c.JSON(http.StatusOK, body)
}

func intQuery(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		fail(c, http.StatusBadRequest, name+" must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi), nil)
		return 0, false
	}
	return n, true
}

// discordError maps upstream failures without echoing Discord's body.
func discordError(c *gin.Context, err error) {
	if errors.Is(err, discord.ErrNotConfigured) {
		fail(c, http.StatusInternalServerError, "Discord bot is not configured.", err)
		return
	}
	apiErr, ok := discord.AsAPIError(err)
	if !ok {
		fail(c, http.StatusBadGateway, "Discord request failed.", err)
		return
	}
	switch {
	case apiErr.RateLimited():
		fail(c, http.StatusTooManyRequests, "Discord rate limited. Try again in a moment.", err)
	case apiErr.Status == http.StatusUnauthorized, apiErr.Status == http.StatusForbidden, apiErr.Status == http.StatusNotFound:
		fail(c, apiErr.Status, "Discord request failed.", err)
	default:
		fail(c, http.StatusBadGateway, "Discord request failed.", err)
	}
}
