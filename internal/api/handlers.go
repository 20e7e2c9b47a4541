package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"prepareup/internal/auth"
	"prepareup/internal/discord"
	"prepareup/internal/ingest"
	"prepareup/internal/logger"
	"prepareup/internal/service/account"
	"prepareup/internal/service/ai"
	"prepareup/internal/service/study"
	"prepareup/internal/sessionstore"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Ingest       *ingest.Service
	Study        *study.Service
	Auth         *auth.Service
	Google       auth.GoogleVerifier
	Accounts     *account.Service
	DiscordOAuth *discord.OAuth
	Discord      *discord.Client
	Vault        *discord.Vault
	Log          *logger.Logger
}

// Handler wires HTTP routes to the upload, study, auth and Discord services.
type Handler struct {
	ingest       *ingest.Service
	study        *study.Service
	auth         *auth.Service
	google       auth.GoogleVerifier
	accounts     *account.Service
	discordOAuth *discord.OAuth
	discord      *discord.Client
	vault        *discord.Vault
	log          *logger.Logger
	now          func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		ingest:       d.Ingest,
		study:        d.Study,
		auth:         d.Auth,
		google:       d.Google,
		accounts:     d.Accounts,
		discordOAuth: d.DiscordOAuth,
		discord:      d.Discord,
		vault:        d.Vault,
		log:          log,
		now:          time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.auth.AnonymousSession())

	api := router.Group("/api")
	api.GET("/health", h.health)
	api.GET("/hello", h.hello)
	api.GET("/dashboard", h.dashboard)

	api.POST("/upload", h.upload)
	api.POST("/generate", h.generate)
	api.POST("/chat", h.chat)

	authRoutes := api.Group("/auth")
	authRoutes.POST("/google", h.googleLogin)
	authRoutes.GET("/me", h.auth.Middleware(), h.me)
	authRoutes.POST("/refresh", h.auth.CSRFMiddleware(), h.refresh)
	authRoutes.POST("/logout", h.auth.CSRFMiddleware(), h.logout)
	authRoutes.GET("/discord", h.discordAuth)
	authRoutes.GET("/discord/callback", h.discordCallback)

	dc := api.Group("/discord")
	dc.GET("/status", h.discordStatus)
	dc.POST("/logout", h.discordLogout)
	dc.GET("/me", h.discordMe)
	dc.GET("/guilds", h.discordGuilds)
	dc.GET("/bot/install-url", h.discordInstallURL)
	dc.GET("/bot/guilds/:guild_id/channels", h.discordChannels)
	dc.GET("/bot/channels/:channel_id/messages", h.discordMessages)
	dc.POST("/bot/channels/:channel_id/import", h.discordImport)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  "Hello from PrepareUp",
		"utc_time": h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Dashboard API is live"})
}

// fail records the cause for the request log and answers with a safe message.
func fail(c *gin.Context, status int, msg string, cause error) {
	if cause != nil {
		_ = c.Error(cause)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h *Handler) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, http.StatusBadRequest, "No files provided.", err)
		return
	}
	headers := form.File["files"]
	if len(headers) > ingest.MaxFiles {
		fail(c, http.StatusBadRequest, fmt.Sprintf("Too many files. Max %d.", ingest.MaxFiles), nil)
		return
	}
	// Declared sizes are checked before any part is read.
	for _, fh := range headers {
		if fh.Size > ingest.MaxBytesPerFile {
			fail(c, http.StatusRequestEntityTooLarge, "File too large: "+fh.Filename, nil)
			return
		}
	}

	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh, ingest.MaxBytesPerFile)
		if err != nil {
			fail(c, http.StatusBadRequest, "Could not read uploaded file: "+fh.Filename, err)
			return
		}
		files = append(files, ingest.File{
			Name: fh.Filename,
			MIME: fh.Header.Get("Content-Type"),
			Size: fh.Size,
			Data: data,
		})
	}

	res, err := h.ingest.SubmitBatch(c.Request.Context(), files)
	if err != nil {
		var tooLarge *ingest.FileTooLargeError
		switch {
		case errors.Is(err, ingest.ErrNoFiles):
			fail(c, http.StatusBadRequest, "No files provided.", nil)
		case errors.Is(err, ingest.ErrTooManyFiles):
			fail(c, http.StatusBadRequest, fmt.Sprintf("Too many files. Max %d.", ingest.MaxFiles), nil)
		case errors.As(err, &tooLarge):
			fail(c, http.StatusRequestEntityTooLarge, "File too large: "+tooLarge.Name, nil)
		case errors.Is(err, ingest.ErrNothingExtracted):
			fail(c, http.StatusBadRequest, "Could not extract text from the uploaded files.", nil)
		case errors.Is(err, ingest.ErrStore):
			fail(c, http.StatusInternalServerError, "Failed to store session text.", err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			fail(c, http.StatusServiceUnavailable, "Upload timed out.", err)
		default:
			fail(c, http.StatusInternalServerError, "Upload failed.", err)
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// readPart reads at most limit+1 bytes so oversize parts are detectable
// without buffering them whole.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

type generateRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	OutputType string `json:"output_type" binding:"required"`
	Count      *int   `json:"count"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	genReq := study.GenerateRequest{OutputType: study.OutputType(req.OutputType), Count: req.Count}
	if err := genReq.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	corpus, ok := h.loadCorpus(c, req.SessionID)
	if !ok {
		return
	}
	out, err := h.study.Generate(c.Request.Context(), corpus, genReq)
	if err != nil {
		h.studyError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type chatRequest struct {
	SessionID string           `json:"session_id" binding:"required"`
	Message   string           `json:"message"`
	History   []study.ChatTurn `json:"history"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	chatReq := study.ChatRequest{Message: req.Message, History: req.History}
	if err := chatReq.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	corpus, ok := h.loadCorpus(c, req.SessionID)
	if !ok {
		return
	}
	out, err := h.study.Chat(c.Request.Context(), corpus, chatReq)
	if err != nil {
		h.studyError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// loadCorpus only accepts ids minted by the session store; other keys in the
// shared backend are not sessions.
func (h *Handler) loadCorpus(c *gin.Context, sessionID string) (string, bool) {
	if uuid.Validate(sessionID) != nil {
		fail(c, http.StatusNotFound, "Session not found or expired.", nil)
		return "", false
	}
	corpus, err := h.ingest.Corpus(c.Request.Context(), sessionID)
	if err == nil {
		return corpus, true
	}
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		fail(c, http.StatusNotFound, "Session not found or expired.", nil)
	case errors.Is(err, sessionstore.ErrCorrupt):
		fail(c, http.StatusInternalServerError, "Corrupt session store.", err)
	default:
		fail(c, http.StatusInternalServerError, "Failed to read session.", err)
	}
	return "", false
}

func (h *Handler) studyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, study.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, study.ErrEmptyCorpus):
		fail(c, http.StatusBadRequest, "No extracted text available for this session.", nil)
	case errors.Is(err, study.ErrInvalidOutput):
		fail(c, http.StatusBadGateway, "Model returned invalid JSON.", err)
	case errors.Is(err, ai.ErrNotConfigured):
		fail(c, http.StatusInternalServerError, "Generation provider is not configured.", err)
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, "Generation timed out.", err)
	default:
		fail(c, http.StatusBadGateway, "Generation failed.", err)
	}
}
