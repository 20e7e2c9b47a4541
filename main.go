package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prepareup/internal/api"
	"prepareup/internal/auth"
	"prepareup/internal/config"
	"prepareup/internal/discord"
	"prepareup/internal/extractor"
	"prepareup/internal/ingest"
	"prepareup/internal/logger"
	"prepareup/internal/ocr"
	"prepareup/internal/redis"
	"prepareup/internal/service/account"
	"prepareup/internal/service/ai"
	"prepareup/internal/service/study"
	"prepareup/internal/sessionstore"
	"prepareup/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.Getenv("PREPAREUP_CONFIG"))
	if err != nil {
		panic("load config: " + err.Error())
	}

	log, err := logger.New(cfg.BasicConfig.Mode)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer log.Sync()

	if cfg.BasicConfig.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := cfg.BasicConfig.Database
	log.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg.Databases[dbType])
	if err != nil {
		log.Fatal("open database", "error", err)
	}
	defer db.Close()
	// Create necessary tables: users, oauth_accounts, refresh_tokens
	if err := storage.Migrate(db); err != nil {
		log.Fatal("migrate database", "error", err)
	}

	var rdb *redis.Client
	if cfg.SessionStore.Backend == "redis" {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("create redis client", "error", err)
		}
		defer rdb.Close()
	}
	backend, err := sessionstore.Build(cfg.SessionStore.Backend, cfg.SessionStore.Dir, rdb, cfg.SessionStore.KeyPrefix)
	if err != nil {
		log.Fatal("init session backend", "error", err)
	}
	store := sessionstore.New(backend,
		sessionstore.WithTTL(time.Duration(cfg.SessionStore.TTLMinutes)*time.Minute),
		sessionstore.WithLogger(log),
	)

	capability := ocr.Detect(ctx, cfg.OCR, log)
	if avail, ok := capability.(ocr.Available); ok {
		if closer, ok := avail.Backend.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	}
	ext := extractor.New(capability, extractor.WithLogger(log))
	ingestService := ingest.NewService(ext, store, ingest.Config{
		Workers:     cfg.Extraction.Workers,
		FileTimeout: time.Duration(cfg.Extraction.FileTimeoutSeconds) * time.Second,
	}, log)

	var completer ai.Completer
	chat, err := ai.NewChatService(ctx, cfg.Generation.Provider, cfg.Provider())
	if err != nil {
		log.Warn("generation disabled", "provider", cfg.Generation.Provider, "error", err)
		completer = ai.Unconfigured{Reason: err}
	} else {
		completer = chat
	}
	studyService := study.NewService(completer, log)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if cfg.BasicConfig.Mode == "release" {
			log.Fatal("JWT_SECRET is required in release mode")
		}
		secret = randomSecret()
		log.Warn("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}
	authCfg := cfg.Auth
	authCfg.JWTSecret = secret
	authService, err := auth.NewService(db, authCfg)
	if err != nil {
		log.Fatal("init auth service", "error", err)
	}

	dcfg := discord.Config{
		ClientID:        cfg.Discord.ClientID,
		ClientSecret:    cfg.Discord.ClientSecret,
		RedirectURI:     cfg.Discord.RedirectURI,
		BotToken:        cfg.Discord.BotToken,
		BotPermissions:  cfg.Discord.BotPermissions,
		FrontendBaseURL: cfg.Discord.FrontendBaseURL,
	}
	tokenKey := cfg.Discord.TokenKey
	if tokenKey == "" {
		tokenKey = secret
	}
	vault, err := discord.NewVault(backend, tokenKey)
	if err != nil {
		log.Fatal("init discord vault", "error", err)
	}

	handlers := api.NewHandler(api.Deps{
		Ingest:       ingestService,
		Study:        studyService,
		Auth:         authService,
		Google:       auth.IDTokenVerifier{ClientID: cfg.Auth.GoogleClientID},
		Accounts:     account.NewService(db),
		DiscordOAuth: discord.NewOAuth(dcfg, nil, log),
		Discord:      discord.NewClient(dcfg, nil, log),
		Vault:        vault,
		Log:          log,
	})

	router := gin.New()
	router.Use(
		gin.Recovery(),
		api.RequestID(),
		api.RequestLogger(log),
		api.CORS(cfg.CORS.Origins),
		api.Timeout(time.Duration(cfg.BasicConfig.RequestTimeoutSeconds)*time.Second),
	)
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("server listening", "addr", srv.Addr, "session_backend", cfg.SessionStore.Backend, "ocr", cfg.OCR.Backend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", "error", err)
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
