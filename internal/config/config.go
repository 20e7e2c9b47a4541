package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig  BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases    map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis        RedisConfig               `json:"redis" yaml:"redis"`
	SessionStore SessionStoreConfig        `json:"session_store" yaml:"session_store"`
	Extraction   ExtractionConfig          `json:"extraction" yaml:"extraction"`
	OCR          OCRConfig                 `json:"ocr" yaml:"ocr"`
	Generation   GenerationConfig          `json:"generation" yaml:"generation"`
	Providers    map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Auth         AuthConfig                `json:"auth" yaml:"auth"`
	Discord      DiscordConfig             `json:"discord" yaml:"discord"`
	CORS         CORSConfig                `json:"cors" yaml:"cors"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// Mode is "debug" or "release"; it drives both gin and the logger.
	Mode string `json:"mode" yaml:"mode"`
	// Database selects an entry of Databases.
	Database              string `json:"database" yaml:"database"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DBName   string `json:"dbname" yaml:"dbname"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type SessionStoreConfig struct {
	// Backend is one of memory, disk or redis.
	Backend    string `json:"backend" yaml:"backend"`
	Dir        string `json:"dir" yaml:"dir"`
	KeyPrefix  string `json:"key_prefix" yaml:"key_prefix"`
	TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes"`
}

type ExtractionConfig struct {
	Workers            int `json:"workers" yaml:"workers"`
	FileTimeoutSeconds int `json:"file_timeout_seconds" yaml:"file_timeout_seconds"`
}

type OCRConfig struct {
	// Backend is "none" or "gcp_vision".
	Backend         string `json:"backend" yaml:"backend"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type GenerationConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type AuthConfig struct {
	JWTSecret          string `json:"jwt_secret" yaml:"jwt_secret"`
	GoogleClientID     string `json:"google_client_id" yaml:"google_client_id"`
	AccessTTLMinutes   int    `json:"access_ttl_minutes" yaml:"access_ttl_minutes"`
	RefreshTTLDays     int    `json:"refresh_ttl_days" yaml:"refresh_ttl_days"`
	SecureCookies      bool   `json:"secure_cookies" yaml:"secure_cookies"`
	AnonymousCookieTTL int    `json:"anonymous_cookie_days" yaml:"anonymous_cookie_days"`
}

type DiscordConfig struct {
	ClientID        string `json:"client_id" yaml:"client_id"`
	ClientSecret    string `json:"client_secret" yaml:"client_secret"`
	RedirectURI     string `json:"redirect_uri" yaml:"redirect_uri"`
	BotToken        string `json:"bot_token" yaml:"bot_token"`
	BotPermissions  string `json:"bot_permissions" yaml:"bot_permissions"`
	FrontendBaseURL string `json:"frontend_base_url" yaml:"frontend_base_url"`
	// TokenKey encrypts linked Discord tokens at rest; it falls back to the JWT secret.
	TokenKey string `json:"token_key" yaml:"token_key"`
}

type CORSConfig struct {
	Origins []string `json:"origins" yaml:"origins"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file yields defaults; files ending in .yaml or .yml are decoded as YAML.
// Environment variables override file values for secrets and deployment settings.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(absPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	default:
		if err := decode(absPath, data, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.SessionStore.Dir != "" && !filepath.IsAbs(cfg.SessionStore.Dir) {
		cfg.SessionStore.Dir = filepath.Join(filepath.Dir(absPath), cfg.SessionStore.Dir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.BasicConfig.ServerAddress, "PREPAREUP_ADDR")
	setString(&cfg.BasicConfig.Mode, "PREPAREUP_MODE")
	setString(&cfg.BasicConfig.Database, "PREPAREUP_DB")
	setString(&cfg.SessionStore.Backend, "PREPAREUP_SESSION_BACKEND")
	setString(&cfg.SessionStore.Dir, "PREPAREUP_SESSION_DIR")
	setString(&cfg.OCR.Backend, "PREPAREUP_OCR_BACKEND")
	setString(&cfg.OCR.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.GoogleClientID, "GOOGLE_CLIENT_ID")

	setString(&cfg.Discord.ClientID, "DISCORD_CLIENT_ID")
	setString(&cfg.Discord.ClientSecret, "DISCORD_CLIENT_SECRET")
	setString(&cfg.Discord.RedirectURI, "DISCORD_REDIRECT_URI")
	setString(&cfg.Discord.BotToken, "DISCORD_BOT_TOKEN")
	setString(&cfg.Discord.BotPermissions, "DISCORD_BOT_PERMISSIONS")
	setString(&cfg.Discord.FrontendBaseURL, "FRONTEND_BASE_URL")

	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.Origins = origins
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		p := cfg.Providers["openai"]
		p.APIKey = key
		cfg.Providers["openai"] = p
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	setString(&cfg.Redis.Host, "REDIS_HOST")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.BasicConfig.ServerAddress == "" {
		cfg.BasicConfig.ServerAddress = ":8000"
	}
	if cfg.BasicConfig.Mode == "" {
		cfg.BasicConfig.Mode = "debug"
	}
	if cfg.BasicConfig.Database == "" {
		cfg.BasicConfig.Database = "sqlite3"
	}
	if cfg.BasicConfig.RequestTimeoutSeconds <= 0 {
		cfg.BasicConfig.RequestTimeoutSeconds = 120
	}
	if cfg.SessionStore.Backend == "" {
		cfg.SessionStore.Backend = "memory"
	}
	if cfg.SessionStore.Dir == "" {
		cfg.SessionStore.Dir = "data/sessions"
	}
	if cfg.SessionStore.KeyPrefix == "" {
		cfg.SessionStore.KeyPrefix = "prepareup:session:"
	}
	if cfg.SessionStore.TTLMinutes <= 0 {
		cfg.SessionStore.TTLMinutes = 30
	}
	if cfg.Extraction.Workers <= 0 {
		cfg.Extraction.Workers = 4
	}
	if cfg.Extraction.FileTimeoutSeconds <= 0 {
		cfg.Extraction.FileTimeoutSeconds = 60
	}
	if cfg.OCR.Backend == "" {
		cfg.OCR.Backend = "none"
	}
	if cfg.OCR.TimeoutSeconds <= 0 {
		cfg.OCR.TimeoutSeconds = 20
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4.1-mini"
	}
	if cfg.Auth.AccessTTLMinutes <= 0 {
		cfg.Auth.AccessTTLMinutes = 15
	}
	if cfg.Auth.RefreshTTLDays <= 0 {
		cfg.Auth.RefreshTTLDays = 7
	}
	if cfg.Auth.AnonymousCookieTTL <= 0 {
		cfg.Auth.AnonymousCookieTTL = 365
	}
	if cfg.Discord.RedirectURI == "" {
		cfg.Discord.RedirectURI = "http://localhost:8000/api/auth/discord/callback"
	}
	if cfg.Discord.BotPermissions == "" {
		cfg.Discord.BotPermissions = "66560"
	}
	if cfg.Discord.FrontendBaseURL == "" {
		cfg.Discord.FrontendBaseURL = "http://localhost:3000"
	}
	if cfg.Discord.TokenKey == "" {
		cfg.Discord.TokenKey = cfg.Auth.JWTSecret
	}
	if len(cfg.CORS.Origins) == 0 {
		cfg.CORS.Origins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.SessionStore.Backend {
	case "memory", "disk", "redis":
	default:
		return fmt.Errorf("unsupported session_store.backend %q", c.SessionStore.Backend)
	}
	switch c.OCR.Backend {
	case "none", "gcp_vision":
	default:
		return fmt.Errorf("unsupported ocr.backend %q", c.OCR.Backend)
	}
	switch c.BasicConfig.Database {
	case "sqlite3", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database %q", c.BasicConfig.Database)
	}
	return nil
}

// Provider returns the provider settings used for generation, with the model
// from the generation section applied when the provider entry has none.
func (c *Config) Provider() ProviderConfig {
	p := c.Providers[c.Generation.Provider]
	if p.Model == "" {
		p.Model = c.Generation.Model
	}
	return p
}
