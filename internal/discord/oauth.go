package discord

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"prepareup/internal/logger"

	"golang.org/x/oauth2"
)

const (
	DefaultAPIBase   = "https://discord.com/api"
	DefaultAuthURL   = "https://discord.com/api/oauth2/authorize"
	DefaultTokenURL  = "https://discord.com/api/oauth2/token"
	DefaultBotPerms  = "66560"
	exchangeAttempts = 6
	maxRetryAfter    = 15 * time.Second
	maxBackoff       = 10 * time.Second
)

var ErrNotConfigured = errors.New("discord integration not configured")

// Config carries the Discord application credentials and endpoints.
type Config struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	BotToken        string
	BotPermissions  string
	FrontendBaseURL string
	APIBase         string
	AuthURL         string
	TokenURL        string
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.BotPermissions == "" {
		c.BotPermissions = DefaultBotPerms
	}
	if c.FrontendBaseURL == "" {
		c.FrontendBaseURL = "http://localhost:3000"
	}
	c.FrontendBaseURL = strings.TrimRight(c.FrontendBaseURL, "/")
	return c
}

// OAuth runs the user-facing authorization code flow.
type OAuth struct {
	cfg   Config
	conf  *oauth2.Config
	http  *http.Client
	sleep func(ctx context.Context, d time.Duration) error
	log   *logger.Logger
}

// NewOAuth builds the OAuth flow. httpClient may be nil.
func NewOAuth(cfg Config, httpClient *http.Client, log *logger.Logger) *OAuth {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OAuth{
		cfg: cfg,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"identify", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:  httpClient,
		sleep: sleepCtx,
		log:   log,
	}
}

// Configured reports whether client credentials are present.
func (o *OAuth) Configured() bool {
	return o.cfg.ClientID != "" && o.cfg.ClientSecret != ""
}

// AuthCodeURL returns the Discord consent page URL for state.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Exchange trades the callback code for a token, waiting out rate limits.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !o.Configured() {
		return nil, ErrNotConfigured
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.http)
	backoff := time.Second
	var lastErr error
	for attempt := range exchangeAttempts {
		tok, err := o.conf.Exchange(ctx, code)
		if err == nil {
			return tok, nil
		}
		lastErr = err

		var re *oauth2.RetrieveError
		if !errors.As(err, &re) || re.Response == nil {
			return nil, err
		}
		var wait time.Duration
		switch {
		case re.Response.StatusCode == http.StatusTooManyRequests:
			wait = retryAfter(re.Response.Header, backoff, maxRetryAfter)
		case re.Response.StatusCode == http.StatusBadRequest && rateLimitedBody(re.Body):
			wait = min(backoff, maxBackoff)
		default:
			return nil, err
		}
		o.log.Warn("Discord token exchange rate limited", "attempt", attempt+1, "sleep", wait.String())
		if err := o.sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return nil, lastErr
}

// InstallURL returns the link that adds the bot to a server.
func (o *OAuth) InstallURL() string {
	q := url.Values{}
	q.Set("client_id", o.cfg.ClientID)
	q.Set("permissions", o.cfg.BotPermissions)
	q.Set("scope", "bot applications.commands")
	return o.cfg.AuthURL + "?" + q.Encode()
}

// DashboardURL is where the browser lands after the OAuth callback.
func (o *OAuth) DashboardURL(outcome string) string {
	return o.cfg.FrontendBaseURL + "/dashboard?discord=" + url.QueryEscape(outcome)
}

func rateLimitedBody(body []byte) bool {
	txt := strings.ToLower(string(body))
	return strings.Contains(txt, "rate limited") || strings.Contains(txt, "too many tokens")
}

// retryAfter reads the Retry-After header in (possibly fractional) seconds.
func retryAfter(h http.Header, fallback, limit time.Duration) time.Duration {
	wait := fallback
	if ra := strings.TrimSpace(h.Get("Retry-After")); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs >= 0 {
			wait = time.Duration(secs * float64(time.Second))
		}
	}
	return min(wait, limit)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
