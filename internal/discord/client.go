package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"prepareup/internal/logger"
)

const maxPageSize = 100

// APIError is a non-2xx answer from Discord. The body is kept for logs only.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api status %d", e.Status)
}

// RateLimited reports whether Discord asked us to slow down.
func (e *APIError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       bool   `json:"owner"`
	Permissions string `json:"permissions"`
}

type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

// Client talks to the Discord REST API, with user tokens or the bot token.
type Client struct {
	http     *http.Client
	apiBase  string
	botToken string
	sleep    func(ctx context.Context, d time.Duration) error
	log      *logger.Logger
}

// NewClient builds a REST client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, log *logger.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		http:     httpClient,
		apiBase:  cfg.APIBase,
		botToken: cfg.BotToken,
		sleep:    sleepCtx,
		log:      log,
	}
}

// BotConfigured reports whether a bot token is available.
func (c *Client) BotConfigured() bool {
	return c.botToken != ""
}

// Me returns the linked user's profile.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.get(ctx, "Bearer "+accessToken, "/users/@me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Guilds lists the servers the linked user belongs to.
func (c *Client) Guilds(ctx context.Context, accessToken string) ([]Guild, error) {
	var out []Guild
	if err := c.get(ctx, "Bearer "+accessToken, "/users/@me/guilds", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Channels lists the text and announcement channels the bot can see.
func (c *Client) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	if !c.BotConfigured() {
		return nil, ErrNotConfigured
	}
	var all []Channel
	if err := c.get(ctx, c.botAuth(), "/v10/guilds/"+url.PathEscape(guildID)+"/channels", nil, &all); err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ch := range all {
		if ch.Type == 0 || ch.Type == 5 {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Messages returns up to limit messages, newest first, older than before
// when it is set.
func (c *Client) Messages(ctx context.Context, channelID string, limit int, before string) ([]Message, error) {
	if !c.BotConfigured() {
		return nil, ErrNotConfigured
	}
	if limit < 1 || limit > maxPageSize {
		return nil, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	var out []Message
	if err := c.get(ctx, c.botAuth(), "/v10/channels/"+url.PathEscape(channelID)+"/messages", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) botAuth() string {
	return "Bot " + c.botToken
}

func (c *Client) get(ctx context.Context, authorization, path string, query url.Values, dst any) error {
	resp, err := c.do(ctx, authorization, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode discord response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, authorization, path string, query url.Values) (*http.Response, error) {
	u := c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord request: %w", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode, Body: string(body)}
		if apiErr.RateLimited() {
			return nil, &rateLimitError{APIError: apiErr, wait: retryAfter(resp.Header, time.Second, maxRetryAfter)}
		}
		return nil, apiErr
	}
	return resp, nil
}

// rateLimitError carries the server-suggested wait along with the 429.
type rateLimitError struct {
	*APIError
	wait time.Duration
}

func (e *rateLimitError) Unwrap() error { return e.APIError }

// AsAPIError extracts the Discord status from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
