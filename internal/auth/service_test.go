package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prepareup/internal/config"
	"prepareup/internal/storage"

	"github.com/gin-gonic/gin"
)

func newTestService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open("sqlite3", config.DatabaseConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, err := NewService(db, config.AuthConfig{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func insertUser(t *testing.T, db *storage.DB, id string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)`, id, "user", time.Now().UTC()); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(nil, config.AuthConfig{}); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	token, err := svc.IssueAccessToken("u-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	userID, err := svc.ValidateAccessToken(token)
	if err != nil || userID != "u-1" {
		t.Fatalf("ValidateAccessToken: id=%q err=%v", userID, err)
	}

	other, err := NewService(nil, config.AuthConfig{JWTSecret: "other"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := other.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	token, err := svc.IssueAccessToken("u-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	svc.now = func() time.Time { return base.Add(16 * time.Minute) }
	if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	svc, db := newTestService(t)
	insertUser(t, db, "u-2")
	refresh, err := svc.IssueRefreshToken(context.Background(), "u-2")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := svc.ValidateAccessToken(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
}

func TestRotateRefreshToken(t *testing.T) {
	svc, db := newTestService(t)
	insertUser(t, db, "u-3")
	ctx := context.Background()

	first, err := svc.IssueRefreshToken(ctx, "u-3")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	var stored string
	if err := db.QueryRow(`SELECT token_hash FROM refresh_tokens`).Scan(&stored); err != nil {
		t.Fatalf("query token: %v", err)
	}
	if stored == first || stored != hashToken(first) {
		t.Fatalf("refresh token should be stored hashed")
	}

	userID, second, err := svc.RotateRefreshToken(ctx, first)
	if err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	if userID != "u-3" || second == "" || second == first {
		t.Fatalf("unexpected rotation result %q %q", userID, second)
	}

	var replacedBy string
	if err := db.QueryRow(`SELECT replaced_by_id FROM refresh_tokens WHERE token_hash = ?`, hashToken(first)).Scan(&replacedBy); err != nil {
		t.Fatalf("query replaced_by_id: %v", err)
	}
	if replacedBy == "" {
		t.Fatalf("old token should point at its replacement")
	}

	if _, _, err := svc.RotateRefreshToken(ctx, first); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected reuse to be rejected, got %v", err)
	}
	if _, _, err := svc.RotateRefreshToken(ctx, second); err != nil {
		t.Fatalf("rotating the replacement should work: %v", err)
	}
}

func TestRevokeRefreshToken(t *testing.T) {
	svc, db := newTestService(t)
	insertUser(t, db, "u-4")
	ctx := context.Background()

	token, err := svc.IssueRefreshToken(ctx, "u-4")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if err := svc.RevokeRefreshToken(ctx, token); err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}
	if _, _, err := svc.RotateRefreshToken(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}

	other, err := svc.IssueRefreshToken(ctx, "u-4")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if err := svc.RevokeUserTokens(ctx, "u-4"); err != nil {
		t.Fatalf("RevokeUserTokens: %v", err)
	}
	if _, _, err := svc.RotateRefreshToken(ctx, other); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked after revoke all, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	router := gin.New()
	router.GET("/me", svc.Middleware(), func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		c.String(http.StatusOK, id)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := svc.IssueAccessToken("u-5")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u-5" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestAnonymousSessionSetsCookieOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	router := gin.New()
	router.Use(svc.AnonymousSession())
	router.GET("/", func(c *gin.Context) {
		id, _ := AnonymousIDFromContext(c)
		c.String(http.StatusOK, id)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "pu_session_id" || !cookies[0].HttpOnly {
		t.Fatalf("expected httpOnly pu_session_id cookie, got %+v", cookies)
	}
	if rec.Body.String() != cookies[0].Value {
		t.Fatalf("context id %q does not match cookie %q", rec.Body.String(), cookies[0].Value)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("cookie should not be reissued")
	}
	if rec.Body.String() != cookies[0].Value {
		t.Fatalf("expected existing id, got %q", rec.Body.String())
	}
}

func TestCSRFMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	router := gin.New()
	router.POST("/refresh", svc.CSRFMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(cookies map[string]string, header string) int {
		req := httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader(""))
		for name, value := range cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
		if header != "" {
			req.Header.Set("X-CSRF-Token", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(nil, ""); code != http.StatusNoContent {
		t.Fatalf("request without refresh cookie should pass, got %d", code)
	}
	if code := do(map[string]string{"pu_refresh": "r", "csrf_token": "abc"}, ""); code != http.StatusForbidden {
		t.Fatalf("missing header should be rejected, got %d", code)
	}
	if code := do(map[string]string{"pu_refresh": "r", "csrf_token": "abc"}, "xyz"); code != http.StatusForbidden {
		t.Fatalf("mismatched header should be rejected, got %d", code)
	}
	if code := do(map[string]string{"pu_refresh": "r", "csrf_token": "abc"}, "abc"); code != http.StatusNoContent {
		t.Fatalf("matching token should pass, got %d", code)
	}
}
