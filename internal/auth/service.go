package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"prepareup/internal/config"
	"prepareup/internal/models"
	"prepareup/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	ErrMissingSecret = errors.New("jwt secret is required")
)

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Service issues, validates, and revokes user authentication tokens.
type Service struct {
	db             *storage.DB
	secret         []byte
	accessTTL      time.Duration
	refreshTTL     time.Duration
	now            func() time.Time
	secureCookies  bool
	anonTTL        time.Duration
	headerName     string
	refreshCookie  string
	anonCookie     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service from the auth configuration.
func NewService(db *storage.DB, cfg config.AuthConfig) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	accessTTL := time.Duration(cfg.AccessTTLMinutes) * time.Minute
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	anonTTL := time.Duration(cfg.AnonymousCookieTTL) * 24 * time.Hour
	if anonTTL <= 0 {
		anonTTL = 365 * 24 * time.Hour
	}
	return &Service{
		db:             db,
		secret:         []byte(cfg.JWTSecret),
		accessTTL:      accessTTL,
		refreshTTL:     refreshTTL,
		now:            func() time.Time { return time.Now().UTC() },
		secureCookies:  cfg.SecureCookies,
		anonTTL:        anonTTL,
		headerName:     "Authorization",
		refreshCookie:  "pu_refresh",
		anonCookie:     "pu_session_id",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}, nil
}

// IssueAccessToken signs a short-lived access token for the user.
func (s *Service) IssueAccessToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	now := s.now()
	return s.sign(Claims{
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	})
}

// ValidateAccessToken verifies the signature, expiry and type of an access
// token and returns the user id.
func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parse(token, tokenTypeAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IssueRefreshToken mints a refresh token and persists its hash.
func (s *Service) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	token, _, err := s.issueRefresh(ctx, s.db.DB, userID)
	return token, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Service) issueRefresh(ctx context.Context, ex execer, userID string) (string, string, error) {
	if userID == "" {
		return "", "", errors.New("invalid user id")
	}
	now := s.now()
	id := uuid.NewString()
	expiresAt := now.Add(s.refreshTTL)
	token, err := s.sign(Claims{
		Type: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return "", "", err
	}
	_, err = ex.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, userID, hashToken(token), expiresAt, now,
	)
	if err != nil {
		return "", "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, id, nil
}

// RotateRefreshToken exchanges a valid refresh token for a new one. The old
// row is revoked and points at its replacement.
func (s *Service) RotateRefreshToken(ctx context.Context, token string) (userID, next string, err error) {
	claims, err := s.parse(token, tokenTypeRefresh)
	if err != nil {
		return "", "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rt := models.RefreshToken{ID: claims.ID, TokenHash: hashToken(token)}
	err = tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE id = ? AND token_hash = ?`),
		rt.ID, rt.TokenHash,
	).Scan(&rt.UserID, &rt.ExpiresAt, &rt.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrInvalidToken
		}
		return "", "", fmt.Errorf("lookup refresh token: %w", err)
	}
	if rt.RevokedAt != nil {
		return "", "", ErrTokenRevoked
	}
	if !rt.Active(s.now()) {
		return "", "", ErrTokenExpired
	}
	if rt.UserID != claims.Subject {
		return "", "", ErrInvalidToken
	}

	next, nextID, err := s.issueRefresh(ctx, tx, rt.UserID)
	if err != nil {
		return "", "", err
	}
	res, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE refresh_tokens SET revoked_at = ?, replaced_by_id = ? WHERE id = ? AND revoked_at IS NULL`),
		s.now(), nextID, claims.ID,
	)
	if err != nil {
		return "", "", fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", "", ErrTokenRevoked
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit: %w", err)
	}
	return rt.UserID, next, nil
}

// RevokeRefreshToken marks a refresh token revoked. Unknown or malformed
// tokens are ignored.
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`),
		s.now(), hashToken(token),
	); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserTokens revokes every active refresh token of the user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`),
		s.now(), userID,
	); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

func (s *Service) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(token, wantType string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != wantType || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if wantType == tokenTypeRefresh && claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RefreshCookieName returns the cookie name storing refresh tokens.
func (s *Service) RefreshCookieName() string {
	return s.refreshCookie
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// AccessTTL reports the access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL reports the refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// SecureCookies reports whether cookies are marked Secure.
func (s *Service) SecureCookies() bool {
	return s.secureCookies
}
