package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"prepareup/internal/models"
	"prepareup/internal/storage"

	"github.com/google/uuid"
)

const ProviderGoogle = "google"

var ErrUserNotFound = errors.New("user not found")

// Profile is the verified identity handed over by an OAuth provider.
type Profile struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// Service owns users and their linked provider accounts.
type Service struct {
	db  *storage.DB
	now func() time.Time
}

// NewService builds a new account service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertGoogleUser finds the user linked to the Google subject, refreshing
// the stored profile, or creates a new user and link when none exists.
func (s *Service) UpsertGoogleUser(ctx context.Context, p Profile) (*models.User, error) {
	return s.upsert(ctx, ProviderGoogle, p)
}

func (s *Service) upsert(ctx context.Context, provider string, p Profile) (*models.User, error) {
	p.Subject = strings.TrimSpace(p.Subject)
	if p.Subject == "" {
		return nil, errors.New("provider subject is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		user  models.User
		email sql.NullString
		name  sql.NullString
		photo sql.NullString
	)
	row := tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT u.id, u.display_name, u.avatar_url, u.created_at, o.email_at_auth
		 FROM oauth_accounts o JOIN users u ON u.id = o.user_id
		 WHERE o.provider = ? AND o.provider_subject = ?`),
		provider, p.Subject,
	)
	err = row.Scan(&user.ID, &name, &photo, &user.CreatedAt, &email)
	switch {
	case err == nil:
		user.DisplayName = name.String
		user.AvatarURL = photo.String
		if err := s.refreshProfile(ctx, tx, provider, &user, email.String, p); err != nil {
			return nil, err
		}
	case errors.Is(err, sql.ErrNoRows):
		user, err = s.createLinked(ctx, tx, provider, p)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("query oauth account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &user, nil
}

func (s *Service) refreshProfile(ctx context.Context, tx *sql.Tx, provider string, user *models.User, storedEmail string, p Profile) error {
	if p.Name != "" && p.Name != user.DisplayName || p.AvatarURL != "" && p.AvatarURL != user.AvatarURL {
		if p.Name != "" {
			user.DisplayName = p.Name
		}
		if p.AvatarURL != "" {
			user.AvatarURL = p.AvatarURL
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE users SET display_name = ?, avatar_url = ? WHERE id = ?`),
			nullable(user.DisplayName), nullable(user.AvatarURL), user.ID,
		); err != nil {
			return fmt.Errorf("update user profile: %w", err)
		}
	}
	if p.Email != "" && p.Email != storedEmail {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE oauth_accounts SET email_at_auth = ? WHERE provider = ? AND provider_subject = ?`),
			p.Email, provider, p.Subject,
		); err != nil {
			return fmt.Errorf("update oauth email: %w", err)
		}
	}
	return nil
}

func (s *Service) createLinked(ctx context.Context, tx *sql.Tx, provider string, p Profile) (models.User, error) {
	now := s.now()
	user := models.User{
		ID:          uuid.NewString(),
		DisplayName: p.Name,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO users (id, display_name, avatar_url, created_at) VALUES (?, ?, ?, ?)`),
		user.ID, nullable(user.DisplayName), nullable(user.AvatarURL), now,
	); err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	link := models.OAuthAccount{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		Provider:        provider,
		ProviderSubject: p.Subject,
		EmailAtAuth:     p.Email,
		CreatedAt:       now,
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO oauth_accounts (id, user_id, provider, provider_subject, email_at_auth, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		link.ID, link.UserID, link.Provider, link.ProviderSubject, nullable(link.EmailAtAuth), link.CreatedAt,
	); err != nil {
		return models.User{}, fmt.Errorf("link oauth account: %w", err)
	}
	return user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		user  models.User
		name  sql.NullString
		photo sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT id, display_name, avatar_url, created_at FROM users WHERE id = ?`), id).
		Scan(&user.ID, &name, &photo, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.DisplayName = name.String
	user.AvatarURL = photo.String
	return &user, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
