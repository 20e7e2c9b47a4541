package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var ErrGoogleNotConfigured = errors.New("google login not configured")

// GoogleIdentity is the subset of id_token claims used to sign a user in.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleVerifier checks a Google id_token.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// IDTokenVerifier validates id_tokens against Google's published keys.
type IDTokenVerifier struct {
	ClientID string
}

func (v IDTokenVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if v.ClientID == "" {
		return nil, ErrGoogleNotConfigured
	}
	payload, err := idtoken.Validate(ctx, idToken, v.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := &GoogleIdentity{Subject: payload.Subject}
	if id.Subject == "" {
		if sub, ok := payload.Claims["sub"].(string); ok {
			id.Subject = sub
		}
	}
	if id.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	id.Email = claimString(payload.Claims, "email")
	id.Name = claimString(payload.Claims, "name")
	id.Picture = claimString(payload.Claims, "picture")
	return id, nil
}

func claimString(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}
