package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prepareup/internal/sessionstore"

	"golang.org/x/oauth2"
)

const (
	vaultKeyPrefix = "discord-"
	defaultLinkTTL = 7 * 24 * time.Hour
	minLinkTTL     = time.Minute
)

var ErrNotLinked = errors.New("discord not connected")

// Vault keeps the Discord OAuth token of each browser, keyed by the
// anonymous session id.
type Vault struct {
	backend sessionstore.Backend
	cipher  *tokenCipher
	now     func() time.Time
}

type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// NewVault encrypts tokens with key before writing them to backend.
func NewVault(backend sessionstore.Backend, key string) (*Vault, error) {
	c, err := newTokenCipher(key)
	if err != nil {
		return nil, err
	}
	return &Vault{backend: backend, cipher: c, now: time.Now}, nil
}

func (v *Vault) key(browserID string) string {
	return vaultKeyPrefix + browserID
}

// Put stores tok for browserID until the token expires.
func (v *Vault) Put(ctx context.Context, browserID string, tok *oauth2.Token) error {
	if browserID == "" || tok == nil || tok.AccessToken == "" {
		return errors.New("browser id and access token are required")
	}
	st := storedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		st.Scope = scope
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	sealed, err := v.cipher.Encrypt(raw)
	if err != nil {
		return err
	}

	ttl := defaultLinkTTL
	if !tok.Expiry.IsZero() {
		ttl = max(tok.Expiry.Sub(v.now()), minLinkTTL)
	}
	if err := v.backend.Put(ctx, v.key(browserID), sealed, ttl); err != nil {
		return fmt.Errorf("store discord token: %w", err)
	}
	return nil
}

// Get returns the stored token, or ErrNotLinked when none is usable.
func (v *Vault) Get(ctx context.Context, browserID string) (*oauth2.Token, error) {
	if browserID == "" {
		return nil, ErrNotLinked
	}
	sealed, err := v.backend.Get(ctx, v.key(browserID))
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("load discord token: %w", err)
	}
	raw, err := v.cipher.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if st.AccessToken == "" {
		return nil, ErrNotLinked
	}
	if !st.Expiry.IsZero() && !v.now().Before(st.Expiry) {
		_ = v.backend.Delete(ctx, v.key(browserID))
		return nil, ErrNotLinked
	}
	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		Expiry:       st.Expiry,
	}, nil
}

// Delete forgets the link. Missing links are not an error.
func (v *Vault) Delete(ctx context.Context, browserID string) error {
	if browserID == "" {
		return nil
	}
	return v.backend.Delete(ctx, v.key(browserID))
}
