package authserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-pipeline/internal/config"
	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
)

// StoredRefreshToken represents the server-side storage of refresh token metadata.
// The client only receives the Token field (a random string).
type StoredRefreshToken struct {
	Token  string    // The actual random token string (sent to client)
	UserID string    // Server-side metadata
	Iat    time.Time // Server-side metadata (issued at time)
}

// RefreshRepo manages server-side storage of refresh token metadata, keyed by the token string.
// Delete must report ErrNotFound for an unknown token; rotation relies on it to
// let exactly one of several concurrent uses of the same token win.
type RefreshRepo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	GetByUserID(userID string) (*StoredRefreshToken, error)
}

// RefreshManager handles refresh token creation, validation, and rotation
type RefreshManager struct {
	repo    RefreshRepo
	config  config.TokenConfig
	nowFunc func() time.Time
}

// NewRefreshManager creates a new refresh token manager
func NewRefreshManager(repo RefreshRepo, cfg config.TokenConfig, nowFunc func() time.Time) *RefreshManager {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &RefreshManager{
		repo:    repo,
		config:  cfg,
		nowFunc: nowFunc,
	}
}

// Create generates a new refresh token and stores it
func (m *RefreshManager) Create(userID string) (string, error) {
	// Delete existing refresh token for this user (single refresh token per user)
	if existingToken, err := m.repo.GetByUserID(userID); err == nil && existingToken != nil {
		if err := m.repo.Delete(existingToken.Token); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return "", fmt.Errorf("failed to delete existing refresh token: %w", err)
		}
	}

	tokenBytes := make([]byte, m.config.GetRefreshTokenLength())
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:  tokenStr,
		UserID: userID,
		Iat:    m.nowFunc(),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokenStr, nil
}

// Rotate consumes token and issues its replacement. A token can be rotated once;
// later uses fail with ErrInvalidRefreshToken.
func (m *RefreshManager) Rotate(token string) (userID string, newToken string, err error) {
	stored, err := m.repo.Get(token)
	if err != nil {
		return "", "", errors.ErrInvalidRefreshToken
	}
	if err := m.repo.Delete(token); err != nil {
		// Lost the race against a concurrent rotation of the same token.
		return "", "", errors.ErrInvalidRefreshToken
	}
	if m.IsExpired(stored) {
		return "", "", errors.ErrRefreshTokenExpired
	}

	newToken, err = m.Create(stored.UserID)
	if err != nil {
		return "", "", err
	}
	return stored.UserID, newToken, nil
}

// Revoke removes every refresh token held by userID.
func (m *RefreshManager) Revoke(userID string) error {
	existing, err := m.repo.GetByUserID(userID)
	if err != nil {
		return nil
	}
	if err := m.repo.Delete(existing.Token); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return err
	}
	return nil
}

// IsExpired checks if a refresh token has expired
func (m *RefreshManager) IsExpired(rt *StoredRefreshToken) bool {
	return m.nowFunc().Sub(rt.Iat) > m.config.GetRefreshTokenExpiry()
}
