package session

import (
	"context"
	"encoding/json"
	"strings"
)

// Session is the credential triple held on the client.
// The three fields are always written together and cleared together.
type Session struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	User         json.RawMessage `json:"user,omitempty"` // Opaque user blob returned by the backend
}

// IsEmpty reports whether the session holds no usable credential.
func (s Session) IsEmpty() bool {
	return strings.TrimSpace(s.AccessToken) == "" && strings.TrimSpace(s.RefreshToken) == ""
}

// Store persists the client session.
// Readers get an empty string (and no error) when a token is absent.
// Clear must be idempotent: clearing an empty store is a no-op.
type Store interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SaveAll(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}
