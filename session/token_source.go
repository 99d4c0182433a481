package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"golang.org/x/oauth2"
)

const bearerTokenType = "Bearer"

type storeTokenSource struct {
	ctx   context.Context
	store Store
}

// TokenSource exposes the store's current access token as an oauth2.TokenSource.
// Every call reads the store, so the token always reflects the latest refresh.
// Token returns ErrNoAccessToken when the store holds no access token.
func TokenSource(ctx context.Context, store Store) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: store}
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.store.AccessToken(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read access token: %w", errors.ErrSessionStore, err)
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.ErrNoAccessToken
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: bearerTokenType}, nil
}
