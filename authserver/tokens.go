package authserver

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-pipeline/internal/config"
	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
)

// TokenIssuer creates and validates HS256 access tokens.
type TokenIssuer struct {
	secret  []byte
	issuer  string
	expiry  time.Duration
	nowFunc func() time.Time
}

func NewTokenIssuer(cfg config.TokenConfig, nowFunc func() time.Time) *TokenIssuer {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &TokenIssuer{
		secret:  []byte(cfg.GetSigningSecret()),
		issuer:  cfg.GetIssuer(),
		expiry:  cfg.GetAccessTokenExpiry(),
		nowFunc: nowFunc,
	}
}

// CreateAccessToken creates a signed access token for user
func (i *TokenIssuer) CreateAccessToken(user *User) (string, error) {
	now := i.nowFunc()
	claims := jwtlib.MapClaims{
		"iss": i.issuer,                 // The issuer of the token
		"sub": user.ID,                  // The user the token was issued to
		"iat": now.Unix(),               // Issued At
		"exp": now.Add(i.expiry).Unix(), // Expiry: the server alone decides when a token is stale
		"jti": uuid.New().String(),      // Unique token ID
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken verifies the token signature, issuer and expiry, and
// returns the subject.
func (i *TokenIssuer) ValidateAccessToken(tokenStr string) (string, error) {
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(tokenStr, claims,
		func(token *jwtlib.Token) (any, error) {
			return i.secret, nil
		},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(i.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.nowFunc),
	)
	if errors.Is(err, jwtlib.ErrTokenExpired) {
		return "", errors.ErrTokenExpired
	}
	if err != nil {
		return "", errors.Wrapf(errors.ErrInvalidToken, "%v", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.Wrapf(errors.ErrInvalidToken, "missing subject")
	}
	return sub, nil
}
