package config

import "time"

type TokenConfig interface {
	GetSigningSecret() string
	GetIssuer() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetOTPExpiry() time.Duration
	GetOTPLength() int
}

type Tokens struct {
	SigningSecret      string        `env:"TOKEN_SIGNING_SECRET" envDefault:"dev-signing-secret-change-me"`
	Issuer             string        `env:"TOKEN_ISSUER" envDefault:"go-auth-pipeline"`
	AccessTokenExpiry  time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"5m"`
	RefreshTokenExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"168h"`
	OTPExpiry          time.Duration `env:"OTP_EXPIRY" envDefault:"5m"`
}

var _ TokenConfig = Tokens{}

func (t Tokens) GetSigningSecret() string {
	return t.SigningSecret
}

func (t Tokens) GetIssuer() string {
	return t.Issuer
}

func (t Tokens) GetAccessTokenExpiry() time.Duration {
	return t.AccessTokenExpiry
}

func (t Tokens) GetRefreshTokenExpiry() time.Duration {
	return t.RefreshTokenExpiry
}

func (Tokens) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

func (t Tokens) GetOTPExpiry() time.Duration {
	return t.OTPExpiry
}

func (Tokens) GetOTPLength() int {
	return 6
}
