package config

import "time"

type PipelineConfig interface {
	GetMaxRetries() int
	GetRetryBaseDelay() time.Duration
	GetRetryJitter() float64
	GetRefreshTimeout() time.Duration
	GetRefreshPath() string
	GetAuthAllowList() []string
}

type Pipeline struct {
	MaxRetries     int           `env:"PIPELINE_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"PIPELINE_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryJitter    float64       `env:"PIPELINE_RETRY_JITTER" envDefault:"0"`
	RefreshTimeout time.Duration `env:"PIPELINE_REFRESH_TIMEOUT" envDefault:"30s"`
	RefreshPath    string        `env:"PIPELINE_REFRESH_PATH" envDefault:"/auth/refresh"`
	AllowList      []string      `env:"PIPELINE_AUTH_ALLOW_LIST" envSeparator:"," envDefault:"/auth/refresh,/auth/otp/generate,/auth/otp/validate"`
}

var _ PipelineConfig = Pipeline{}

func (p Pipeline) GetMaxRetries() int {
	if p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}

func (p Pipeline) GetRetryBaseDelay() time.Duration {
	return p.RetryBaseDelay
}

// GetRetryJitter returns the jitter fraction (0.0-1.0) applied to retry delays.
// Zero keeps the backoff strictly linear.
func (p Pipeline) GetRetryJitter() float64 {
	switch {
	case p.RetryJitter < 0:
		return 0
	case p.RetryJitter > 1:
		return 1
	}
	return p.RetryJitter
}

func (p Pipeline) GetRefreshTimeout() time.Duration {
	return p.RefreshTimeout
}

func (p Pipeline) GetRefreshPath() string {
	return p.RefreshPath
}

func (p Pipeline) GetAuthAllowList() []string {
	return p.AllowList
}
