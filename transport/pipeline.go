package transport

import (
	"net/http"
	"slices"
	"time"

	"github.com/jrsteele09/go-auth-pipeline/internal/config"
	"github.com/jrsteele09/go-auth-pipeline/internal/metrics"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NoRetries as Options.MaxRetries sends every request exactly once.
const NoRetries = -1

// Options configures the full request pipeline.
type Options struct {
	Base       http.RoundTripper // Defaults to http.DefaultTransport
	MaxRetries int               // Additional attempts after the first; defaults to DefaultMaxRetries
	BaseDelay  time.Duration     // Defaults to DefaultBaseDelay
	Jitter     float64
	AllowList  AllowList // Defaults to DefaultAllowList
	Logger     *zerolog.Logger
	Metrics    *metrics.Metrics
	OnRetry    func(retry int, delay time.Duration)
}

// OptionsFromConfig maps the pipeline configuration onto Options.
func OptionsFromConfig(c config.PipelineConfig) Options {
	maxRetries := c.GetMaxRetries()
	if maxRetries == 0 {
		maxRetries = NoRetries
	}
	allow := AllowList(slices.Clone(c.GetAuthAllowList()))
	if allow == nil {
		allow = slices.Clone(DefaultAllowList)
	}
	// The refresh endpoint never carries a bearer token, wherever it lives.
	if path := c.GetRefreshPath(); path != "" && !allow.Matches(path) {
		allow = append(allow, path)
	}
	return Options{
		MaxRetries: maxRetries,
		BaseDelay:  c.GetRetryBaseDelay(),
		Jitter:     c.GetRetryJitter(),
		AllowList:  allow,
	}
}

// New composes the pipeline:
//
//	RetryTransport -> BearerTransport -> Authenticator -> base
//
// Each retry attempt gets a freshly injected token, and a 401 is resolved by
// the authenticator before the retry policy sees the response.
func New(store session.Store, refresher Refresher, opts Options) http.RoundTripper {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	allow := opts.AllowList
	if allow == nil {
		allow = DefaultAllowList
	}
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	var rt http.RoundTripper = NewAuthenticator(base, store, refresher,
		WithAuthenticatorAllowList(allow),
		WithAuthenticatorLogger(logger),
		WithAuthenticatorMetrics(opts.Metrics),
	)
	rt = NewBearerTransport(rt, store,
		WithBearerAllowList(allow),
		WithBearerLogger(logger),
	)
	return NewRetryTransport(rt,
		WithMaxRetries(maxRetries),
		WithBaseDelay(baseDelay),
		WithJitter(opts.Jitter),
		WithRetryLogger(logger),
		WithRetryMetrics(opts.Metrics),
		WithRetryNotify(opts.OnRetry),
	)
}

// NewClient returns an http.Client whose transport is the full pipeline.
func NewClient(store session.Store, refresher Refresher, opts Options) *http.Client {
	return &http.Client{Transport: New(store, refresher, opts)}
}
