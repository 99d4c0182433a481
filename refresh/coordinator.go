package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"github.com/jrsteele09/go-auth-pipeline/internal/metrics"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a refresh flight and each caller's wait for it.
const DefaultTimeout = 30 * time.Second

const (
	flightKey  = "refresh"
	tracerName = "github.com/jrsteele09/go-auth-pipeline/refresh"
)

// Outcome is the result of one refresh flight. Every caller that waited on
// the same flight receives the same *Outcome.
type Outcome struct {
	Success bool
	Session session.Session
}

// Coordinator runs at most one refresh call at a time. Callers arriving while
// a refresh is in flight wait for it and share its outcome instead of
// starting another one.
type Coordinator struct {
	store   session.Store
	client  Client
	group   singleflight.Group
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type CoordinatorOption func(*Coordinator)

// WithTimeout sets the refresh timeout; zero or negative disables it.
func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

func NewCoordinator(store session.Store, client Client, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		client:  client,
		timeout: DefaultTimeout,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// Refresh starts a refresh, or joins the one already in flight, and blocks
// until it resolves or ctx is done. The returned error is non-nil exactly
// when Outcome.Success is false. The coordinator never retries a failed
// refresh and never clears the session.
func (c *Coordinator) Refresh(ctx context.Context) (*Outcome, error) {
	started := false
	ch := c.group.DoChan(flightKey, func() (any, error) {
		started = true
		// The flight outlives any single caller's cancellation.
		return c.run(context.WithoutCancel(ctx))
	})

	waitCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		if !started {
			c.metrics.RefreshJoined()
		}
		outcome, _ := res.Val.(*Outcome)
		if outcome == nil {
			outcome = &Outcome{}
		}
		return outcome, res.Err
	case <-waitCtx.Done():
		c.logger.Warn().Err(context.Cause(waitCtx)).Msg("Gave up waiting for token refresh")
		return &Outcome{}, fmt.Errorf("%w: %w", errors.ErrRefreshTimeout, context.Cause(waitCtx))
	}
}

func (c *Coordinator) run(ctx context.Context) (*Outcome, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "refresh.Coordinator.run")
	defer span.End()

	outcome, err := c.exchange(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token refresh failed")
		c.logger.Warn().Err(err).Msg("Token refresh failed")
		return outcome, err
	}
	c.logger.Debug().Msg("Token refresh succeeded")
	return outcome, nil
}

func (c *Coordinator) exchange(ctx context.Context) (*Outcome, error) {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		c.metrics.Refresh(metrics.RefreshFailure)
		return &Outcome{}, fmt.Errorf("%w: read refresh token: %w", errors.ErrSessionStore, err)
	}
	if strings.TrimSpace(refreshToken) == "" {
		c.metrics.Refresh(metrics.RefreshSkipped)
		return &Outcome{}, errors.ErrNoRefreshToken
	}

	sess, err := c.client.Refresh(ctx, refreshToken)
	if err != nil {
		c.metrics.Refresh(metrics.RefreshFailure)
		return &Outcome{}, fmt.Errorf("%w: %w", errors.ErrRefreshFailed, err)
	}

	if err := c.store.SaveAll(ctx, sess); err != nil {
		c.metrics.Refresh(metrics.RefreshFailure)
		return &Outcome{}, fmt.Errorf("%w: save session: %w", errors.ErrSessionStore, err)
	}

	c.metrics.Refresh(metrics.RefreshSuccess)
	return &Outcome{Success: true, Session: sess}, nil
}
