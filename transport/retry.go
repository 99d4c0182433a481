package transport

import (
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-auth-pipeline/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// DefaultRetryableStatuses are the response codes treated as transient.
var DefaultRetryableStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// drainLimit caps how much of a discarded response body is read so the
// connection can be reused.
const drainLimit = 64 << 10

// linearBackOff waits base*n before the n-th retry, optionally jittered by
// up to ±jitter of that delay.
type linearBackOff struct {
	base   time.Duration
	jitter float64
	n      int64
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	delay := b.base * time.Duration(b.n)
	if b.jitter > 0 && delay > 0 {
		spread := float64(delay) * b.jitter
		delay += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return delay
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// retryableStatusError reports a response whose status is worth retrying.
type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return "retryable status " + http.StatusText(e.status)
}

var _ http.RoundTripper = (*RetryTransport)(nil)

// RetryTransport retries transport errors and transient statuses with linear
// backoff. The wait between attempts blocks the caller and ends early when
// the request context is done.
type RetryTransport struct {
	next       http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	jitter     float64
	retryable  map[int]struct{}
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	notify     func(retry int, delay time.Duration)
}

type RetryOption func(*RetryTransport)

// WithMaxRetries sets the number of additional attempts after the first.
func WithMaxRetries(n int) RetryOption {
	return func(t *RetryTransport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(t *RetryTransport) {
		t.baseDelay = d
	}
}

// WithJitter spreads each delay by up to ±fraction of its value.
func WithJitter(fraction float64) RetryOption {
	return func(t *RetryTransport) {
		t.jitter = min(max(fraction, 0), 1)
	}
}

func WithRetryableStatuses(statuses ...int) RetryOption {
	return func(t *RetryTransport) {
		t.retryable = statusSet(statuses)
	}
}

func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(t *RetryTransport) {
		t.logger = logger
	}
}

func WithRetryMetrics(m *metrics.Metrics) RetryOption {
	return func(t *RetryTransport) {
		t.metrics = m
	}
}

// WithRetryNotify registers a callback invoked before each retry with the
// 1-based retry number and the delay about to be waited.
func WithRetryNotify(fn func(retry int, delay time.Duration)) RetryOption {
	return func(t *RetryTransport) {
		t.notify = fn
	}
}

func NewRetryTransport(next http.RoundTripper, options ...RetryOption) *RetryTransport {
	t := &RetryTransport{
		next:       next,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		retryable:  statusSet(DefaultRetryableStatuses),
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !replayable(req) {
		return t.next.RoundTrip(req)
	}

	var (
		resp    *http.Response
		rtErr   error
		attempt int
	)
	operation := func() (struct{}, error) {
		attempt++
		if resp != nil {
			discard(resp)
			resp = nil
		}

		attemptReq := req
		if attempt > 1 {
			clone, _, err := rewind(req.Context(), req)
			if err != nil {
				rtErr = err
				return struct{}{}, backoff.Permanent(err)
			}
			attemptReq = clone
		}

		resp, rtErr = t.next.RoundTrip(attemptReq)
		if rtErr != nil {
			if req.Context().Err() != nil {
				return struct{}{}, backoff.Permanent(rtErr)
			}
			return struct{}{}, rtErr
		}
		if _, ok := t.retryable[resp.StatusCode]; ok {
			return struct{}{}, &retryableStatusError{status: resp.StatusCode}
		}
		return struct{}{}, nil
	}

	notify := func(err error, delay time.Duration) {
		status := 0
		var statusErr *retryableStatusError
		if errors.As(err, &statusErr) {
			status = statusErr.status
		}
		t.metrics.Retry(status)
		t.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying request")
		if t.notify != nil {
			t.notify(attempt, delay)
		}
	}

	_, err := backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(&linearBackOff{base: t.baseDelay, jitter: t.jitter}),
		backoff.WithMaxTries(uint(t.maxRetries+1)),
		backoff.WithMaxElapsedTime(0), // attempts are bounded by maxRetries alone
		backoff.WithNotify(notify),
	)
	if err == nil {
		return resp, nil
	}

	var statusErr *retryableStatusError
	switch {
	case errors.As(err, &statusErr) && resp != nil:
		// Budget exhausted on a transient status: hand back the last response.
		return resp, nil
	case rtErr != nil:
		return nil, rtErr
	default:
		// The context ended while waiting between attempts.
		if resp != nil {
			discard(resp)
		}
		return nil, err
	}
}

func statusSet(statuses []int) map[int]struct{} {
	set := make(map[int]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}
