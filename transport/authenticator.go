package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-pipeline/internal/metrics"
	"github.com/jrsteele09/go-auth-pipeline/refresh"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Session clear reasons
const (
	ClearLoopGuard     = "loop_guard"
	ClearExemptPath    = "exempt_path"
	ClearRefreshFailed = "refresh_failed"
	ClearBlankToken    = "blank_token"
)

// Refresher is the part of refresh.Coordinator the authenticator depends on.
type Refresher interface {
	Refresh(ctx context.Context) (*refresh.Outcome, error)
}

var _ http.RoundTripper = (*Authenticator)(nil)

// Authenticator reacts to 401 responses: it refreshes the session once and
// replays the request with the new token. Every path that cannot produce a
// usable token clears the session and returns the 401 to the caller.
type Authenticator struct {
	next      http.RoundTripper
	store     session.Store
	refresher Refresher
	allow     AllowList
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

type AuthenticatorOption func(*Authenticator)

func WithAuthenticatorAllowList(allow AllowList) AuthenticatorOption {
	return func(a *Authenticator) {
		a.allow = allow
	}
}

func WithAuthenticatorLogger(logger zerolog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

func WithAuthenticatorMetrics(m *metrics.Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

func NewAuthenticator(next http.RoundTripper, store session.Store, refresher Refresher, options ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		next:      next,
		store:     store,
		refresher: refresher,
		allow:     DefaultAllowList,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *Authenticator) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := a.next.RoundTrip(req)
	for err == nil && resp.StatusCode == http.StatusUnauthorized {
		replay := a.authenticate(req)
		if replay == nil {
			return resp, nil
		}
		discard(resp)
		req = replay
		resp, err = a.next.RoundTrip(req)
	}
	return resp, err
}

// authenticate decides how to answer a 401 for req. It returns the request to
// replay, or nil to hand the 401 back to the caller.
func (a *Authenticator) authenticate(req *http.Request) *http.Request {
	ctx := req.Context()
	logger := a.logger.With().Str("method", req.Method).Str("path", req.URL.Path).Logger()

	st := replayStateFrom(ctx)
	if st.refreshed >= maxRefreshedReplays {
		logger.Warn().Int("replays", st.count).Msg("Request still unauthorized after refresh")
		a.clearSession(ctx, ClearLoopGuard)
		return nil
	}
	if a.allow.Matches(req.URL.Path) {
		logger.Warn().Msg("Credential endpoint rejected the request")
		a.clearSession(ctx, ClearExemptPath)
		return nil
	}

	// A refresh may have completed after this request left; reuse its token
	// once. If that token is rejected too, fall through to a refresh.
	sent := bearerToken(req)
	current, err := a.store.AccessToken(ctx)
	if st.reused || err != nil || strings.TrimSpace(current) == "" || current == sent {
		outcome, err := a.refresher.Refresh(ctx)
		if err != nil || !outcome.Success {
			logger.Warn().Err(err).Msg("Token refresh failed")
			a.clearSession(ctx, ClearRefreshFailed)
			return nil
		}

		current, err = a.store.AccessToken(ctx)
		if err != nil || strings.TrimSpace(current) == "" {
			logger.Warn().Err(err).Msg("No access token after refresh")
			a.clearSession(ctx, ClearBlankToken)
			return nil
		}
		st.refreshed++
	} else {
		st.reused = true
	}
	st.count++

	// The session is valid again, but a consumed body cannot be sent twice.
	replay, ok, err := rewind(withReplayState(ctx, st), req)
	if err != nil || !ok {
		logger.Warn().Err(err).Msg("Request body cannot be replayed; returning 401")
		return nil
	}
	(&oauth2.Token{AccessToken: current, TokenType: "Bearer"}).SetAuthHeader(replay)
	markReplay(replay, st.count)
	a.metrics.Replay()
	logger.Debug().Int("replays", st.count).Msg("Replaying request with refreshed token")
	return replay
}

// clearSession invalidates the session. Clearing an empty session is a no-op.
func (a *Authenticator) clearSession(ctx context.Context, reason string) {
	a.metrics.SessionCleared(reason)
	if err := a.store.Clear(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error().Err(err).Str("reason", reason).Msg("Failed to clear session")
	}
}

func bearerToken(req *http.Request) string {
	value := req.Header.Get("Authorization")
	if len(value) > len("Bearer ") && strings.EqualFold(value[:len("Bearer ")], "Bearer ") {
		return value[len("Bearer "):]
	}
	return ""
}
