package transport_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"github.com/jrsteele09/go-auth-pipeline/internal/metrics"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/jrsteele09/go-auth-pipeline/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// acceptOnly answers 200 for requests bearing token and 401 otherwise.
func acceptOnly(rec *recorder, token string) roundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		rec.add(req)
		if req.Header.Get("Authorization") == "Bearer "+token {
			return response(req, http.StatusOK), nil
		}
		return response(req, http.StatusUnauthorized), nil
	}
}

func newAuthedRequest(t *testing.T, method, path, token string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, "http://backend.test"+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticator_RefreshesAndReplaysOnce(t *testing.T) {
	store := newSeededStore(t, "A1", "R1")
	refresher := &fakeRefresher{store: store, next: session.Session{AccessToken: "A2", RefreshToken: "R2"}}
	m, err := metrics.New(nil)
	require.NoError(t, err)
	rec := &recorder{}

	auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), store, refresher, transport.WithAuthenticatorMetrics(m))
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodPost, "/api/orders", "A1", strings.NewReader(`{"id":1}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, int32(1), refresher.calls.Load())
	sent := rec.all()
	require.Len(t, sent, 2)
	require.Empty(t, sent[0].Header.Get(transport.RetryHeader))
	require.Equal(t, "Bearer A2", sent[1].Header.Get("Authorization"))
	require.Equal(t, "1", sent[1].Header.Get(transport.RetryHeader))
	require.Equal(t, 1, transport.ReplayCount(sent[1].Context()))

	body, err := io.ReadAll(sent[1].Body)
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, string(body))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Replays()))
}

func TestAuthenticator_SecondUnauthorizedClearsSession(t *testing.T) {
	store := newSeededStore(t, "A1", "R1")
	refresher := &fakeRefresher{store: store, next: session.Session{AccessToken: "A2", RefreshToken: "R2"}}
	m, err := metrics.New(nil)
	require.NoError(t, err)
	rec := &recorder{}

	// Nothing is ever accepted.
	auth := transport.NewAuthenticator(acceptOnly(rec, "never"), store, refresher, transport.WithAuthenticatorMetrics(m))
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodGet, "/api/me", "A1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, int32(1), refresher.calls.Load(), "the replay's 401 must not trigger a second refresh")
	require.Len(t, rec.all(), 2)
	require.True(t, loadSession(t, store).IsEmpty())
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionClears(transport.ClearLoopGuard)))
}

func TestAuthenticator_ExemptPathNeverRefreshes(t *testing.T) {
	store := newSeededStore(t, "A1", "R1")
	refresher := &fakeRefresher{store: store, next: session.Session{AccessToken: "A2", RefreshToken: "R2"}}
	rec := &recorder{}

	auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), store, refresher)
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodPost, "/auth/refresh", "", strings.NewReader(`{}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Zero(t, refresher.calls.Load())
	require.Len(t, rec.all(), 1)
	require.True(t, loadSession(t, store).IsEmpty())
}

func TestAuthenticator_RefreshFailureClearsSession(t *testing.T) {
	tests := []struct {
		name      string
		store     *session.MemoryStore
		refresher func(*session.MemoryStore) *fakeRefresher
		reason    string
	}{
		{
			name:  "rejected refresh token",
			store: newSeededStore(t, "A1", "R1"),
			refresher: func(s *session.MemoryStore) *fakeRefresher {
				return &fakeRefresher{store: s, err: errors.ErrRefreshRejected}
			},
			reason: transport.ClearRefreshFailed,
		},
		{
			name:  "blank refresh token",
			store: newSeededStore(t, "A1", ""),
			refresher: func(s *session.MemoryStore) *fakeRefresher {
				return &fakeRefresher{store: s, err: errors.ErrNoRefreshToken}
			},
			reason: transport.ClearRefreshFailed,
		},
		{
			name:  "blank access token after refresh",
			store: newSeededStore(t, "A1", "R1"),
			refresher: func(s *session.MemoryStore) *fakeRefresher {
				return &fakeRefresher{store: s, next: session.Session{AccessToken: " ", RefreshToken: "R2"}}
			},
			reason: transport.ClearBlankToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := tt.refresher(tt.store)
			m, err := metrics.New(nil)
			require.NoError(t, err)
			rec := &recorder{}

			auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), tt.store, refresher, transport.WithAuthenticatorMetrics(m))
			resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodGet, "/api/me", "A1", nil))
			require.NoError(t, err)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			require.Equal(t, int32(1), refresher.calls.Load())
			require.Len(t, rec.all(), 1)
			require.True(t, loadSession(t, tt.store).IsEmpty())
			require.Equal(t, 1.0, testutil.ToFloat64(m.SessionClears(tt.reason)))
		})
	}
}

func TestAuthenticator_ReusesTokenRefreshedByAnotherRequest(t *testing.T) {
	// The request left with A1, but another caller already refreshed to A2.
	store := newSeededStore(t, "A2", "R2")
	refresher := &fakeRefresher{store: store}
	rec := &recorder{}

	auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), store, refresher)
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodGet, "/api/me", "A1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Zero(t, refresher.calls.Load())
	sent := rec.all()
	require.Len(t, sent, 2)
	require.Equal(t, "Bearer A2", sent[1].Header.Get("Authorization"))
	require.Equal(t, "1", sent[1].Header.Get(transport.RetryHeader))
}

func TestAuthenticator_ReusedTokenRejectedFallsBackToRefresh(t *testing.T) {
	// The request left with A1; the store holds A2, which has expired as well.
	store := newSeededStore(t, "A2", "R2")
	refresher := &fakeRefresher{store: store, next: session.Session{AccessToken: "A3", RefreshToken: "R3"}}
	m, err := metrics.New(nil)
	require.NoError(t, err)
	rec := &recorder{}

	auth := transport.NewAuthenticator(acceptOnly(rec, "A3"), store, refresher, transport.WithAuthenticatorMetrics(m))
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodGet, "/api/me", "A1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, int32(1), refresher.calls.Load())
	sent := rec.all()
	require.Len(t, sent, 3)
	require.Equal(t, "Bearer A2", sent[1].Header.Get("Authorization"))
	require.Equal(t, "Bearer A3", sent[2].Header.Get("Authorization"))
	require.Equal(t, "2", sent[2].Header.Get(transport.RetryHeader))
	require.Equal(t, "A3", loadSession(t, store).AccessToken)
	require.Zero(t, testutil.ToFloat64(m.SessionClears(transport.ClearLoopGuard)))
}

func TestAuthenticator_RefreshedTokenRejectedAfterReuseClearsSession(t *testing.T) {
	store := newSeededStore(t, "A2", "R2")
	refresher := &fakeRefresher{store: store, next: session.Session{AccessToken: "A3", RefreshToken: "R3"}}
	rec := &recorder{}

	auth := transport.NewAuthenticator(acceptOnly(rec, "never"), store, refresher)
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodGet, "/api/me", "A1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, int32(1), refresher.calls.Load())
	require.Len(t, rec.all(), 3)
	require.True(t, loadSession(t, store).IsEmpty())
}

func TestAuthenticator_UnreplayableBodyStillRefreshes(t *testing.T) {
	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
	}{
		{
			name: "body without GetBody",
			request: func(t *testing.T) *http.Request {
				body := io.MultiReader(strings.NewReader(`{"id":`), strings.NewReader(`1}`))
				return newAuthedRequest(t, http.MethodPost, "/api/orders", "A1", body)
			},
		},
		{
			name: "GetBody fails",
			request: func(t *testing.T) *http.Request {
				req := newAuthedRequest(t, http.MethodPost, "/api/orders", "A1", strings.NewReader(`{"id":1}`))
				req.GetBody = func() (io.ReadCloser, error) {
					return nil, errors.ErrInternal
				}
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newSeededStore(t, "A1", "R1")
			refresher := &fakeRefresher{store: store, next: session.Session{AccessToken: "A2", RefreshToken: "R2"}}
			rec := &recorder{}

			auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), store, refresher)
			resp, err := auth.RoundTrip(tt.request(t))
			require.NoError(t, err)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			require.Equal(t, int32(1), refresher.calls.Load())
			require.Len(t, rec.all(), 1)
			sess := loadSession(t, store)
			require.Equal(t, "A2", sess.AccessToken)
			require.Equal(t, "R2", sess.RefreshToken)
		})
	}
}

func TestAuthenticator_UnreplayableBodyClearsWhenRefreshFails(t *testing.T) {
	store := newSeededStore(t, "A1", "R1")
	refresher := &fakeRefresher{store: store, err: errors.ErrRefreshRejected}
	rec := &recorder{}

	auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), store, refresher)
	body := io.MultiReader(strings.NewReader(`{"id":1}`))
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodPost, "/api/orders", "A1", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, int32(1), refresher.calls.Load())
	require.True(t, loadSession(t, store).IsEmpty())
}

func TestAuthenticator_PassesThroughOtherResponses(t *testing.T) {
	store := newSeededStore(t, "A1", "R1")
	refresher := &fakeRefresher{store: store}
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return response(req, http.StatusForbidden), nil
	})

	auth := transport.NewAuthenticator(base, store, refresher)
	resp, err := auth.RoundTrip(newAuthedRequest(t, http.MethodGet, "/api/admin", "A1", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, refresher.calls.Load())
	require.Equal(t, "A1", loadSession(t, store).AccessToken)
}

func TestAuthenticator_ClearsEvenWhenRequestContextEnded(t *testing.T) {
	store := newSeededStore(t, "A1", "R1")
	refresher := &fakeRefresher{store: store, err: errors.ErrRefreshRejected}
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	refresher.onCalls = cancel

	auth := transport.NewAuthenticator(acceptOnly(rec, "A2"), store, refresher)
	req := newAuthedRequest(t, http.MethodGet, "/api/me", "A1", nil).WithContext(ctx)
	resp, err := auth.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.True(t, loadSession(t, store).IsEmpty())
}
