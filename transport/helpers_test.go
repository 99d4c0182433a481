package transport_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-auth-pipeline/refresh"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(req *http.Request, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(http.StatusText(status))),
		Request:    req,
	}
}

// recorder captures the headers of every request reaching the base transport.
type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recorder) all() []*http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*http.Request(nil), r.requests...)
}

// fakeRefresher stores a fixed session on success and counts calls.
type fakeRefresher struct {
	store   session.Store
	next    session.Session
	err     error
	calls   atomic.Int32
	onCalls func()
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*refresh.Outcome, error) {
	f.calls.Add(1)
	if f.onCalls != nil {
		f.onCalls()
	}
	if f.err != nil {
		return &refresh.Outcome{}, f.err
	}
	if err := f.store.SaveAll(ctx, f.next); err != nil {
		return &refresh.Outcome{}, err
	}
	return &refresh.Outcome{Success: true, Session: f.next}, nil
}

func newSeededStore(t *testing.T, access, refreshToken string) *session.MemoryStore {
	t.Helper()
	store := session.NewMemoryStore()
	require.NoError(t, store.SaveAll(context.Background(), session.Session{AccessToken: access, RefreshToken: refreshToken}))
	return store
}

func loadSession(t *testing.T, store *session.MemoryStore) session.Session {
	t.Helper()
	sess, err := store.Load(context.Background())
	require.NoError(t, err)
	return sess
}
