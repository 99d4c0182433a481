package transport

import (
	"context"
	"net/http"
	"strconv"
)

// RetryHeader marks a request replayed after a token refresh. It is for
// observability only; the replay count itself travels in the request context.
const RetryHeader = "X-Retry"

// maxRefreshedReplays is how many times one original request may be replayed
// with a token obtained by its own refresh.
const maxRefreshedReplays = 1

type replayStateKey struct{}

// replayState travels with a replayed request. refreshed counts replays that
// followed a refresh; reused is set once the request was replayed with a
// token some other request had already refreshed.
type replayState struct {
	count     int
	refreshed int
	reused    bool
}

func replayStateFrom(ctx context.Context) replayState {
	st, _ := ctx.Value(replayStateKey{}).(replayState)
	return st
}

func withReplayState(ctx context.Context, st replayState) context.Context {
	return context.WithValue(ctx, replayStateKey{}, st)
}

// ReplayCount returns how many times the request carrying ctx has already
// been replayed after a 401.
func ReplayCount(ctx context.Context) int {
	return replayStateFrom(ctx).count
}

// rewind returns a clone of req bound to ctx with a fresh body, so the
// request can be sent again. ok is false when the body cannot be replayed.
func rewind(ctx context.Context, req *http.Request) (clone *http.Request, ok bool, err error) {
	clone = req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, true, nil
	}
	if req.GetBody == nil {
		return nil, false, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false, err
	}
	clone.Body = body
	return clone, true, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func markReplay(req *http.Request, n int) {
	req.Header.Set(RetryHeader, strconv.Itoa(n))
}
