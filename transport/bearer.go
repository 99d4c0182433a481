package transport

import (
	"net/http"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ http.RoundTripper = (*BearerTransport)(nil)

// BearerTransport attaches the stored access token to every request whose
// path is not on the allow-list. It only reads the local session store.
type BearerTransport struct {
	next   http.RoundTripper
	store  session.Store
	allow  AllowList
	logger zerolog.Logger
}

type BearerOption func(*BearerTransport)

func WithBearerAllowList(allow AllowList) BearerOption {
	return func(t *BearerTransport) {
		t.allow = allow
	}
}

func WithBearerLogger(logger zerolog.Logger) BearerOption {
	return func(t *BearerTransport) {
		t.logger = logger
	}
}

func NewBearerTransport(next http.RoundTripper, store session.Store, options ...BearerOption) *BearerTransport {
	t := &BearerTransport{
		next:   next,
		store:  store,
		allow:  DefaultAllowList,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.allow.Matches(req.URL.Path) {
		return t.next.RoundTrip(req)
	}

	token, err := session.TokenSource(req.Context(), t.store).Token()
	if err != nil {
		if !errors.Is(err, errors.ErrNoAccessToken) {
			t.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("Sending request without credentials")
		}
		// The server rejects it and the authenticator takes over.
		return t.next.RoundTrip(req)
	}

	authed := req.Clone(req.Context())
	token.SetAuthHeader(authed)
	return t.next.RoundTrip(authed)
}
