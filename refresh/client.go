package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultPath is the refresh endpoint path on the backend.
const DefaultPath = "/auth/refresh"

// maxResponseBytes bounds how much of a refresh response body is read.
const maxResponseBytes = 1 << 20

// Client exchanges a refresh token for a new session.
type Client interface {
	Refresh(ctx context.Context, refreshToken string) (session.Session, error)
}

// Request is the body sent to the refresh endpoint.
type Request struct {
	RefreshToken string `json:"refreshToken"`
}

// Response is the success body returned by the refresh endpoint.
type Response struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	User         json.RawMessage `json:"user"`
}

var _ Client = (*HTTPClient)(nil)

// HTTPClient calls POST {baseURL}{path} directly on the wrapped http.Client.
// It must not be given the authenticated pipeline client.
type HTTPClient struct {
	baseURL    string
	path       string
	httpClient *http.Client
	propagator propagation.TextMapPropagator
}

type HTTPClientOption func(*HTTPClient)

func WithPath(path string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.path = path
	}
}

func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithPropagator sets how trace context is written onto refresh requests.
// Defaults to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) HTTPClientOption {
	return func(c *HTTPClient) {
		c.propagator = p
	}
}

func NewHTTPClient(baseURL string, options ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: http.DefaultClient,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.propagator == nil {
		c.propagator = otel.GetTextMapPropagator()
	}
	return c
}

func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	body, err := json.Marshal(Request{RefreshToken: refreshToken})
	if err != nil {
		return session.Session{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return session.Session{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.Session{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return session.Session{}, errors.Wrapf(errors.ErrRefreshRejected, "refresh endpoint returned %d", resp.StatusCode)
	}

	var payload Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return session.Session{}, fmt.Errorf("%w: %w", errors.ErrMalformedRefreshResponse, err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" || strings.TrimSpace(payload.RefreshToken) == "" {
		return session.Session{}, errors.Wrapf(errors.ErrMalformedRefreshResponse, "missing tokens in refresh response")
	}

	sess := session.Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if u := bytes.TrimSpace(payload.User); len(u) > 0 && !bytes.Equal(u, []byte("null")) {
		sess.User = payload.User
	}
	return sess, nil
}
