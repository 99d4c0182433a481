package authserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-pipeline/authserver"
	"github.com/jrsteele09/go-auth-pipeline/internal/config"
	"github.com/stretchr/testify/require"
)

const testIdentifier = "jane@example.com"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupServer(t *testing.T) (*httptest.Server, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	srv := httptest.NewServer(authserver.New(config.Defaults(), authserver.WithNowFunc(clock.Now)))
	t.Cleanup(srv.Close)
	return srv, clock
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func login(t *testing.T, baseURL string) authserver.CredentialsResponse {
	t.Helper()
	resp := postJSON(t, baseURL+authserver.RouteOTPGenerate, authserver.OTPGenerateRequest{Identifier: testIdentifier})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	otp := decode[authserver.OTPGenerateResponse](t, resp)
	require.Len(t, otp.Code, 6)
	require.Equal(t, 300, otp.ExpiresIn)

	resp = postJSON(t, baseURL+authserver.RouteOTPValidate, authserver.OTPValidateRequest{Identifier: testIdentifier, Code: otp.Code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	creds := decode[authserver.CredentialsResponse](t, resp)
	require.NotEmpty(t, creds.AccessToken)
	require.NotEmpty(t, creds.RefreshToken)
	require.NotNil(t, creds.User)
	return creds
}

func TestLoginAndMe(t *testing.T) {
	srv, _ := setupServer(t)
	creds := login(t, srv.URL)
	require.Equal(t, testIdentifier, creds.User.Identifier)

	resp := getWithToken(t, srv.URL+authserver.RouteMe, creds.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[authserver.User](t, resp)
	require.Equal(t, creds.User.ID, me.ID)

	// The same identifier maps onto the same user
	again := login(t, srv.URL)
	require.Equal(t, creds.User.ID, again.User.ID)
}

func TestOTPIsSingleUse(t *testing.T) {
	srv, _ := setupServer(t)
	resp := postJSON(t, srv.URL+authserver.RouteOTPGenerate, authserver.OTPGenerateRequest{Identifier: testIdentifier})
	otp := decode[authserver.OTPGenerateResponse](t, resp)

	req := authserver.OTPValidateRequest{Identifier: testIdentifier, Code: otp.Code}
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+authserver.RouteOTPValidate, req).StatusCode)
	require.Equal(t, http.StatusUnauthorized, postJSON(t, srv.URL+authserver.RouteOTPValidate, req).StatusCode)
}

func TestOTPRejections(t *testing.T) {
	srv, clock := setupServer(t)

	resp := postJSON(t, srv.URL+authserver.RouteOTPGenerate, authserver.OTPGenerateRequest{Identifier: "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+authserver.RouteOTPGenerate, authserver.OTPGenerateRequest{Identifier: testIdentifier})
	otp := decode[authserver.OTPGenerateResponse](t, resp)

	wrong := "000000"
	if otp.Code == wrong {
		wrong = "111111"
	}
	resp = postJSON(t, srv.URL+authserver.RouteOTPValidate, authserver.OTPValidateRequest{Identifier: testIdentifier, Code: wrong})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	clock.Advance(6 * time.Minute)
	resp = postJSON(t, srv.URL+authserver.RouteOTPValidate, authserver.OTPValidateRequest{Identifier: testIdentifier, Code: otp.Code})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMeRequiresValidToken(t *testing.T) {
	srv, clock := setupServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing header", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := getWithToken(t, srv.URL+authserver.RouteMe, tt.token)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	creds := login(t, srv.URL)
	clock.Advance(5*time.Minute + time.Second)
	resp := getWithToken(t, srv.URL+authserver.RouteMe, creds.AccessToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "Token expired", body["error_description"])
}

func TestRefreshRotatesToken(t *testing.T) {
	srv, clock := setupServer(t)
	creds := login(t, srv.URL)

	clock.Advance(10 * time.Minute)
	require.Equal(t, http.StatusUnauthorized, getWithToken(t, srv.URL+authserver.RouteMe, creds.AccessToken).StatusCode)

	resp := postJSON(t, srv.URL+authserver.RouteRefresh, authserver.RefreshRequest{RefreshToken: creds.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode[authserver.CredentialsResponse](t, resp)
	require.NotEqual(t, creds.RefreshToken, rotated.RefreshToken)
	require.Equal(t, creds.User.ID, rotated.User.ID)

	require.Equal(t, http.StatusOK, getWithToken(t, srv.URL+authserver.RouteMe, rotated.AccessToken).StatusCode)

	// The consumed token cannot be used again
	resp = postJSON(t, srv.URL+authserver.RouteRefresh, authserver.RefreshRequest{RefreshToken: creds.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshRejections(t *testing.T) {
	srv, clock := setupServer(t)

	resp := postJSON(t, srv.URL+authserver.RouteRefresh, authserver.RefreshRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+authserver.RouteRefresh, authserver.RefreshRequest{RefreshToken: "unknown"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	creds := login(t, srv.URL)
	clock.Advance(169 * time.Hour)
	resp = postJSON(t, srv.URL+authserver.RouteRefresh, authserver.RefreshRequest{RefreshToken: creds.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConcurrentRefreshOnlyOneWins(t *testing.T) {
	srv, _ := setupServer(t)
	creds := login(t, srv.URL)

	const callers = 8
	statuses := make(chan int, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, _ := json.Marshal(authserver.RefreshRequest{RefreshToken: creds.RefreshToken})
			resp, err := http.Post(srv.URL+authserver.RouteRefresh, "application/json", bytes.NewReader(b))
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	ok := 0
	for status := range statuses {
		if status == http.StatusOK {
			ok++
			continue
		}
		require.Equal(t, http.StatusUnauthorized, status)
	}
	require.Equal(t, 1, ok)
}

func TestFlakyAlternates(t *testing.T) {
	srv, _ := setupServer(t)
	creds := login(t, srv.URL)

	require.Equal(t, http.StatusServiceUnavailable, getWithToken(t, srv.URL+authserver.RouteFlaky, creds.AccessToken).StatusCode)
	require.Equal(t, http.StatusOK, getWithToken(t, srv.URL+authserver.RouteFlaky, creds.AccessToken).StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, getWithToken(t, srv.URL+authserver.RouteFlaky, creds.AccessToken).StatusCode)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	repo := authserver.NewInMemoryRefreshRepo()
	srv := httptest.NewServer(authserver.New(config.Defaults(), authserver.WithRefreshRepo(repo)))
	t.Cleanup(srv.Close)
	creds := login(t, srv.URL)

	_, err := repo.Get(creds.RefreshToken)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+authserver.RouteLogout, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = repo.Get(creds.RefreshToken)
	require.Error(t, err)

	resp = postJSON(t, srv.URL+authserver.RouteRefresh, authserver.RefreshRequest{RefreshToken: creds.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWrongMethodIsRejected(t *testing.T) {
	srv, _ := setupServer(t)
	resp := getWithToken(t, srv.URL+authserver.RouteRefresh, "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
