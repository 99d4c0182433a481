package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-pipeline/authserver"
	"github.com/jrsteele09/go-auth-pipeline/internal/config"
	"github.com/jrsteele09/go-auth-pipeline/internal/metrics"
	"github.com/jrsteele09/go-auth-pipeline/internal/tracing"
	"github.com/jrsteele09/go-auth-pipeline/refresh"
	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/jrsteele09/go-auth-pipeline/session/redisstore"
	"github.com/jrsteele09/go-auth-pipeline/session/sqlitestore"
	"github.com/jrsteele09/go-auth-pipeline/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

func main() {
	identifier := flag.String("identifier", "demo@example.com", "identifier to sign in with")
	requests := flag.Int("requests", 5, "number of concurrent requests per round")
	rounds := flag.Int("rounds", 3, "number of request rounds")
	interval := flag.Duration("interval", 2*time.Second, "pause between rounds")
	path := flag.String("path", authserver.RouteMe, "protected path to call")
	metricsAddr := flag.String("metrics-addr", "", "serve prometheus metrics on this address when set")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		identifier:  *identifier,
		requests:    *requests,
		rounds:      *rounds,
		interval:    *interval,
		path:        *path,
		metricsAddr: *metricsAddr,
	}); err != nil {
		log.Fatal().Err(err).Msg("Client failed")
	}
}

type options struct {
	identifier  string
	requests    int
	rounds      int
	interval    time.Duration
	path        string
	metricsAddr string
}

func run(ctx context.Context, opts options) error {
	c, err := config.New()
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(c.GetLogLevel())

	shutdownTracing, err := tracing.Setup(ctx, c, "authclient")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to flush traces")
		}
	}()

	inner, closeStore, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeStore()

	store := session.NewObservedStore(inner)
	events, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go logSessionEvents(events)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr, reg)
	}

	plain := &http.Client{Timeout: 10 * time.Second}
	if err := ensureSession(ctx, plain, store, c.GetBaseURL(), opts.identifier); err != nil {
		return err
	}

	coordinator := refresh.NewCoordinator(store,
		refresh.NewHTTPClient(c.GetBaseURL(), refresh.WithPath(c.GetRefreshPath()), refresh.WithHTTPClient(plain)),
		refresh.WithTimeout(c.GetRefreshTimeout()),
		refresh.WithMetrics(m),
		refresh.WithTracer(otel.Tracer("github.com/jrsteele09/go-auth-pipeline/refresh")),
	)

	pipelineOpts := transport.OptionsFromConfig(c)
	pipelineOpts.Metrics = m
	pipelineOpts.OnRetry = func(retry int, delay time.Duration) {
		log.Info().Int("retry", retry).Dur("delay", delay).Msg("Retrying request")
	}
	client := transport.NewClient(store, coordinator, pipelineOpts)

	for round := 1; round <= opts.rounds; round++ {
		callConcurrently(ctx, client, c.GetBaseURL()+opts.path, opts.requests, round)
		if round == opts.rounds {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.interval):
		}
	}
	return nil
}

func openStore(c config.Config) (session.Store, func(), error) {
	switch c.GetSessionStore() {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		log.Info().Str("addr", c.GetRedisAddr()).Msg("Using redis session store")
		return redisstore.New(rdb, c.GetRedisKey()), func() { _ = rdb.Close() }, nil
	case config.StoreSQLite:
		s, err := sqlitestore.Open(c.GetSQLitePath())
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", c.GetSQLitePath()).Msg("Using sqlite session store")
		return s, func() { _ = s.Close() }, nil
	}
	log.Info().Msg("Using in-memory session store")
	return session.NewMemoryStore(), func() {}, nil
}

// ensureSession signs in through the one-time code endpoints unless the store
// already holds a refresh token from an earlier run.
func ensureSession(ctx context.Context, client *http.Client, store session.Store, baseURL, identifier string) error {
	if rt, err := store.RefreshToken(ctx); err == nil && rt != "" {
		log.Info().Msg("Reusing stored session")
		return nil
	}

	var otp authserver.OTPGenerateResponse
	if err := postJSON(ctx, client, baseURL+authserver.RouteOTPGenerate, authserver.OTPGenerateRequest{Identifier: identifier}, &otp); err != nil {
		return fmt.Errorf("generate one-time code: %w", err)
	}
	if otp.Code == "" {
		return fmt.Errorf("server did not return a one-time code; is it running with ENV=DEV?")
	}

	var creds refresh.Response
	if err := postJSON(ctx, client, baseURL+authserver.RouteOTPValidate, authserver.OTPValidateRequest{Identifier: identifier, Code: otp.Code}, &creds); err != nil {
		return fmt.Errorf("validate one-time code: %w", err)
	}
	log.Info().Str("identifier", identifier).Msg("Signed in")
	return store.SaveAll(ctx, session.Session{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		User:         creds.User,
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func callConcurrently(ctx context.Context, client *http.Client, url string, n, round int) {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger := log.With().Int("round", round).Int("request", i).Logger()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to build request")
				return
			}
			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				logger.Error().Err(err).Msg("Request failed")
				return
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			logger.Info().
				Int("status", resp.StatusCode).
				Str("x_retry", resp.Request.Header.Get(transport.RetryHeader)).
				Dur("elapsed", time.Since(start)).
				Msg("Response")
		}()
	}
	wg.Wait()
}

func logSessionEvents(events <-chan session.Event) {
	for e := range events {
		if e.Type == session.EventCleared {
			log.Warn().Msg("Session cleared; sign in again")
			continue
		}
		log.Debug().Str("event", string(e.Type)).Msg("Session updated")
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}
