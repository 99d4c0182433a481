package authserver

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/jrsteele09/go-auth-pipeline/internal/config"
	"github.com/rs/zerolog/log"
)

// Server is a small credential-issuing backend: one-time-code sign-in,
// refresh token rotation, and a few bearer-protected API routes.
type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	router  *mux.Router
	routes  []string
	nowFunc func() time.Time

	tokens      *TokenIssuer
	refresh     *RefreshManager
	refreshRepo RefreshRepo
	otps        *OTPStore
	users       *UserRepo

	flakyCalls atomic.Int64
}

type Option func(*Server)

// WithNowFunc overrides the clock used for token and code expiry.
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = nowFunc
	}
}

// WithRefreshRepo replaces the in-memory refresh token storage.
func WithRefreshRepo(repo RefreshRepo) Option {
	return func(s *Server) {
		s.refreshRepo = repo
	}
}

func New(cfg config.Config, options ...Option) *Server {
	s := &Server{
		env:         cfg.GetEnv(),
		router:      mux.NewRouter(),
		nowFunc:     time.Now,
		refreshRepo: NewInMemoryRefreshRepo(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.tokens = NewTokenIssuer(cfg, s.nowFunc)
	s.refresh = NewRefreshManager(s.refreshRepo, cfg, s.nowFunc)
	s.otps = NewOTPStore(cfg.GetOTPLength(), cfg.GetOTPExpiry(), s.nowFunc)
	s.users = NewUserRepo()

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc(http.MethodPost, RouteOTPGenerate, ChainMiddleware(s.OTPGenerateHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteOTPValidate, ChainMiddleware(s.OTPValidateHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))

	// Protected routes
	s.RegisterRouteFunc(http.MethodGet, RouteMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteFunc(http.MethodGet, RouteFlaky, ChainMiddleware(s.FlakyHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteFunc(http.MethodPost, RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(s.RequireAuth())...))
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.HandleFunc(pattern, handler).Methods(method)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		log.Info().Str("route", route).Msg("registered")
	}
}
