package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-bff/instrumentation"
	"github.com/jrsteele09/go-sso-bff/internal/config"
	"github.com/jrsteele09/go-sso-bff/pkce"
	"github.com/jrsteele09/go-sso-bff/server/authflowrepo"
	"github.com/jrsteele09/go-sso-bff/token"
)

// TokenService is the provider-facing half of the backend.
type TokenService interface {
	AuthCodeURL(ctx context.Context, state string, challenge *pkce.Challenge) (string, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*token.Tokens, error)
	Refresh(ctx context.Context, refreshToken token.RefreshToken) (*token.Tokens, error)
	Revoke(ctx context.Context, refreshToken token.RefreshToken) error
	VerifyAccessToken(ctx context.Context, raw string) (jwt.MapClaims, error)
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPKCEGenerator replaces the crypto/rand backed generator.
func WithPKCEGenerator(g *pkce.Generator) Option {
	return func(s *Server) { s.pkce = g }
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	handler   http.Handler
	routes    []string
	config    config.Config
	tokens    TokenService
	authState authflowrepo.Repo
	pkce      *pkce.Generator
	cookies   *cookieSealer
	limiter   *ipRateLimiter
	metrics   *instrumentation.Metrics
	logger    zerolog.Logger
}

func New(config config.Config, tokens TokenService, authStateRepo authflowrepo.Repo, opts ...Option) (*Server, error) {
	key, err := config.GetCookieEncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	sealer, err := newCookieSealer(key)
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	s := &Server{
		env:       config.GetEnv(),
		mux:       http.NewServeMux(),
		config:    config,
		tokens:    tokens,
		authState: authStateRepo,
		pkce:      pkce.NewGenerator(nil),
		cookies:   sealer,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	rps, burst := config.GetRateLimit()
	s.limiter = newIPRateLimiter(rps, burst)

	s.initRoutes()
	s.handler = ChainMiddleware(s.mux.ServeHTTP,
		s.RequestIDMiddleware,
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.CorsMiddleware,
	)
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Info().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}

// isSecureRequest reports whether cookies for r must carry the Secure flag.
func (s *Server) isSecureRequest(r *http.Request) bool {
	if s.config.GetCookieSecure() || r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
