package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"docchat/internal/app"
	"docchat/internal/util"
	"docchat/pkg/domain"
)

// RateLimiter guards an endpoint by caller key.
type RateLimiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	RegisterLimiter RateLimiter
	LoginLimiter    RateLimiter
	TrustedProxies  *util.TrustedProxies
	AllowOrigin     string
}

// Server exposes the HTTP API.
type Server struct {
	app             *app.App
	registerLimiter RateLimiter
	loginLimiter    RateLimiter
	trustedProxies  *util.TrustedProxies
	allowOrigin     string
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server requires an app")
	}
	s := &Server{
		app:             cfg.App,
		registerLimiter: cfg.RegisterLimiter,
		loginLimiter:    cfg.LoginLimiter,
		trustedProxies:  cfg.TrustedProxies,
		allowOrigin:     cfg.AllowOrigin,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.allowOrigin, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/user", s.authenticated(s.handleCurrentUser))
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))

	// documents
	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/documents/search", s.authenticated(s.handleSearch))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))

	// chat
	s.mux.Handle("/api/chat/sessions", s.authenticated(s.handleSessions))
	s.mux.Handle("/api/chat/sessions/", s.authenticated(s.handleSessionByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "auth.token.verify", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.UserFromToken(token)
		if err != nil {
			s.audit(r, "auth.token.verify", "fail", "reason", err.Error())
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter RateLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(s.clientIP(r)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newListResponse[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}
