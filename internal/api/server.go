package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/config"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/forms"
	"github.com/JakeFAU/kblog/internal/metrics"
	"github.com/JakeFAU/kblog/internal/policy/ratelimit"
	"github.com/JakeFAU/kblog/internal/publish"
	"github.com/JakeFAU/kblog/internal/telemetry"
)

// RequestIDGenerator produces X-Request-ID values.
type RequestIDGenerator interface {
	NewRequestID() string
}

// Clock abstracts time for the health endpoint.
type Clock interface {
	Now() time.Time
}

// Deps are the collaborators the handlers call into. Functions, when set, is
// mounted under server.functions_path. Limiter, when set, throttles the form
// endpoints per client IP.
type Deps struct {
	Store     *content.Store
	Publisher *publish.Publisher
	Forwarder *forms.Forwarder
	Events    *forms.Events
	Functions http.Handler
	Limiter   *ratelimit.Limiter
	IDs       RequestIDGenerator
	Clock     Clock
}

// Server wires HTTP handlers to the content store, publisher and forwarder.
type Server struct {
	router  chi.Router
	deps    Deps
	cfg     config.Config
	baseURL string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.IDs))
	r.Use(telemetry.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(corsMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	protect := func(h http.HandlerFunc) http.Handler { return h }
	if cfg.Auth.Enabled {
		guard := apiKeyMiddleware(cfg.Auth.APIKey)
		protect = func(h http.HandlerFunc) http.Handler { return guard(h) }
	}

	r.Get("/api/health", s.health)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metrics.Handler())
	}

	limit := deps.Limiter.Middleware(tooManyRequests)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/create-article", protect(s.createArticle))
		r.Get("/articles", s.listArticles)
		r.Get("/articles/{slug}", s.getArticle)
		r.Method(http.MethodPost, "/articles/{slug}/stats", protect(s.updateStats))
		r.With(limit).Post("/newsletter/subscribe", s.submitForm(forms.KindNewsletter))
		r.Method(http.MethodGet, "/newsletter/subscribers", protect(s.listSubscribers))
		r.With(limit).Post("/contact/submit", s.submitForm(forms.KindContact))
		r.With(limit).Post("/project-inquiries/submit", s.submitForm(forms.KindProjectInquiry))
		r.Post("/analytics/event", s.recordEvent)
	})
	r.Get("/articles/{slug}/og", s.articleOpenGraph)

	if deps.Functions != nil && cfg.Server.FunctionsPath != "" {
		r.Mount(strings.TrimRight(cfg.Server.FunctionsPath, "/"), deps.Functions)
	}
	if cfg.Server.ServeStatic && deps.Store != nil {
		r.Handle("/*", staticHandler(deps.Store.RootDir()))
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339Nano),
	})
}

func (s *Server) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// staticHandler serves the content tree the way the site is deployed. The
// data directory and dotfiles hold subscriber records and are never served.
func staticHandler(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasPrefix(p, "/data/") || strings.Contains(p, "/.") {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "error": "Too many requests. Please try again later."})
}

func requestMeta(r *http.Request) forms.RequestMeta {
	return forms.RequestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorMessage(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, map[string]string{"error": msg, "message": detail})
}
