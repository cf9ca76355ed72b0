// Package functions serves the serverless-style endpoints the static site
// posts to. Every endpoint shares the forwarder and event recorder used by
// the REST API.
package functions

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/forms"
	"github.com/JakeFAU/kblog/internal/policy/ratelimit"
	"github.com/JakeFAU/kblog/internal/render"
)

const (
	// ShellFile is the articles SPA shell served by og-article-page.
	ShellFile    = "index.html"
	cacheControl = "public, max-age=300, must-revalidate"
)

var articlePath = regexp.MustCompile(`/articles/([^/]+)/?$`)

// Handler routes the function endpoints.
type Handler struct {
	store     *content.Store
	forwarder *forms.Forwarder
	events    *forms.Events
	logger    *zap.Logger
	router    chi.Router
}

// New builds a Handler. store backs og-article-page; forwarder and events
// back the form and analytics endpoints. limiter may be nil.
func New(
	store *content.Store,
	forwarder *forms.Forwarder,
	events *forms.Events,
	limiter *ratelimit.Limiter,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{store: store, forwarder: forwarder, events: events, logger: logger}

	r := chi.NewRouter()
	r.Use(cors)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware(tooManyRequests))
		r.HandleFunc("/newsletter-subscribe", postOnly(h.submit(forms.KindNewsletter)))
		r.HandleFunc("/contact-submit", postOnly(h.submit(forms.KindContact)))
		r.HandleFunc("/project-inquiry-submit", postOnly(h.submit(forms.KindProjectInquiry)))
	})
	r.HandleFunc("/analytics-event", postOnly(h.analytics))
	r.HandleFunc("/og-article-page", h.ogArticlePage)
	r.HandleFunc("/og-article-page/*", h.ogArticlePage)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Headers", "Content-Type")
		header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "Method Not Allowed"})
			return
		}
		next(w, r)
	}
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "error": "Too many requests. Please try again later."})
}

func (h *Handler) submit(kind forms.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub forms.Submission
		if !decodeBody(w, r, &sub) {
			return
		}
		res, err := h.forwarder.Submit(r.Context(), kind, sub, RequestMeta(r))
		if err != nil {
			h.fail(w, err, string(kind))
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	var ev forms.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	res, err := h.events.Record(r.Context(), ev, RequestMeta(r))
	if err != nil {
		h.fail(w, err, "event")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error, kind string) {
	var vErr *forms.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": vErr.Message})
		return
	}
	h.logger.Error("function failed", zap.String("kind", kind), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Internal server error"})
}

// decodeBody treats an empty body as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid JSON payload"})
	return false
}

func (h *Handler) ogArticlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = io.WriteString(w, "Method Not Allowed")
		return
	}
	shell, err := os.ReadFile(filepath.Join(h.store.ArticlesDir(), ShellFile))
	if err != nil {
		h.logger.Error("article shell unreadable", zap.Error(err))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "Static HTML not found")
		return
	}
	page := h.injectArticle(r, shell)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControl)
	_, _ = w.Write(page)
}

// injectArticle returns the shell untouched when the slug or its metadata is
// missing so the client can render its own not-found state.
func (h *Handler) injectArticle(r *http.Request, shell []byte) []byte {
	slug := SlugFromRequest(r)
	if slug == "" {
		return shell
	}
	m, err := h.store.ReadMetadata(slug)
	if err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			h.logger.Warn("article metadata unreadable", zap.String("slug", slug), zap.Error(err))
		}
		return shell
	}
	page, err := render.InjectOpenGraph(shell, render.ArticleOpenGraph(m, Origin(r)))
	if err != nil {
		h.logger.Warn("open graph injection failed", zap.String("slug", slug), zap.Error(err))
		return shell
	}
	return page
}

// SlugFromRequest reads the slug from the slug query parameter, or from an
// /articles/<slug>/ suffix of the path query parameter or the request path.
func SlugFromRequest(r *http.Request) string {
	q := r.URL.Query()
	if slug := strings.TrimSpace(q.Get("slug")); slug != "" {
		return slug
	}
	for _, p := range []string{q.Get("path"), r.URL.Path} {
		if m := articlePath.FindStringSubmatch(p); m != nil {
			return m[1]
		}
	}
	return ""
}

// Origin is https://<host>, preferring X-Forwarded-Host.
func Origin(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return "https://" + host
}

// ClientIP checks client-ip, x-forwarded-for, x-nf-client-connection-ip and
// x-real-ip in that order and keeps the first comma-separated entry.
func ClientIP(r *http.Request) string {
	for _, name := range []string{"Client-Ip", "X-Forwarded-For", "X-Nf-Client-Connection-Ip", "X-Real-Ip"} {
		if v := r.Header.Get(name); v != "" {
			return strings.TrimSpace(strings.Split(v, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestMeta collects the caller's address and user agent.
func RequestMeta(r *http.Request) forms.RequestMeta {
	return forms.RequestMeta{IP: ClientIP(r), UserAgent: r.UserAgent()}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
