package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/article"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/metrics"
	"github.com/JakeFAU/kblog/internal/publish"
	"github.com/JakeFAU/kblog/internal/render"
)

const (
	featuredImageField = "featuredImage"
	// multipart text fields ride on top of the image limit
	formFieldAllowance = 10 << 20
)

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

func (s *Server) fileTooLarge() string {
	return fmt.Sprintf("File too large. Maximum size is %dMB.", s.cfg.Upload.MaxBytes>>20)
}

func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formFieldAllowance)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, s.fileTooLarge())
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, "Invalid form data", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp files

	upload, status, msg := s.featuredUpload(r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}
	if upload != nil {
		if closer, ok := upload.Body.(multipart.File); ok {
			defer closer.Close() //nolint:errcheck // read-only
		}
	}

	draft := publish.Draft{
		Title:             r.FormValue("title"),
		Excerpt:           r.FormValue("excerpt"),
		Category:          r.FormValue("category"),
		Author:            r.FormValue("author"),
		Tags:              article.ParseTags(r.FormValue("tags")),
		Content:           r.FormValue("content"),
		Featured:          r.FormValue("featured") == "true",
		AllowComments:     r.FormValue("comments") == "true",
		NotifySubscribers: r.FormValue("notification") == "true",
	}
	res, err := s.deps.Publisher.Publish(r.Context(), draft, upload)
	if err != nil {
		var vErr *publish.ValidationError
		if errors.As(err, &vErr) {
			writeErrorMessage(w, http.StatusBadRequest, vErr.Error(), "missing: "+strings.Join(vErr.Fields, ", "))
			return
		}
		s.logger.Error("article publish failed", zap.String("title", draft.Title), zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "Failed to create article", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Article created successfully!",
		"article": res,
	})
}

// featuredUpload returns the optional image part. A non-zero status rejects the request.
func (s *Server) featuredUpload(r *http.Request) (*publish.Upload, int, string) {
	file, header, err := r.FormFile(featuredImageField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, 0, ""
	}
	if err != nil {
		return nil, http.StatusBadRequest, "Invalid featured image"
	}
	if header.Size > s.cfg.Upload.MaxBytes {
		_ = file.Close()
		return nil, http.StatusBadRequest, s.fileTooLarge()
	}
	contentType := header.Header.Get("Content-Type")
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !publish.AllowedImageType(contentType) || !allowedImageExt[ext] {
		_ = file.Close()
		return nil, http.StatusBadRequest, "Only image files are allowed!"
	}
	return &publish.Upload{Filename: header.Filename, ContentType: contentType, Body: file}, 0, ""
}

func (s *Server) listArticles(w http.ResponseWriter, _ *http.Request) {
	idx, err := s.deps.Store.ReadIndex()
	if err != nil {
		s.logger.Error("read index failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to read articles")
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Store.ReadMetadata(chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Article not found")
			return
		}
		s.logger.Error("read article failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to read article")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type statsRequest struct {
	Type      string `json:"type"`
	Increment *int   `json:"increment"`
}

func (s *Server) updateStats(w http.ResponseWriter, r *http.Request) {
	var req statsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	delta := 1
	if req.Increment != nil {
		delta = *req.Increment
	}
	stats, err := s.deps.Store.IncrementStat(chi.URLParam(r, "slug"), req.Type, delta)
	switch {
	case errors.Is(err, content.ErrNotFound):
		writeError(w, http.StatusNotFound, "Article not found")
		return
	case errors.Is(err, content.ErrInvalidStat):
		writeError(w, http.StatusBadRequest, "Invalid stat type")
		return
	case err != nil:
		s.logger.Error("update stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update article stats")
		return
	}
	metrics.ObserveStatIncrement(req.Type)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (s *Server) articleOpenGraph(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, err := s.openGraphPage(slug)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Article not found")
			return
		}
		s.logger.Error("open graph page failed", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to render article")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	_, _ = w.Write(page)
}

func (s *Server) openGraphPage(slug string) ([]byte, error) {
	m, err := s.deps.Store.ReadMetadata(slug)
	if err != nil {
		return nil, err
	}
	page, err := s.deps.Store.ReadPage(slug)
	if err != nil {
		return nil, err
	}
	return render.InjectOpenGraph(page, render.ArticleOpenGraph(m, s.baseURL))
}
