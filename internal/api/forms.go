package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/forms"
)

func (s *Server) submitForm(kind forms.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub forms.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid JSON payload"})
			return
		}
		res, err := s.deps.Forwarder.Submit(r.Context(), kind, sub, requestMeta(r))
		if err != nil {
			var vErr *forms.ValidationError
			if errors.As(err, &vErr) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": vErr.Message})
				return
			}
			s.logger.Error("form submission failed", zap.String("kind", string(kind)), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to process submission"})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) recordEvent(w http.ResponseWriter, r *http.Request) {
	var ev forms.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid JSON payload"})
		return
	}
	res, err := s.deps.Events.Record(r.Context(), ev, requestMeta(r))
	if err != nil {
		var vErr *forms.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": vErr.Message})
			return
		}
		s.logger.Error("analytics event failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to record event"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listSubscribers(w http.ResponseWriter, _ *http.Request) {
	nl, err := s.deps.Store.ReadNewsletter()
	if err != nil {
		s.logger.Error("read newsletter failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to read newsletter data")
		return
	}
	writeJSON(w, http.StatusOK, nl)
}
