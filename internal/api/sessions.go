package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meit-swami/jewellery/internal/session"
)

type openBody struct {
	Category string `json:"category"`
	ModelURL string `json:"model_url"`
	Origin   string `json:"origin"`
}

func decodeOpen(r *http.Request) (openBody, error) {
	var body openBody
	if r.Body == nil {
		return body, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return body, err
	}
	return body, nil
}

// requestOrigin prefers the origin the caller reports for its page over
// the Origin header of the API request itself.
func requestOrigin(r *http.Request, body openBody) string {
	if body.Origin != "" {
		return body.Origin
	}
	return r.Header.Get("Origin")
}

// handleMount is called when a try-on viewer mounts. The session opens
// only when the page link carried ar=true.
func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !session.ShouldAutoOpen(r.URL.Query()) {
		respondJSON(w, http.StatusOK, map[string]any{
			"viewer_id": viewerID,
			"auto_open": false,
		})
		return
	}
	s.handleOpen(w, r)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")

	body, err := decodeOpen(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.mgr.Open(r.Context(), session.Request{
		ViewerID: viewerID,
		Category: body.Category,
		ModelURL: body.ModelURL,
		Origin:   requestOrigin(r, body),
	})
	switch {
	case errors.Is(err, session.ErrViewerRequired):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "daemon is shutting down")
		return
	case err != nil:
		slog.Error("api: open session failed", "viewer_id", viewerID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	// ?wait=true blocks until the session leaves loading.
	if r.URL.Query().Get("wait") == "true" {
		if _, err := sess.Wait(r.Context()); err == nil {
			respondJSON(w, http.StatusOK, sess.Status())
			return
		}
	}
	respondJSON(w, http.StatusAccepted, sess.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.mgr.Get(chi.URLParam(r, "viewerID"))
	if !ok {
		respondError(w, http.StatusNotFound, session.ErrNoSession.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.mgr.List())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.Close(chi.URLParam(r, "viewerID"))
	switch {
	case errors.Is(err, session.ErrNoSession):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	err := s.mgr.Retry(r.Context(), viewerID)
	switch {
	case errors.Is(err, session.ErrNoSession):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, session.ErrNotRetryable), errors.Is(err, session.ErrClosed):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess, ok := s.mgr.Get(viewerID)
	if !ok {
		respondError(w, http.StatusNotFound, session.ErrNoSession.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, sess.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Snapshots == nil {
		respondError(w, http.StatusServiceUnavailable, "snapshots are disabled")
		return
	}
	sess, ok := s.mgr.Get(chi.URLParam(r, "viewerID"))
	if !ok {
		respondError(w, http.StatusNotFound, session.ErrNoSession.Error())
		return
	}
	path, err := sess.SaveSnapshot(s.opts.Snapshots)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"path": path})
}
