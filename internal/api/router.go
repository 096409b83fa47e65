// Package api exposes the try-on daemon over HTTP: session lifecycle
// endpoints for the catalog viewer and a websocket stream of state changes.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/meit-swami/jewellery/internal/session"
	"github.com/meit-swami/jewellery/modules/render"
)

// Options are the optional collaborators of the HTTP surface.
type Options struct {
	// Snapshots enables POST .../session/snapshot when non-nil.
	Snapshots *render.SnapshotSaver

	// Health adds component state (mqtt, detector backend) to /healthz.
	Health func() map[string]any
}

// Server serves the session API.
type Server struct {
	mgr      *session.Manager
	opts     Options
	upgrader websocket.Upgrader
	started  time.Time
}

// New creates the API server for mgr.
func New(mgr *session.Manager, opts Options) *Server {
	return &Server{
		mgr:  mgr,
		opts: opts,
		upgrader: websocket.Upgrader{
			// The daemon serves a local kiosk; the catalog page lives on
			// another origin.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		started: time.Now(),
	}
}

// Router wires the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/sessions", s.handleListSessions)

		api.Route("/viewers/{viewerID}", func(v chi.Router) {
			v.Post("/mount", s.handleMount)
			v.Get("/events", s.handleEvents)

			v.Post("/session", s.handleOpen)
			v.Get("/session", s.handleStatus)
			v.Delete("/session", s.handleClose)
			v.Post("/session/retry", s.handleRetry)
			v.Post("/session/snapshot", s.handleSnapshot)
		})
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":     "ok",
		"uptime_s":   int(time.Since(s.started).Seconds()),
		"sessions":   len(s.mgr.List()),
		"gpu_live":   s.mgr.Ledger().Snapshot(),
		"event_bus":  s.mgr.Bus().Stats(),
		"snapshots":  s.opts.Snapshots != nil,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.Health != nil {
		for k, v := range s.opts.Health() {
			body[k] = v
		}
	}
	respondJSON(w, http.StatusOK, body)
}
