// Package server exposes the offline coordinator over HTTP: a small control
// API under /__offline and the caching proxy for everything else.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"offline0/internal/api"
	"offline0/internal/logger"
	"offline0/internal/offline"
)

const (
	controlTimeout  = 30 * time.Second
	maxControlBody  = 1 << 20
	eventsBuffer    = 16
	sseKeepAlive    = 25 * time.Second
	controlBasePath = "/__offline"
)

type Server struct {
	coord   *offline.Coordinator
	client  *api.Client
	tracker *api.StatusTracker
	log     *slog.Logger
	router  *chi.Mux
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// WithAPI adds the client's connection state and the tracker's integration
// status to /__offline/status.
func WithAPI(c *api.Client, tracker *api.StatusTracker) Option {
	return func(s *Server) {
		s.client = c
		s.tracker = tracker
	}
}

func New(coord *offline.Coordinator, opts ...Option) *Server {
	s := &Server{coord: coord, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Route(controlBasePath, func(r chi.Router) {
		// the event stream is long-lived
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(controlTimeout))
			r.Post("/messages", s.handleMessage)
			r.Get("/pending", s.handleListPending)
			r.Post("/pending", s.handleEnqueue)
			r.Get("/status", s.handleStatus)
		})
	})

	r.Handle("/*", s.coord.Handler())

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m offline.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid message", err)
		return
	}
	reply, err := s.coord.HandleMessage(r.Context(), m)
	if err != nil {
		respondError(w, http.StatusBadRequest, "message failed", err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if !json.Valid(body) {
		respondError(w, http.StatusBadRequest, "payload must be json", nil)
		return
	}
	p, err := s.coord.Enqueue(r.Context(), body)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to queue translation", err)
		return
	}
	respondJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.coord.Pending()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list pending translations", err)
		return
	}
	if pending == nil {
		pending = []offline.PendingTranslation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"total":   len(pending),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.coord.Buckets()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list buckets", err)
		return
	}
	size, err := s.coord.CacheSize()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count entries", err)
		return
	}
	out := map[string]any{
		"phase":       s.coord.Phase().String(),
		"controlling": s.coord.Controlling(),
		"buckets":     buckets,
		"entries":     size,
	}
	if s.client != nil {
		out["connection"] = s.client.State().String()
	}
	if s.tracker != nil {
		out["integration"] = s.tracker.Status()
	}
	respondJSON(w, http.StatusOK, out)
}

// handleEvents streams coordinator notifications as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}
	events, cancel := s.coord.Subscribe(eventsBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n, open := <-events:
			if !open {
				return
			}
			b, err := json.Marshal(n.Data)
			if err != nil {
				s.log.Error("encode notification", "type", n.Type, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
