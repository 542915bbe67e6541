// Package web serves the tracker's status page and its JSON form.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sweeney/cat-tracker/internal/status"
)

// Options configures a Server.
type Options struct {
	Addr    string
	Tracker *status.Tracker
	Logger  *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	http    *http.Server
	tracker *status.Tracker
	logger  *slog.Logger
}

// New builds the router. Nothing listens until ListenAndServe or Serve.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{tracker: opts.Tracker, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.logRequests)
	r.Get("/", s.page)
	r.Get("/index.html", s.page)
	r.Get("/index.json", s.json)
	r.Get("/healthz", s.health)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

func (s *Server) Serve(ln net.Listener) error { return s.http.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("web: request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "took", time.Since(began))
	})
}

func (s *Server) page(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) json(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// health answers 200 while the cloud session is up and 503 otherwise.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	state := s.tracker.Snapshot().Session
	if state != "connected" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Write([]byte(state + "\n"))
}
