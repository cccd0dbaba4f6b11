// Package server serves the built site over HTTP, together with the run
// reports, metrics and the MCP endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/deixis/kiln/internal/logfields"
	"github.com/deixis/kiln/internal/metrics"
	"github.com/deixis/kiln/internal/report"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server. Only Addr and SiteDir are required.
type Options struct {
	Addr     string
	SiteDir  string
	Store    report.Store        // serves /api/runs when set
	Gatherer prometheus.Gatherer // serves /metrics when set
	MCP      http.Handler        // mounted at /mcp when set
	Logger   *zerolog.Logger
	Out      io.Writer // receives the site URLs on start; os.Stdout if nil
}

// Server is the local development server.
type Server struct {
	opts   Options
	router *chi.Mux
	log    zerolog.Logger
}

// New creates a Server and its routes.
func New(opts Options) *Server {
	s := &Server{opts: opts, router: chi.NewRouter()}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = zerolog.Nop()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	if s.opts.Store != nil {
		s.router.Route("/api/runs", func(r chi.Router) {
			r.Get("/latest", s.handleLatestRun)
			r.Get("/{id}", s.handleGetRun)
		})
	}
	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", metrics.HTTPHandler(s.opts.Gatherer))
	}
	if s.opts.MCP != nil {
		s.router.Handle("/mcp", s.opts.MCP)
		s.router.Handle("/mcp/*", s.opts.MCP)
	}

	s.router.Handle("/*", siteHandler(s.opts.SiteDir))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Options.Addr and serves until ctx is done, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener. The listener is closed
// when ServeListener returns.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	base := "http://" + displayAddr(ln.Addr())
	out := s.opts.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "Serving at %s/\nTests at %s/tests.html\n", base, base)
	s.log.Info().Str(logfields.KeyURL, base).Str(logfields.KeyDir, s.opts.SiteDir).Msg("server started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("server shutdown")
		_ = srv.Close()
	}
	<-errCh
	s.log.Info().Msg("server stopped")
	return nil
}

// displayAddr replaces unspecified hosts with localhost for printing.
func displayAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// siteHandler serves files from dir. WebAssembly modules are served as
// application/wasm, which streaming instantiation requires, and nothing is
// cached so a rebuild is picked up on reload.
func siteHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".wasm") {
			w.Header().Set("Content-Type", "application/wasm")
		}
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64(logfields.KeyDurationMS, time.Since(start).Milliseconds()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Response is the envelope of every JSON API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "ok"}})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	s.writeRun(w, s.opts.Store.Latest)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.writeRun(w, func() (*report.RunResult, error) { return s.opts.Store.Load(id) })
}

func (s *Server) writeRun(w http.ResponseWriter, load func() (*report.RunResult, error)) {
	run, err := load()
	switch {
	case errors.Is(err, report.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Response{Error: "run not found"})
	case err != nil:
		s.log.Error().Err(err).Msg("loading run report")
		writeJSON(w, http.StatusInternalServerError, Response{Error: "failed to load run"})
	default:
		writeJSON(w, http.StatusOK, Response{Success: true, Data: run})
	}
}
