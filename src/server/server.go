// Package server exposes the relay over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/elee1766/p2prelay/src/config"
	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/executor"
	"github.com/elee1766/p2prelay/src/relay"
	"github.com/elee1766/p2prelay/src/report"
	"github.com/elee1766/p2prelay/src/safeguard"
)

// Executor is the prompt executor as the server uses it
type Executor interface {
	Status(ctx context.Context) string
	Ask(ctx context.Context, prompt string, timeout time.Duration) (bool, string)
	Skills() ([]executor.Skill, error)
	RunSkill(ctx context.Context, name, args string) (bool, string, error)
	DefaultTimeout() time.Duration
}

var _ Executor = (*executor.Service)(nil)

// Config configures a Server
type Config struct {
	Version string

	Relay     *relay.Relay
	Dialog    *dialog.Machine
	Safeguard *safeguard.Engine
	Executor  Executor
	Host      report.HostProbe

	Logger *slog.Logger
}

// Server holds the HTTP handlers
type Server struct {
	config   Config
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a Server
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	v := validator.New()
	config.RegisterValidations(v)

	return &Server{
		config:   cfg,
		validate: v,
		logger:   logger.With("component", "server"),
	}
}

// Handler returns the routed handler wrapped in request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.logRequests(mux)
}

// Register wires the routes onto mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("POST /dialog/github", s.handleDialog)
	mux.HandleFunc("GET /conversations", s.handleConversations)
	mux.HandleFunc("GET /skills", s.handleSkills)
	mux.HandleFunc("POST /skill/{name}", s.handleSkill)
	mux.HandleFunc("POST /notify", s.handleNotify)
}

// HTTPConfig holds listener settings
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, hc HTTPConfig) error {
	ln, err := net.Listen("tcp", hc.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", hc.Addr, err)
	}
	return s.Serve(ctx, ln, hc)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener, hc HTTPConfig) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  hc.ReadTimeout,
		WriteTimeout: hc.WriteTimeout,
		IdleTimeout:  hc.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	if hc.ShutdownTimeout <= 0 {
		hc.ShutdownTimeout = 10 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hc.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
