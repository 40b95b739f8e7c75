// Package webserver hosts the scripted query backend over HTTP.
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spboyer/querylens/internal/webapi"
)

// DefaultPort matches the backend's conventional port.
const DefaultPort = 8000

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Script drives the backend's answers. Nil means webapi.DefaultScript.
	Script         *webapi.Script
	AllowedOrigins []string
	Logger         *slog.Logger
	// Out receives the startup banner. Nil means os.Stdout.
	Out io.Writer
}

// Server wraps the HTTP server with configuration.
type Server struct {
	cfg    Config
	srv    *http.Server
	logger *slog.Logger
}

// New creates a new HTTP server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	handler, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		srv: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newHandler(cfg Config) (http.Handler, error) {
	h, err := webapi.NewHandlers(webapi.NewMemoryStore(), cfg.Script, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("loading backend script: %w", err)
	}

	mux := http.NewServeMux()
	webapi.RegisterRoutes(mux, h)
	mux.HandleFunc("/api/", handleNotFound)

	var handler http.Handler = mux
	handler = webapi.CORSMiddleware(handler, cfg.AllowedOrigins...)
	handler = webapi.RequestIDMiddleware(handler)
	return gzhttp.GzipHandler(handler), nil
}

// handleNotFound answers unknown API paths with a JSON 404.
func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(webapi.ErrorResponse{Detail: "Not Found"}) //nolint:errcheck
}

// ListenAndServe listens on the configured address and serves until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	url := "http://" + ln.Addr().String()
	s.logger.Info("HTTP server starting", "address", ln.Addr().String(), "url", url)
	fmt.Fprintf(s.cfg.Out, "querylens mock backend: %s\n", url)

	// Graceful shutdown on context cancellation.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
		}
	}()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	<-stopped
	return nil
}

// Handler returns the underlying http.Handler (useful for testing).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
