package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server is the proxy listener. Every method and path goes to one handler.
type Server struct {
	Router *chi.Mux
	Host   string
	Port   int
	logger *slog.Logger

	httpServer *http.Server
}

// Options tunes the listener.
type Options struct {
	Host string
	Port int
	// Timeout bounds each request's context when positive.
	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds the router around handler.
func New(handler http.Handler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if opts.Timeout > 0 {
		r.Use(TimeoutMiddleware(opts.Timeout))
	}
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "model-switch")
	})

	r.Handle("/*", handler)
	// Methods chi does not know are forwarded too.
	r.MethodNotAllowed(handler.ServeHTTP)

	return &Server{
		Router: r,
		Host:   opts.Host,
		Port:   opts.Port,
		logger: logger,
		httpServer: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 30 * time.Second,
		},
	}
}

// Listen binds the configured address. A bind failure is returned immediately.
func (s *Server) Listen() (net.Listener, error) {
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("proxy listening", slog.String("addr", "http://"+ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
