package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides an optional HTTP server exposing /metrics and /healthz.
// Long running callers such as the CLI use it; embedding applications
// usually register the docledger collectors with their own endpoint.
type Server struct {
	server  *http.Server
	errChan chan error
}

// NewServer creates a metrics server on addr serving the default registry.
func NewServer(addr string) *Server {
	return NewServerFor(addr, prometheus.DefaultGatherer)
}

// NewServerFor creates a metrics server on addr serving the given gatherer.
func NewServerFor(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		server:  &http.Server{Addr: addr, Handler: mux},
		errChan: make(chan error, 1),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the server in a goroutine and returns immediately.
// Check Err to detect startup failures.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case s.errChan <- err:
			default:
			}
		}
	}()
}

// Err returns the first error reported by the listener, or nil.
// It never blocks.
func (s *Server) Err() error {
	select {
	case err := <-s.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
