package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is used when ServerConfig.Port is unset.
const DefaultPort = 9090

// StatusFunc returns a JSON-encodable view of the running server.
type StatusFunc func() any

// Server is the operator HTTP endpoint of a DittoFTP process.
//
//   - /metrics  Prometheus scrape target (503 while collection is disabled)
//   - /status   live session and transfer counters as JSON
//   - /healthz  liveness probe
type Server struct {
	httpServer *http.Server
	port       int

	status atomic.Pointer[StatusFunc]

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
}

// ServerConfig configures the operator endpoint.
type ServerConfig struct {
	// Address to bind; empty binds every interface
	Address string

	// Port defaults to DefaultPort
	Port int
}

// NewServer builds a stopped server. Call Start to bind and serve.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}

	s := &Server{port: config.Port}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "DittoFTP operator endpoint (port %d)\n\n/metrics\n/status\n/healthz\n", config.Port)
	})

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(config.Address, strconv.Itoa(config.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func metricsHandler() http.Handler {
	if !IsEnabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SetStatusProvider installs the function behind /status. It may be called
// while the server is running.
func (s *Server) SetStatusProvider(fn StatusFunc) {
	if fn == nil {
		s.status.Store(nil)
		return
	}
	s.status.Store(&fn)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	fn := s.status.Load()
	if fn == nil {
		http.Error(w, "status not available", http.StatusNotFound)
		return
	}

	body, err := json.Marshal((*fn)())
	if err != nil {
		logger.Warn("Failed to encode status: %v", err)
		http.Error(w, "status encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(body, '\n'))
}

// Start binds the endpoint and serves until ctx is cancelled. Bind errors
// are returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: listen on %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	logger.Info("Metrics server listening on %s", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		// ctx is already done, shut down on a fresh deadline
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the endpoint down. Only the first call has any effect.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			err = fmt.Errorf("metrics server shutdown: %w", err)
			return
		}
		logger.Debug("Metrics server stopped")
	})
	return err
}

// Port returns the bound port once Start has run, the configured one before.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
