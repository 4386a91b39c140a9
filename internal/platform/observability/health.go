package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	checkTimeout      = 3 * time.Second
)

// ReadyCheck reports whether one dependency is ready to serve.
type ReadyCheck func(ctx context.Context) error

// StatusFunc returns a JSON-encodable view of the running process.
type StatusFunc func(ctx context.Context) any

// Server exposes liveness, readiness, metrics and status endpoints.
type Server struct {
	port   int
	logger *zerolog.Logger

	mu     sync.RWMutex
	checks map[string]ReadyCheck
	status StatusFunc
}

// NewServer builds a server listening on port.
func NewServer(port int, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Server{
		port:   port,
		logger: logger,
		checks: make(map[string]ReadyCheck),
	}
}

// AddCheck registers a readiness check under name.
func (s *Server) AddCheck(name string, check ReadyCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checks[name] = check
}

// SetStatus installs the /status handler's data source.
func (s *Server) SetStatus(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = fn
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "OK")
	})

	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))

	for name := range s.checks {
		names = append(names, name)
	}

	checks := make(map[string]ReadyCheck, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "%s error: %v", name, err)

			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	fn := s.status
	s.mu.RUnlock()

	if fn == nil {
		http.NotFound(w, r)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(fn(r.Context())); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode status")
	}
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("Health check server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}
