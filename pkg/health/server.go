package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/speedrun-hq/speedrun-router/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
)

const pingTimeout = 3 * time.Second

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents a health check HTTP server
type Server struct {
	port            string
	deps            map[string]Pinger
	circuitBreakers map[string]*circuitbreaker.CircuitBreaker
	metricsAPIKey   string
	logger          logger.Logger
	mux             *http.ServeMux
	http            *http.Server
}

// NewServer creates a new health check server. deps are pinged by /ready.
func NewServer(
	port string,
	metricsAPIKey string,
	deps map[string]Pinger,
	circuitBreakers []*circuitbreaker.CircuitBreaker,
	logger logger.Logger,
) *Server {
	s := &Server{
		port:            port,
		deps:            deps,
		circuitBreakers: make(map[string]*circuitbreaker.CircuitBreaker, len(circuitBreakers)),
		metricsAPIKey:   metricsAPIKey,
		logger:          logger,
		mux:             http.NewServeMux(),
	}
	for _, cb := range circuitBreakers {
		s.circuitBreakers[cb.Name()] = cb
	}
	s.routes()
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness: every dependency must answer a ping
	s.mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, name := range s.depNames() {
			if err := s.ping(r.Context(), name); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("%s not reachable: %v", name, err)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	s.mux.HandleFunc("/status", s.handleStatus)

	// Circuit breaker admin control endpoint
	s.mux.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		name := r.URL.Query().Get("name")
		if name == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing name parameter"))
			return
		}

		cb, ok := s.circuitBreakers[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker named %s", name)))
			return
		}

		cb.Reset()
		s.logger.Notice("Circuit breaker %s reset by operator", name)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s reset", name)))
	})

	s.mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]interface{}, len(s.deps))
	for _, name := range s.depNames() {
		depStatus := map[string]interface{}{"reachable": true}
		if err := s.ping(r.Context(), name); err != nil {
			depStatus["reachable"] = false
			depStatus["error"] = err.Error()
		}
		deps[name] = depStatus
	}

	circuits := make(map[string]circuitbreaker.State, len(s.circuitBreakers))
	for name, cb := range s.circuitBreakers {
		circuits[name] = cb.GetState()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"dependencies": deps,
		"circuits":     circuits,
	}); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

func (s *Server) depNames() []string {
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) ping(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.deps[name].Ping(ctx)
}

// Handler returns the health and metrics routes
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
