// Package httpapi exposes intent ingest over HTTP next to health and
// Prometheus endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/metrics"
)

const maxBodyBytes = 64 * 1024

// IntentHandler processes one event and returns its reply; ok is false when
// the event is ignored.
type IntentHandler func(ctx context.Context, ev domain.IntentEvent) (reply domain.Reply, ok bool)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	addr        string
	authToken   string
	handle      IntentHandler
	rateLimiter *RateLimiter
	router      chi.Router
	logger      *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
	checks   map[string]HealthCheck
}

func NewServer(addr, authToken string, rateLimiter *RateLimiter, handle IntentHandler, logger *slog.Logger) *Server {
	if rateLimiter == nil {
		rateLimiter = NewRateLimiter(0)
	}
	s := &Server{
		addr:        addr,
		authToken:   authToken,
		handle:      handle,
		rateLimiter: rateLimiter,
		logger:      logger,
		checks:      make(map[string]HealthCheck),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.With(s.rateLimiter.Middleware, s.authenticate).Post("/intents", s.handleIntent)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r

	return s
}

// AddHealthCheck registers a dependency reported by GET /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srv := s.server
	go func() {
		s.logger.Info("HTTP intent server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}

	s.running = false
	return nil
}

// authenticate accepts the token in the X-Auth-Token header or the token
// query parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.authToken {
				metrics.HTTPRejectedTotal.WithLabelValues("unauthorized").Inc()
				s.logger.Warn("unauthorized intent request", "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type intentRequest struct {
	SessionID string           `json:"sessionId"`
	Intent    string           `json:"intent"`
	Slots     map[string][]any `json:"slots"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req intentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		metrics.HTTPRejectedTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Intent == "" {
		metrics.HTTPRejectedTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "missing intent", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ev := domain.IntentEvent{Name: req.Intent, SessionID: req.SessionID, Slots: req.Slots}
	reply, ok := s.handle(r.Context(), ev)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.logger.Info("intent handled via HTTP", "session_id", reply.SessionID, "intent", req.Intent, "action", reply.Action)
	writeJSON(w, http.StatusOK, reply)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.Unlock()
	sort.Strings(names)

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if !running {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
