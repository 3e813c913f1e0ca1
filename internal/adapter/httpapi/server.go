// Package httpapi exposes the flood monitor's REST surface: reading
// submission and queries, device registration, incident listings, admin auth,
// a dashboard overview, and the health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
)

// Ingestor runs one reading through the decision engine.
type Ingestor interface {
	Ingest(ctx context.Context, sub engine.Submission) (domain.Reading, error)
}

// DeviceStore serves the device endpoints.
type DeviceStore interface {
	Get(ctx context.Context, deviceID string) (domain.Device, error)
	List(ctx context.Context) ([]domain.Device, error)
	Create(ctx context.Context, d domain.Device) (domain.Device, error)
}

// ReadingStore serves the reading query endpoints.
type ReadingStore interface {
	List(ctx context.Context, deviceID string, limit int) ([]domain.Reading, error)
	Latest(ctx context.Context, deviceID string) (domain.Reading, error)
}

// IncidentStore serves the incident listing endpoint.
type IncidentStore interface {
	List(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error)
}

// Authenticator backs the auth endpoints and the bearer-token middleware.
type Authenticator interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
	Validate(token string) (string, bool)
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Deps carries everything the server routes to.
type Deps struct {
	Ingestor  Ingestor
	Devices   DeviceStore
	Readings  ReadingStore
	Incidents IncidentStore
	Auth      Authenticator
	Ready     ReadinessChecker
	Logger    *slog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      withRequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: deps.Logger,
	}

	mux.HandleFunc("POST /readings", s.handleSubmitReading)
	mux.HandleFunc("GET /readings", s.handleListReadings)
	mux.HandleFunc("GET /readings/latest/{device_id}", s.handleLatestReading)

	mux.HandleFunc("GET /devices", s.handleListDevices)
	mux.HandleFunc("POST /devices", s.requireAuth(s.handleCreateDevice))
	mux.HandleFunc("GET /devices/{device_id}", s.handleGetDevice)

	mux.HandleFunc("GET /incidents", s.requireAuth(s.handleListIncidents))

	mux.HandleFunc("POST /auth/token", s.handleLogin)
	mux.HandleFunc("POST /auth/register", s.handleRegister)

	mux.HandleFunc("GET /dashboard", s.handleDashboard)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Ready.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// withRequestID tags every response with an X-Request-ID, minting one when
// the caller did not supply it, so log lines and client reports correlate.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// requireAuth guards a handler behind a bearer token issued by /auth/token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, ok := s.deps.Auth.Validate(token); !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
