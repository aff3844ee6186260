// Package api serves a local debug surface over the connection manager:
// health, state, metrics, the event journal and a couple of control actions.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"sessionlink/internal/config"
	"sessionlink/internal/connection"
	"sessionlink/internal/journal"
	"sessionlink/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// Controller is the slice of the connection manager the server drives
type Controller interface {
	Send(msg interface{}) bool
	RequestReconnection() bool
	Snapshot() connection.Snapshot
}

// Journal reads recorded events. Optional.
type Journal interface {
	Recent(ctx context.Context, sessionCode string, limit int) ([]journal.Entry, error)
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: HTTP layer holds no connection logic, only
// request decoding and JSON responses
type Server struct {
	controller Controller
	journal    Journal
	metrics    http.Handler
	router     chi.Router
	logger     *zap.Logger
	started    time.Time
}

// NewServer wires the routes. journal and metrics may be nil.
func NewServer(controller Controller, j Journal, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		controller: controller,
		journal:    j,
		metrics:    metrics,
		router:     chi.NewRouter(),
		logger:     logger.Named("api"),
		started:    time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	s.router.Get("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Get("/state", s.getState)
		r.Get("/events", s.listEvents)
		r.Post("/send", s.send)
		r.Post("/reconnect", s.reconnect)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer binds the handler to the configured address.
func (s *Server) HTTPServer(cfg *config.DebugServerConfig) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

type HealthResponse struct {
	Status   string    `json:"status"`
	Time     time.Time `json:"timestamp"`
	State    string    `json:"state"`
	Attempts int       `json:"reconnect_attempts"`
	Journal  string    `json:"journal"`
	Uptime   string    `json:"uptime"`
}

type SendResponse struct {
	Delivered bool   `json:"delivered"`
	State     string `json:"state"`
	Queued    int    `json:"queue_length"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /health reports 503 only for a terminal
// connection or a broken journal. Reconnecting is still healthy.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	snap := s.controller.Snapshot()
	resp := HealthResponse{
		Status:   "healthy",
		Time:     time.Now(),
		State:    snap.State,
		Attempts: snap.Attempts,
		Journal:  "disabled",
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}

	if snap.State == connection.StateFailed.String() {
		resp.Status = "unhealthy"
	}
	if s.journal != nil {
		resp.Journal = "healthy"
		if err := s.journal.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Journal = fmt.Sprintf("error: %v", err)
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, code, resp)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// GET /api/events?limit=N returns the newest N journal entries, oldest first
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.sendError(w, "Journal disabled", http.StatusNotFound)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}

	entries, err := s.journal.Recent(r.Context(), s.controller.Snapshot().SessionCode, limit)
	if err != nil {
		s.logger.Error("failed to read journal", zap.Error(err))
		s.sendError(w, "Failed to read journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

// POST /api/send forwards one JSON object through the manager. 200 means it
// went out on the wire, 202 that it is queued for the next open.
func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.sendError(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var msg map[string]interface{}
	if err := json.Unmarshal(body, &msg); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	// TECHNICAL DISCOVERY: Validate here so a rejected message is told apart
	// from a queued one
	if _, err := types.Encode(msg); err != nil {
		s.sendError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	delivered := s.controller.Send(msg)
	snap := s.controller.Snapshot()
	code := http.StatusOK
	if !delivered {
		code = http.StatusAccepted
	}
	s.writeJSON(w, code, SendResponse{Delivered: delivered, State: snap.State, Queued: snap.QueueLen})
}

func (s *Server) reconnect(w http.ResponseWriter, r *http.Request) {
	delivered := s.controller.RequestReconnection()
	snap := s.controller.Snapshot()
	code := http.StatusOK
	if !delivered {
		code = http.StatusAccepted
	}
	s.writeJSON(w, code, SendResponse{Delivered: delivered, State: snap.State, Queued: snap.QueueLen})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
