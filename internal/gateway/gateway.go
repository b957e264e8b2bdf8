// Package gateway is the HTTP surface: the device-authenticated REST API,
// the SSE notification stream, the chat websocket and the operational
// endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/config"
	"github.com/basket/genie/internal/otel"
	"github.com/basket/genie/internal/persistence"
)

// Store is the storage surface behind the REST API.
type Store interface {
	RegisterDevice(ctx context.Context, clientID, secret string) error
	CountCredentials(ctx context.Context, clientID, secret string) (int, error)
	Authenticate(ctx context.Context, clientID, secret string) (bool, error)
	Stats(ctx context.Context, clientID string) (persistence.ClientStats, error)

	AddCalendarEvent(ctx context.Context, clientID, title, start, end string) (int64, error)
	RemoveCalendarEvent(ctx context.Context, clientID, title string) (int64, error)
	ListCalendarEvents(ctx context.Context, clientID string) ([]persistence.CalendarEvent, error)

	AddObjective(ctx context.Context, clientID, title, description string) (int64, error)
	AddTask(ctx context.Context, clientID string, objectiveID int64, title string, weight int) (int64, bool, error)
	ListObjectives(ctx context.Context, clientID string) ([]persistence.Objective, error)
	RemoveObjective(ctx context.Context, clientID string, objectiveID int64) (bool, error)
	RemoveTask(ctx context.Context, clientID string, taskID int64) (bool, error)
	CompleteTask(ctx context.Context, clientID string, taskID int64) (bool, error)
	CompleteObjective(ctx context.Context, clientID string, objectiveID int64) (bool, error)

	Ping(ctx context.Context) error
	Driver() string
}

// ChatService answers chat questions. *engine.ChatService satisfies it.
type ChatService interface {
	Chat(ctx context.Context, clientID, secret, question string) (string, error)
	History(ctx context.Context, clientID, secret string, limit int) ([]persistence.ChatTurn, error)
}

type Config struct {
	Store     Store
	Chat      ChatService
	Hub       *bus.Hub
	Logger    *slog.Logger
	Telemetry *otel.Provider

	// AllowOrigins is the websocket Origin allowlist. Empty means same-origin only.
	AllowOrigins []string
	CORS         config.CORSConfig
	RateLimit    config.RateLimitConfig
	MaxBodyBytes int64
	HistoryLimit int
	// KeepAlive is the SSE comment interval. Zero means 25s.
	KeepAlive time.Duration
	// WSWriteTimeout bounds one websocket frame write. Zero means 5s.
	WSWriteTimeout time.Duration
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	tel     *otel.Provider
	limiter *RateLimitMiddleware
	metrics *httpMetrics

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = otel.Noop()
	}
	if cfg.Hub == nil {
		cfg.Hub = bus.New()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 25 * time.Second
	}
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "gateway"),
		tel:     cfg.Telemetry,
		limiter: NewRateLimitMiddleware(cfg.RateLimit),
		clients: map[*wsClient]struct{}{},
	}
	s.metrics = newHTTPMetrics(
		func() float64 { return float64(s.cfg.Hub.SubscriberCount()) },
		func() float64 { return float64(s.WSClientCount()) },
	)
	return s
}

// Limiter exposes the rate limiter so the caller can run its eviction loop.
func (s *Server) Limiter() *RateLimitMiddleware {
	return s.limiter
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register_device", s.handleRegisterDevice)
	mux.HandleFunc("/api/uuid_secret_count", s.handleSecretCount)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/history", s.handleChatHistory)
	mux.HandleFunc("/api/calendar/events", s.handleCalendarEvents)
	mux.HandleFunc("/api/objectives", s.handleObjectives)
	mux.HandleFunc("/api/objectives/complete", s.handleCompleteObjective)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/complete", s.handleCompleteTask)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/hello_db", s.handleHelloDB)
	mux.HandleFunc("/api/trigger_sse", s.handleTriggerSSE)
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.metrics.handler())

	var h http.Handler = mux
	h = RequestSizeLimitMiddleware(s.cfg.MaxBodyBytes)(h)
	h = s.limiter.Wrap(h)
	h = NewCORSMiddleware(s.cfg.CORS)(h)
	h = s.metrics.wrap(s.tel.Tracer, h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"sse_subscribers": s.cfg.Hub.SubscriberCount(),
		"ws_clients":      s.WSClientCount(),
	})
}

func (s *Server) handleHelloDB(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Store.Ping(ctx); err != nil {
		s.logger.ErrorContext(ctx, "database ping failed", "error", err)
		writeError(w, http.StatusInternalServerError, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": map[string]string{"status": "ok", "driver": s.cfg.Store.Driver()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// decodeBody reads a JSON object into v. It writes 400 (or 413) and returns
// false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		}
		return false
	}
	return true
}

// flexID accepts an id sent either as a JSON number or a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer")
	}
	*f = flexID(n)
	return nil
}
