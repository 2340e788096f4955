package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/metrics"
	"github.com/waterpolo-stats/internal/reconcile"
	"github.com/waterpolo-stats/internal/service"
	"github.com/waterpolo-stats/internal/websocket"
)

// ReadinessCheck reports whether backing stores are reachable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the scorekeeping API
type Handler struct {
	service  *service.GameService
	hub      *websocket.Hub
	recorder *metrics.Recorder
	metrics  http.Handler
	ready    ReadinessCheck
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.GameService, hub *websocket.Hub, recorder *metrics.Recorder, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		recorder: recorder,
		logger:   logger,
	}
}

// SetMetricsHandler exposes h on /metrics
func (h *Handler) SetMetricsHandler(m http.Handler) {
	h.metrics = m
}

// SetReadinessCheck installs the check behind /ready
func (h *Handler) SetReadinessCheck(check ReadinessCheck) {
	h.ready = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.metricsMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}).Handler)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))

			r.Route("/games", func(r chi.Router) {
				r.Post("/", h.CreateGame)
				r.Get("/", h.ListLiveGames)

				r.Route("/{gameID}", func(r chi.Router) {
					r.Get("/", h.GetGame)
					r.Get("/scoreboard", h.GetScoreboard)
					r.Get("/log", h.GetGameLog)
					r.Get("/stats", h.GetBoxScore)

					// Clock
					r.Post("/start", h.clockAction(h.service.Start))
					r.Post("/pause", h.clockAction(h.service.Pause))
					r.Post("/resume", h.clockAction(h.service.Resume))
					r.Post("/end-period", h.EndPeriod)
					r.Post("/next-period", h.clockAction(h.service.StartNextPeriod))
					r.Post("/end", h.clockAction(h.service.EndGame))
					r.Post("/shot-clock/reset", h.clockAction(h.service.ResetShotClock))
					r.Post("/possession", h.SetPossession)
					r.Post("/clock/adjust", h.AdjustClock)

					// Roster
					r.Get("/roster", h.GetRoster)
					r.Post("/roster", h.AddPlayer)
					r.Delete("/roster/{playerID}", h.RemovePlayer)
					r.Post("/roster/{playerID}/swap", h.CapSwap)
					r.Get("/roster/{playerID}/history", h.GetRosterHistory)

					// Ledgers
					r.Get("/actions", h.GetActionLog)
					r.Post("/actions", h.RecordAction)
					r.Put("/actions/{actionID}", h.EditAction)
					r.Delete("/actions/{actionID}", h.DeleteAction)
					r.Put("/events/{eventID}/time", h.AdjustEventTime)

					// Persistence
					r.Post("/save", h.SaveGame)
					r.Post("/open", h.OpenGame)
				})
			})

			r.Post("/teams", h.CreateTeam)
			r.Post("/seasons", h.CreateSeason)
			r.Post("/players", h.CreatePlayer)
			r.Get("/players/{playerID}/career", h.GetCareer)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
		r.Get("/stats", h.GetServiceStats)
	})

	return r
}

// metricsMiddleware records every request by route pattern
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.recorder.RecordHTTPRequest(r.Method, path, status, time.Since(start))
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error to a status code. Storage failures
// and unexpected errors are logged and hidden behind ErrInternalError, even
// when the store reported a missing row.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var serr *reconcile.StorageError
	switch {
	case errors.As(err, &serr):
		h.logger.Error("storage failure",
			"op", op,
			"storage_op", serr.Op,
			"game_id", chi.URLParam(r, "gameID"),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownPlayer):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("request failed",
			"op", op,
			"game_id", chi.URLParam(r, "gameID"),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a JSON body into v, answering 400 when it cannot
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if gameID := r.URL.Query().Get("game_id"); gameID != "" {
		data["subscribers"] = h.hub.GetSubscriberCount(gameID)
	}
	h.writeSuccess(w, data)
}

// GetServiceStats returns the counters recorded since startup
func (h *Handler) GetServiceStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"live_games":  len(h.service.LiveGameIDs()),
		"connections": h.hub.GetTotalConnections(),
		"counters":    h.recorder.Snapshot(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, errors.New("not ready"))
			return
		}
	}
	h.writeSuccess(w, map[string]any{
		"status":     "ready",
		"live_games": len(h.service.LiveGameIDs()),
	})
}
