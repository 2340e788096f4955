package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
	"github.com/waterpolo-stats/internal/service"
)

// CreateGame handles game creation
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req service.CreateGameRequest
	if !h.decode(w, r, &req) {
		return
	}

	game, err := h.service.CreateGame(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "create game", err)
		return
	}
	h.writeCreated(w, game)
}

// ListLiveGames returns the ids of games being scored
func (h *Handler) ListLiveGames(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"live": h.service.LiveGameIDs(),
	})
}

// GetGame returns a full session snapshot
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.service.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "get game", err)
		return
	}
	h.writeSuccess(w, game)
}

// GetScoreboard returns the compact live view
func (h *Handler) GetScoreboard(w http.ResponseWriter, r *http.Request) {
	sb, err := h.service.Scoreboard(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "get scoreboard", err)
		return
	}
	h.writeSuccess(w, sb)
}

// GetGameLog returns events newest first. side and cap narrow it to one player.
func (h *Handler) GetGameLog(w http.ResponseWriter, r *http.Request) {
	var filter *service.LogFilter
	if capParam := r.URL.Query().Get("cap"); capParam != "" {
		capNumber, err := strconv.Atoi(capParam)
		if err != nil || capNumber <= 0 {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: cap must be a positive integer", domain.ErrInvalidRequest))
			return
		}
		filter = &service.LogFilter{
			Side:      domain.Side(r.URL.Query().Get("side")),
			CapNumber: capNumber,
		}
	}

	log, err := h.service.GameLog(r.Context(), chi.URLParam(r, "gameID"), filter)
	if err != nil {
		h.writeServiceError(w, r, "get game log", err)
		return
	}
	h.writeSuccess(w, log)
}

// GetBoxScore returns player and team totals
func (h *Handler) GetBoxScore(w http.ResponseWriter, r *http.Request) {
	box, err := h.service.BoxScore(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "get box score", err)
		return
	}
	h.writeSuccess(w, box)
}

// clockAction adapts a scoreboard-returning service call to a handler
func (h *Handler) clockAction(op func(ctx context.Context, gameID string) (domain.Scoreboard, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sb, err := op(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			h.writeServiceError(w, r, "clock", err)
			return
		}
		h.writeSuccess(w, sb)
	}
}

// EndPeriod closes the active period and returns its score
func (h *Handler) EndPeriod(w http.ResponseWriter, r *http.Request) {
	score, err := h.service.EndPeriod(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "end period", err)
		return
	}
	h.writeSuccess(w, score)
}

// SetPossession handles {"side": "home"}
func (h *Handler) SetPossession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side domain.Side `json:"side"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	sb, err := h.service.SetPossession(r.Context(), chi.URLParam(r, "gameID"), req.Side)
	if err != nil {
		h.writeServiceError(w, r, "set possession", err)
		return
	}
	h.writeSuccess(w, sb)
}

// AdjustClock handles {"delta": -5}
func (h *Handler) AdjustClock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta float64 `json:"delta"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	sb, err := h.service.AdjustGameClock(r.Context(), chi.URLParam(r, "gameID"), req.Delta)
	if err != nil {
		h.writeServiceError(w, r, "adjust clock", err)
		return
	}
	h.writeSuccess(w, sb)
}

// GetRoster returns the active roster of ?side=home|away
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	side := domain.Side(r.URL.Query().Get("side"))
	if side == "" {
		side = domain.SideHome
	}
	roster, err := h.service.ActiveRoster(r.Context(), chi.URLParam(r, "gameID"), side)
	if err != nil {
		h.writeServiceError(w, r, "get roster", err)
		return
	}
	h.writeSuccess(w, roster)
}

// AddPlayerRequest adds a player to a side's lineup
type AddPlayerRequest struct {
	Side domain.Side `json:"side"`
	engine.PlayerSpec
}

// AddPlayer handles roster additions
func (h *Handler) AddPlayer(w http.ResponseWriter, r *http.Request) {
	var req AddPlayerRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.AddPlayer(r.Context(), chi.URLParam(r, "gameID"), req.Side, req.PlayerSpec)
	if err != nil {
		h.writeServiceError(w, r, "add player", err)
		return
	}
	h.writeCreated(w, entry)
}

// RemovePlayer takes a player out of the game
func (h *Handler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.RemovePlayer(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, r, "remove player", err)
		return
	}
	h.writeSuccess(w, entry)
}

// CapSwapRequest changes a player's cap number or goalie status
type CapSwapRequest struct {
	CapNumber int  `json:"cap_number"`
	IsGoalie  bool `json:"is_goalie"`
}

// CapSwap handles cap swaps
func (h *Handler) CapSwap(w http.ResponseWriter, r *http.Request) {
	var req CapSwapRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.CapSwap(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "playerID"), req.CapNumber, req.IsGoalie)
	if err != nil {
		h.writeServiceError(w, r, "cap swap", err)
		return
	}
	h.writeSuccess(w, entry)
}

// GetRosterHistory returns every roster entry of a player
func (h *Handler) GetRosterHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.RosterHistory(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, r, "get roster history", err)
		return
	}
	h.writeSuccess(w, history)
}

// GetActionLog returns the action ledger newest first
func (h *Handler) GetActionLog(w http.ResponseWriter, r *http.Request) {
	actions, err := h.service.ActionLog(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "get action log", err)
		return
	}
	h.writeSuccess(w, actions)
}

// RecordAction records a scorekeeper action
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var in engine.ActionInput
	if !h.decode(w, r, &in) {
		return
	}
	action, err := h.service.RecordAction(r.Context(), chi.URLParam(r, "gameID"), in)
	if err != nil {
		h.writeServiceError(w, r, "record action", err)
		return
	}
	h.writeCreated(w, action)
}

// EditAction rewrites a recorded action
func (h *Handler) EditAction(w http.ResponseWriter, r *http.Request) {
	var edit engine.ActionEdit
	if !h.decode(w, r, &edit) {
		return
	}
	action, err := h.service.EditAction(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "actionID"), edit)
	if err != nil {
		h.writeServiceError(w, r, "edit action", err)
		return
	}
	h.writeSuccess(w, action)
}

// DeleteAction removes a recorded action
func (h *Handler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionID")
	if err := h.service.DeleteAction(r.Context(), chi.URLParam(r, "gameID"), actionID); err != nil {
		h.writeServiceError(w, r, "delete action", err)
		return
	}
	h.writeSuccess(w, map[string]string{"deleted": actionID})
}

// AdjustEventTime handles {"game_time": 123.4}
func (h *Handler) AdjustEventTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameTime *float64 `json:"game_time"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.GameTime == nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: game_time is required", domain.ErrInvalidRequest))
		return
	}
	ev, err := h.service.AdjustEventTime(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "eventID"), *req.GameTime)
	if err != nil {
		h.writeServiceError(w, r, "adjust event time", err)
		return
	}
	h.writeSuccess(w, ev)
}

// SaveGame merges the live game into the durable store
func (h *Handler) SaveGame(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SaveGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "save game", err)
		return
	}
	h.writeSuccess(w, res)
}

// OpenGame loads a durable game into the live set
func (h *Handler) OpenGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.service.OpenGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.writeServiceError(w, r, "open game", err)
		return
	}
	h.writeSuccess(w, game)
}
