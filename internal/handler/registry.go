package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waterpolo-stats/internal/service"
)

// CreateTeam registers a team
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTeamRequest
	if !h.decode(w, r, &req) {
		return
	}
	team, err := h.service.CreateTeam(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "create team", err)
		return
	}
	h.writeCreated(w, team)
}

// CreateSeason registers a season
func (h *Handler) CreateSeason(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSeasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	season, err := h.service.CreateSeason(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "create season", err)
		return
	}
	h.writeCreated(w, map[string]any{
		"season": season,
		"label":  season.Label(),
	})
}

// CreatePlayer registers a player
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePlayerRequest
	if !h.decode(w, r, &req) {
		return
	}
	player, err := h.service.CreatePlayer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "create player", err)
		return
	}
	h.writeCreated(w, player)
}

// GetCareer returns a player's totals by season
func (h *Handler) GetCareer(w http.ResponseWriter, r *http.Request) {
	career, err := h.service.Career(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, r, "get career", err)
		return
	}
	h.writeSuccess(w, career)
}
