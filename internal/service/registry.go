package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/reconcile"
	"github.com/waterpolo-stats/internal/stats"
)

// CreateTeamRequest describes a durable team
type CreateTeamRequest struct {
	Name  string           `json:"name"`
	Level domain.GameLevel `json:"level,omitempty"`
}

// CreateTeam registers a team games can reference
func (s *GameService) CreateTeam(ctx context.Context, req CreateTeamRequest) (*domain.TeamRecord, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	if req.Level != "" && !req.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown level %q", domain.ErrInvalidRequest, req.Level)
	}
	team := &domain.TeamRecord{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Level:     req.Level,
		CreatedAt: s.now(),
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		return tx.CreateTeam(ctx, team)
	})
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}
	return team, nil
}

// CreateSeasonRequest describes a durable season
type CreateSeasonRequest struct {
	Year   int    `json:"year"`
	TeamID string `json:"team_id,omitempty"`
}

// CreateSeason registers a season starting Aug 1 of Year
func (s *GameService) CreateSeason(ctx context.Context, req CreateSeasonRequest) (*domain.SeasonRecord, error) {
	if req.Year < 1900 || req.Year > 9999 {
		return nil, fmt.Errorf("%w: year %d", domain.ErrInvalidRequest, req.Year)
	}
	season := &domain.SeasonRecord{
		ID:        uuid.New().String(),
		Year:      req.Year,
		TeamID:    req.TeamID,
		CreatedAt: s.now(),
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		if req.TeamID != "" {
			if _, err := tx.GetTeam(ctx, req.TeamID); err != nil {
				return err
			}
		}
		return tx.CreateSeason(ctx, season)
	})
	if err != nil {
		return nil, fmt.Errorf("creating season: %w", err)
	}
	return season, nil
}

// CreatePlayerRequest describes a durable player
type CreatePlayerRequest struct {
	Name      string `json:"name"`
	CapNumber int    `json:"cap_number,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
}

// CreatePlayer registers a player whose id can be used when adding to a roster
func (s *GameService) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (*domain.PlayerRecord, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	if req.CapNumber < 0 {
		return nil, fmt.Errorf("%w: cap number must not be negative", domain.ErrInvalidRequest)
	}
	now := s.now()
	player := &domain.PlayerRecord{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CapNumber: req.CapNumber,
		TeamID:    req.TeamID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		return tx.CreatePlayer(ctx, player)
	})
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return player, nil
}

// Career returns a player's durable totals by season
func (s *GameService) Career(ctx context.Context, playerID string) (stats.Career, error) {
	return s.reconciler.Career(ctx, playerID)
}
