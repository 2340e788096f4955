package service

import (
	"context"
	"fmt"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
	"github.com/waterpolo-stats/internal/stats"
)

func (s *GameService) clockOp(ctx context.Context, gameID string, fn func(e *engine.Engine) error) (domain.Scoreboard, error) {
	snap, err := s.mutate(ctx, gameID, fn)
	if err != nil {
		return domain.Scoreboard{}, err
	}
	return snap.Scoreboard(), nil
}

// Start begins the game
func (s *GameService) Start(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, (*engine.Engine).Start)
}

// Pause stops the clock
func (s *GameService) Pause(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, (*engine.Engine).Pause)
}

// Resume restarts the clock
func (s *GameService) Resume(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, (*engine.Engine).Resume)
}

// EndPeriod closes the active period
func (s *GameService) EndPeriod(ctx context.Context, gameID string) (domain.PeriodScore, error) {
	var score domain.PeriodScore
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		score, err = e.EndPeriod()
		return err
	})
	return score, err
}

// StartNextPeriod moves to the next period
func (s *GameService) StartNextPeriod(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, (*engine.Engine).StartNextPeriod)
}

// EndGame completes the game
func (s *GameService) EndGame(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	sb, err := s.clockOp(ctx, gameID, (*engine.Engine).EndGame)
	if err == nil {
		s.logger.Info("game ended",
			"game_id", gameID,
			"home_score", sb.HomeScore,
			"away_score", sb.AwayScore,
		)
	}
	return sb, err
}

// ResetShotClock restores the full possession time
func (s *GameService) ResetShotClock(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, (*engine.Engine).ResetShotClock)
}

// SetPossession records which side holds the ball
func (s *GameService) SetPossession(ctx context.Context, gameID string, side domain.Side) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, func(e *engine.Engine) error {
		return e.SetPossession(side)
	})
}

// AdjustGameClock moves the game clock by delta seconds
func (s *GameService) AdjustGameClock(ctx context.Context, gameID string, delta float64) (domain.Scoreboard, error) {
	return s.clockOp(ctx, gameID, func(e *engine.Engine) error {
		return e.AdjustGameClock(delta)
	})
}

// RecordAction records a scorekeeper action
func (s *GameService) RecordAction(ctx context.Context, gameID string, in engine.ActionInput) (domain.GameActionRecord, error) {
	var a domain.GameActionRecord
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		a, err = e.RecordAction(in)
		return err
	})
	if err != nil {
		return domain.GameActionRecord{}, err
	}
	s.recorder.RecordAction(string(a.Type))
	return a, nil
}

// EditAction rewrites a recorded action
func (s *GameService) EditAction(ctx context.Context, gameID, actionID string, edit engine.ActionEdit) (domain.GameActionRecord, error) {
	var a domain.GameActionRecord
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		a, err = e.EditAction(actionID, edit)
		return err
	})
	return a, err
}

// DeleteAction removes a recorded action and the events it produced
func (s *GameService) DeleteAction(ctx context.Context, gameID, actionID string) error {
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		return e.DeleteAction(actionID)
	})
	return err
}

// AdjustEventTime moves an event to a new game time
func (s *GameService) AdjustEventTime(ctx context.Context, gameID, eventID string, gameTime float64) (domain.GameEventRecord, error) {
	var ev domain.GameEventRecord
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		ev, err = e.AdjustEventTime(eventID, gameTime)
		return err
	})
	return ev, err
}

// AddPlayer puts a player into a side's lineup
func (s *GameService) AddPlayer(ctx context.Context, gameID string, side domain.Side, p engine.PlayerSpec) (domain.GameRosterEntry, error) {
	var entry domain.GameRosterEntry
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		entry, err = e.AddPlayer(side, p, s.now())
		return err
	})
	return entry, err
}

// RemovePlayer takes a player out of the game
func (s *GameService) RemovePlayer(ctx context.Context, gameID, playerID string) (domain.GameRosterEntry, error) {
	var entry domain.GameRosterEntry
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		entry, err = e.RemovePlayer(playerID, s.now())
		return err
	})
	return entry, err
}

// CapSwap reassigns a player's cap number and goalie status
func (s *GameService) CapSwap(ctx context.Context, gameID, playerID string, newCap int, isGoalie bool) (domain.GameRosterEntry, error) {
	var entry domain.GameRosterEntry
	_, err := s.mutate(ctx, gameID, func(e *engine.Engine) error {
		var err error
		entry, err = e.ApplyCapSwap(playerID, newCap, isGoalie, s.now())
		return err
	})
	if err == nil {
		s.logger.Debug("cap swapped",
			"game_id", gameID,
			"player_id", playerID,
			"cap_number", newCap,
			"roster_order", entry.RosterOrder,
		)
	}
	return entry, err
}

// Scoreboard returns the current scoreboard
func (s *GameService) Scoreboard(ctx context.Context, gameID string) (domain.Scoreboard, error) {
	var sb domain.Scoreboard
	err := s.view(ctx, gameID, func(e *engine.Engine) {
		sb = e.Session().Scoreboard()
	})
	return sb, err
}

// LogFilter narrows a game log to one cap number on one side
type LogFilter struct {
	Side      domain.Side
	CapNumber int
}

// GameLog returns the events newest first, optionally for one player
func (s *GameService) GameLog(ctx context.Context, gameID string, filter *LogFilter) ([]domain.GameEventRecord, error) {
	if filter != nil && !filter.Side.Valid() {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidRequest, filter.Side)
	}
	var log []domain.GameEventRecord
	err := s.view(ctx, gameID, func(e *engine.Engine) {
		if filter != nil {
			log = e.PlayerGameLog(filter.Side, filter.CapNumber)
			return
		}
		log = e.GameLog()
	})
	return log, err
}

// ActionLog returns the actions newest first
func (s *GameService) ActionLog(ctx context.Context, gameID string) ([]domain.GameActionRecord, error) {
	var log []domain.GameActionRecord
	err := s.view(ctx, gameID, func(e *engine.Engine) {
		log = e.ActionLog()
	})
	return log, err
}

// BoxScore returns player and team totals
func (s *GameService) BoxScore(ctx context.Context, gameID string) (stats.BoxScore, error) {
	var box stats.BoxScore
	err := s.view(ctx, gameID, func(e *engine.Engine) {
		box = stats.Box(e.Session())
	})
	return box, err
}

// ActiveRoster returns a side's current lineup
func (s *GameService) ActiveRoster(ctx context.Context, gameID string, side domain.Side) ([]domain.GameRosterEntry, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidRequest, side)
	}
	var roster []domain.GameRosterEntry
	err := s.view(ctx, gameID, func(e *engine.Engine) {
		roster = e.ActiveRoster(side)
	})
	return roster, err
}

// RosterHistory returns every roster entry of a player in rosterOrder
func (s *GameService) RosterHistory(ctx context.Context, gameID, playerID string) ([]domain.GameRosterEntry, error) {
	var history []domain.GameRosterEntry
	err := s.view(ctx, gameID, func(e *engine.Engine) {
		history = e.HistoryOf(playerID)
	})
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("roster history of %s: %w", playerID, domain.ErrPlayerNotFound)
	}
	return history, nil
}
