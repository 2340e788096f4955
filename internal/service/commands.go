package service

import (
	"context"
	"fmt"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
)

// ApplyCommand runs a command from the commands feed through the same
// operations the HTTP API uses.
func (s *GameService) ApplyCommand(ctx context.Context, cmd domain.Command) error {
	var err error
	switch cmd.Command {
	case domain.CommandStart:
		_, err = s.Start(ctx, cmd.GameID)
	case domain.CommandPause:
		_, err = s.Pause(ctx, cmd.GameID)
	case domain.CommandResume:
		_, err = s.Resume(ctx, cmd.GameID)
	case domain.CommandEndPeriod:
		_, err = s.EndPeriod(ctx, cmd.GameID)
	case domain.CommandNextPeriod:
		_, err = s.StartNextPeriod(ctx, cmd.GameID)
	case domain.CommandEndGame:
		_, err = s.EndGame(ctx, cmd.GameID)
	case domain.CommandResetShotClock:
		_, err = s.ResetShotClock(ctx, cmd.GameID)
	case domain.CommandPossession:
		_, err = s.SetPossession(ctx, cmd.GameID, cmd.Side)
	case domain.CommandAdjustClock:
		_, err = s.AdjustGameClock(ctx, cmd.GameID, cmd.Delta)
	case domain.CommandAction:
		_, err = s.RecordAction(ctx, cmd.GameID, engine.ActionInput{
			Type:                  cmd.ActionType,
			Side:                  cmd.Side,
			PlayerNumber:          cmd.PlayerNumber,
			SecondaryPlayerNumber: cmd.SecondaryPlayerNumber,
			IsFiveMeterShot:       cmd.IsFiveMeterShot,
			IsPenaltyFoul:         cmd.IsPenaltyFoul,
		})
	case domain.CommandAddPlayer:
		_, err = s.AddPlayer(ctx, cmd.GameID, cmd.Side, engine.PlayerSpec{
			ID:        cmd.PlayerID,
			Name:      cmd.PlayerName,
			CapNumber: cmd.CapNumber,
			IsGoalie:  cmd.IsGoalie,
		})
	case domain.CommandRemovePlayer:
		_, err = s.RemovePlayer(ctx, cmd.GameID, cmd.PlayerID)
	case domain.CommandCapSwap:
		_, err = s.CapSwap(ctx, cmd.GameID, cmd.PlayerID, cmd.CapNumber, cmd.IsGoalie)
	case domain.CommandSave:
		_, err = s.SaveGame(ctx, cmd.GameID)
	default:
		return fmt.Errorf("%w: unknown command %q", domain.ErrInvalidRequest, cmd.Command)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Command, cmd.GameID, err)
	}
	return nil
}
