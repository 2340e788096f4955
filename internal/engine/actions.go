package engine

import (
	"fmt"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/stats"
)

// ActionInput describes an action as entered by the scorekeeper. Players are
// identified by cap number on the relevant side.
type ActionInput struct {
	Type                  domain.ActionType `json:"type"`
	Side                  domain.Side       `json:"side"`
	PlayerNumber          *int              `json:"player_number,omitempty"`
	SecondaryPlayerNumber *int              `json:"secondary_player_number,omitempty"`
	IsFiveMeterShot       bool              `json:"is_five_meter_shot,omitempty"`
	IsPenaltyFoul         bool              `json:"is_penalty_foul,omitempty"`
}

// RecordAction appends an action, applies its stat effects and records the
// events it implies. Nothing is mutated when validation fails.
func (e *Engine) RecordAction(in ActionInput) (domain.GameActionRecord, error) {
	switch e.s.Status {
	case domain.StatusReady:
		return domain.GameActionRecord{}, domain.NewTransitionError("record "+string(in.Type), e.s.Status, "game has not started")
	case domain.StatusCompleted:
		return domain.GameActionRecord{}, domain.NewTransitionError("record "+string(in.Type), e.s.Status, "game is over")
	}

	primary, secondary, err := e.resolveAction(in, true)
	if err != nil {
		return domain.GameActionRecord{}, err
	}
	team := e.s.Team(in.Side)
	if in.Type == domain.ActionTimeout && team.TimeoutsRemaining <= 0 {
		return domain.GameActionRecord{}, fmt.Errorf("%s timeout: %w", in.Side, domain.ErrNoTimeoutsRemaining)
	}

	a := domain.GameActionRecord{
		ID:              e.newID(),
		Timestamp:       e.now(),
		Period:          e.s.Period,
		GameTime:        e.gameTime(),
		Type:            in.Type,
		Side:            in.Side,
		IsFiveMeterShot: in.IsFiveMeterShot,
		IsPenaltyFoul:   in.IsPenaltyFoul,
	}
	setActionPlayers(&a, primary, secondary)
	e.s.Actions = append(e.s.Actions, a)
	e.appendEvents(e.derive(a, primary, secondary, true)...)

	rule := stats.RuleFor(in.Type)
	if rule.Scores {
		team.Score++
	}

	switch in.Type {
	case domain.ActionGoal:
		e.s.ShotClock = e.s.ShotClockLength
		e.pause()
	case domain.ActionPenalty:
		e.s.ShotClock = e.s.ShotClockLength
		e.pause()
	case domain.ActionExclusion:
		e.s.ShotClock = e.s.ShotClockLength
	case domain.ActionTimeout:
		team.TimeoutsRemaining--
		e.pause()
	}
	e.touch()
	return a.Clone(), nil
}

// resolveAction validates in and finds the players it names. With live set,
// only players currently in the game are accepted.
func (e *Engine) resolveAction(in ActionInput, live bool) (*domain.GamePlayer, *domain.GamePlayer, error) {
	if !in.Type.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown action type %q", domain.ErrInvalidRequest, in.Type)
	}
	if !in.Side.Valid() {
		return nil, nil, fmt.Errorf("%w: side %q", domain.ErrInvalidRequest, in.Side)
	}
	rule := stats.RuleFor(in.Type)

	var primary, secondary *domain.GamePlayer
	if in.Type.RequiresPlayer() {
		if in.PlayerNumber == nil {
			return nil, nil, fmt.Errorf("%w: %s requires a player", domain.ErrInvalidRequest, in.Type)
		}
		p, err := e.playerByCap(in.Side, *in.PlayerNumber, live)
		if err != nil {
			return nil, nil, err
		}
		primary = p
	}
	if in.SecondaryPlayerNumber != nil {
		if rule.Secondary == stats.CounterNone {
			return nil, nil, fmt.Errorf("%w: %s takes no secondary player", domain.ErrInvalidRequest, in.Type)
		}
		p, err := e.playerByCap(rule.SecondarySide(in.Side), *in.SecondaryPlayerNumber, live)
		if err != nil {
			return nil, nil, err
		}
		if primary != nil && p.ID == primary.ID {
			return nil, nil, fmt.Errorf("%w: secondary player must differ from primary", domain.ErrInvalidRequest)
		}
		secondary = p
	}
	return primary, secondary, nil
}

func (e *Engine) playerByCap(side domain.Side, capNumber int, live bool) (*domain.GamePlayer, error) {
	team := e.s.Team(side)
	var fallback *domain.GamePlayer
	for i := range team.Players {
		p := &team.Players[i]
		if p.CapNumber != capNumber {
			continue
		}
		if p.InGame {
			return p, nil
		}
		if !live && fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("cap %d on %s side: %w", capNumber, side, domain.ErrUnknownPlayer)
}

func setActionPlayers(a *domain.GameActionRecord, primary, secondary *domain.GamePlayer) {
	a.PlayerNumber, a.PlayerID = nil, ""
	a.SecondaryPlayerNumber, a.SecondaryPlayerID = nil, ""
	if primary != nil {
		a.PlayerNumber = domain.IntPtr(primary.CapNumber)
		a.PlayerID = primary.ID
	}
	if secondary != nil {
		a.SecondaryPlayerNumber = domain.IntPtr(secondary.CapNumber)
		a.SecondaryPlayerID = secondary.ID
	}
}

// derive builds the events implied by a. With apply set, counters are
// incremented and a foul-out event follows the event that crossed the threshold.
func (e *Engine) derive(a domain.GameActionRecord, primary, secondary *domain.GamePlayer, apply bool) []domain.GameEventRecord {
	rule := stats.RuleFor(a.Type)
	var out []domain.GameEventRecord

	emit := func(t domain.EventType, side domain.Side, p *domain.GamePlayer, c stats.Counter) {
		if t != "" {
			out = append(out, e.actionEvent(a, t, side, p))
		}
		if apply && p != nil && stats.Apply(p, c) {
			out = append(out, e.actionEvent(a, domain.EventFoulOut, side, p))
		}
	}

	emit(rule.PrimaryEvent, a.Side, primary, rule.Primary)
	if secondary != nil {
		emit(rule.SecondaryEvent, rule.SecondarySide(a.Side), secondary, rule.Secondary)
	}
	return out
}

// actionEvent builds an event carrying the action's period and game time
func (e *Engine) actionEvent(a domain.GameActionRecord, t domain.EventType, side domain.Side, p *domain.GamePlayer) domain.GameEventRecord {
	ev := domain.GameEventRecord{
		ID:        e.newID(),
		Timestamp: a.Timestamp,
		Period:    a.Period,
		GameTime:  a.GameTime,
		Type:      t,
		Side:      side,
		ActionID:  a.ID,
	}
	if p != nil {
		ev.PlayerNumber = domain.IntPtr(p.CapNumber)
		ev.PlayerID = p.ID
	}
	return ev
}

// ScoreGoal records a goal by capNumber, optionally assisted by assistCap
func (e *Engine) ScoreGoal(side domain.Side, capNumber int, assistCap *int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionGoal, Side: side, PlayerNumber: &capNumber, SecondaryPlayerNumber: assistCap})
}

// RecordAssist credits an assist on its own
func (e *Engine) RecordAssist(side domain.Side, capNumber int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionAssist, Side: side, PlayerNumber: &capNumber})
}

// RecordExclusion charges an exclusion, optionally naming the opposing player who drew it
func (e *Engine) RecordExclusion(side domain.Side, capNumber int, drawnBy *int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionExclusion, Side: side, PlayerNumber: &capNumber, SecondaryPlayerNumber: drawnBy})
}

// RecordExclusionDrawn credits a drawn exclusion
func (e *Engine) RecordExclusionDrawn(side domain.Side, capNumber int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionExclusionDrawn, Side: side, PlayerNumber: &capNumber})
}

// RecordPenalty charges a penalty foul, optionally naming the opposing player who drew it
func (e *Engine) RecordPenalty(side domain.Side, capNumber int, drawnBy *int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionPenalty, Side: side, PlayerNumber: &capNumber, SecondaryPlayerNumber: drawnBy, IsPenaltyFoul: true})
}

// RecordPenaltyDrawn credits a drawn penalty
func (e *Engine) RecordPenaltyDrawn(side domain.Side, capNumber int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionPenaltyDrawn, Side: side, PlayerNumber: &capNumber})
}

// RecordSteal credits a steal
func (e *Engine) RecordSteal(side domain.Side, capNumber int) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionSteal, Side: side, PlayerNumber: &capNumber})
}

// RecordShot records a shot attempt
func (e *Engine) RecordShot(side domain.Side, capNumber int, fiveMeter bool) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionShot, Side: side, PlayerNumber: &capNumber, IsFiveMeterShot: fiveMeter})
}

// RecordSprint records the outcome of a period-opening sprint
func (e *Engine) RecordSprint(side domain.Side, capNumber int, won bool) (domain.GameActionRecord, error) {
	t := domain.ActionSprintLost
	if won {
		t = domain.ActionSprintWon
	}
	return e.RecordAction(ActionInput{Type: t, Side: side, PlayerNumber: &capNumber})
}

// CallTimeout spends one of the side's timeouts and stops the clock
func (e *Engine) CallTimeout(side domain.Side) (domain.GameActionRecord, error) {
	return e.RecordAction(ActionInput{Type: domain.ActionTimeout, Side: side})
}
