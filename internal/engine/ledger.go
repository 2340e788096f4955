package engine

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/stats"
)

// ActionEdit replaces the editable fields of a recorded action. Nil timing
// fields keep the recorded values.
type ActionEdit struct {
	ActionInput
	Period   *int     `json:"period,omitempty"`
	GameTime *float64 `json:"game_time,omitempty"`
}

// AdjustEventTime replaces an event with a copy carrying newGameTime. The id
// and every other field are preserved and scores are untouched.
func (e *Engine) AdjustEventTime(eventID string, newGameTime float64) (domain.GameEventRecord, error) {
	if newGameTime < 0 || math.IsNaN(newGameTime) || math.IsInf(newGameTime, 0) {
		return domain.GameEventRecord{}, fmt.Errorf("%w: game time must be a finite non-negative number", domain.ErrInvalidRequest)
	}
	i := slices.IndexFunc(e.s.Events, func(ev domain.GameEventRecord) bool { return ev.ID == eventID })
	if i < 0 {
		return domain.GameEventRecord{}, fmt.Errorf("adjust event %s: %w", eventID, domain.ErrEventNotFound)
	}
	adjusted := e.s.Events[i].Clone()
	adjusted.GameTime = newGameTime
	e.s.Events[i] = adjusted
	e.touch()
	return adjusted.Clone(), nil
}

// EditAction rewrites an action in place. Events produced by the old version
// are replaced at the same ledger position and all counters, scores and
// timeouts are recomputed from the ledgers.
func (e *Engine) EditAction(actionID string, edit ActionEdit) (domain.GameActionRecord, error) {
	ai := e.actionIndex(actionID)
	if ai < 0 {
		return domain.GameActionRecord{}, fmt.Errorf("edit action %s: %w", actionID, domain.ErrActionNotFound)
	}
	primary, secondary, err := e.resolveAction(edit.ActionInput, false)
	if err != nil {
		return domain.GameActionRecord{}, err
	}
	if edit.Period != nil && (*edit.Period < 1 || *edit.Period > e.s.Period) {
		return domain.GameActionRecord{}, fmt.Errorf("%w: period %d", domain.ErrInvalidRequest, *edit.Period)
	}
	if edit.GameTime != nil && (*edit.GameTime < 0 || math.IsNaN(*edit.GameTime)) {
		return domain.GameActionRecord{}, fmt.Errorf("%w: game time must be non-negative", domain.ErrInvalidRequest)
	}

	old := e.s.Actions[ai]
	if edit.Type == domain.ActionTimeout && (old.Type != domain.ActionTimeout || old.Side != edit.Side) {
		if e.timeoutsUsed(edit.Side) >= e.s.MaxTimeoutsPerTeam {
			return domain.GameActionRecord{}, fmt.Errorf("%s timeout: %w", edit.Side, domain.ErrNoTimeoutsRemaining)
		}
	}

	updated := old
	updated.Type = edit.Type
	updated.Side = edit.Side
	updated.IsFiveMeterShot = edit.IsFiveMeterShot
	updated.IsPenaltyFoul = edit.IsPenaltyFoul
	if edit.Period != nil {
		updated.Period = *edit.Period
	}
	if edit.GameTime != nil {
		updated.GameTime = *edit.GameTime
	}
	setActionPlayers(&updated, primary, secondary)
	e.s.Actions[ai] = updated

	pos := e.retractEvents(actionID)
	derived := e.derive(updated, primary, secondary, false)
	e.s.Events = slices.Insert(e.s.Events, pos, derived...)
	for _, ev := range derived {
		e.pending = append(e.pending, ev.Clone())
	}

	e.recompute()
	return updated.Clone(), nil
}

// DeleteAction removes an action together with the events it produced and
// recomputes counters, scores and timeouts.
func (e *Engine) DeleteAction(actionID string) error {
	ai := e.actionIndex(actionID)
	if ai < 0 {
		return fmt.Errorf("delete action %s: %w", actionID, domain.ErrActionNotFound)
	}
	e.s.Actions = slices.Delete(e.s.Actions, ai, ai+1)
	e.retractEvents(actionID)
	e.recompute()
	return nil
}

func (e *Engine) actionIndex(actionID string) int {
	return slices.IndexFunc(e.s.Actions, func(a domain.GameActionRecord) bool { return a.ID == actionID })
}

func (e *Engine) timeoutsUsed(side domain.Side) int {
	n := 0
	for _, a := range e.s.Actions {
		if a.Type == domain.ActionTimeout && a.Side == side {
			n++
		}
	}
	return n
}

// retractEvents drops every event linked to actionID and returns the index the
// first of them occupied, or the ledger length when there were none.
func (e *Engine) retractEvents(actionID string) int {
	pos := slices.IndexFunc(e.s.Events, func(ev domain.GameEventRecord) bool { return ev.ActionID == actionID })
	if pos < 0 {
		return len(e.s.Events)
	}
	e.s.Events = slices.DeleteFunc(e.s.Events, func(ev domain.GameEventRecord) bool { return ev.ActionID == actionID })
	return pos
}

// recompute rebuilds the caches derived from the ledgers after an edit or delete
func (e *Engine) recompute() {
	stats.ReplayCounters(e.s)
	e.s.Home.Score = stats.ScoreFromEvents(e.s.Events, domain.SideHome)
	e.s.Away.Score = stats.ScoreFromEvents(e.s.Events, domain.SideAway)
	e.s.Home.TimeoutsRemaining = max(0, e.s.MaxTimeoutsPerTeam-e.timeoutsUsed(domain.SideHome))
	e.s.Away.TimeoutsRemaining = max(0, e.s.MaxTimeoutsPerTeam-e.timeoutsUsed(domain.SideAway))
	e.syncFoulOuts(domain.SideHome)
	e.syncFoulOuts(domain.SideAway)
	e.touch()
}

// syncFoulOuts keeps exactly one foul-out event per fouled-out player
func (e *Engine) syncFoulOuts(side domain.Side) {
	team := e.s.Team(side)
	for i := range team.Players {
		p := &team.Players[i]
		has := stats.CountEvents(e.s.Events, domain.EventFoulOut, p.ID) > 0
		switch {
		case p.FouledOut && !has:
			e.appendEvents(e.newEvent(domain.EventFoulOut, side, p))
		case !p.FouledOut && has:
			id := p.ID
			e.s.Events = slices.DeleteFunc(e.s.Events, func(ev domain.GameEventRecord) bool {
				return ev.Type == domain.EventFoulOut && ev.PlayerID == id
			})
		}
	}
}

// GameLog returns events newest first by period and game time
func (e *Engine) GameLog() []domain.GameEventRecord {
	return sortedLog(e.s.Events, func(ev domain.GameEventRecord) bool { return true })
}

// PlayerGameLog returns the events recorded for a cap number on side, newest first
func (e *Engine) PlayerGameLog(side domain.Side, capNumber int) []domain.GameEventRecord {
	return sortedLog(e.s.Events, func(ev domain.GameEventRecord) bool {
		return ev.Side == side && ev.PlayerNumber != nil && *ev.PlayerNumber == capNumber
	})
}

// ActionLog returns actions newest first by period and game time
func (e *Engine) ActionLog() []domain.GameActionRecord {
	out := make([]domain.GameActionRecord, 0, len(e.s.Actions))
	for _, a := range e.s.Actions {
		out = append(out, a.Clone())
	}
	slices.SortStableFunc(out, func(a, b domain.GameActionRecord) int {
		if c := cmp.Compare(b.Period, a.Period); c != 0 {
			return c
		}
		return cmp.Compare(b.GameTime, a.GameTime)
	})
	return out
}

func sortedLog(events []domain.GameEventRecord, keep func(domain.GameEventRecord) bool) []domain.GameEventRecord {
	var out []domain.GameEventRecord
	for _, ev := range events {
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b domain.GameEventRecord) int {
		if c := cmp.Compare(b.Period, a.Period); c != 0 {
			return c
		}
		return cmp.Compare(b.GameTime, a.GameTime)
	})
	return out
}
