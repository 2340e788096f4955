package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/waterpolo-stats/internal/domain"
)

// TickResult reports what a tick changed beyond the clocks themselves
type TickResult struct {
	PeriodEnded      bool                `json:"period_ended"`
	PeriodScore      *domain.PeriodScore `json:"period_score,omitempty"`
	ShotClockExpired bool                `json:"shot_clock_expired"`
}

// Start begins the game from the ready state
func (e *Engine) Start() error {
	if e.s.Status != domain.StatusReady {
		return domain.NewTransitionError("start", e.s.Status, "game has already started")
	}
	now := e.now()
	e.s.Status = domain.StatusInProgress
	e.s.PeriodActive = true
	e.s.StartedAt = &now
	e.anchor = now
	e.recordEvent(domain.EventGameStart, domain.SideOfficial, nil)
	return nil
}

// Pause stops the clock
func (e *Engine) Pause() error {
	if e.s.Status != domain.StatusInProgress {
		return domain.NewTransitionError("pause", e.s.Status, "clock is not running")
	}
	e.pause()
	e.touch()
	return nil
}

func (e *Engine) pause() {
	if e.s.Status == domain.StatusInProgress {
		e.s.Status = domain.StatusPaused
	}
	e.anchor = time.Time{}
}

// Resume restarts the clock and re-anchors elapsed time so paused wall time is not counted
func (e *Engine) Resume() error {
	if e.s.Status != domain.StatusPaused {
		return domain.NewTransitionError("resume", e.s.Status, "game is not paused")
	}
	if !e.s.PeriodActive {
		return domain.NewTransitionError("resume", e.s.Status, "period has ended, start the next period first")
	}
	e.s.Status = domain.StatusInProgress
	e.anchor = e.now()
	e.touch()
	return nil
}

// Tick subtracts elapsed seconds from both clocks. Ticks while the clock is
// stopped are ignored.
func (e *Engine) Tick(elapsed float64) (TickResult, error) {
	var res TickResult
	if elapsed < 0 || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
		return res, fmt.Errorf("%w: elapsed must be a finite non-negative number", domain.ErrInvalidRequest)
	}
	if !e.s.Running() {
		return res, nil
	}

	prevShot := e.s.ShotClock
	e.s.GameClock = math.Max(0, e.s.GameClock-elapsed)
	e.s.ShotClock = math.Max(0, e.s.ShotClock-elapsed)

	if prevShot > 0 && e.s.ShotClock == 0 && e.s.GameClock > 0 {
		ev := e.newEvent(domain.EventShot, e.s.Possession, nil)
		ev.Metadata = map[string]string{domain.MetaType: domain.MetaShotClockViolation}
		e.appendEvents(ev)
		res.ShotClockExpired = true
	}

	if e.s.GameClock == 0 {
		score := e.endPeriod()
		res.PeriodEnded = true
		res.PeriodScore = &score
	}
	return res, nil
}

// Advance feeds the wall time elapsed since the last anchor into Tick. The
// first call after start or resume only sets the anchor.
func (e *Engine) Advance(now time.Time) (TickResult, error) {
	if !e.s.Running() {
		e.anchor = time.Time{}
		return TickResult{}, nil
	}
	if e.anchor.IsZero() || now.Before(e.anchor) {
		e.anchor = now
		return TickResult{}, nil
	}
	elapsed := now.Sub(e.anchor).Seconds()
	e.anchor = now
	return e.Tick(elapsed)
}

// EndPeriod closes the active period and snapshots the score
func (e *Engine) EndPeriod() (domain.PeriodScore, error) {
	if !e.s.Status.Active() {
		return domain.PeriodScore{}, domain.NewTransitionError("end period", e.s.Status, "game is not in progress")
	}
	if !e.s.PeriodActive {
		return domain.PeriodScore{}, domain.NewTransitionError("end period", e.s.Status, "period is not active")
	}
	return e.endPeriod(), nil
}

func (e *Engine) endPeriod() domain.PeriodScore {
	e.s.PeriodActive = false
	e.pause()
	score := domain.PeriodScore{
		Period:    e.s.Period,
		HomeScore: e.s.Home.Score,
		AwayScore: e.s.Away.Score,
	}
	e.s.PeriodScores = append(e.s.PeriodScores, score)
	e.recordEvent(domain.EventPeriodEnd, domain.SideOfficial, nil)
	return score
}

// StartNextPeriod moves to the next period, overtime included. The clock stays
// paused until Resume.
func (e *Engine) StartNextPeriod() error {
	if !e.s.Status.Active() {
		return domain.NewTransitionError("start next period", e.s.Status, "game is not in progress")
	}
	if e.s.PeriodActive {
		return domain.NewTransitionError("start next period", e.s.Status, "current period is still active")
	}
	if e.s.IsLastPeriod() {
		return domain.NewTransitionError("start next period", e.s.Status, "no periods remaining")
	}
	e.s.Period++
	e.s.GameClock = e.s.CurrentPeriodLength()
	e.s.ShotClock = e.s.ShotClockLength
	e.s.PeriodActive = true
	e.recordEvent(domain.EventPeriodStart, domain.SideOfficial, nil)
	return nil
}

// EndGame completes the game from any active state
func (e *Engine) EndGame() error {
	if !e.s.Status.Active() {
		return domain.NewTransitionError("end game", e.s.Status, "game is not in progress")
	}
	now := e.now()
	e.pause()
	e.s.PeriodActive = false
	e.s.Status = domain.StatusCompleted
	e.s.EndedAt = &now
	e.recordEvent(domain.EventGameEnd, domain.SideOfficial, nil)
	return nil
}

// ResetShotClock restores the full possession time
func (e *Engine) ResetShotClock() error {
	if e.s.Status == domain.StatusCompleted {
		return domain.NewTransitionError("reset shot clock", e.s.Status, "game is over")
	}
	e.s.ShotClock = e.s.ShotClockLength
	e.touch()
	return nil
}

// SetPossession records which side holds the ball
func (e *Engine) SetPossession(side domain.Side) error {
	if !side.Valid() {
		return fmt.Errorf("%w: possession side %q", domain.ErrInvalidRequest, side)
	}
	e.s.Possession = side
	e.touch()
	return nil
}

// AdjustGameClock moves the game clock by delta seconds, clamped to the period
func (e *Engine) AdjustGameClock(delta float64) error {
	if !e.s.Status.Active() {
		return domain.NewTransitionError("adjust clock", e.s.Status, "game is not in progress")
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: clock delta must be finite", domain.ErrInvalidRequest)
	}
	e.s.GameClock = math.Min(e.s.CurrentPeriodLength(), math.Max(0, e.s.GameClock+delta))
	e.touch()
	return nil
}
