// Package engine implements the live game session: clock and period state,
// the roster ledger, and the event and action ledgers.
//
// An Engine is not safe for concurrent use. Callers that share one across
// goroutines must serialize access to it.
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/waterpolo-stats/internal/domain"
)

// Engine mutates a single GameSession
type Engine struct {
	s       *domain.GameSession
	now     func() time.Time
	newID   func() string
	anchor  time.Time
	pending []domain.GameEventRecord
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the wall clock used for timestamps and tick anchoring
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides how event, action and roster ids are minted
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// New wraps s. The engine takes ownership of s.
func New(s *domain.GameSession, opts ...Option) *Engine {
	e := &Engine{
		s:     s,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if s.ID == "" {
		s.ID = e.newID()
	}
	if s.Period < 1 {
		s.Period = 1
	}
	return e
}

// ID returns the session id
func (e *Engine) ID() string {
	return e.s.ID
}

// Session returns the live session. Callers must treat it as read-only.
func (e *Engine) Session() *domain.GameSession {
	return e.s
}

// Snapshot returns a deep copy of the session
func (e *Engine) Snapshot() *domain.GameSession {
	return e.s.Clone()
}

// DrainEvents returns events appended since the last call
func (e *Engine) DrainEvents() []domain.GameEventRecord {
	out := e.pending
	e.pending = nil
	return out
}

// gameTime is the elapsed time into the current period
func (e *Engine) gameTime() float64 {
	t := e.s.CurrentPeriodLength() - e.s.GameClock
	if t < 0 {
		return 0
	}
	return t
}

func (e *Engine) touch() {
	e.s.UpdatedAt = e.now()
}

// newEvent builds an event stamped with the current period and game time
func (e *Engine) newEvent(t domain.EventType, side domain.Side, player *domain.GamePlayer) domain.GameEventRecord {
	ev := domain.GameEventRecord{
		ID:        e.newID(),
		Timestamp: e.now(),
		Period:    e.s.Period,
		GameTime:  e.gameTime(),
		Type:      t,
		Side:      side,
	}
	if player != nil {
		ev.PlayerNumber = domain.IntPtr(player.CapNumber)
		ev.PlayerID = player.ID
	}
	return ev
}

// appendEvents adds events to the ledger and the outbox
func (e *Engine) appendEvents(evs ...domain.GameEventRecord) {
	for _, ev := range evs {
		e.s.Events = append(e.s.Events, ev)
		e.pending = append(e.pending, ev.Clone())
	}
	e.touch()
}

func (e *Engine) recordEvent(t domain.EventType, side domain.Side, player *domain.GamePlayer) domain.GameEventRecord {
	ev := e.newEvent(t, side, player)
	e.appendEvents(ev)
	return ev
}
