package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/stats"
)

// PlayerSpec identifies a player joining a side's lineup. An empty ID mints a new one.
type PlayerSpec struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	CapNumber int    `json:"cap_number"`
	IsGoalie  bool   `json:"is_goalie"`
}

// AddPlayer opens a roster entry for a player on side
func (e *Engine) AddPlayer(side domain.Side, p PlayerSpec, at time.Time) (domain.GameRosterEntry, error) {
	if !side.Valid() {
		return domain.GameRosterEntry{}, fmt.Errorf("%w: side %q", domain.ErrInvalidRequest, side)
	}
	if p.CapNumber <= 0 {
		return domain.GameRosterEntry{}, fmt.Errorf("%w: cap number must be positive", domain.ErrInvalidRequest)
	}
	if e.s.Status == domain.StatusCompleted {
		return domain.GameRosterEntry{}, domain.NewTransitionError("add player", e.s.Status, "game is over")
	}
	if p.ID == "" {
		p.ID = e.newID()
	}
	if stats.FindPlayer(e.s.Team(side.Opponent()), p.ID) != nil {
		return domain.GameRosterEntry{}, fmt.Errorf("%w: player %s plays for the %s side", domain.ErrInvalidRequest, p.ID, side.Opponent())
	}
	if _, ok := e.activeIndex(p.ID); ok {
		return domain.GameRosterEntry{}, fmt.Errorf("add player %s: %w", p.ID, domain.ErrPlayerAlreadyActive)
	}
	if err := e.checkCapFree(side, p.CapNumber, p.ID); err != nil {
		return domain.GameRosterEntry{}, err
	}
	if at.IsZero() {
		at = e.now()
	}

	entry := domain.GameRosterEntry{
		ID:          e.newID(),
		PlayerID:    p.ID,
		CapNumber:   p.CapNumber,
		IsGoalie:    p.IsGoalie,
		IsHomeTeam:  side == domain.SideHome,
		RosterOrder: e.maxRosterOrder(p.ID) + 1,
		IsActive:    true,
		EnteredAt:   at,
	}
	e.s.Roster = append(e.s.Roster, entry)

	team := e.s.Team(side)
	if gp := stats.FindPlayer(team, p.ID); gp != nil {
		gp.CapNumber = p.CapNumber
		gp.IsGoalie = p.IsGoalie
		gp.InGame = true
		if p.Name != "" {
			gp.Name = p.Name
		}
	} else {
		team.Players = append(team.Players, domain.GamePlayer{
			ID:        p.ID,
			CapNumber: p.CapNumber,
			Name:      p.Name,
			InGame:    true,
			IsGoalie:  p.IsGoalie,
		})
	}
	e.touch()
	return entry, nil
}

// RemovePlayer closes the player's active roster entry. Counters are kept.
func (e *Engine) RemovePlayer(playerID string, at time.Time) (domain.GameRosterEntry, error) {
	i, ok := e.activeIndex(playerID)
	if !ok {
		return domain.GameRosterEntry{}, fmt.Errorf("remove player %s: %w", playerID, domain.ErrPlayerNotActive)
	}
	if at.IsZero() {
		at = e.now()
	}
	entry := e.closeEntry(i, at)
	if gp := stats.FindPlayer(e.s.Team(entry.Side()), playerID); gp != nil {
		gp.InGame = false
	}
	e.touch()
	return entry, nil
}

// ApplyCapSwap closes the player's active entry at time at and opens a new one
// with the next roster order.
func (e *Engine) ApplyCapSwap(playerID string, newCap int, isGoalie bool, at time.Time) (domain.GameRosterEntry, error) {
	if newCap <= 0 {
		return domain.GameRosterEntry{}, fmt.Errorf("%w: cap number must be positive", domain.ErrInvalidRequest)
	}
	if e.s.Status == domain.StatusCompleted {
		return domain.GameRosterEntry{}, domain.NewTransitionError("cap swap", e.s.Status, "game is over")
	}
	i, ok := e.activeIndex(playerID)
	if !ok {
		return domain.GameRosterEntry{}, fmt.Errorf("cap swap for %s: %w", playerID, domain.ErrPlayerNotActive)
	}
	side := e.s.Roster[i].Side()
	if err := e.checkCapFree(side, newCap, playerID); err != nil {
		return domain.GameRosterEntry{}, err
	}
	if at.IsZero() {
		at = e.now()
	}

	e.closeEntry(i, at)
	entry := domain.GameRosterEntry{
		ID:          e.newID(),
		PlayerID:    playerID,
		CapNumber:   newCap,
		IsGoalie:    isGoalie,
		IsHomeTeam:  side == domain.SideHome,
		RosterOrder: e.maxRosterOrder(playerID) + 1,
		IsActive:    true,
		EnteredAt:   at,
	}
	e.s.Roster = append(e.s.Roster, entry)

	if gp := stats.FindPlayer(e.s.Team(side), playerID); gp != nil {
		gp.CapNumber = newCap
		gp.IsGoalie = isGoalie
		gp.InGame = true
	}
	e.touch()
	return entry, nil
}

// ActiveRoster returns the side's active entries ordered by roster order
func (e *Engine) ActiveRoster(side domain.Side) []domain.GameRosterEntry {
	return ActiveRoster(e.s.Roster, side)
}

// HistoryOf returns every entry for the player ordered by roster order
func (e *Engine) HistoryOf(playerID string) []domain.GameRosterEntry {
	return HistoryOf(e.s.Roster, playerID)
}

// CurrentEntry returns the player's entry with the highest roster order
func (e *Engine) CurrentEntry(playerID string) (domain.GameRosterEntry, bool) {
	h := HistoryOf(e.s.Roster, playerID)
	if len(h) == 0 {
		return domain.GameRosterEntry{}, false
	}
	return h[len(h)-1], true
}

func (e *Engine) activeIndex(playerID string) (int, bool) {
	for i, r := range e.s.Roster {
		if r.PlayerID == playerID && r.IsActive {
			return i, true
		}
	}
	return -1, false
}

func (e *Engine) maxRosterOrder(playerID string) int {
	highest := 0
	for _, r := range e.s.Roster {
		if r.PlayerID == playerID && r.RosterOrder > highest {
			highest = r.RosterOrder
		}
	}
	return highest
}

func (e *Engine) checkCapFree(side domain.Side, capNumber int, playerID string) error {
	for _, r := range e.s.Roster {
		if r.IsActive && r.Side() == side && r.CapNumber == capNumber && r.PlayerID != playerID {
			return fmt.Errorf("cap %d on %s side: %w", capNumber, side, domain.ErrCapNumberInUse)
		}
	}
	return nil
}

func (e *Engine) closeEntry(i int, at time.Time) domain.GameRosterEntry {
	exited := at
	e.s.Roster[i].IsActive = false
	e.s.Roster[i].ExitedAt = &exited
	return e.s.Roster[i]
}

// ActiveRoster filters entries to the active ones on side, ordered by roster order
func ActiveRoster(entries []domain.GameRosterEntry, side domain.Side) []domain.GameRosterEntry {
	var out []domain.GameRosterEntry
	for _, r := range entries {
		if r.IsActive && r.Side() == side {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.GameRosterEntry) int {
		return a.RosterOrder - b.RosterOrder
	})
	return out
}

// HistoryOf filters entries to one player, ordered by roster order
func HistoryOf(entries []domain.GameRosterEntry, playerID string) []domain.GameRosterEntry {
	var out []domain.GameRosterEntry
	for _, r := range entries {
		if r.PlayerID == playerID {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.GameRosterEntry) int {
		return a.RosterOrder - b.RosterOrder
	})
	return out
}

// LatestByPlayer keeps the highest roster order entry per player, in first-seen order
func LatestByPlayer(entries []domain.GameRosterEntry) []domain.GameRosterEntry {
	idx := make(map[string]int)
	var out []domain.GameRosterEntry
	for _, r := range entries {
		i, ok := idx[r.PlayerID]
		if !ok {
			idx[r.PlayerID] = len(out)
			out = append(out, r)
			continue
		}
		if r.RosterOrder > out[i].RosterOrder {
			out[i] = r
		}
	}
	return out
}

// CapHolderAt returns the player wearing capNumber on side at instant t. An entry
// covers [EnteredAt, ExitedAt).
func CapHolderAt(entries []domain.GameRosterEntry, side domain.Side, capNumber int, t time.Time) (string, bool) {
	for _, r := range entries {
		if r.Side() != side || r.CapNumber != capNumber || t.Before(r.EnteredAt) {
			continue
		}
		if r.ExitedAt == nil || t.Before(*r.ExitedAt) {
			return r.PlayerID, true
		}
	}
	return "", false
}
