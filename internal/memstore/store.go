// Package memstore is an in-process entity store. Each transaction works on a
// private copy of the data that replaces the shared copy only on commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/reconcile"
)

// ErrDuplicateKey is returned when a create would violate a unique key
var ErrDuplicateKey = errors.New("duplicate key")

// FaultFunc is consulted before every operation; a non-nil error fails it
type FaultFunc func(op string) error

type state struct {
	games      map[string]domain.GameRecord
	teams      map[string]domain.TeamRecord
	seasons    map[string]domain.SeasonRecord
	players    map[string]domain.PlayerRecord
	roster     map[string]domain.RosterRecord
	rosterKeys map[domain.RosterKey]string
	events     map[string]map[string]domain.EventRecord
	actions    map[string]map[string]domain.ActionRecord
}

func newState() *state {
	return &state{
		games:      make(map[string]domain.GameRecord),
		teams:      make(map[string]domain.TeamRecord),
		seasons:    make(map[string]domain.SeasonRecord),
		players:    make(map[string]domain.PlayerRecord),
		roster:     make(map[string]domain.RosterRecord),
		rosterKeys: make(map[domain.RosterKey]string),
		events:     make(map[string]map[string]domain.EventRecord),
		actions:    make(map[string]map[string]domain.ActionRecord),
	}
}

// clone copies the indexes. Stored records are never mutated in place, so
// sharing them between copies is safe.
func (s *state) clone() *state {
	c := &state{
		games:      maps.Clone(s.games),
		teams:      maps.Clone(s.teams),
		seasons:    maps.Clone(s.seasons),
		players:    maps.Clone(s.players),
		roster:     maps.Clone(s.roster),
		rosterKeys: maps.Clone(s.rosterKeys),
		events:     make(map[string]map[string]domain.EventRecord, len(s.events)),
		actions:    make(map[string]map[string]domain.ActionRecord, len(s.actions)),
	}
	for k, v := range s.events {
		c.events[k] = maps.Clone(v)
	}
	for k, v := range s.actions {
		c.actions[k] = maps.Clone(v)
	}
	return c
}

// Store is a transactional in-memory implementation of reconcile.Store
type Store struct {
	mu    sync.Mutex
	data  *state
	fault FaultFunc
}

var _ reconcile.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{data: newState()}
}

// SetFault installs f to inject failures, or clears it when f is nil
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// InTx runs fn against a private copy and publishes it if fn succeeds.
// Transactions are serialized.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx reconcile.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{data: s.data.clone(), fault: s.fault}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := t.check("commit"); err != nil {
		return err
	}
	s.data = t.data
	return nil
}

type tx struct {
	data  *state
	fault FaultFunc
}

func (t *tx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op)
}

func (t *tx) GetGame(_ context.Context, id string) (*domain.GameRecord, error) {
	if err := t.check("get_game"); err != nil {
		return nil, err
	}
	g, ok := t.data.games[id]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	g = cloneGame(g)
	return &g, nil
}

func (t *tx) CreateGame(_ context.Context, g *domain.GameRecord) error {
	if err := t.check("create_game"); err != nil {
		return err
	}
	if _, ok := t.data.games[g.ID]; ok {
		return fmt.Errorf("game %s: %w", g.ID, ErrDuplicateKey)
	}
	t.data.games[g.ID] = cloneGame(*g)
	return nil
}

func (t *tx) UpdateGame(_ context.Context, g *domain.GameRecord) error {
	if err := t.check("update_game"); err != nil {
		return err
	}
	if _, ok := t.data.games[g.ID]; !ok {
		return domain.ErrGameNotFound
	}
	t.data.games[g.ID] = cloneGame(*g)
	return nil
}

func (t *tx) ListGames(_ context.Context) ([]domain.GameRecord, error) {
	if err := t.check("list_games"); err != nil {
		return nil, err
	}
	out := make([]domain.GameRecord, 0, len(t.data.games))
	for _, g := range t.data.games {
		out = append(out, cloneGame(g))
	}
	slices.SortFunc(out, func(a, b domain.GameRecord) int {
		return b.ScheduledAt.Compare(a.ScheduledAt)
	})
	return out, nil
}

func (t *tx) GetTeam(_ context.Context, id string) (*domain.TeamRecord, error) {
	if err := t.check("get_team"); err != nil {
		return nil, err
	}
	team, ok := t.data.teams[id]
	if !ok {
		return nil, domain.ErrTeamNotFound
	}
	return &team, nil
}

func (t *tx) CreateTeam(_ context.Context, team *domain.TeamRecord) error {
	if err := t.check("create_team"); err != nil {
		return err
	}
	if _, ok := t.data.teams[team.ID]; ok {
		return fmt.Errorf("team %s: %w", team.ID, ErrDuplicateKey)
	}
	t.data.teams[team.ID] = *team
	return nil
}

func (t *tx) GetSeason(_ context.Context, id string) (*domain.SeasonRecord, error) {
	if err := t.check("get_season"); err != nil {
		return nil, err
	}
	season, ok := t.data.seasons[id]
	if !ok {
		return nil, domain.ErrSeasonNotFound
	}
	return &season, nil
}

func (t *tx) CreateSeason(_ context.Context, season *domain.SeasonRecord) error {
	if err := t.check("create_season"); err != nil {
		return err
	}
	if _, ok := t.data.seasons[season.ID]; ok {
		return fmt.Errorf("season %s: %w", season.ID, ErrDuplicateKey)
	}
	t.data.seasons[season.ID] = *season
	return nil
}

func (t *tx) GetPlayer(_ context.Context, id string) (*domain.PlayerRecord, error) {
	if err := t.check("get_player"); err != nil {
		return nil, err
	}
	p, ok := t.data.players[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return &p, nil
}

func (t *tx) CreatePlayer(_ context.Context, p *domain.PlayerRecord) error {
	if err := t.check("create_player"); err != nil {
		return err
	}
	if _, ok := t.data.players[p.ID]; ok {
		return fmt.Errorf("player %s: %w", p.ID, ErrDuplicateKey)
	}
	t.data.players[p.ID] = *p
	return nil
}

func (t *tx) FindRosterEntry(_ context.Context, key domain.RosterKey) (*domain.RosterRecord, error) {
	if err := t.check("find_roster_entry"); err != nil {
		return nil, err
	}
	id, ok := t.data.rosterKeys[key]
	if !ok {
		return nil, fmt.Errorf("roster entry %w", domain.ErrNotFound)
	}
	r := cloneRoster(t.data.roster[id])
	return &r, nil
}

func (t *tx) CreateRosterEntry(_ context.Context, r *domain.RosterRecord) error {
	if err := t.check("create_roster_entry"); err != nil {
		return err
	}
	if _, ok := t.data.rosterKeys[r.Key()]; ok {
		return fmt.Errorf("roster entry %+v: %w", r.Key(), ErrDuplicateKey)
	}
	if _, ok := t.data.roster[r.ID]; ok {
		return fmt.Errorf("roster entry %s: %w", r.ID, ErrDuplicateKey)
	}
	t.data.roster[r.ID] = cloneRoster(*r)
	t.data.rosterKeys[r.Key()] = r.ID
	return nil
}

func (t *tx) UpdateRosterEntry(_ context.Context, r *domain.RosterRecord) error {
	if err := t.check("update_roster_entry"); err != nil {
		return err
	}
	old, ok := t.data.roster[r.ID]
	if !ok {
		return fmt.Errorf("roster entry %w", domain.ErrNotFound)
	}
	if old.Key() != r.Key() {
		return fmt.Errorf("%w: roster natural key is immutable", domain.ErrInvalidRequest)
	}
	t.data.roster[r.ID] = cloneRoster(*r)
	return nil
}

func (t *tx) ListRosterEntries(_ context.Context, gameID string) ([]domain.RosterRecord, error) {
	if err := t.check("list_roster_entries"); err != nil {
		return nil, err
	}
	var out []domain.RosterRecord
	for _, r := range t.data.roster {
		if r.GameID == gameID {
			out = append(out, cloneRoster(r))
		}
	}
	slices.SortFunc(out, compareRoster)
	return out, nil
}

func (t *tx) UpsertEvent(_ context.Context, e *domain.EventRecord) error {
	if err := t.check("upsert_event"); err != nil {
		return err
	}
	byID, ok := t.data.events[e.GameID]
	if !ok {
		byID = make(map[string]domain.EventRecord)
		t.data.events[e.GameID] = byID
	}
	byID[e.SourceEventID] = cloneEvent(*e)
	return nil
}

func (t *tx) DeleteEventsNotIn(_ context.Context, gameID string, keep []string) (int, error) {
	if err := t.check("delete_events"); err != nil {
		return 0, err
	}
	removed := 0
	for id := range t.data.events[gameID] {
		if !slices.Contains(keep, id) {
			delete(t.data.events[gameID], id)
			removed++
		}
	}
	return removed, nil
}

func (t *tx) ListEvents(_ context.Context, gameID string) ([]domain.EventRecord, error) {
	if err := t.check("list_events"); err != nil {
		return nil, err
	}
	out := make([]domain.EventRecord, 0, len(t.data.events[gameID]))
	for _, e := range t.data.events[gameID] {
		out = append(out, cloneEvent(e))
	}
	slices.SortFunc(out, func(a, b domain.EventRecord) int { return a.Seq - b.Seq })
	return out, nil
}

func (t *tx) ListPlayerEvents(_ context.Context, playerID string) ([]domain.PlayerEvent, error) {
	if err := t.check("list_player_events"); err != nil {
		return nil, err
	}
	var out []domain.PlayerEvent
	for gameID, byID := range t.data.events {
		game := t.data.games[gameID]
		for _, e := range byID {
			if e.PlayerID == playerID {
				out = append(out, domain.PlayerEvent{Event: cloneEvent(e), GameDate: game.ScheduledAt})
			}
		}
	}
	return out, nil
}

func (t *tx) UpsertAction(_ context.Context, a *domain.ActionRecord) error {
	if err := t.check("upsert_action"); err != nil {
		return err
	}
	byID, ok := t.data.actions[a.GameID]
	if !ok {
		byID = make(map[string]domain.ActionRecord)
		t.data.actions[a.GameID] = byID
	}
	rec := *a
	rec.Action = a.Action.Clone()
	byID[a.Action.ID] = rec
	return nil
}

func (t *tx) DeleteActionsNotIn(_ context.Context, gameID string, keep []string) (int, error) {
	if err := t.check("delete_actions"); err != nil {
		return 0, err
	}
	removed := 0
	for id := range t.data.actions[gameID] {
		if !slices.Contains(keep, id) {
			delete(t.data.actions[gameID], id)
			removed++
		}
	}
	return removed, nil
}

func (t *tx) ListActions(_ context.Context, gameID string) ([]domain.ActionRecord, error) {
	if err := t.check("list_actions"); err != nil {
		return nil, err
	}
	out := make([]domain.ActionRecord, 0, len(t.data.actions[gameID]))
	for _, a := range t.data.actions[gameID] {
		rec := a
		rec.Action = a.Action.Clone()
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b domain.ActionRecord) int { return a.Seq - b.Seq })
	return out, nil
}

// compareRoster orders home before away, then by entry time, player and roster order
func compareRoster(a, b domain.RosterRecord) int {
	if a.IsHomeTeam != b.IsHomeTeam {
		if a.IsHomeTeam {
			return -1
		}
		return 1
	}
	if c := a.EnteredAt.Compare(b.EnteredAt); c != 0 {
		return c
	}
	if c := strings.Compare(a.PlayerID, b.PlayerID); c != 0 {
		return c
	}
	return a.RosterOrder - b.RosterOrder
}

func cloneGame(g domain.GameRecord) domain.GameRecord {
	g.PeriodScores = slices.Clone(g.PeriodScores)
	if g.StartedAt != nil {
		v := *g.StartedAt
		g.StartedAt = &v
	}
	if g.EndedAt != nil {
		v := *g.EndedAt
		g.EndedAt = &v
	}
	return g
}

func cloneRoster(r domain.RosterRecord) domain.RosterRecord {
	if r.ExitedAt != nil {
		v := *r.ExitedAt
		r.ExitedAt = &v
	}
	return r
}

func cloneEvent(e domain.EventRecord) domain.EventRecord {
	if e.PlayerNumber != nil {
		v := *e.PlayerNumber
		e.PlayerNumber = &v
	}
	if e.Metadata != nil {
		e.Metadata = maps.Clone(e.Metadata)
	}
	return e
}
