package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
	"github.com/waterpolo-stats/internal/stats"
)

// Reconciler exchanges sessions with a Store
type Reconciler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a new Reconciler
func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// MergeResult summarizes what a merge wrote
type MergeResult struct {
	GameID         string `json:"game_id"`
	Created        bool   `json:"created"`
	RosterCreated  int    `json:"roster_created"`
	RosterUpdated  int    `json:"roster_updated"`
	PlayersCreated int    `json:"players_created"`
	Events         int    `json:"events"`
	EventsRemoved  int    `json:"events_removed"`
	UnlinkedEvents int    `json:"unlinked_events"`
	Actions        int    `json:"actions"`
}

// Merge writes s into the store in one transaction and returns the durable
// game id, which is always the session id.
func (r *Reconciler) Merge(ctx context.Context, s *domain.GameSession) (MergeResult, error) {
	if s == nil || s.ID == "" {
		return MergeResult{}, fmt.Errorf("%w: session has no id", domain.ErrInvalidRequest)
	}

	var res MergeResult
	err := r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res = MergeResult{GameID: s.ID}
		m := &merger{r: r, tx: tx, s: s, res: &res, known: make(map[string]bool)}
		return m.run(ctx)
	})
	if err != nil {
		var serr *StorageError
		if !errors.As(err, &serr) {
			err = storageErr("merge", err)
		}
		return MergeResult{}, err
	}

	r.logger.Debug("session merged",
		"game_id", res.GameID,
		"created", res.Created,
		"roster_created", res.RosterCreated,
		"roster_updated", res.RosterUpdated,
		"events", res.Events,
		"unlinked_events", res.UnlinkedEvents,
	)
	return res, nil
}

type merger struct {
	r     *Reconciler
	tx    Tx
	s     *domain.GameSession
	res   *MergeResult
	known map[string]bool
}

func (m *merger) run(ctx context.Context) error {
	now := m.r.now()
	game, err := m.tx.GetGame(ctx, m.s.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		game = &domain.GameRecord{ID: m.s.ID, CreatedAt: now}
		m.res.Created = true
	case err != nil:
		return storageErr("get game", err)
	}

	copyScalars(game, m.s)
	game.UpdatedAt = now
	if game.HomeTeamID, err = m.resolveTeam(ctx, m.s.Home.TeamID); err != nil {
		return err
	}
	if game.AwayTeamID, err = m.resolveTeam(ctx, m.s.Away.TeamID); err != nil {
		return err
	}
	if game.SeasonID, err = m.resolveSeason(ctx, m.s.SeasonID); err != nil {
		return err
	}

	if m.res.Created {
		err = m.tx.CreateGame(ctx, game)
	} else {
		err = m.tx.UpdateGame(ctx, game)
	}
	if err != nil {
		return storageErr("save game", err)
	}

	if err := m.mergeRoster(ctx, game); err != nil {
		return err
	}
	if err := m.mergeEvents(ctx); err != nil {
		return err
	}
	return m.mergeActions(ctx)
}

func copyScalars(g *domain.GameRecord, s *domain.GameSession) {
	g.HomeTeamName = s.Home.Name
	g.AwayTeamName = s.Away.Name
	g.Status = s.Status
	g.Period = s.Period
	g.GameClock = s.GameClock
	g.PeriodActive = s.PeriodActive
	g.HomeScore = stats.ScoreFromEvents(s.Events, domain.SideHome)
	g.AwayScore = stats.ScoreFromEvents(s.Events, domain.SideAway)
	g.HomeTimeouts = s.Home.TimeoutsRemaining
	g.AwayTimeouts = s.Away.TimeoutsRemaining
	g.MaxTimeouts = s.MaxTimeoutsPerTeam
	g.OvertimePeriodLength = s.OvertimePeriodLength
	g.MaxOvertimePeriods = s.MaxOvertimePeriods
	g.PeriodScores = slices.Clone(s.PeriodScores)
	g.Location = s.Location
	g.VenueAddress = s.VenueAddress
	g.GameType = s.GameType
	g.Level = s.Level
	g.ScheduledAt = s.ScheduledAt
	g.StartedAt = s.StartedAt
	g.EndedAt = s.EndedAt
	g.Notes = s.Notes
	g.ShotClockLength = s.ShotClockLength
	g.Possession = s.Possession
}

// resolveTeam returns id when the team exists and "" when it does not
func (m *merger) resolveTeam(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	_, err := m.tx.GetTeam(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		m.r.logger.Warn("team reference unresolved", "game_id", m.s.ID, "team_id", id)
		return "", nil
	case err != nil:
		return "", storageErr("get team", err)
	}
	return id, nil
}

// resolveSeason returns id when the season exists and "" when it does not
func (m *merger) resolveSeason(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	_, err := m.tx.GetSeason(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		m.r.logger.Warn("season reference unresolved", "game_id", m.s.ID, "season_id", id)
		return "", nil
	case err != nil:
		return "", storageErr("get season", err)
	}
	return id, nil
}

func (m *merger) mergeRoster(ctx context.Context, game *domain.GameRecord) error {
	for _, entry := range m.s.Roster {
		if err := m.ensurePlayer(ctx, entry, game); err != nil {
			return err
		}

		key := domain.RosterKey{GameID: m.s.ID, PlayerID: entry.PlayerID, RosterOrder: entry.RosterOrder}
		existing, err := m.tx.FindRosterEntry(ctx, key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Session entry ids are only unique within their game
			rec := &domain.RosterRecord{
				ID:          uuid.NewString(),
				GameID:      m.s.ID,
				PlayerID:    entry.PlayerID,
				CapNumber:   entry.CapNumber,
				IsGoalie:    entry.IsGoalie,
				IsHomeTeam:  entry.IsHomeTeam,
				RosterOrder: entry.RosterOrder,
				IsActive:    entry.IsActive,
				EnteredAt:   entry.EnteredAt,
				ExitedAt:    entry.ExitedAt,
			}
			if err := m.tx.CreateRosterEntry(ctx, rec); err != nil {
				return storageErr("create roster entry", err)
			}
			m.res.RosterCreated++
		case err != nil:
			return storageErr("find roster entry", err)
		default:
			existing.CapNumber = entry.CapNumber
			existing.IsGoalie = entry.IsGoalie
			existing.IsActive = entry.IsActive
			existing.ExitedAt = entry.ExitedAt
			if err := m.tx.UpdateRosterEntry(ctx, existing); err != nil {
				return storageErr("update roster entry", err)
			}
			m.res.RosterUpdated++
		}
	}
	return nil
}

// ensurePlayer creates a placeholder player record for ids the store has not seen
func (m *merger) ensurePlayer(ctx context.Context, entry domain.GameRosterEntry, game *domain.GameRecord) error {
	if m.known[entry.PlayerID] {
		return nil
	}
	_, err := m.tx.GetPlayer(ctx, entry.PlayerID)
	switch {
	case err == nil:
		m.known[entry.PlayerID] = true
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return storageErr("get player", err)
	}

	name := fmt.Sprintf("Player #%d", entry.CapNumber)
	if gp := stats.FindPlayer(m.s.Team(entry.Side()), entry.PlayerID); gp != nil && gp.Name != "" {
		name = gp.Name
	}
	teamID := game.AwayTeamID
	if entry.IsHomeTeam {
		teamID = game.HomeTeamID
	}
	now := m.r.now()
	p := &domain.PlayerRecord{
		ID:            entry.PlayerID,
		Name:          name,
		CapNumber:     entry.CapNumber,
		TeamID:        teamID,
		IsPlaceholder: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.tx.CreatePlayer(ctx, p); err != nil {
		return storageErr("create player", err)
	}
	m.known[entry.PlayerID] = true
	m.res.PlayersCreated++
	return nil
}

func (m *merger) mergeEvents(ctx context.Context) error {
	keep := make([]string, 0, len(m.s.Events))
	for i, ev := range m.s.Events {
		playerID, err := m.resolveEventPlayer(ctx, ev)
		if err != nil {
			return err
		}
		if playerID == "" && (ev.PlayerID != "" || ev.PlayerNumber != nil) {
			m.res.UnlinkedEvents++
			m.r.logger.Debug("event left unlinked", "game_id", m.s.ID, "event_id", ev.ID, "type", ev.Type)
		}
		rec := &domain.EventRecord{
			ID:            ev.ID,
			GameID:        m.s.ID,
			SourceEventID: ev.ID,
			Seq:           i,
			PlayerID:      playerID,
			Type:          ev.Type,
			Side:          ev.Side,
			Period:        ev.Period,
			GameTime:      ev.GameTime,
			Timestamp:     ev.Timestamp,
			PlayerNumber:  ev.PlayerNumber,
			ActionID:      ev.ActionID,
			Metadata:      ev.Metadata,
		}
		if err := m.tx.UpsertEvent(ctx, rec); err != nil {
			return storageErr("upsert event", err)
		}
		keep = append(keep, ev.ID)
	}
	removed, err := m.tx.DeleteEventsNotIn(ctx, m.s.ID, keep)
	if err != nil {
		return storageErr("delete stale events", err)
	}
	m.res.Events = len(keep)
	m.res.EventsRemoved = removed
	return nil
}

// resolveEventPlayer links an event to a durable player: first by the player
// recorded on the event, then by whoever wore the cap when it happened.
func (m *merger) resolveEventPlayer(ctx context.Context, ev domain.GameEventRecord) (string, error) {
	if ev.PlayerID != "" {
		ok, err := m.playerExists(ctx, ev.PlayerID)
		if err != nil {
			return "", err
		}
		if ok {
			return ev.PlayerID, nil
		}
	}
	if ev.PlayerNumber == nil || !ev.Side.Valid() {
		return "", nil
	}
	holder, ok := engine.CapHolderAt(m.s.Roster, ev.Side, *ev.PlayerNumber, ev.Timestamp)
	if !ok {
		return "", nil
	}
	exists, err := m.playerExists(ctx, holder)
	if err != nil || !exists {
		return "", err
	}
	return holder, nil
}

func (m *merger) playerExists(ctx context.Context, id string) (bool, error) {
	if m.known[id] {
		return true, nil
	}
	_, err := m.tx.GetPlayer(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	case err != nil:
		return false, storageErr("get player", err)
	}
	m.known[id] = true
	return true, nil
}

func (m *merger) mergeActions(ctx context.Context) error {
	keep := make([]string, 0, len(m.s.Actions))
	for i, a := range m.s.Actions {
		rec := &domain.ActionRecord{GameID: m.s.ID, Seq: i, Action: a}
		if err := m.tx.UpsertAction(ctx, rec); err != nil {
			return storageErr("upsert action", err)
		}
		keep = append(keep, a.ID)
	}
	if _, err := m.tx.DeleteActionsNotIn(ctx, m.s.ID, keep); err != nil {
		return storageErr("delete stale actions", err)
	}
	m.res.Actions = len(keep)
	return nil
}

// Load rebuilds a session from the durable game with the given id
func (r *Reconciler) Load(ctx context.Context, gameID string) (*domain.GameSession, error) {
	var s *domain.GameSession
	err := r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		game, err := tx.GetGame(ctx, gameID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load %s: %w", gameID, domain.ErrGameNotFound)
		}
		if err != nil {
			return storageErr("get game", err)
		}
		roster, err := tx.ListRosterEntries(ctx, gameID)
		if err != nil {
			return storageErr("list roster", err)
		}
		events, err := tx.ListEvents(ctx, gameID)
		if err != nil {
			return storageErr("list events", err)
		}
		actions, err := tx.ListActions(ctx, gameID)
		if err != nil {
			return storageErr("list actions", err)
		}
		names := make(map[string]string)
		for _, rr := range roster {
			if _, ok := names[rr.PlayerID]; ok {
				continue
			}
			p, err := tx.GetPlayer(ctx, rr.PlayerID)
			switch {
			case err == nil:
				names[rr.PlayerID] = p.Name
			case errors.Is(err, domain.ErrNotFound):
				names[rr.PlayerID] = ""
			default:
				return storageErr("get player", err)
			}
		}
		s = buildSession(game, roster, events, actions, names)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func buildSession(g *domain.GameRecord, roster []domain.RosterRecord, events []domain.EventRecord, actions []domain.ActionRecord, names map[string]string) *domain.GameSession {
	s := domain.NewGameSession(domain.NewGameParams{
		ID:                   g.ID,
		HomeTeamID:           g.HomeTeamID,
		HomeName:             g.HomeTeamName,
		AwayTeamID:           g.AwayTeamID,
		AwayName:             g.AwayTeamName,
		Level:                g.Level,
		GameType:             g.GameType,
		Location:             g.Location,
		VenueAddress:         g.VenueAddress,
		ScheduledAt:          g.ScheduledAt,
		SeasonID:             g.SeasonID,
		Notes:                g.Notes,
		MaxTimeouts:          g.MaxTimeouts,
		OvertimePeriodLength: g.OvertimePeriodLength,
		MaxOvertimePeriods:   g.MaxOvertimePeriods,
		ShotClockLength:      g.ShotClockLength,
	})
	s.Status = g.Status
	if g.Possession.Valid() {
		s.Possession = g.Possession
	}
	s.Period = max(1, g.Period)
	s.GameClock = g.GameClock
	s.PeriodActive = g.PeriodActive
	s.Home.TimeoutsRemaining = g.HomeTimeouts
	s.Away.TimeoutsRemaining = g.AwayTimeouts
	s.PeriodScores = slices.Clone(g.PeriodScores)
	s.StartedAt = g.StartedAt
	s.EndedAt = g.EndedAt
	s.UpdatedAt = g.UpdatedAt

	s.Roster = make([]domain.GameRosterEntry, 0, len(roster))
	for _, rr := range roster {
		s.Roster = append(s.Roster, domain.GameRosterEntry{
			ID:          rr.ID,
			PlayerID:    rr.PlayerID,
			CapNumber:   rr.CapNumber,
			IsGoalie:    rr.IsGoalie,
			IsHomeTeam:  rr.IsHomeTeam,
			RosterOrder: rr.RosterOrder,
			IsActive:    rr.IsActive,
			EnteredAt:   rr.EnteredAt,
			ExitedAt:    rr.ExitedAt,
		})
	}

	counters := stats.CountersFromEvents(events)
	for _, entry := range engine.LatestByPlayer(s.Roster) {
		p := domain.GamePlayer{}
		if c, ok := counters[entry.PlayerID]; ok {
			p = *c
		}
		p.ID = entry.PlayerID
		p.CapNumber = entry.CapNumber
		p.IsGoalie = entry.IsGoalie
		p.InGame = entry.IsActive
		p.Name = names[entry.PlayerID]
		team := s.Team(entry.Side())
		team.Players = append(team.Players, p)
	}

	s.Events = make([]domain.GameEventRecord, 0, len(events))
	for _, er := range events {
		s.Events = append(s.Events, domain.GameEventRecord{
			ID:           er.SourceEventID,
			Timestamp:    er.Timestamp,
			Period:       er.Period,
			GameTime:     er.GameTime,
			Type:         er.Type,
			Side:         er.Side,
			PlayerNumber: er.PlayerNumber,
			PlayerID:     er.PlayerID,
			ActionID:     er.ActionID,
			Metadata:     er.Metadata,
		})
	}
	s.Actions = make([]domain.GameActionRecord, 0, len(actions))
	for _, ar := range actions {
		s.Actions = append(s.Actions, ar.Action)
	}

	s.Home.Score = stats.ScoreFromEvents(s.Events, domain.SideHome)
	s.Away.Score = stats.ScoreFromEvents(s.Events, domain.SideAway)
	return s
}

// Career aggregates a player's durable events by season
func (r *Reconciler) Career(ctx context.Context, playerID string) (stats.Career, error) {
	var events []domain.PlayerEvent
	err := r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetPlayer(ctx, playerID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("career for %s: %w", playerID, domain.ErrPlayerNotFound)
		}
		if err != nil {
			return storageErr("get player", err)
		}
		events, err = tx.ListPlayerEvents(ctx, playerID)
		if err != nil {
			return storageErr("list player events", err)
		}
		return nil
	})
	if err != nil {
		return stats.Career{}, err
	}
	return stats.CareerFor(playerID, events), nil
}
