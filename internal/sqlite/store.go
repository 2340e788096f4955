// Package sqlite is a single-file entity store for offline scorekeeping.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/reconcile"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store is a reconcile.Store backed by SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ reconcile.Store = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// One writer at a time; also keeps a :memory: database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is usable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a transaction that is rolled back unless fn returns nil
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx reconcile.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

const gameColumns = `id, home_team_id, away_team_id, home_team_name, away_team_name, season_id,
	status, period, game_clock, home_score, away_score, home_timeouts, away_timeouts,
	max_timeouts, overtime_period_length, max_overtime_periods, period_active, period_scores,
	location, venue_address, game_type, level, scheduled_at, started_at, ended_at, notes,
	created_at, updated_at, shot_clock_length, possession`

func scanGame(row scanner) (*domain.GameRecord, error) {
	var (
		g                               domain.GameRecord
		homeTeam, awayTeam, seasonID    sql.NullString
		scores                          sql.NullString
		scheduledAt, startedAt, endedAt sql.NullString
		createdAt, updatedAt            string
	)
	err := row.Scan(
		&g.ID, &homeTeam, &awayTeam, &g.HomeTeamName, &g.AwayTeamName, &seasonID,
		&g.Status, &g.Period, &g.GameClock, &g.HomeScore, &g.AwayScore, &g.HomeTimeouts, &g.AwayTimeouts,
		&g.MaxTimeouts, &g.OvertimePeriodLength, &g.MaxOvertimePeriods, &g.PeriodActive, &scores,
		&g.Location, &g.VenueAddress, &g.GameType, &g.Level, &scheduledAt, &startedAt, &endedAt, &g.Notes,
		&createdAt, &updatedAt, &g.ShotClockLength, &g.Possession,
	)
	if err != nil {
		return nil, err
	}
	g.HomeTeamID = homeTeam.String
	g.AwayTeamID = awayTeam.String
	g.SeasonID = seasonID.String
	if scores.Valid && scores.String != "" {
		if err := json.Unmarshal([]byte(scores.String), &g.PeriodScores); err != nil {
			return nil, fmt.Errorf("decoding period scores: %w", err)
		}
	}
	if g.ScheduledAt, err = parseNullTime(scheduledAt); err != nil {
		return nil, err
	}
	if g.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if g.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return nil, err
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (t *txStore) GetGame(ctx context.Context, id string) (*domain.GameRecord, error) {
	g, err := scanGame(t.tx.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("getting game: %w", err)
	}
	return g, nil
}

func gameArgs(g *domain.GameRecord) ([]any, error) {
	scores, err := json.Marshal(g.PeriodScores)
	if err != nil {
		return nil, fmt.Errorf("marshaling period scores: %w", err)
	}
	var scheduledAt any
	if !g.ScheduledAt.IsZero() {
		scheduledAt = formatTime(g.ScheduledAt)
	}
	return []any{
		g.ID, nullable(g.HomeTeamID), nullable(g.AwayTeamID), g.HomeTeamName, g.AwayTeamName, nullable(g.SeasonID),
		string(g.Status), g.Period, g.GameClock, g.HomeScore, g.AwayScore, g.HomeTimeouts, g.AwayTimeouts,
		g.MaxTimeouts, g.OvertimePeriodLength, g.MaxOvertimePeriods, g.PeriodActive, string(scores),
		g.Location, g.VenueAddress, string(g.GameType), string(g.Level), scheduledAt,
		formatTimePtr(g.StartedAt), formatTimePtr(g.EndedAt), g.Notes,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt), g.ShotClockLength, string(g.Possession),
	}, nil
}

func (t *txStore) CreateGame(ctx context.Context, g *domain.GameRecord) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	query := `INSERT INTO games (` + gameColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("creating game: %w", err)
	}
	return nil
}

func (t *txStore) UpdateGame(ctx context.Context, g *domain.GameRecord) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	// id moves to the end for the WHERE clause
	args = append(args[1:], args[0])
	query := `
		UPDATE games SET
			home_team_id = ?, away_team_id = ?, home_team_name = ?, away_team_name = ?, season_id = ?,
			status = ?, period = ?, game_clock = ?, home_score = ?, away_score = ?,
			home_timeouts = ?, away_timeouts = ?, max_timeouts = ?, overtime_period_length = ?,
			max_overtime_periods = ?, period_active = ?, period_scores = ?, location = ?,
			venue_address = ?, game_type = ?, level = ?, scheduled_at = ?, started_at = ?,
			ended_at = ?, notes = ?, created_at = ?, updated_at = ?,
			shot_clock_length = ?, possession = ?
		WHERE id = ?
	`
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating game: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

func (t *txStore) ListGames(ctx context.Context) ([]domain.GameRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY scheduled_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	var games []domain.GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

func (t *txStore) GetTeam(ctx context.Context, id string) (*domain.TeamRecord, error) {
	var (
		team      domain.TeamRecord
		createdAt string
	)
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, level, created_at FROM teams WHERE id = ?`, id).
		Scan(&team.ID, &team.Name, &team.Level, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTeamNotFound
		}
		return nil, fmt.Errorf("getting team: %w", err)
	}
	if team.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &team, nil
}

func (t *txStore) CreateTeam(ctx context.Context, team *domain.TeamRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO teams (id, name, level, created_at) VALUES (?, ?, ?, ?)`,
		team.ID, team.Name, string(team.Level), formatTime(team.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating team: %w", err)
	}
	return nil
}

func (t *txStore) GetSeason(ctx context.Context, id string) (*domain.SeasonRecord, error) {
	var (
		season    domain.SeasonRecord
		teamID    sql.NullString
		createdAt string
	)
	err := t.tx.QueryRowContext(ctx, `SELECT id, year, team_id, created_at FROM seasons WHERE id = ?`, id).
		Scan(&season.ID, &season.Year, &teamID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSeasonNotFound
		}
		return nil, fmt.Errorf("getting season: %w", err)
	}
	season.TeamID = teamID.String
	if season.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &season, nil
}

func (t *txStore) CreateSeason(ctx context.Context, season *domain.SeasonRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO seasons (id, year, team_id, created_at) VALUES (?, ?, ?, ?)`,
		season.ID, season.Year, nullable(season.TeamID), formatTime(season.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating season: %w", err)
	}
	return nil
}

func (t *txStore) GetPlayer(ctx context.Context, id string) (*domain.PlayerRecord, error) {
	var (
		p                    domain.PlayerRecord
		teamID               sql.NullString
		createdAt, updatedAt string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, cap_number, team_id, is_placeholder, created_at, updated_at
		FROM players WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.CapNumber, &teamID, &p.IsPlaceholder, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	p.TeamID = teamID.String
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txStore) CreatePlayer(ctx context.Context, p *domain.PlayerRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO players (id, name, cap_number, team_id, is_placeholder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.CapNumber, nullable(p.TeamID), p.IsPlaceholder, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

const rosterColumns = `id, game_id, player_id, cap_number, is_goalie, is_home_team, roster_order,
	is_active, entered_at, exited_at`

func scanRoster(row scanner) (*domain.RosterRecord, error) {
	var (
		r         domain.RosterRecord
		enteredAt string
		exitedAt  sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.GameID, &r.PlayerID, &r.CapNumber, &r.IsGoalie, &r.IsHomeTeam, &r.RosterOrder,
		&r.IsActive, &enteredAt, &exitedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.EnteredAt, err = parseTime(enteredAt); err != nil {
		return nil, err
	}
	if r.ExitedAt, err = parseTimePtr(exitedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *txStore) FindRosterEntry(ctx context.Context, key domain.RosterKey) (*domain.RosterRecord, error) {
	r, err := scanRoster(t.tx.QueryRowContext(ctx, `SELECT `+rosterColumns+` FROM game_roster
		WHERE game_id = ? AND player_id = ? AND roster_order = ?`, key.GameID, key.PlayerID, key.RosterOrder))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("roster entry %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("finding roster entry: %w", err)
	}
	return r, nil
}

func (t *txStore) CreateRosterEntry(ctx context.Context, r *domain.RosterRecord) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO game_roster (`+rosterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.GameID, r.PlayerID, r.CapNumber, r.IsGoalie, r.IsHomeTeam, r.RosterOrder,
		r.IsActive, formatTime(r.EnteredAt), formatTimePtr(r.ExitedAt),
	)
	if err != nil {
		return fmt.Errorf("creating roster entry: %w", err)
	}
	return nil
}

func (t *txStore) UpdateRosterEntry(ctx context.Context, r *domain.RosterRecord) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE game_roster
		SET cap_number = ?, is_goalie = ?, is_active = ?, exited_at = ?
		WHERE id = ?
	`, r.CapNumber, r.IsGoalie, r.IsActive, formatTimePtr(r.ExitedAt), r.ID)
	if err != nil {
		return fmt.Errorf("updating roster entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("roster entry %w", domain.ErrNotFound)
	}
	return nil
}

func (t *txStore) ListRosterEntries(ctx context.Context, gameID string) ([]domain.RosterRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+rosterColumns+` FROM game_roster
		WHERE game_id = ?
		ORDER BY is_home_team DESC, entered_at, player_id, roster_order`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing roster: %w", err)
	}
	defer rows.Close()

	var entries []domain.RosterRecord
	for rows.Next() {
		r, err := scanRoster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning roster entry: %w", err)
		}
		entries = append(entries, *r)
	}
	return entries, rows.Err()
}

func (t *txStore) UpsertEvent(ctx context.Context, e *domain.EventRecord) error {
	var metadata any
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		metadata = string(b)
	}
	var playerNumber any
	if e.PlayerNumber != nil {
		playerNumber = *e.PlayerNumber
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO game_events (game_id, source_event_id, seq, player_id, event_type, side, period,
			game_time, occurred_at, player_number, action_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, source_event_id) DO UPDATE SET
			seq = excluded.seq,
			player_id = excluded.player_id,
			event_type = excluded.event_type,
			side = excluded.side,
			period = excluded.period,
			game_time = excluded.game_time,
			occurred_at = excluded.occurred_at,
			player_number = excluded.player_number,
			action_id = excluded.action_id,
			metadata = excluded.metadata
	`, e.GameID, e.SourceEventID, e.Seq, nullable(e.PlayerID), string(e.Type), string(e.Side), e.Period,
		e.GameTime, formatTime(e.Timestamp), playerNumber, e.ActionID, metadata)
	if err != nil {
		return fmt.Errorf("upserting event: %w", err)
	}
	return nil
}

// deleteNotIn removes rows of table for gameID whose idColumn is not in keep
func (t *txStore) deleteNotIn(ctx context.Context, table, idColumn, gameID string, keep []string) (int, error) {
	query := `DELETE FROM ` + table + ` WHERE game_id = ?`
	args := []any{gameID}
	if len(keep) > 0 {
		query += ` AND ` + idColumn + ` NOT IN (?` + strings.Repeat(`, ?`, len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (t *txStore) DeleteEventsNotIn(ctx context.Context, gameID string, keep []string) (int, error) {
	n, err := t.deleteNotIn(ctx, "game_events", "source_event_id", gameID, keep)
	if err != nil {
		return 0, fmt.Errorf("deleting stale events: %w", err)
	}
	return n, nil
}

const eventColumns = `e.game_id, e.source_event_id, e.seq, e.player_id, e.event_type, e.side, e.period,
	e.game_time, e.occurred_at, e.player_number, e.action_id, e.metadata`

func scanEvent(row scanner, extra ...any) (*domain.EventRecord, error) {
	var (
		e            domain.EventRecord
		playerID     sql.NullString
		occurredAt   string
		playerNumber sql.NullInt64
		metadata     sql.NullString
	)
	dest := []any{
		&e.GameID, &e.SourceEventID, &e.Seq, &playerID, &e.Type, &e.Side, &e.Period,
		&e.GameTime, &occurredAt, &playerNumber, &e.ActionID, &metadata,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	e.ID = e.SourceEventID
	e.PlayerID = playerID.String
	if playerNumber.Valid {
		e.PlayerNumber = domain.IntPtr(int(playerNumber.Int64))
	}
	var err error
	if e.Timestamp, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &e, nil
}

func (t *txStore) ListEvents(ctx context.Context, gameID string) ([]domain.EventRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM game_events e WHERE e.game_id = ? ORDER BY e.seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (t *txStore) ListPlayerEvents(ctx context.Context, playerID string) ([]domain.PlayerEvent, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+eventColumns+`, g.scheduled_at
		FROM game_events e
		JOIN games g ON g.id = e.game_id
		WHERE e.player_id = ?
		ORDER BY g.scheduled_at, e.seq
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing player events: %w", err)
	}
	defer rows.Close()

	var events []domain.PlayerEvent
	for rows.Next() {
		var gameDate sql.NullString
		e, err := scanEvent(rows, &gameDate)
		if err != nil {
			return nil, fmt.Errorf("scanning player event: %w", err)
		}
		pe := domain.PlayerEvent{Event: *e}
		if pe.GameDate, err = parseNullTime(gameDate); err != nil {
			return nil, err
		}
		events = append(events, pe)
	}
	return events, rows.Err()
}

func (t *txStore) UpsertAction(ctx context.Context, a *domain.ActionRecord) error {
	payload, err := json.Marshal(a.Action)
	if err != nil {
		return fmt.Errorf("marshaling action: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO game_actions (game_id, action_id, seq, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id, action_id) DO UPDATE SET
			seq = excluded.seq,
			payload = excluded.payload
	`, a.GameID, a.Action.ID, a.Seq, string(payload))
	if err != nil {
		return fmt.Errorf("upserting action: %w", err)
	}
	return nil
}

func (t *txStore) DeleteActionsNotIn(ctx context.Context, gameID string, keep []string) (int, error) {
	n, err := t.deleteNotIn(ctx, "game_actions", "action_id", gameID, keep)
	if err != nil {
		return 0, fmt.Errorf("deleting stale actions: %w", err)
	}
	return n, nil
}

func (t *txStore) ListActions(ctx context.Context, gameID string) ([]domain.ActionRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT game_id, seq, payload FROM game_actions WHERE game_id = ? ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.ActionRecord
	for rows.Next() {
		var (
			a       domain.ActionRecord
			payload string
		)
		if err := rows.Scan(&a.GameID, &a.Seq, &payload); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Action); err != nil {
			return nil, fmt.Errorf("decoding action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Timestamps are stored as UTC RFC 3339 text so they sort lexically
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseNullTime(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
