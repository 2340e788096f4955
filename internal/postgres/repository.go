package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/reconcile"
)

// Repository provides PostgreSQL-based storage for games, rosters and events
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ reconcile.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			level VARCHAR(32) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS seasons (
			id VARCHAR(64) PRIMARY KEY,
			year INT NOT NULL,
			team_id VARCHAR(64) REFERENCES teams(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			cap_number INT NOT NULL DEFAULT 0,
			team_id VARCHAR(64) REFERENCES teams(id) ON DELETE SET NULL,
			is_placeholder BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id VARCHAR(64) PRIMARY KEY,
			home_team_id VARCHAR(64) REFERENCES teams(id) ON DELETE SET NULL,
			away_team_id VARCHAR(64) REFERENCES teams(id) ON DELETE SET NULL,
			home_team_name VARCHAR(255) NOT NULL DEFAULT '',
			away_team_name VARCHAR(255) NOT NULL DEFAULT '',
			season_id VARCHAR(64) REFERENCES seasons(id) ON DELETE SET NULL,
			status VARCHAR(20) NOT NULL,
			period INT NOT NULL,
			game_clock DOUBLE PRECISION NOT NULL,
			home_score INT NOT NULL DEFAULT 0,
			away_score INT NOT NULL DEFAULT 0,
			home_timeouts INT NOT NULL DEFAULT 0,
			away_timeouts INT NOT NULL DEFAULT 0,
			max_timeouts INT NOT NULL DEFAULT 0,
			overtime_period_length DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_overtime_periods INT NOT NULL DEFAULT 0,
			period_active BOOLEAN NOT NULL DEFAULT FALSE,
			period_scores JSONB,
			location VARCHAR(255) NOT NULL DEFAULT '',
			venue_address VARCHAR(255) NOT NULL DEFAULT '',
			game_type VARCHAR(20) NOT NULL DEFAULT '',
			level VARCHAR(32) NOT NULL DEFAULT '',
			scheduled_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_roster (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			player_id VARCHAR(64) NOT NULL REFERENCES players(id),
			cap_number INT NOT NULL,
			is_goalie BOOLEAN NOT NULL DEFAULT FALSE,
			is_home_team BOOLEAN NOT NULL,
			roster_order INT NOT NULL,
			is_active BOOLEAN NOT NULL,
			entered_at TIMESTAMPTZ NOT NULL,
			exited_at TIMESTAMPTZ,
			UNIQUE(game_id, player_id, roster_order)
		)`,
		`CREATE TABLE IF NOT EXISTS game_events (
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			source_event_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			player_id VARCHAR(64) REFERENCES players(id) ON DELETE SET NULL,
			event_type VARCHAR(32) NOT NULL,
			side VARCHAR(10) NOT NULL,
			period INT NOT NULL,
			game_time DOUBLE PRECISION NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			player_number INT,
			action_id VARCHAR(64) NOT NULL DEFAULT '',
			metadata JSONB,
			PRIMARY KEY (game_id, source_event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS game_actions (
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			action_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (game_id, action_id)
		)`,
		`ALTER TABLE games ADD COLUMN IF NOT EXISTS shot_clock_length DOUBLE PRECISION NOT NULL DEFAULT 0`,
		`ALTER TABLE games ADD COLUMN IF NOT EXISTS possession VARCHAR(10) NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_game_roster_game ON game_roster(game_id, is_home_team)`,
		`CREATE INDEX IF NOT EXISTS idx_game_events_game_seq ON game_events(game_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_game_events_player ON game_events(player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_games_scheduled ON games(scheduled_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// InTx runs fn inside a read-committed transaction that is rolled back
// unless fn returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx reconcile.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

const gameColumns = `id, home_team_id, away_team_id, home_team_name, away_team_name, season_id,
	status, period, game_clock, home_score, away_score, home_timeouts, away_timeouts,
	max_timeouts, overtime_period_length, max_overtime_periods, period_active, period_scores,
	location, venue_address, game_type, level, scheduled_at, started_at, ended_at, notes,
	created_at, updated_at, shot_clock_length, possession`

func scanGame(row pgx.Row) (*domain.GameRecord, error) {
	var (
		g                            domain.GameRecord
		homeTeam, awayTeam, seasonID *string
		scores                       []byte
		scheduledAt                  *time.Time
	)
	err := row.Scan(
		&g.ID, &homeTeam, &awayTeam, &g.HomeTeamName, &g.AwayTeamName, &seasonID,
		&g.Status, &g.Period, &g.GameClock, &g.HomeScore, &g.AwayScore, &g.HomeTimeouts, &g.AwayTimeouts,
		&g.MaxTimeouts, &g.OvertimePeriodLength, &g.MaxOvertimePeriods, &g.PeriodActive, &scores,
		&g.Location, &g.VenueAddress, &g.GameType, &g.Level, &scheduledAt, &g.StartedAt, &g.EndedAt, &g.Notes,
		&g.CreatedAt, &g.UpdatedAt, &g.ShotClockLength, &g.Possession,
	)
	if err != nil {
		return nil, err
	}
	g.HomeTeamID = deref(homeTeam)
	g.AwayTeamID = deref(awayTeam)
	g.SeasonID = deref(seasonID)
	if scheduledAt != nil {
		g.ScheduledAt = *scheduledAt
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &g.PeriodScores); err != nil {
			return nil, fmt.Errorf("decoding period scores: %w", err)
		}
	}
	return &g, nil
}

func (t *txStore) GetGame(ctx context.Context, id string) (*domain.GameRecord, error) {
	g, err := scanGame(t.tx.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	var scheduledAt *time.Time
	if !g.ScheduledAt.IsZero() {
		scheduledAt = &g.ScheduledAt
	}
	return []any{
		g.ID, nullable(g.HomeTeamID), nullable(g.AwayTeamID), g.HomeTeamName, g.AwayTeamName, nullable(g.SeasonID),
		string(g.Status), g.Period, g.GameClock, g.HomeScore, g.AwayScore, g.HomeTimeouts, g.AwayTimeouts,
		g.MaxTimeouts, g.OvertimePeriodLength, g.MaxOvertimePeriods, g.PeriodActive, scores,
		g.Location, g.VenueAddress, string(g.GameType), string(g.Level), scheduledAt, g.StartedAt, g.EndedAt, g.Notes,
		g.CreatedAt, g.UpdatedAt, g.ShotClockLength, string(g.Possession),
	}, nil
}

func (t *txStore) CreateGame(ctx context.Context, g *domain.GameRecord) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	query := `INSERT INTO games (` + gameColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("creating game: %w", err)
	}
	return nil
}

func (t *txStore) UpdateGame(ctx context.Context, g *domain.GameRecord) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	query := `
		UPDATE games SET
			home_team_id = $2, away_team_id = $3, home_team_name = $4, away_team_name = $5, season_id = $6,
			status = $7, period = $8, game_clock = $9, home_score = $10, away_score = $11,
			home_timeouts = $12, away_timeouts = $13, max_timeouts = $14, overtime_period_length = $15,
			max_overtime_periods = $16, period_active = $17, period_scores = $18, location = $19,
			venue_address = $20, game_type = $21, level = $22, scheduled_at = $23, started_at = $24,
			ended_at = $25, notes = $26, created_at = $27, updated_at = $28,
			shot_clock_length = $29, possession = $30
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating game: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

func (t *txStore) ListGames(ctx context.Context) ([]domain.GameRecord, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+gameColumns+` FROM games ORDER BY scheduled_at DESC NULLS LAST`)
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
	var team domain.TeamRecord
	err := t.tx.QueryRow(ctx, `SELECT id, name, level, created_at FROM teams WHERE id = $1`, id).
		Scan(&team.ID, &team.Name, &team.Level, &team.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTeamNotFound
		}
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return &team, nil
}

func (t *txStore) CreateTeam(ctx context.Context, team *domain.TeamRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO teams (id, name, level, created_at) VALUES ($1, $2, $3, $4)`,
		team.ID, team.Name, string(team.Level), team.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating team: %w", err)
	}
	return nil
}

func (t *txStore) GetSeason(ctx context.Context, id string) (*domain.SeasonRecord, error) {
	var (
		season domain.SeasonRecord
		teamID *string
	)
	err := t.tx.QueryRow(ctx, `SELECT id, year, team_id, created_at FROM seasons WHERE id = $1`, id).
		Scan(&season.ID, &season.Year, &teamID, &season.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSeasonNotFound
		}
		return nil, fmt.Errorf("getting season: %w", err)
	}
	season.TeamID = deref(teamID)
	return &season, nil
}

func (t *txStore) CreateSeason(ctx context.Context, season *domain.SeasonRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO seasons (id, year, team_id, created_at) VALUES ($1, $2, $3, $4)`,
		season.ID, season.Year, nullable(season.TeamID), season.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating season: %w", err)
	}
	return nil
}

func (t *txStore) GetPlayer(ctx context.Context, id string) (*domain.PlayerRecord, error) {
	var (
		p      domain.PlayerRecord
		teamID *string
	)
	query := `
		SELECT id, name, cap_number, team_id, is_placeholder, created_at, updated_at
		FROM players
		WHERE id = $1
	`
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.CapNumber, &teamID, &p.IsPlaceholder, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	p.TeamID = deref(teamID)
	return &p, nil
}

func (t *txStore) CreatePlayer(ctx context.Context, p *domain.PlayerRecord) error {
	query := `
		INSERT INTO players (id, name, cap_number, team_id, is_placeholder, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query,
		p.ID, p.Name, p.CapNumber, nullable(p.TeamID), p.IsPlaceholder, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

const rosterColumns = `id, game_id, player_id, cap_number, is_goalie, is_home_team, roster_order,
	is_active, entered_at, exited_at`

func scanRoster(row pgx.Row) (*domain.RosterRecord, error) {
	var r domain.RosterRecord
	err := row.Scan(
		&r.ID, &r.GameID, &r.PlayerID, &r.CapNumber, &r.IsGoalie, &r.IsHomeTeam, &r.RosterOrder,
		&r.IsActive, &r.EnteredAt, &r.ExitedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *txStore) FindRosterEntry(ctx context.Context, key domain.RosterKey) (*domain.RosterRecord, error) {
	query := `SELECT ` + rosterColumns + ` FROM game_roster
		WHERE game_id = $1 AND player_id = $2 AND roster_order = $3`
	r, err := scanRoster(t.tx.QueryRow(ctx, query, key.GameID, key.PlayerID, key.RosterOrder))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("roster entry %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("finding roster entry: %w", err)
	}
	return r, nil
}

func (t *txStore) CreateRosterEntry(ctx context.Context, r *domain.RosterRecord) error {
	query := `INSERT INTO game_roster (` + rosterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.tx.Exec(ctx, query,
		r.ID, r.GameID, r.PlayerID, r.CapNumber, r.IsGoalie, r.IsHomeTeam, r.RosterOrder,
		r.IsActive, r.EnteredAt, r.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("creating roster entry: %w", err)
	}
	return nil
}

func (t *txStore) UpdateRosterEntry(ctx context.Context, r *domain.RosterRecord) error {
	query := `
		UPDATE game_roster
		SET cap_number = $2, is_goalie = $3, is_active = $4, exited_at = $5
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query, r.ID, r.CapNumber, r.IsGoalie, r.IsActive, r.ExitedAt)
	if err != nil {
		return fmt.Errorf("updating roster entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("roster entry %w", domain.ErrNotFound)
	}
	return nil
}

func (t *txStore) ListRosterEntries(ctx context.Context, gameID string) ([]domain.RosterRecord, error) {
	query := `SELECT ` + rosterColumns + ` FROM game_roster
		WHERE game_id = $1
		ORDER BY is_home_team DESC, entered_at, player_id, roster_order`
	rows, err := t.tx.Query(ctx, query, gameID)
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
	var metadata []byte
	if e.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}
	query := `
		INSERT INTO game_events (game_id, source_event_id, seq, player_id, event_type, side, period,
			game_time, occurred_at, player_number, action_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (game_id, source_event_id)
		DO UPDATE SET seq = $3, player_id = $4, event_type = $5, side = $6, period = $7,
			game_time = $8, occurred_at = $9, player_number = $10, action_id = $11, metadata = $12
	`
	_, err := t.tx.Exec(ctx, query,
		e.GameID, e.SourceEventID, e.Seq, nullable(e.PlayerID), string(e.Type), string(e.Side), e.Period,
		e.GameTime, e.Timestamp, e.PlayerNumber, e.ActionID, metadata,
	)
	if err != nil {
		return fmt.Errorf("upserting event: %w", err)
	}
	return nil
}

func (t *txStore) DeleteEventsNotIn(ctx context.Context, gameID string, keep []string) (int, error) {
	result, err := t.tx.Exec(ctx,
		`DELETE FROM game_events WHERE game_id = $1 AND NOT (source_event_id = ANY($2))`,
		gameID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting stale events: %w", err)
	}
	return int(result.RowsAffected()), nil
}

const eventColumns = `e.game_id, e.source_event_id, e.seq, e.player_id, e.event_type, e.side, e.period,
	e.game_time, e.occurred_at, e.player_number, e.action_id, e.metadata`

func scanEvent(row pgx.Row, extra ...any) (*domain.EventRecord, error) {
	var (
		e        domain.EventRecord
		playerID *string
		metadata []byte
	)
	dest := []any{
		&e.GameID, &e.SourceEventID, &e.Seq, &playerID, &e.Type, &e.Side, &e.Period,
		&e.GameTime, &e.Timestamp, &e.PlayerNumber, &e.ActionID, &metadata,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	e.ID = e.SourceEventID
	e.PlayerID = deref(playerID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &e, nil
}

func (t *txStore) ListEvents(ctx context.Context, gameID string) ([]domain.EventRecord, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+eventColumns+` FROM game_events e WHERE e.game_id = $1 ORDER BY e.seq`, gameID)
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
	query := `
		SELECT ` + eventColumns + `, g.scheduled_at
		FROM game_events e
		JOIN games g ON g.id = e.game_id
		WHERE e.player_id = $1
		ORDER BY g.scheduled_at, e.seq
	`
	rows, err := t.tx.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing player events: %w", err)
	}
	defer rows.Close()

	var events []domain.PlayerEvent
	for rows.Next() {
		var gameDate *time.Time
		e, err := scanEvent(rows, &gameDate)
		if err != nil {
			return nil, fmt.Errorf("scanning player event: %w", err)
		}
		pe := domain.PlayerEvent{Event: *e}
		if gameDate != nil {
			pe.GameDate = *gameDate
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
	query := `
		INSERT INTO game_actions (game_id, action_id, seq, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, action_id)
		DO UPDATE SET seq = $3, payload = $4
	`
	if _, err := t.tx.Exec(ctx, query, a.GameID, a.Action.ID, a.Seq, payload); err != nil {
		return fmt.Errorf("upserting action: %w", err)
	}
	return nil
}

func (t *txStore) DeleteActionsNotIn(ctx context.Context, gameID string, keep []string) (int, error) {
	result, err := t.tx.Exec(ctx,
		`DELETE FROM game_actions WHERE game_id = $1 AND NOT (action_id = ANY($2))`,
		gameID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting stale actions: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (t *txStore) ListActions(ctx context.Context, gameID string) ([]domain.ActionRecord, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT game_id, seq, payload FROM game_actions WHERE game_id = $1 ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.ActionRecord
	for rows.Next() {
		var (
			a       domain.ActionRecord
			payload []byte
		)
		if err := rows.Scan(&a.GameID, &a.Seq, &payload); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if err := json.Unmarshal(payload, &a.Action); err != nil {
			return nil, fmt.Errorf("decoding action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
