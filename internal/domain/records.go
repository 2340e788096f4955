package domain

import "time"

// GameRecord is the durable form of a game
type GameRecord struct {
	ID                   string        `json:"id"`
	HomeTeamID           string        `json:"home_team_id,omitempty"`
	AwayTeamID           string        `json:"away_team_id,omitempty"`
	HomeTeamName         string        `json:"home_team_name"`
	AwayTeamName         string        `json:"away_team_name"`
	SeasonID             string        `json:"season_id,omitempty"`
	Status               GameStatus    `json:"status"`
	Period               int           `json:"period"`
	GameClock            float64       `json:"game_clock"`
	HomeScore            int           `json:"home_score"`
	AwayScore            int           `json:"away_score"`
	HomeTimeouts         int           `json:"home_timeouts"`
	AwayTimeouts         int           `json:"away_timeouts"`
	MaxTimeouts          int           `json:"max_timeouts"`
	OvertimePeriodLength float64       `json:"overtime_period_length"`
	MaxOvertimePeriods   int           `json:"max_overtime_periods"`
	PeriodActive         bool          `json:"period_active"`
	PeriodScores         []PeriodScore `json:"period_scores"`
	Location             string        `json:"location,omitempty"`
	VenueAddress         string        `json:"venue_address,omitempty"`
	GameType             GameType      `json:"game_type"`
	Level                GameLevel     `json:"level"`
	ScheduledAt          time.Time     `json:"scheduled_at"`
	StartedAt            *time.Time    `json:"started_at,omitempty"`
	EndedAt              *time.Time    `json:"ended_at,omitempty"`
	Notes                string        `json:"notes,omitempty"`
	ShotClockLength      float64       `json:"shot_clock_length"`
	Possession           Side          `json:"possession"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// TeamRecord is a durable team, managed outside the game engine
type TeamRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Level     GameLevel `json:"level,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SeasonRecord is a durable season starting Aug 1 of Year
type SeasonRecord struct {
	ID        string    `json:"id"`
	Year      int       `json:"year"`
	TeamID    string    `json:"team_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Label returns the display label, e.g. "2025-26"
func (s SeasonRecord) Label() string {
	return SeasonLabel(s.Year)
}

// RosterRecord is the durable roster row, unique on (GameID, PlayerID, RosterOrder)
type RosterRecord struct {
	ID          string     `json:"id"`
	GameID      string     `json:"game_id"`
	PlayerID    string     `json:"player_id"`
	CapNumber   int        `json:"cap_number"`
	IsGoalie    bool       `json:"is_goalie"`
	IsHomeTeam  bool       `json:"is_home_team"`
	RosterOrder int        `json:"roster_order"`
	IsActive    bool       `json:"is_active"`
	EnteredAt   time.Time  `json:"entered_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
}

// RosterKey is the natural key of a roster row
type RosterKey struct {
	GameID      string
	PlayerID    string
	RosterOrder int
}

// Key returns the natural key of r
func (r RosterRecord) Key() RosterKey {
	return RosterKey{GameID: r.GameID, PlayerID: r.PlayerID, RosterOrder: r.RosterOrder}
}

// EventRecord is the durable form of a session event. PlayerID is empty when
// the event could not be linked to a known player.
type EventRecord struct {
	ID            string            `json:"id"`
	GameID        string            `json:"game_id"`
	SourceEventID string            `json:"source_event_id"`
	Seq           int               `json:"seq"`
	PlayerID      string            `json:"player_id,omitempty"`
	Type          EventType         `json:"type"`
	Side          Side              `json:"side"`
	Period        int               `json:"period"`
	GameTime      float64           `json:"game_time"`
	Timestamp     time.Time         `json:"timestamp"`
	PlayerNumber  *int              `json:"player_number,omitempty"`
	ActionID      string            `json:"action_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ActionRecord is a durable copy of a scorekeeper action, ordered by Seq
type ActionRecord struct {
	GameID string           `json:"game_id"`
	Seq    int              `json:"seq"`
	Action GameActionRecord `json:"action"`
}

// PlayerEvent is an event joined with the date of the game it belongs to
type PlayerEvent struct {
	Event    EventRecord
	GameDate time.Time
}
