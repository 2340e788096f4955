package domain

import (
	"maps"
	"slices"
	"time"
)

// GameSession is the live state of one match and owns all of its ledgers
type GameSession struct {
	ID                   string             `json:"id"`
	Home                 TeamSide           `json:"home"`
	Away                 TeamSide           `json:"away"`
	Period               int                `json:"period"`
	GameClock            float64            `json:"game_clock"`
	ShotClock            float64            `json:"shot_clock"`
	Status               GameStatus         `json:"status"`
	PeriodActive         bool               `json:"period_active"`
	Possession           Side               `json:"possession"`
	MaxTimeoutsPerTeam   int                `json:"max_timeouts_per_team"`
	ShotClockLength      float64            `json:"shot_clock_length"`
	OvertimePeriodLength float64            `json:"overtime_period_length"`
	MaxOvertimePeriods   int                `json:"max_overtime_periods"`
	Events               []GameEventRecord  `json:"events"`
	Actions              []GameActionRecord `json:"actions"`
	Roster               []GameRosterEntry  `json:"roster"`
	PeriodScores         []PeriodScore      `json:"period_scores"`
	Location             string             `json:"location,omitempty"`
	VenueAddress         string             `json:"venue_address,omitempty"`
	GameType             GameType           `json:"game_type"`
	Level                GameLevel          `json:"level"`
	ScheduledAt          time.Time          `json:"scheduled_at"`
	SeasonID             string             `json:"season_id,omitempty"`
	Notes                string             `json:"notes,omitempty"`
	StartedAt            *time.Time         `json:"started_at,omitempty"`
	EndedAt              *time.Time         `json:"ended_at,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TeamSide is one team's view inside a session
type TeamSide struct {
	TeamID            string       `json:"team_id,omitempty"`
	Name              string       `json:"name"`
	Players           []GamePlayer `json:"players"`
	Score             int          `json:"score"`
	TimeoutsRemaining int          `json:"timeouts_remaining"`
}

// PeriodScore is the cumulative score captured when a period closed
type PeriodScore struct {
	Period    int `json:"period"`
	HomeScore int `json:"home_score"`
	AwayScore int `json:"away_score"`
}

// GameRosterEntry is one cap/goalie assignment for a player in a game
type GameRosterEntry struct {
	ID          string     `json:"id"`
	PlayerID    string     `json:"player_id"`
	CapNumber   int        `json:"cap_number"`
	IsGoalie    bool       `json:"is_goalie"`
	IsHomeTeam  bool       `json:"is_home_team"`
	RosterOrder int        `json:"roster_order"`
	IsActive    bool       `json:"is_active"`
	EnteredAt   time.Time  `json:"entered_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
}

// Side returns the team side of the entry
func (e GameRosterEntry) Side() Side {
	return SideOf(e.IsHomeTeam)
}

// GameEventRecord is an immutable fact in the event ledger
type GameEventRecord struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Period       int               `json:"period"`
	GameTime     float64           `json:"game_time"`
	Type         EventType         `json:"type"`
	Side         Side              `json:"side"`
	PlayerNumber *int              `json:"player_number,omitempty"`
	PlayerID     string            `json:"player_id,omitempty"`
	ActionID     string            `json:"action_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// GameActionRecord is an editable scorekeeper action
type GameActionRecord struct {
	ID                    string     `json:"id"`
	Timestamp             time.Time  `json:"timestamp"`
	Period                int        `json:"period"`
	GameTime              float64    `json:"game_time"`
	Type                  ActionType `json:"type"`
	Side                  Side       `json:"side"`
	PlayerNumber          *int       `json:"player_number,omitempty"`
	PlayerID              string     `json:"player_id,omitempty"`
	SecondaryPlayerNumber *int       `json:"secondary_player_number,omitempty"`
	SecondaryPlayerID     string     `json:"secondary_player_id,omitempty"`
	IsFiveMeterShot       bool       `json:"is_five_meter_shot,omitempty"`
	IsPenaltyFoul         bool       `json:"is_penalty_foul,omitempty"`
}

// NewGameParams describes a session to create
type NewGameParams struct {
	ID                   string
	HomeTeamID           string
	HomeName             string
	AwayTeamID           string
	AwayName             string
	Level                GameLevel
	GameType             GameType
	Location             string
	VenueAddress         string
	ScheduledAt          time.Time
	SeasonID             string
	Notes                string
	MaxTimeouts          int
	ShotClockLength      float64
	OvertimePeriodLength float64
	MaxOvertimePeriods   int
}

// NewGameSession returns a session in the ready state with level defaults applied
func NewGameSession(p NewGameParams) *GameSession {
	if !p.Level.Valid() {
		p.Level = LevelBoysVarsity
	}
	if p.GameType == "" {
		p.GameType = GameTypeLeague
	}
	if p.MaxTimeouts <= 0 {
		p.MaxTimeouts = p.Level.DefaultMaxTimeouts()
	}
	if p.ShotClockLength <= 0 {
		p.ShotClockLength = DefaultShotClock
	}
	if p.OvertimePeriodLength <= 0 {
		p.OvertimePeriodLength = DefaultOvertimePeriodLength
	}
	if p.MaxOvertimePeriods <= 0 {
		p.MaxOvertimePeriods = DefaultMaxOvertimePeriods
	}

	return &GameSession{
		ID:                   p.ID,
		Home:                 TeamSide{TeamID: p.HomeTeamID, Name: p.HomeName, TimeoutsRemaining: p.MaxTimeouts},
		Away:                 TeamSide{TeamID: p.AwayTeamID, Name: p.AwayName, TimeoutsRemaining: p.MaxTimeouts},
		Period:               1,
		GameClock:            p.Level.PeriodLength(),
		ShotClock:            p.ShotClockLength,
		Status:               StatusReady,
		Possession:           SideHome,
		MaxTimeoutsPerTeam:   p.MaxTimeouts,
		ShotClockLength:      p.ShotClockLength,
		OvertimePeriodLength: p.OvertimePeriodLength,
		MaxOvertimePeriods:   p.MaxOvertimePeriods,
		Location:             p.Location,
		VenueAddress:         p.VenueAddress,
		GameType:             p.GameType,
		Level:                p.Level,
		ScheduledAt:          p.ScheduledAt,
		SeasonID:             p.SeasonID,
		Notes:                p.Notes,
	}
}

// Team returns the side's team, or nil for official
func (g *GameSession) Team(side Side) *TeamSide {
	switch side {
	case SideHome:
		return &g.Home
	case SideAway:
		return &g.Away
	}
	return nil
}

// IsOvertime reports whether the current period is past regulation
func (g *GameSession) IsOvertime() bool {
	return g.Period > RegularPeriods
}

// CurrentPeriodLength is the full length of the period being played
func (g *GameSession) CurrentPeriodLength() float64 {
	if g.IsOvertime() {
		return g.OvertimePeriodLength
	}
	return g.Level.PeriodLength()
}

// IsLastPeriod reports whether no further period may be started
func (g *GameSession) IsLastPeriod() bool {
	return g.Period >= RegularPeriods+g.MaxOvertimePeriods
}

// Running reports whether ticks should move the clocks
func (g *GameSession) Running() bool {
	return g.Status == StatusInProgress && g.PeriodActive
}

// Clone returns a deep copy safe to hand to another goroutine
func (g *GameSession) Clone() *GameSession {
	c := *g
	c.Home = g.Home.clone()
	c.Away = g.Away.clone()
	c.Roster = make([]GameRosterEntry, len(g.Roster))
	for i, e := range g.Roster {
		e.ExitedAt = cloneTime(e.ExitedAt)
		c.Roster[i] = e
	}
	c.Events = make([]GameEventRecord, len(g.Events))
	for i, e := range g.Events {
		c.Events[i] = e.Clone()
	}
	c.Actions = make([]GameActionRecord, len(g.Actions))
	for i, a := range g.Actions {
		c.Actions[i] = a.Clone()
	}
	c.PeriodScores = slices.Clone(g.PeriodScores)
	c.StartedAt = cloneTime(g.StartedAt)
	c.EndedAt = cloneTime(g.EndedAt)
	return &c
}

func (t TeamSide) clone() TeamSide {
	t.Players = slices.Clone(t.Players)
	return t
}

// Clone returns a copy with its own metadata map
func (e GameEventRecord) Clone() GameEventRecord {
	e.PlayerNumber = cloneInt(e.PlayerNumber)
	if e.Metadata != nil {
		e.Metadata = maps.Clone(e.Metadata)
	}
	return e
}

// Clone returns a copy with its own pointer fields
func (a GameActionRecord) Clone() GameActionRecord {
	a.PlayerNumber = cloneInt(a.PlayerNumber)
	a.SecondaryPlayerNumber = cloneInt(a.SecondaryPlayerNumber)
	return a
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
