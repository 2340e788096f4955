package domain

// Side identifies which team an event or roster entry belongs to
type Side string

const (
	SideHome     Side = "home"
	SideAway     Side = "away"
	SideOfficial Side = "official"
)

// Valid reports whether s is home or away. Official is only valid on events.
func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

// Opponent returns the other team side
func (s Side) Opponent() Side {
	switch s {
	case SideHome:
		return SideAway
	case SideAway:
		return SideHome
	default:
		return s
	}
}

// SideOf maps the stored isHomeTeam flag to a Side
func SideOf(isHomeTeam bool) Side {
	if isHomeTeam {
		return SideHome
	}
	return SideAway
}

// GameStatus represents where a session is in its lifecycle
type GameStatus string

const (
	StatusReady      GameStatus = "ready"
	StatusInProgress GameStatus = "in_progress"
	StatusPaused     GameStatus = "paused"
	StatusCompleted  GameStatus = "completed"
)

// Valid reports whether s is a known status
func (s GameStatus) Valid() bool {
	switch s {
	case StatusReady, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether the game has started and not finished
func (s GameStatus) Active() bool {
	return s == StatusInProgress || s == StatusPaused
}

// GameType classifies the fixture
type GameType string

const (
	GameTypeLeague     GameType = "league"
	GameTypeNonLeague  GameType = "non_league"
	GameTypeTournament GameType = "tournament"
	GameTypeScrimmage  GameType = "scrimmage"
)

// GameLevel determines period length and timeout allowance
type GameLevel string

const (
	LevelGirlsVarsity GameLevel = "girls_varsity"
	LevelBoysVarsity  GameLevel = "boys_varsity"
	LevelGirlsJV      GameLevel = "girls_jv"
	LevelBoysJV       GameLevel = "boys_jv"
	Level10U          GameLevel = "10u"
	Level12U          GameLevel = "12u"
	Level14U          GameLevel = "14u"
	Level16U          GameLevel = "16u"
	Level18U          GameLevel = "18u"
	Level19U          GameLevel = "19u"
)

// Levels lists every supported level in display order
var Levels = []GameLevel{
	LevelGirlsVarsity, LevelBoysVarsity, LevelGirlsJV, LevelBoysJV,
	Level10U, Level12U, Level14U, Level16U, Level18U, Level19U,
}

// Valid reports whether l is a known level
func (l GameLevel) Valid() bool {
	for _, v := range Levels {
		if v == l {
			return true
		}
	}
	return false
}

// IsHighSchool reports whether l is a high-school level
func (l GameLevel) IsHighSchool() bool {
	switch l {
	case LevelGirlsVarsity, LevelBoysVarsity, LevelGirlsJV, LevelBoysJV:
		return true
	}
	return false
}

// PeriodLength returns the regulation period length in seconds
func (l GameLevel) PeriodLength() float64 {
	switch l {
	case Level16U, Level18U, Level19U:
		return 480
	case Level14U:
		return 360
	case Level10U, Level12U:
		return 300
	default:
		return 420
	}
}

// DefaultMaxTimeouts returns the per-team timeout allowance
func (l GameLevel) DefaultMaxTimeouts() int {
	if l.IsHighSchool() {
		return 3
	}
	return 2
}

// Rule defaults shared by every level
const (
	RegularPeriods              = 4
	DefaultShotClock            = 30.0
	DefaultOvertimePeriodLength = 180.0
	DefaultMaxOvertimePeriods   = 2
	FoulOutThreshold            = 3
)

// EventType enumerates event ledger entries
type EventType string

const (
	EventGoal           EventType = "goal"
	EventShot           EventType = "shot"
	EventExclusion      EventType = "exclusion"
	EventExclusionDrawn EventType = "exclusion_drawn"
	EventPenalty        EventType = "penalty"
	EventPenaltyDrawn   EventType = "penalty_drawn"
	EventSteal          EventType = "steal"
	EventAssist         EventType = "assist"
	EventSprintWon      EventType = "sprint_won"
	EventSprintLost     EventType = "sprint_lost"
	EventTimeout        EventType = "timeout"
	EventPeriodStart    EventType = "period_start"
	EventPeriodEnd      EventType = "period_end"
	EventGameStart      EventType = "game_start"
	EventGameEnd        EventType = "game_end"
	EventFoulOut        EventType = "foul_out"
)

// Metadata keys and values used on events
const (
	MetaType               = "type"
	MetaShotClockViolation = "shot_clock_violation"
)

// ActionType enumerates scorekeeper actions
type ActionType string

const (
	ActionGoal           ActionType = "goal"
	ActionAssist         ActionType = "assist"
	ActionExclusion      ActionType = "exclusion"
	ActionExclusionDrawn ActionType = "exclusion_drawn"
	ActionPenalty        ActionType = "penalty"
	ActionPenaltyDrawn   ActionType = "penalty_drawn"
	ActionSteal          ActionType = "steal"
	ActionShot           ActionType = "shot"
	ActionSprintWon      ActionType = "sprint_won"
	ActionSprintLost     ActionType = "sprint_lost"
	ActionTimeout        ActionType = "timeout"
	ActionFiveMeterDrawn ActionType = "five_meter_drawn"
	ActionBlock          ActionType = "block"
	ActionTurnover       ActionType = "turnover"
)

// Valid reports whether a is a known action type
func (a ActionType) Valid() bool {
	switch a {
	case ActionGoal, ActionAssist, ActionExclusion, ActionExclusionDrawn,
		ActionPenalty, ActionPenaltyDrawn, ActionSteal, ActionShot,
		ActionSprintWon, ActionSprintLost, ActionTimeout,
		ActionFiveMeterDrawn, ActionBlock, ActionTurnover:
		return true
	}
	return false
}

// RequiresPlayer reports whether the action must name a primary player
func (a ActionType) RequiresPlayer() bool {
	return a != ActionTimeout
}
