package domain

import "time"

// CommandName identifies a remote scorekeeper command
type CommandName string

const (
	CommandStart          CommandName = "start"
	CommandPause          CommandName = "pause"
	CommandResume         CommandName = "resume"
	CommandEndPeriod      CommandName = "end_period"
	CommandNextPeriod     CommandName = "next_period"
	CommandEndGame        CommandName = "end_game"
	CommandResetShotClock CommandName = "reset_shot_clock"
	CommandPossession     CommandName = "possession"
	CommandAdjustClock    CommandName = "adjust_clock"
	CommandAction         CommandName = "action"
	CommandAddPlayer      CommandName = "add_player"
	CommandRemovePlayer   CommandName = "remove_player"
	CommandCapSwap        CommandName = "cap_swap"
	CommandSave           CommandName = "save"
)

// Command is one message on the commands feed. Fields beyond GameID and
// Command are read according to the command.
type Command struct {
	GameID  string      `json:"game_id"`
	Command CommandName `json:"command"`

	Side                  Side       `json:"side,omitempty"`
	ActionType            ActionType `json:"action_type,omitempty"`
	PlayerNumber          *int       `json:"player_number,omitempty"`
	SecondaryPlayerNumber *int       `json:"secondary_player_number,omitempty"`
	IsFiveMeterShot       bool       `json:"is_five_meter_shot,omitempty"`
	IsPenaltyFoul         bool       `json:"is_penalty_foul,omitempty"`

	PlayerID   string  `json:"player_id,omitempty"`
	PlayerName string  `json:"player_name,omitempty"`
	CapNumber  int     `json:"cap_number,omitempty"`
	IsGoalie   bool    `json:"is_goalie,omitempty"`
	Delta      float64 `json:"delta,omitempty"`

	IssuedAt time.Time `json:"issued_at,omitempty"`
}

// FeedEvent is one event as published on the events feed
type FeedEvent struct {
	GameID    string          `json:"game_id"`
	HomeScore int             `json:"home_score"`
	AwayScore int             `json:"away_score"`
	Event     GameEventRecord `json:"event"`
}
