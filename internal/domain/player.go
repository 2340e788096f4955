package domain

import "time"

// GamePlayer holds a player's in-game identity and running counters
type GamePlayer struct {
	ID              string `json:"id"`
	CapNumber       int    `json:"cap_number"`
	Name            string `json:"name"`
	InGame          bool   `json:"in_game"`
	IsGoalie        bool   `json:"is_goalie"`
	Goals           int    `json:"goals"`
	Assists         int    `json:"assists"`
	Steals          int    `json:"steals"`
	Exclusions      int    `json:"exclusions"`
	ExclusionsDrawn int    `json:"exclusions_drawn"`
	PenaltiesDrawn  int    `json:"penalties_drawn"`
	SprintsWon      int    `json:"sprints_won"`
	SprintsLost     int    `json:"sprints_lost"`
	FouledOut       bool   `json:"fouled_out"`
}

// TotalFouls is exclusions plus penalties drawn
func (p GamePlayer) TotalFouls() int {
	return p.Exclusions + p.PenaltiesDrawn
}

// CanReceiveFoul reports whether the player may still be charged a foul
func (p GamePlayer) CanReceiveFoul() bool {
	return p.TotalFouls() < FoulOutThreshold && !p.FouledOut
}

// ResetCounters zeroes every stat counter and the foul-out flag
func (p *GamePlayer) ResetCounters() {
	p.Goals = 0
	p.Assists = 0
	p.Steals = 0
	p.Exclusions = 0
	p.ExclusionsDrawn = 0
	p.PenaltiesDrawn = 0
	p.SprintsWon = 0
	p.SprintsLost = 0
	p.FouledOut = false
}

// PlayerRecord is a durable player
type PlayerRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CapNumber     int       `json:"cap_number,omitempty"`
	TeamID        string    `json:"team_id,omitempty"`
	IsPlaceholder bool      `json:"is_placeholder"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
