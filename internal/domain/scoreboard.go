package domain

import "time"

// Scoreboard is the compact live view pushed to displays and cached per game
type Scoreboard struct {
	GameID       string     `json:"game_id"`
	HomeName     string     `json:"home_name"`
	AwayName     string     `json:"away_name"`
	HomeScore    int        `json:"home_score"`
	AwayScore    int        `json:"away_score"`
	Period       int        `json:"period"`
	IsOvertime   bool       `json:"is_overtime"`
	GameClock    float64    `json:"game_clock"`
	ShotClock    float64    `json:"shot_clock"`
	Status       GameStatus `json:"status"`
	PeriodActive bool       `json:"period_active"`
	Possession   Side       `json:"possession"`
	HomeTimeouts int        `json:"home_timeouts"`
	AwayTimeouts int        `json:"away_timeouts"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Scoreboard returns the scoreboard view of g
func (g *GameSession) Scoreboard() Scoreboard {
	return Scoreboard{
		GameID:       g.ID,
		HomeName:     g.Home.Name,
		AwayName:     g.Away.Name,
		HomeScore:    g.Home.Score,
		AwayScore:    g.Away.Score,
		Period:       g.Period,
		IsOvertime:   g.IsOvertime(),
		GameClock:    g.GameClock,
		ShotClock:    g.ShotClock,
		Status:       g.Status,
		PeriodActive: g.PeriodActive,
		Possession:   g.Possession,
		HomeTimeouts: g.Home.TimeoutsRemaining,
		AwayTimeouts: g.Away.TimeoutsRemaining,
		UpdatedAt:    g.UpdatedAt,
	}
}
