package stats

import (
	"slices"

	"github.com/waterpolo-stats/internal/domain"
)

// Line is a set of counting stats
type Line struct {
	Goals           int `json:"goals"`
	Assists         int `json:"assists"`
	Steals          int `json:"steals"`
	Exclusions      int `json:"exclusions"`
	ExclusionsDrawn int `json:"exclusions_drawn"`
	PenaltiesDrawn  int `json:"penalties_drawn"`
	SprintsWon      int `json:"sprints_won"`
	SprintsLost     int `json:"sprints_lost"`
	Shots           int `json:"shots"`
	FoulOuts        int `json:"foul_outs"`
}

func (l *Line) add(o Line) {
	l.Goals += o.Goals
	l.Assists += o.Assists
	l.Steals += o.Steals
	l.Exclusions += o.Exclusions
	l.ExclusionsDrawn += o.ExclusionsDrawn
	l.PenaltiesDrawn += o.PenaltiesDrawn
	l.SprintsWon += o.SprintsWon
	l.SprintsLost += o.SprintsLost
	l.Shots += o.Shots
	l.FoulOuts += o.FoulOuts
}

func (l *Line) addEvent(t domain.EventType) {
	switch t {
	case domain.EventGoal:
		l.Goals++
	case domain.EventAssist:
		l.Assists++
	case domain.EventSteal:
		l.Steals++
	case domain.EventExclusion, domain.EventPenalty:
		l.Exclusions++
	case domain.EventExclusionDrawn:
		l.ExclusionsDrawn++
	case domain.EventPenaltyDrawn:
		l.PenaltiesDrawn++
	case domain.EventSprintWon:
		l.SprintsWon++
	case domain.EventSprintLost:
		l.SprintsLost++
	case domain.EventShot:
		l.Shots++
	case domain.EventFoulOut:
		l.FoulOuts++
	}
}

func lineOf(p domain.GamePlayer) Line {
	l := Line{
		Goals:           p.Goals,
		Assists:         p.Assists,
		Steals:          p.Steals,
		Exclusions:      p.Exclusions,
		ExclusionsDrawn: p.ExclusionsDrawn,
		PenaltiesDrawn:  p.PenaltiesDrawn,
		SprintsWon:      p.SprintsWon,
		SprintsLost:     p.SprintsLost,
	}
	if p.FouledOut {
		l.FoulOuts = 1
	}
	return l
}

// FindPlayer returns the team's player with the given id
func FindPlayer(team *domain.TeamSide, playerID string) *domain.GamePlayer {
	if team == nil || playerID == "" {
		return nil
	}
	for i := range team.Players {
		if team.Players[i].ID == playerID {
			return &team.Players[i]
		}
	}
	return nil
}

// ReplayCounters rebuilds every player's counters and foul-out flag from the
// action ledger. No events are produced.
func ReplayCounters(s *domain.GameSession) {
	for _, team := range []*domain.TeamSide{&s.Home, &s.Away} {
		for i := range team.Players {
			team.Players[i].ResetCounters()
		}
	}
	for _, a := range s.Actions {
		rule := RuleFor(a.Type)
		if p := FindPlayer(s.Team(a.Side), a.PlayerID); p != nil {
			Apply(p, rule.Primary)
		}
		if rule.Secondary == CounterNone {
			continue
		}
		if p := FindPlayer(s.Team(rule.SecondarySide(a.Side)), a.SecondaryPlayerID); p != nil {
			Apply(p, rule.Secondary)
		}
	}
}

// ScoreFromEvents counts goal events attributed to side
func ScoreFromEvents(events []domain.GameEventRecord, side domain.Side) int {
	n := 0
	for _, e := range events {
		if e.Type == domain.EventGoal && e.Side == side {
			n++
		}
	}
	return n
}

// CountActions counts actions of type t whose primary player is playerID
func CountActions(actions []domain.GameActionRecord, t domain.ActionType, playerID string) int {
	n := 0
	for _, a := range actions {
		if a.Type == t && a.PlayerID == playerID {
			n++
		}
	}
	return n
}

// CountEvents counts events of type t attributed to playerID
func CountEvents(events []domain.GameEventRecord, t domain.EventType, playerID string) int {
	n := 0
	for _, e := range events {
		if e.Type == t && e.PlayerID == playerID {
			n++
		}
	}
	return n
}

// CountersFromEvents rebuilds per-player counters from durable events keyed by
// player id. Unlinked events are ignored.
func CountersFromEvents(events []domain.EventRecord) map[string]*domain.GamePlayer {
	out := make(map[string]*domain.GamePlayer)
	for _, e := range events {
		if e.PlayerID == "" {
			continue
		}
		p, ok := out[e.PlayerID]
		if !ok {
			p = &domain.GamePlayer{ID: e.PlayerID}
			out[e.PlayerID] = p
		}
		if e.Type == domain.EventFoulOut {
			p.FouledOut = true
			continue
		}
		Apply(p, eventCounter(e.Type))
	}
	return out
}

// PlayerLine is one player's row in a box score
type PlayerLine struct {
	PlayerID   string `json:"player_id"`
	Name       string `json:"name"`
	CapNumber  int    `json:"cap_number"`
	IsGoalie   bool   `json:"is_goalie"`
	InGame     bool   `json:"in_game"`
	FouledOut  bool   `json:"fouled_out"`
	TotalFouls int    `json:"total_fouls"`
	Line
}

// TeamBox is one side of a box score
type TeamBox struct {
	TeamID            string       `json:"team_id,omitempty"`
	Name              string       `json:"name"`
	Score             int          `json:"score"`
	TimeoutsRemaining int          `json:"timeouts_remaining"`
	Players           []PlayerLine `json:"players"`
	Totals            Line         `json:"totals"`
}

// BoxScore is a read-only summary of a session for display and export
type BoxScore struct {
	GameID       string               `json:"game_id"`
	Status       domain.GameStatus    `json:"status"`
	Period       int                  `json:"period"`
	Home         TeamBox              `json:"home"`
	Away         TeamBox              `json:"away"`
	PeriodScores []domain.PeriodScore `json:"period_scores"`
}

// Box builds the box score for a session from its player counters. Shot
// totals come from the action ledger since players carry no shot counter.
func Box(s *domain.GameSession) BoxScore {
	return BoxScore{
		GameID:       s.ID,
		Status:       s.Status,
		Period:       s.Period,
		Home:         teamBox(s, domain.SideHome),
		Away:         teamBox(s, domain.SideAway),
		PeriodScores: slices.Clone(s.PeriodScores),
	}
}

func teamBox(s *domain.GameSession, side domain.Side) TeamBox {
	team := s.Team(side)
	box := TeamBox{
		TeamID:            team.TeamID,
		Name:              team.Name,
		Score:             team.Score,
		TimeoutsRemaining: team.TimeoutsRemaining,
		Players:           make([]PlayerLine, 0, len(team.Players)),
	}
	for _, p := range team.Players {
		line := lineOf(p)
		line.Shots = CountActions(s.Actions, domain.ActionShot, p.ID)
		box.Players = append(box.Players, PlayerLine{
			PlayerID:   p.ID,
			Name:       p.Name,
			CapNumber:  p.CapNumber,
			IsGoalie:   p.IsGoalie,
			InGame:     p.InGame,
			FouledOut:  p.FouledOut,
			TotalFouls: p.TotalFouls(),
			Line:       line,
		})
		box.Totals.add(line)
	}
	slices.SortStableFunc(box.Players, func(a, b PlayerLine) int {
		return a.CapNumber - b.CapNumber
	})
	return box
}
