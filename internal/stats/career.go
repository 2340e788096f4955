package stats

import (
	"slices"

	"github.com/waterpolo-stats/internal/domain"
)

// SeasonLine is a player's totals for one season
type SeasonLine struct {
	Year  int    `json:"year"`
	Label string `json:"label"`
	Games int    `json:"games"`
	Line
}

// Career is a player's totals across all durable games
type Career struct {
	PlayerID string       `json:"player_id"`
	Games    int          `json:"games"`
	Totals   Line         `json:"totals"`
	Seasons  []SeasonLine `json:"seasons"`
}

// CareerFor groups a player's durable events by the season containing each
// game's date. Seasons are returned most recent first.
func CareerFor(playerID string, events []domain.PlayerEvent) Career {
	type season struct {
		line  Line
		games map[string]struct{}
	}
	seasons := make(map[int]*season)
	games := make(map[string]struct{})

	for _, pe := range events {
		if pe.Event.PlayerID != playerID {
			continue
		}
		year := domain.SeasonYearFor(pe.GameDate)
		s, ok := seasons[year]
		if !ok {
			s = &season{games: make(map[string]struct{})}
			seasons[year] = s
		}
		s.line.addEvent(pe.Event.Type)
		s.games[pe.Event.GameID] = struct{}{}
		games[pe.Event.GameID] = struct{}{}
	}

	c := Career{PlayerID: playerID, Games: len(games), Seasons: make([]SeasonLine, 0, len(seasons))}
	for year, s := range seasons {
		c.Totals.add(s.line)
		c.Seasons = append(c.Seasons, SeasonLine{
			Year:  year,
			Label: domain.SeasonLabel(year),
			Games: len(s.games),
			Line:  s.line,
		})
	}
	slices.SortFunc(c.Seasons, func(a, b SeasonLine) int {
		return b.Year - a.Year
	})
	return c
}
