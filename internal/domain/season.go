package domain

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

var seasonLocation = mustLoadLocation("America/Los_Angeles")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SeasonBounds returns the first instant of the season starting Aug 1 of year
// and the first instant after it ends (Aug 1 of year+1), Pacific time.
func SeasonBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.August, 1, 0, 0, 0, 0, seasonLocation)
	return start, start.AddDate(1, 0, 0)
}

// SeasonYearFor returns the starting year of the season containing t
func SeasonYearFor(t time.Time) int {
	local := t.In(seasonLocation)
	if local.Month() >= time.August {
		return local.Year()
	}
	return local.Year() - 1
}

// SeasonLabel formats a season year as "2025-26"
func SeasonLabel(year int) string {
	return fmt.Sprintf("%d-%02d", year, (year+1)%100)
}
