// Package stats derives player and team statistics from session ledgers.
package stats

import "github.com/waterpolo-stats/internal/domain"

// Counter names a GamePlayer stat counter
type Counter int

const (
	CounterNone Counter = iota
	CounterGoals
	CounterAssists
	CounterSteals
	CounterExclusions
	CounterExclusionsDrawn
	CounterPenaltiesDrawn
	CounterSprintsWon
	CounterSprintsLost
)

// Rule describes the counters and events produced by one action type.
// The secondary player plays for the opposing side when SecondaryOpposes is set.
type Rule struct {
	Primary          Counter
	PrimaryEvent     domain.EventType
	Secondary        Counter
	SecondaryEvent   domain.EventType
	SecondaryOpposes bool
	Scores           bool
}

var rules = map[domain.ActionType]Rule{
	domain.ActionGoal: {
		Primary: CounterGoals, PrimaryEvent: domain.EventGoal,
		Secondary: CounterAssists, SecondaryEvent: domain.EventAssist,
		Scores: true,
	},
	domain.ActionAssist: {Primary: CounterAssists, PrimaryEvent: domain.EventAssist},
	domain.ActionExclusion: {
		Primary: CounterExclusions, PrimaryEvent: domain.EventExclusion,
		Secondary: CounterExclusionsDrawn, SecondaryEvent: domain.EventExclusionDrawn,
		SecondaryOpposes: true,
	},
	domain.ActionExclusionDrawn: {Primary: CounterExclusionsDrawn, PrimaryEvent: domain.EventExclusionDrawn},
	domain.ActionPenalty: {
		Primary: CounterExclusions, PrimaryEvent: domain.EventPenalty,
		Secondary: CounterPenaltiesDrawn, SecondaryEvent: domain.EventPenaltyDrawn,
		SecondaryOpposes: true,
	},
	domain.ActionPenaltyDrawn: {Primary: CounterPenaltiesDrawn, PrimaryEvent: domain.EventPenaltyDrawn},
	domain.ActionSteal:        {Primary: CounterSteals, PrimaryEvent: domain.EventSteal},
	domain.ActionShot:         {PrimaryEvent: domain.EventShot},
	domain.ActionSprintWon:    {Primary: CounterSprintsWon, PrimaryEvent: domain.EventSprintWon},
	domain.ActionSprintLost:   {Primary: CounterSprintsLost, PrimaryEvent: domain.EventSprintLost},
	domain.ActionTimeout:      {PrimaryEvent: domain.EventTimeout},
}

// RuleFor returns the rule for an action type. Ledger-only actions such as
// blocks and turnovers return the zero Rule.
func RuleFor(t domain.ActionType) Rule {
	return rules[t]
}

// SecondarySide returns the side the secondary player of an action plays for
func (r Rule) SecondarySide(side domain.Side) domain.Side {
	if r.SecondaryOpposes {
		return side.Opponent()
	}
	return side
}

// FoulOutReached applies the foul-out thresholds to the player's counters
func FoulOutReached(p domain.GamePlayer) bool {
	return p.Exclusions >= domain.FoulOutThreshold ||
		p.ExclusionsDrawn+p.PenaltiesDrawn >= domain.FoulOutThreshold
}

// Apply increments counter c on p. It returns true only when this increment
// moved the player into the fouled-out state.
func Apply(p *domain.GamePlayer, c Counter) bool {
	switch c {
	case CounterGoals:
		p.Goals++
	case CounterAssists:
		p.Assists++
	case CounterSteals:
		p.Steals++
	case CounterExclusions:
		p.Exclusions++
	case CounterExclusionsDrawn:
		p.ExclusionsDrawn++
	case CounterPenaltiesDrawn:
		p.PenaltiesDrawn++
	case CounterSprintsWon:
		p.SprintsWon++
	case CounterSprintsLost:
		p.SprintsLost++
	default:
		return false
	}
	if p.FouledOut || !FoulOutReached(*p) {
		return false
	}
	p.FouledOut = true
	return true
}

// eventCounter maps a durable event type back to the counter it represents
func eventCounter(t domain.EventType) Counter {
	switch t {
	case domain.EventGoal:
		return CounterGoals
	case domain.EventAssist:
		return CounterAssists
	case domain.EventSteal:
		return CounterSteals
	case domain.EventExclusion, domain.EventPenalty:
		return CounterExclusions
	case domain.EventExclusionDrawn:
		return CounterExclusionsDrawn
	case domain.EventPenaltyDrawn:
		return CounterPenaltiesDrawn
	case domain.EventSprintWon:
		return CounterSprintsWon
	case domain.EventSprintLost:
		return CounterSprintsLost
	}
	return CounterNone
}
