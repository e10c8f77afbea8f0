// Package priority ranks rescue points by blending safety signals with responder proximity.
package priority

import (
	"math"

	"github.com/rescuenet/dispatch/pkg/core"
)

// Weights of the additive score model.
const (
	PanicPoints      = 50
	UrgencyPoints    = 30
	InjuredPoints    = 25
	NoFoodPoints     = 15
	PointsPerPerson  = 2
	MaxPeoplePoints  = 20
	DistancePenaltyK = 5
)

// Input holds the attributes the score depends on. NearestTeamKm is nil when no team is available.
type Input struct {
	IsPanic       bool
	Urgency       int
	Injured       bool
	WaterLevel    core.WaterLevel
	FoodAvailable bool
	People        int
	NearestTeamKm *float64
}

// FromPoint builds an Input from a stored rescue point.
func FromPoint(p core.RescuePoint, nearestTeamKm *float64) Input {
	return Input{
		IsPanic:       p.IsPanic,
		Urgency:       p.Urgency,
		Injured:       p.Injured,
		WaterLevel:    p.WaterLevel,
		FoodAvailable: p.FoodAvailable,
		People:        p.People,
		NearestTeamKm: nearestTeamKm,
	}
}

// WaterLevelPoints maps a water level bucket to its score contribution.
func WaterLevelPoints(w core.WaterLevel) int {
	switch w {
	case core.WaterBelowHalf:
		return 5
	case core.WaterHalfToOne:
		return 10
	case core.WaterOneToTwo:
		return 20
	case core.WaterAboveTwo:
		return 30
	default:
		return 0
	}
}

// Score computes the priority of a report. All additions happen before the single distance
// subtraction, and the result is clamped at zero.
func Score(in Input) int {
	score := 0

	if in.IsPanic {
		score += PanicPoints
	}
	score += in.Urgency * UrgencyPoints
	if in.Injured {
		score += InjuredPoints
	}
	score += WaterLevelPoints(in.WaterLevel)
	if !in.FoodAvailable {
		score += NoFoodPoints
	}
	score += min(in.People*PointsPerPerson, MaxPeoplePoints)

	if in.NearestTeamKm != nil {
		score -= roundHalfUp(*in.NearestTeamKm * DistancePenaltyK)
	}

	return max(score, 0)
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
