// Package rating computes ELO adjustments for two-participant games.
package rating

import (
	"math"

	"github.com/park285/chess-arena/internal/domain"
)

// ProvisionalGames is the number of rated games below which a participant uses the provisional K.
const ProvisionalGames = 30

// HighRatingThreshold selects the reduced K for established strong participants.
const HighRatingThreshold = 2400

// KTable holds the K-factors for one game type.
type KTable struct {
	Default     int
	Provisional int
	High        int
}

var (
	fastTable      = KTable{Default: 32, Provisional: 64, High: 16}
	classicalTable = KTable{Default: 24, Provisional: 48, High: 12}
)

// TableFor returns the K-factor table of a game type. Unknown types use the fast table.
func TableFor(gt domain.GameType) KTable {
	if gt == domain.GameClassical {
		return classicalTable
	}
	return fastTable
}

// KFactor selects K for a participant.
func KFactor(gt domain.GameType, rating, gamesPlayed int) int {
	t := TableFor(gt)
	switch {
	case gamesPlayed < ProvisionalGames:
		return t.Provisional
	case rating >= HighRatingThreshold:
		return t.High
	default:
		return t.Default
	}
}

// Expected is the expected score of a participant rated own against one rated opp.
func Expected(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

type Input struct {
	RatingA      int
	GamesPlayedA int
	RatingB      int
	GamesPlayedB int
	// Outcome is from A's perspective.
	Outcome  domain.Outcome
	GameType domain.GameType
}

type Adjustment struct {
	DeltaA    int
	DeltaB    int
	ExpectedA float64
	ExpectedB float64
	KA        int
	KB        int
	NewA      int
	NewB      int
}

// ComputeAdjustment is pure: the same input always yields the same adjustment.
func ComputeAdjustment(in Input) Adjustment {
	ea := Expected(in.RatingA, in.RatingB)
	eb := Expected(in.RatingB, in.RatingA)
	ka := KFactor(in.GameType, in.RatingA, in.GamesPlayedA)
	kb := KFactor(in.GameType, in.RatingB, in.GamesPlayedB)
	sa := in.Outcome.Score()
	sb := in.Outcome.Invert().Score()

	da := delta(ka, sa, ea)
	db := delta(kb, sb, eb)
	return Adjustment{
		DeltaA:    da,
		DeltaB:    db,
		ExpectedA: ea,
		ExpectedB: eb,
		KA:        ka,
		KB:        kb,
		NewA:      floor(in.RatingA + da),
		NewB:      floor(in.RatingB + db),
	}
}

func delta(k int, score, expected float64) int {
	return int(math.Round(float64(k) * (score - expected)))
}

func floor(r int) int {
	if r < domain.RatingFloor {
		return domain.RatingFloor
	}
	return r
}
