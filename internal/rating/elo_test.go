package rating

import (
	"math"
	"testing"

	"github.com/park285/chess-arena/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestEqualRatedRapidWin(t *testing.T) {
	r := require.New(t)
	adj := ComputeAdjustment(Input{
		RatingA: 1200, GamesPlayedA: 40,
		RatingB: 1200, GamesPlayedB: 40,
		Outcome: domain.OutcomeWin, GameType: domain.GameRapid,
	})
	r.Equal(32, adj.KA)
	r.Equal(32, adj.KB)
	r.Equal(16, adj.DeltaA)
	r.Equal(-16, adj.DeltaB)
	r.Equal(1216, adj.NewA)
	r.Equal(1184, adj.NewB)
}

func TestEqualRatedProvisionalRapidWin(t *testing.T) {
	// Both newcomers: provisional K = 64, so the win is worth 32 points.
	adj := ComputeAdjustment(Input{
		RatingA: 1200, GamesPlayedA: 0,
		RatingB: 1200, GamesPlayedB: 0,
		Outcome: domain.OutcomeWin, GameType: domain.GameRapid,
	})
	require.Equal(t, 32, adj.DeltaA)
	require.Equal(t, -32, adj.DeltaB)
	require.Equal(t, 1232, adj.NewA)
	require.Equal(t, 1168, adj.NewB)
}

func TestExpectedScoresSumToOne(t *testing.T) {
	pairs := [][2]int{{1200, 1200}, {1500, 1900}, {100, 2800}, {2400, 2399}, {1000, 1010}}
	for _, p := range pairs {
		sum := Expected(p[0], p[1]) + Expected(p[1], p[0])
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("expected scores for %v sum to %f", p, sum)
		}
	}
}

func TestKFactorSelection(t *testing.T) {
	cases := []struct {
		name   string
		gt     domain.GameType
		rating int
		games  int
		want   int
	}{
		{"provisional beats high rating", domain.GameBlitz, 2500, 5, 64},
		{"established high", domain.GameBlitz, 2500, 50, 16},
		{"established default", domain.GameBullet, 1800, 50, 32},
		{"classical provisional", domain.GameClassical, 1500, 29, 48},
		{"classical default", domain.GameClassical, 2399, 30, 24},
		{"classical high", domain.GameClassical, 2400, 30, 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KFactor(tc.gt, tc.rating, tc.games))
		})
	}
}

func TestRatingFloor(t *testing.T) {
	adj := ComputeAdjustment(Input{
		RatingA: 105, GamesPlayedA: 3,
		RatingB: 110, GamesPlayedB: 3,
		Outcome: domain.OutcomeLoss, GameType: domain.GameBullet,
	})
	require.Less(t, adj.DeltaA, -5)
	require.Equal(t, domain.RatingFloor, adj.NewA)
	require.Greater(t, adj.NewB, 110)
}

func TestDrawBetweenUnequalRatings(t *testing.T) {
	adj := ComputeAdjustment(Input{
		RatingA: 1400, GamesPlayedA: 100,
		RatingB: 1800, GamesPlayedB: 100,
		Outcome: domain.OutcomeDraw, GameType: domain.GameClassical,
	})
	require.Positive(t, adj.DeltaA)
	require.Negative(t, adj.DeltaB)
	require.Equal(t, -adj.DeltaA, adj.DeltaB)
}

func TestComputeAdjustmentIsPure(t *testing.T) {
	in := Input{
		RatingA: 1623, GamesPlayedA: 12,
		RatingB: 1711, GamesPlayedB: 300,
		Outcome: domain.OutcomeLoss, GameType: domain.GameBlitz,
	}
	first := ComputeAdjustment(in)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, ComputeAdjustment(in))
	}
}
