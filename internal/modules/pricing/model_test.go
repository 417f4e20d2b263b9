package pricing

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperbull/engine/internal/domain"
)

func newTestModel(seed uint64) *Model {
	return NewModel(DefaultModelConfig(), rand.NewPCG(seed, 0), zerolog.Nop())
}

// A quiet mid-day tick for a small-cap healthcare stock at 1000 should
// land inside a few percent of the starting price almost every time.
func TestComputeQuietTickStaysNearPrice(t *testing.T) {
	model := newTestModel(42)

	company := &domain.Company{
		ID:           1,
		Industry:     domain.IndustryHealthcare,
		CurrentPrice: 1000,
		MarketCap:    2e9,
	}

	const runs = 2000
	inBand := 0
	for i := 0; i < runs; i++ {
		res := model.Compute(company, MomentumState{}, 0, 0, 11)
		require.False(t, res.Delist)
		require.Greater(t, res.NewPrice, 0.0)
		assert.Equal(t, ReasonMarket, res.Reason)
		if res.NewPrice >= 954 && res.NewPrice <= 1046 {
			inBand++
		}
	}

	assert.GreaterOrEqual(t, inBand, runs*95/100,
		"expected at least 95%% of quiet ticks within [954, 1046], got %d/%d", inBand, runs)
}

func TestComputeNewsImpactShiftsPrice(t *testing.T) {
	model := newTestModel(7)

	company := &domain.Company{
		ID:           2,
		Industry:     domain.IndustryHealthcare,
		CurrentPrice: 100,
		MarketCap:    2e9,
	}

	// Strong positive news dominates the random term on average.
	const runs = 500
	var sum float64
	for i := 0; i < runs; i++ {
		res := model.Compute(company, MomentumState{}, 0.08, 0, 11)
		assert.Equal(t, ReasonNews, res.Reason)
		sum += res.Change
	}
	assert.Greater(t, sum/runs, 0.02, "average change should reflect the news impact")
}

func TestComputeNonFiniteInputsCollapseToZeroDelta(t *testing.T) {
	model := newTestModel(3)

	company := &domain.Company{
		ID:           3,
		Industry:     domain.IndustryHealthcare,
		CurrentPrice: 500,
		MarketCap:    2e9,
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		res := model.Compute(company, MomentumState{}, bad, bad, 11)
		require.False(t, res.Delist)
		assert.Greater(t, res.NewPrice, 0.0)
		// Sanitized inputs leave only the random term, so the move
		// stays inside the normal quiet-tick range.
		assert.InDelta(t, 500, res.NewPrice, 500*0.10)
	}
}

func TestComputeDelistsWhenPriceRoundsToZero(t *testing.T) {
	model := newTestModel(9)

	company := &domain.Company{
		ID:           4,
		Industry:     domain.IndustryHealthcare,
		CurrentPrice: 0.00001,
		MarketCap:    1e6,
	}

	res := model.Compute(company, MomentumState{}, 0, 0, 11)
	require.True(t, res.Delist)
	assert.Equal(t, 0.0, res.NewPrice)
	assert.Equal(t, ReasonDelisting, res.Reason)
	assert.Equal(t, -1.0, res.Change)
	assert.Equal(t, -100.0, res.ChangePct)
}

func TestMomentumBiasShortStreaksContributeNothing(t *testing.T) {
	model := newTestModel(1)

	assert.Zero(t, model.momentumBias(MomentumState{}))
	assert.Zero(t, model.momentumBias(MomentumState{Direction: DirectionUp, ConsecutiveCount: 1, LastChange: 0.02}))
	assert.Zero(t, model.momentumBias(MomentumState{Direction: DirectionNeutral, ConsecutiveCount: 4, LastChange: 0.02}))
}

// At the deterministic streak length the branch stops drawing
// randomness, so repeated calls return the same value.
func TestMomentumBiasDeterministicAtLongStreaks(t *testing.T) {
	model := newTestModel(1)

	st := MomentumState{Direction: DirectionUp, ConsecutiveCount: 5, LastChange: 0.03}

	// count=5: reversalChance = min(0.15 + 5^1.5*0.2, 0.9) = 0.9 >= 0.5,
	// so the streak reverses with full strength.
	strength := math.Min(5*0.03*0.3, 0.05)
	want := -1.0 * strength

	for i := 0; i < 10; i++ {
		assert.InDelta(t, want, model.momentumBias(st), 1e-12)
	}
}

func TestMomentumBiasDeterministicDownStreakReverses(t *testing.T) {
	model := newTestModel(1)

	st := MomentumState{Direction: DirectionDown, ConsecutiveCount: 6, LastChange: -0.01}

	strength := math.Min(6*0.01*0.3, 0.05)
	got := model.momentumBias(st)
	assert.InDelta(t, strength, got, 1e-12, "down streak reversal pushes the price up")
}

func TestMomentumBiasStrengthIsCapped(t *testing.T) {
	model := newTestModel(1)

	st := MomentumState{Direction: DirectionUp, ConsecutiveCount: 8, LastChange: 0.15}
	got := model.momentumBias(st)
	assert.LessOrEqual(t, math.Abs(got), 0.05)
}

func TestLeaderAverages(t *testing.T) {
	snapshot := []domain.Company{
		{ID: 1, Industry: domain.IndustryTech, MarketCap: 300e9, CurrentPrice: 102, PreviousPrice: 100},
		{ID: 2, Industry: domain.IndustryTech, MarketCap: 200e9, CurrentPrice: 98, PreviousPrice: 100},
		{ID: 3, Industry: domain.IndustryTech, MarketCap: 100e9, CurrentPrice: 104, PreviousPrice: 100},
		{ID: 4, Industry: domain.IndustryTech, MarketCap: 1e9, CurrentPrice: 200, PreviousPrice: 100},
		{ID: 5, Industry: domain.IndustryEnergy, MarketCap: 50e9, CurrentPrice: 110, PreviousPrice: 100},
	}

	avgs := LeaderAverages(snapshot, 3)

	// Top three tech caps changed +2%, -2%, +4%; the small cap's +100%
	// move is excluded.
	require.Contains(t, avgs, domain.IndustryTech)
	assert.InDelta(t, (0.02-0.02+0.04)/3, avgs[domain.IndustryTech], 1e-9)

	require.Contains(t, avgs, domain.IndustryEnergy)
	assert.InDelta(t, 0.10, avgs[domain.IndustryEnergy], 1e-9)
}

func TestLeaderAveragesEmptySnapshot(t *testing.T) {
	assert.Empty(t, LeaderAverages(nil, 3))
}

func TestLeaderAveragesSkipsUnusablePreviousPrice(t *testing.T) {
	snapshot := []domain.Company{
		{ID: 1, Industry: domain.IndustryFinance, MarketCap: 10e9, CurrentPrice: 50, PreviousPrice: 0},
	}
	avgs := LeaderAverages(snapshot, 3)
	assert.Zero(t, avgs[domain.IndustryFinance])
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 123.4568, round4(123.45675))
	assert.Equal(t, 0.0, round4(0.00001))
	assert.Equal(t, 0.0001, round4(0.0001))
}
