package news

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperbull/engine/internal/domain"
)

func newTestTracker(seed uint64) *DecayTracker {
	return NewDecayTracker(DefaultDecayConfig(), rand.NewPCG(seed, 0), zerolog.Nop())
}

func TestEffectiveDurationMapsVolatilityLinearly(t *testing.T) {
	tracker := newTestTracker(1)

	assert.Equal(t, 1*time.Minute, tracker.EffectiveDuration(1.0))
	assert.Equal(t, 20*time.Minute, tracker.EffectiveDuration(3.0))

	mid := tracker.EffectiveDuration(2.0)
	assert.InDelta(t, float64(10*time.Minute+30*time.Second), float64(mid), float64(time.Second))

	// Out-of-range volatility is clamped.
	assert.Equal(t, 1*time.Minute, tracker.EffectiveDuration(0.2))
	assert.Equal(t, 20*time.Minute, tracker.EffectiveDuration(9.9))
}

func TestAggregateExpiredEventContributesNothing(t *testing.T) {
	tracker := newTestTracker(2)
	now := time.Now()

	ev := domain.NewsEvent{
		ID:              "ev-1",
		CompanyID:       1,
		Sentiment:       domain.SentimentPositive,
		ImpactMagnitude: 0.03,
		Volatility:      1.0,
		PublishedAt:     now.Add(-2 * time.Minute), // past the 1m window at vol 1.0
	}

	res := tracker.Aggregate([]domain.NewsEvent{ev}, 2e9, 1.0, now)
	assert.Zero(t, res.Impact)
	assert.Equal(t, []string{"ev-1"}, res.ExpiredIDs)
}

func TestAggregateSkipsAppliedEvents(t *testing.T) {
	tracker := newTestTracker(3)
	now := time.Now()

	ev := domain.NewsEvent{
		ID:              "ev-2",
		Sentiment:       domain.SentimentPositive,
		ImpactMagnitude: 0.03,
		Volatility:      2.0,
		PublishedAt:     now,
		Applied:         true,
	}

	res := tracker.Aggregate([]domain.NewsEvent{ev}, 2e9, 1.0, now)
	assert.Zero(t, res.Impact)
	assert.Empty(t, res.ExpiredIDs, "applied events are not re-expired")
}

func TestAggregateImpactIsClamped(t *testing.T) {
	tracker := newTestTracker(4)
	now := time.Now()

	events := make([]domain.NewsEvent, 6)
	for i := range events {
		events[i] = domain.NewsEvent{
			ID:              "big",
			Sentiment:       domain.SentimentPositive,
			ImpactMagnitude: 0.5,
			Volatility:      2.5,
			PublishedAt:     now,
		}
	}

	for i := 0; i < 200; i++ {
		res := tracker.Aggregate(events, 200e9, 1.5, now)
		assert.LessOrEqual(t, math.Abs(res.Impact), 0.08)
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	tracker := newTestTracker(5)
	res := tracker.Aggregate(nil, 1e9, 1.0, time.Now())
	assert.Zero(t, res.Impact)
	assert.Empty(t, res.ExpiredIDs)
}

func TestDrawMoodBands(t *testing.T) {
	tracker := newTestTracker(6)

	counts := map[float64]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		mood := tracker.DrawMood()
		require.Contains(t, []float64{0.5, 1.0, 1.5}, mood)
		counts[mood]++
	}

	// 25% / 50% / 25% bands, generous tolerance.
	assert.InDelta(t, draws/4, counts[0.5], draws/20)
	assert.InDelta(t, draws/2, counts[1.0], draws/20)
	assert.InDelta(t, draws/4, counts[1.5], draws/20)
}

// Negative sentiment should push the aggregate down on average despite
// the skepticism flips.
func TestAggregateNegativeSentimentSkewsDown(t *testing.T) {
	tracker := newTestTracker(7)
	now := time.Now()

	ev := domain.NewsEvent{
		ID:              "ev-neg",
		Sentiment:       domain.SentimentNegative,
		ImpactMagnitude: 0.02,
		Volatility:      2.0,
		PublishedAt:     now,
	}

	var sum float64
	const runs = 2000
	for i := 0; i < runs; i++ {
		sum += tracker.Aggregate([]domain.NewsEvent{ev}, 2e9, 1.0, now).Impact
	}
	assert.Negative(t, sum/runs)
}
