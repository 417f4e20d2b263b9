package news

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
)

// DecayConfig holds the tunable parameters of news impact decay.
//
// PositiveFlipProb and NegativeFlipProb model market skepticism: a
// fraction of events gets reinterpreted against its sentiment, and
// good news is doubted twice as often as bad news.
type DecayConfig struct {
	MinWindow        time.Duration // decay window at volatility 1.0
	MaxWindow        time.Duration // decay window at volatility 3.0
	MaxImpact        float64       // clamp on per-event and aggregate impact
	PositiveFlipProb float64
	NegativeFlipProb float64
	VariationMin     float64 // lower bound of per-event magnitude variation
	VariationMax     float64 // upper bound of per-event magnitude variation
	NoiseHalfWidth   float64 // relative noise on the tick total
}

// DefaultDecayConfig returns the production parameters.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		MinWindow:        1 * time.Minute,
		MaxWindow:        20 * time.Minute,
		MaxImpact:        0.08,
		PositiveFlipProb: 0.40,
		NegativeFlipProb: 0.20,
		VariationMin:     1.0,
		VariationMax:     1.8,
		NoiseHalfWidth:   0.01,
	}
}

// AggregateResult is the outcome of one per-company aggregation.
type AggregateResult struct {
	Impact     float64  // clamped aggregate impact for this tick
	ExpiredIDs []string // events whose decay window has elapsed
}

// DecayTracker aggregates time-bounded news influence into a per-tick
// impact value. It never mutates events itself; expired event IDs are
// returned so the caller can flip them applied exactly once.
type DecayTracker struct {
	cfg DecayConfig
	mu  sync.Mutex
	rng *rand.Rand
	log zerolog.Logger
}

// NewDecayTracker creates a decay tracker over the given random source.
func NewDecayTracker(cfg DecayConfig, src rand.Source, log zerolog.Logger) *DecayTracker {
	return &DecayTracker{
		cfg: cfg,
		rng: rand.New(src),
		log: log.With().Str("component", "news_decay").Logger(),
	}
}

// EffectiveDuration maps an event's volatility in [1,3] linearly onto
// the [MinWindow, MaxWindow] decay window.
func (d *DecayTracker) EffectiveDuration(volatility float64) time.Duration {
	v := math.Min(math.Max(volatility, 1.0), 3.0)
	frac := (v - 1.0) / 2.0
	return d.cfg.MinWindow + time.Duration(frac*float64(d.cfg.MaxWindow-d.cfg.MinWindow))
}

// DrawMood draws the macro market-mood multiplier once per tick.
// Bands: 25% pessimistic (0.5), 50% neutral (1.0), 25% exuberant (1.5).
func (d *DecayTracker) DrawMood() float64 {
	d.mu.Lock()
	u := d.rng.Float64()
	d.mu.Unlock()

	switch {
	case u < 0.25:
		return 0.5
	case u < 0.75:
		return 1.0
	default:
		return 1.5
	}
}

// Aggregate computes the clamped news impact for one company at one
// tick. mood is the per-tick market-mood multiplier shared by every
// company this tick.
func (d *DecayTracker) Aggregate(events []domain.NewsEvent, marketCap float64, mood float64, now time.Time) AggregateResult {
	var res AggregateResult
	if len(events) == 0 {
		return res
	}

	var total float64
	active := 0

	for _, ev := range events {
		if ev.Applied {
			continue
		}

		elapsed := now.Sub(ev.PublishedAt)
		if elapsed > d.EffectiveDuration(ev.Volatility) {
			res.ExpiredIDs = append(res.ExpiredIDs, ev.ID)
			continue
		}

		total += d.eventImpact(ev, marketCap, mood)
		active++
	}

	if active > 0 {
		d.mu.Lock()
		noise := (d.rng.Float64()*2 - 1) * d.cfg.NoiseHalfWidth
		d.mu.Unlock()

		total *= 1 + noise
	}

	res.Impact = clamp(total, d.cfg.MaxImpact)
	return res
}

// eventImpact computes one event's contribution.
func (d *DecayTracker) eventImpact(ev domain.NewsEvent, marketCap, mood float64) float64 {
	d.mu.Lock()
	variation := d.cfg.VariationMin + d.rng.Float64()*(d.cfg.VariationMax-d.cfg.VariationMin)
	flipDraw := d.rng.Float64()
	neutralSign := 1.0
	if d.rng.Float64() < 0.5 {
		neutralSign = -1.0
	}
	d.mu.Unlock()

	base := math.Abs(ev.ImpactMagnitude) * variation

	var signed float64
	switch ev.Sentiment {
	case domain.SentimentPositive:
		signed = base
		if flipDraw < d.cfg.PositiveFlipProb {
			signed = -signed
		}
		signed *= 1.4
	case domain.SentimentNegative:
		signed = -base
		if flipDraw < d.cfg.NegativeFlipProb {
			signed = -signed
		}
		signed *= 1.6
	default:
		signed = base * neutralSign
	}

	if ev.Volatility >= 1.8 {
		signed *= 1.2
	}

	signed *= newsMarketCapMultiplier(marketCap)
	signed *= mood

	return clamp(signed, d.cfg.MaxImpact)
}

// newsMarketCapMultiplier scales news impact by company size: big names
// move markets.
func newsMarketCapMultiplier(marketCap float64) float64 {
	switch {
	case marketCap > 100e9:
		return 1.4
	case marketCap > 10e9:
		return 1.2
	default:
		return 1.0
	}
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
