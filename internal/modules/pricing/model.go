package pricing

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/paperbull/engine/internal/domain"
)

// ModelConfig holds the tunable parameters of the price model.
type ModelConfig struct {
	UniformHalfWidth    float64 // half-width of the uniform random term
	GaussianSigma       float64 // sigma of the gaussian random term
	LeaderWeight        float64 // weight of the industry leader average change
	NewsWeight          float64 // weight of aggregated news impact on the final price
	MomentumScale       float64 // scales count*|lastChange| into momentum strength
	MaxMomentumStrength float64 // cap on the momentum bias magnitude
	ReversalBase        float64 // base probability of a trend reversal
	ReversalScale       float64 // scales count^1.5 into reversal probability
	MaxReversalChance   float64 // cap on the reversal probability
	DeterministicStreak int     // streak length at which the branch stops drawing randomness
	ReinforceFraction   float64 // fraction of strength applied when reinforcing the trend
}

// DefaultModelConfig returns the production parameters.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		UniformHalfWidth:    0.0175,
		GaussianSigma:       0.008,
		LeaderWeight:        0.3,
		NewsWeight:          0.5,
		MomentumScale:       0.3,
		MaxMomentumStrength: 0.05,
		ReversalBase:        0.15,
		ReversalScale:       0.2,
		MaxReversalChance:   0.9,
		DeterministicStreak: 5,
		ReinforceFraction:   0.8,
	}
}

// Result is the outcome of one price computation for one company.
type Result struct {
	NewPrice  float64 // rounded to 4 decimals; 0 when Delist is set
	Change    float64 // fractional change actually applied
	ChangePct float64 // Change * 100
	Reason    string
	Delist    bool
}

// Price change reasons recorded in the audit trail.
const (
	ReasonMarket    = "market_fluctuation"
	ReasonNews      = "news_impact"
	ReasonMomentum  = "momentum"
	ReasonDelisting = "delisting"
)

// newsReasonThreshold decides when news dominates the recorded reason.
const newsReasonThreshold = 0.01

// Model computes new prices from company state, momentum, news impact
// and industry context. It is safe for concurrent use; random draws are
// serialized internally so a seeded source stays reproducible.
type Model struct {
	cfg    ModelConfig
	mu     sync.Mutex
	rng    *rand.Rand
	normal distuv.Normal
	log    zerolog.Logger
}

// NewModel creates a price model over the given random source. Tests
// pass a seeded PCG to make draws reproducible.
func NewModel(cfg ModelConfig, src rand.Source, log zerolog.Logger) *Model {
	rng := rand.New(src)
	return &Model{
		cfg: cfg,
		rng: rng,
		normal: distuv.Normal{
			Mu:    0,
			Sigma: cfg.GaussianSigma,
			Src:   rng,
		},
		log: log.With().Str("component", "price_model").Logger(),
	}
}

// Compute derives the next price for a company.
//
// Inputs beyond the company itself: its momentum state, the aggregated
// news impact for this tick, the average recent change of the top
// market-cap peers in the same industry (from the pre-tick snapshot),
// and the current hour for time-of-day volatility.
//
// Any non-finite intermediate collapses to a zero delta: a numeric
// glitch must never move a price, and never aborts the tick.
func (m *Model) Compute(c *domain.Company, st MomentumState, newsImpact, leaderChange float64, hour int) Result {
	uniform, gauss := m.drawRandomTerms()

	newsImpact = m.sanitize(newsImpact, c.ID, "news_impact")
	leaderChange = m.sanitize(leaderChange, c.ID, "leader_change")

	randomTerm := uniform + gauss
	baseChange := (randomTerm + leaderChange*m.cfg.LeaderWeight) *
		IndustryVolatility(c.Industry) *
		TimeOfDayVolatility(hour) *
		MarketCapVolatility(c.MarketCap)

	bias := m.momentumBias(st)
	baseChange = m.sanitize(baseChange+bias, c.ID, "base_change")

	finalPrice := c.CurrentPrice * (1 + baseChange) * (1 + newsImpact*m.cfg.NewsWeight)
	finalPrice = round4(finalPrice)

	if !isFinite(finalPrice) {
		m.log.Error().
			Err(domain.ErrNumeric).
			Int64("company_id", c.ID).
			Float64("base_change", baseChange).
			Msg("Non-finite final price, keeping current price")
		finalPrice = c.CurrentPrice
	}

	if finalPrice <= 0 {
		return Result{NewPrice: 0, Change: -1, ChangePct: -100, Reason: ReasonDelisting, Delist: true}
	}

	change := 0.0
	if c.CurrentPrice > 0 {
		change = (finalPrice - c.CurrentPrice) / c.CurrentPrice
	}

	return Result{
		NewPrice:  finalPrice,
		Change:    change,
		ChangePct: change * 100,
		Reason:    m.classifyReason(newsImpact, bias),
	}
}

// drawRandomTerms produces the uniform and gaussian components under
// one lock so concurrent workers interleave whole draws.
func (m *Model) drawRandomTerms() (uniform, gauss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uniform = (m.rng.Float64()*2 - 1) * m.cfg.UniformHalfWidth
	gauss = m.normal.Rand()
	return uniform, gauss
}

// momentumBias converts momentum state into an additive bias on the
// base change.
//
// Short streaks (count <= 1) contribute nothing. Longer streaks build
// strength from the streak length and last move, capped, and flip a
// weighted coin between reinforcing and reversing the trend. Once the
// streak reaches the deterministic threshold no randomness is drawn at
// all: the branch is decided by the reversal probability alone, which
// by then has saturated into damping.
func (m *Model) momentumBias(st MomentumState) float64 {
	if st.ConsecutiveCount <= 1 || st.Direction == DirectionNeutral {
		return 0
	}

	count := float64(st.ConsecutiveCount)
	strength := math.Min(count*math.Abs(st.LastChange)*m.cfg.MomentumScale, m.cfg.MaxMomentumStrength)
	reversalChance := math.Min(m.cfg.ReversalBase+math.Pow(count, 1.5)*m.cfg.ReversalScale, m.cfg.MaxReversalChance)

	direction := float64(st.Direction)

	if st.ConsecutiveCount >= m.cfg.DeterministicStreak {
		if reversalChance >= 0.5 {
			return -direction * strength
		}
		return direction * strength * m.cfg.ReinforceFraction
	}

	m.mu.Lock()
	coin := m.rng.Float64()
	m.mu.Unlock()

	if coin < reversalChance {
		return -direction * strength
	}
	return direction * strength * m.cfg.ReinforceFraction
}

// sanitize clamps non-finite values to zero and logs the occurrence.
func (m *Model) sanitize(v float64, companyID int64, field string) float64 {
	if isFinite(v) {
		return v
	}

	m.log.Warn().
		Err(domain.ErrNumeric).
		Int64("company_id", companyID).
		Str("field", field).
		Msg("Non-finite value clamped to zero")
	return 0
}

func (m *Model) classifyReason(newsImpact, momentumBias float64) string {
	switch {
	case math.Abs(newsImpact) >= newsReasonThreshold:
		return ReasonNews
	case momentumBias != 0:
		return ReasonMomentum
	default:
		return ReasonMarket
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// LeaderAverages computes, per industry, the average fractional change
// of the top-N market-cap companies from a pre-tick snapshot. Every
// company's computation reads this same map, so no in-tick update can
// leak into another company's result.
func LeaderAverages(snapshot []domain.Company, topN int) map[domain.Industry]float64 {
	if topN <= 0 {
		topN = 3
	}

	byIndustry := make(map[domain.Industry][]domain.Company)
	for _, c := range snapshot {
		byIndustry[c.Industry] = append(byIndustry[c.Industry], c)
	}

	out := make(map[domain.Industry]float64, len(byIndustry))
	for ind, list := range byIndustry {
		// Selection by market cap, largest first.
		for i := 0; i < len(list) && i < topN; i++ {
			maxIdx := i
			for j := i + 1; j < len(list); j++ {
				if list[j].MarketCap > list[maxIdx].MarketCap {
					maxIdx = j
				}
			}
			list[i], list[maxIdx] = list[maxIdx], list[i]
		}

		n := topN
		if len(list) < n {
			n = len(list)
		}

		var sum float64
		for i := 0; i < n; i++ {
			c := list[i]
			if c.PreviousPrice > 0 {
				sum += (c.CurrentPrice - c.PreviousPrice) / c.PreviousPrice
			}
		}
		if n > 0 {
			out[ind] = sum / float64(n)
		}
	}

	return out
}
