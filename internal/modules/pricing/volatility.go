// Package pricing implements the stochastic price model and the
// momentum state it feeds on.
package pricing

import "github.com/paperbull/engine/internal/domain"

// DefaultIndustryVolatility applies when a value outside the closed
// industry set somehow reaches the model.
const DefaultIndustryVolatility = 1.0

// IndustryVolatility returns the volatility multiplier for an industry.
func IndustryVolatility(ind domain.Industry) float64 {
	switch ind {
	case domain.IndustryTech:
		return 1.3
	case domain.IndustryFinance:
		return 0.9
	case domain.IndustryEnergy:
		return 1.2
	case domain.IndustryHealthcare:
		return 1.0
	case domain.IndustryConsumer:
		return 0.8
	case domain.IndustryIndustrial:
		return 0.9
	case domain.IndustryEntertainment:
		return 1.1
	case domain.IndustryCrypto:
		return 1.8
	default:
		return DefaultIndustryVolatility
	}
}

// TimeOfDayVolatility returns the volatility multiplier for the hour of
// day. Session open and close are the busiest; lunch is quiet.
func TimeOfDayVolatility(hour int) float64 {
	switch {
	case hour == 9:
		return 1.4
	case hour == 10:
		return 1.2
	case hour == 12:
		return 0.8
	case hour == 14:
		return 1.1
	case hour == 15:
		return 1.3
	default:
		return 1.0
	}
}

// Market cap tiers in absolute currency units.
const (
	largeCapThreshold = 100e9
	midCapThreshold   = 10e9
)

// MarketCapVolatility returns the volatility multiplier for a company's
// market cap. Small caps swing harder.
func MarketCapVolatility(marketCap float64) float64 {
	switch {
	case marketCap > largeCapThreshold:
		return 0.7
	case marketCap > midCapThreshold:
		return 1.0
	default:
		return 1.3
	}
}
