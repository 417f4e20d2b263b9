// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"
)

// Industry classifies a listed company. The set is closed: volatility
// parameters are defined per industry and an unrecognized value is a
// parse error, never a silent fallback.
type Industry string

const (
	IndustryTech          Industry = "TECH"
	IndustryFinance       Industry = "FINANCE"
	IndustryEnergy        Industry = "ENERGY"
	IndustryHealthcare    Industry = "HEALTHCARE"
	IndustryConsumer      Industry = "CONSUMER"
	IndustryIndustrial    Industry = "INDUSTRIAL"
	IndustryEntertainment Industry = "ENTERTAINMENT"
	IndustryCrypto        Industry = "CRYPTO"
)

// AllIndustries lists every valid industry value.
var AllIndustries = []Industry{
	IndustryTech,
	IndustryFinance,
	IndustryEnergy,
	IndustryHealthcare,
	IndustryConsumer,
	IndustryIndustrial,
	IndustryEntertainment,
	IndustryCrypto,
}

// ParseIndustry validates a raw industry string from storage.
func ParseIndustry(s string) (Industry, error) {
	for _, ind := range AllIndustries {
		if string(ind) == s {
			return ind, nil
		}
	}
	return "", fmt.Errorf("unknown industry %q", s)
}

// Company represents a listed company with its current price state.
// Mutated every market tick by the price model. IsDelisted is a one-way
// transition: a delisted company stays frozen at price zero forever.
type Company struct {
	ID                  int64    `json:"id"`
	Ticker              string   `json:"ticker"`
	Name                string   `json:"name"`
	Industry            Industry `json:"industry"`
	CurrentPrice        float64  `json:"current_price"`
	PreviousPrice       float64  `json:"previous_price"`
	LastClosingPrice    float64  `json:"last_closing_price"`
	MarketCap           float64  `json:"market_cap"`
	IsDelisted          bool     `json:"is_delisted"`
	ConsecutiveDownDays int      `json:"consecutive_down_days"`
}

// ChangePct returns the last tick's change in percent, or 0 if the
// previous price is unusable.
func (c *Company) ChangePct() float64 {
	if c.PreviousPrice <= 0 {
		return 0
	}
	return (c.CurrentPrice - c.PreviousPrice) / c.PreviousPrice * 100
}

// Sentiment classifies a news event.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// NewsEvent is a published news item that influences a company's price
// for a bounded decay window. Created externally (or by the news tick);
// mutated exactly once, when Applied flips true at the end of the window.
type NewsEvent struct {
	ID              string    `json:"id"`
	CompanyID       int64     `json:"company_id"`
	Headline        string    `json:"headline"`
	Sentiment       Sentiment `json:"sentiment"`
	ImpactMagnitude float64   `json:"impact_magnitude"`
	Volatility      float64   `json:"volatility"` // 1.0 (calm) .. 3.0 (frantic)
	PublishedAt     time.Time `json:"published_at"`
	Applied         bool      `json:"applied"`
}

// PriceUpdateRecord is an append-only audit row describing one price
// change. Rows are never mutated.
type PriceUpdateRecord struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	OldPrice  float64   `json:"old_price"`
	NewPrice  float64   `json:"new_price"`
	ChangePct float64   `json:"change_pct"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderType is the side of a pending order.
type OrderType string

const (
	OrderTypeBuy  OrderType = "buy"
	OrderTypeSell OrderType = "sell"
)

// ConditionType is the trigger condition of a pending order.
type ConditionType string

const (
	// ConditionPriceBelow triggers a buy when price <= target.
	ConditionPriceBelow ConditionType = "price_below"
	// ConditionPriceAbove triggers a sell when price >= target.
	ConditionPriceAbove ConditionType = "price_above"
	// ConditionProfitRate triggers a sell when the holding's profit
	// percentage >= target.
	ConditionProfitRate ConditionType = "profit_rate"
)

// OrderStatus is the lifecycle state of a pending order. Transitions are
// monotonic: pending -> executed | cancelled | expired, never reversed.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// PendingOrder is a conditional order with escrow already withheld at
// placement. This engine only ever consumes orders; placement lives
// outside the core and is trusted to have escrowed correctly.
type PendingOrder struct {
	ID             string        `json:"id"`
	UserID         int64         `json:"user_id"`
	CompanyID      int64         `json:"company_id"`
	OrderType      OrderType     `json:"order_type"`
	ConditionType  ConditionType `json:"condition_type"`
	TargetValue    float64       `json:"target_value"`
	Shares         int64         `json:"shares"`
	EscrowedAmount float64       `json:"escrowed_amount"`
	Status         OrderStatus   `json:"status"`
	ExpiresAt      time.Time     `json:"expires_at"`
	ExecutedAt     *time.Time    `json:"executed_at,omitempty"`
	ExecutionPrice *float64      `json:"execution_price,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Holding is a user's position in a company. Read here for profit_rate
// evaluation only; this engine never mutates holdings directly.
type Holding struct {
	UserID      int64   `json:"user_id"`
	CompanyID   int64   `json:"company_id"`
	Shares      int64   `json:"shares"`
	AverageCost float64 `json:"average_cost"`
}
