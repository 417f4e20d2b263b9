package testing

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paperbull/engine/internal/database"
	"github.com/paperbull/engine/internal/domain"
)

// NewCompanyFixtures returns a small universe spanning several industries
// and market-cap tiers.
func NewCompanyFixtures() []*domain.Company {
	return []*domain.Company{
		{
			Ticker:       "NIMB",
			Name:         "Nimbus Systems",
			Industry:     domain.IndustryTech,
			CurrentPrice: 1000,
			MarketCap:    150e9,
		},
		{
			Ticker:       "HART",
			Name:         "Hartwell Clinics",
			Industry:     domain.IndustryHealthcare,
			CurrentPrice: 1000,
			MarketCap:    2e9,
		},
		{
			Ticker:       "GRID",
			Name:         "Gridpoint Energy",
			Industry:     domain.IndustryEnergy,
			CurrentPrice: 54.2,
			MarketCap:    30e9,
		},
		{
			Ticker:       "FBLE",
			Name:         "Fable Entertainment",
			Industry:     domain.IndustryEntertainment,
			CurrentPrice: 12.85,
			MarketCap:    800e6,
		},
	}
}

// SeedHolding inserts a holdings row directly.
func SeedHolding(t *testing.T, db *database.DB, h domain.Holding) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO holdings (user_id, company_id, shares, average_cost) VALUES (?, ?, ?, ?)`,
		h.UserID, h.CompanyID, h.Shares, h.AverageCost,
	)
	if err != nil {
		t.Fatalf("Failed to seed holding: %v", err)
	}
}

// SeedBalance inserts a balances row directly.
func SeedBalance(t *testing.T, db *database.DB, userID int64, amount float64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO balances (user_id, amount) VALUES (?, ?)`,
		userID, amount,
	)
	if err != nil {
		t.Fatalf("Failed to seed balance: %v", err)
	}
}

// NewPendingOrder returns a pending order with sensible defaults. Callers
// override fields as needed before persisting.
func NewPendingOrder(companyID int64, cond domain.ConditionType, target float64) *domain.PendingOrder {
	orderType := domain.OrderTypeBuy
	if cond == domain.ConditionPriceAbove || cond == domain.ConditionProfitRate {
		orderType = domain.OrderTypeSell
	}
	return &domain.PendingOrder{
		ID:            uuid.NewString(),
		UserID:        1,
		CompanyID:     companyID,
		OrderType:     orderType,
		ConditionType: cond,
		TargetValue:   target,
		Shares:        10,
		Status:        domain.OrderStatusPending,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
		CreatedAt:     time.Now(),
	}
}

// NewNewsEvent returns a news event published now with the given sentiment.
func NewNewsEvent(companyID int64, sentiment domain.Sentiment, magnitude, volatility float64) domain.NewsEvent {
	return domain.NewsEvent{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		Headline:        "Fixture headline",
		Sentiment:       sentiment,
		ImpactMagnitude: magnitude,
		Volatility:      volatility,
		PublishedAt:     time.Now(),
	}
}
