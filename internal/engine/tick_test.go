package engine

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperbull/engine/internal/database"
	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/modules/companies"
	"github.com/paperbull/engine/internal/modules/market_hours"
	"github.com/paperbull/engine/internal/modules/news"
	"github.com/paperbull/engine/internal/modules/orders"
	"github.com/paperbull/engine/internal/modules/pricing"
	"github.com/paperbull/engine/internal/reliability"
	enginetest "github.com/paperbull/engine/internal/testing"
)

type engineHarness struct {
	engine    *Engine
	companies *companies.Repository
	history   *companies.HistoryRepository
	orders    *orders.Repository
	newsRepo  *news.Repository
	momentum  *pricing.MomentumTracker
	snapshots *SnapshotStore
	marketDB  *database.DB
	cacheDB   *database.DB
}

func newEngineHarness(t *testing.T) (*engineHarness, func()) {
	t.Helper()

	marketDB, cleanupMarket := enginetest.NewTestDB(t, "market")
	ledgerDB, cleanupLedger := enginetest.NewTestDB(t, "ledger")
	cacheDB, cleanupCache := enginetest.NewTestDB(t, "cache")

	log := zerolog.Nop()
	retry := reliability.NewRetryPolicy(2, time.Millisecond, 2.0)
	timeout := 2 * time.Second

	companyRepo := companies.NewRepository(marketDB.Conn(), retry, timeout, log)
	historyRepo := companies.NewHistoryRepository(ledgerDB.Conn(), retry, timeout, log)
	newsRepo := news.NewRepository(marketDB.Conn(), log)
	orderRepo := orders.NewRepository(marketDB.Conn(), log)

	model := pricing.NewModel(pricing.DefaultModelConfig(), rand.NewPCG(99, 1), log)
	decay := news.NewDecayTracker(news.DefaultDecayConfig(), rand.NewPCG(99, 2), log)
	generator := news.NewGenerator(newsRepo, rand.NewPCG(99, 3), log)
	momentum := pricing.NewMomentumTracker()
	executor := orders.NewExecutor(orderRepo, retry, timeout, log)
	snapshots := NewSnapshotStore(cacheDB.Conn(), log)

	hours, err := market_hours.NewService(market_hours.Window{
		OpenHour: 9, CloseHour: 15, CloseMinute: 30,
	}, log)
	require.NoError(t, err)

	eng := New(
		Config{TickWorkers: 4, NewsCompaniesPerTick: 2},
		companyRepo, historyRepo, newsRepo, decay, generator,
		model, momentum, executor, hours, snapshots, log,
	)

	h := &engineHarness{
		engine:    eng,
		companies: companyRepo,
		history:   historyRepo,
		orders:    orderRepo,
		newsRepo:  newsRepo,
		momentum:  momentum,
		snapshots: snapshots,
		marketDB:  marketDB,
		cacheDB:   cacheDB,
	}

	cleanup := func() {
		cleanupCache()
		cleanupLedger()
		cleanupMarket()
	}
	return h, cleanup
}

// 2026-08-24 is a Monday; 11:00 is mid-session.
var openClock = time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)

func (h *engineHarness) seedUniverse(t *testing.T) []*domain.Company {
	t.Helper()
	fixtures := enginetest.NewCompanyFixtures()
	for _, c := range fixtures {
		require.NoError(t, h.companies.Create(context.Background(), c))
	}
	return fixtures
}

func TestRunMarketTickUpdatesEveryActiveCompany(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)
	h.engine.SetClock(func() time.Time { return openClock })

	require.NoError(t, h.engine.RunMarketTick(ctx))

	for _, f := range fixtures {
		got, err := h.companies.GetByID(ctx, f.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.IsDelisted)
		assert.Greater(t, got.CurrentPrice, 0.0)
		assert.Equal(t, f.CurrentPrice, got.PreviousPrice, "old price rotated into previous")

		count, err := h.history.CountForCompany(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "exactly one audit row per company per tick")
	}

	assert.Equal(t, len(fixtures), h.momentum.Len())
	assert.Equal(t, openClock.Unix(), h.engine.LastTick().Unix())
}

func TestRunMarketTickSurvivesUnrecognizedIndustryRow(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)

	// The poisoned row persists across ticks, so an abort here would
	// freeze the whole market permanently.
	_, err := h.marketDB.Exec(
		`INSERT INTO companies (ticker, name, industry, current_price, market_cap)
		 VALUES ('BAD', 'Bad Row Corp', 'UNKNOWN_SECTOR', 10, 1e9)`)
	require.NoError(t, err)

	h.engine.SetClock(func() time.Time { return openClock })
	require.NoError(t, h.engine.RunMarketTick(ctx))

	for _, f := range fixtures {
		count, err := h.history.CountForCompany(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "healthy companies still priced")
	}
}

func TestRunMarketTickClosedMarketIsNoOp(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)

	saturday := time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC)
	h.engine.SetClock(func() time.Time { return saturday })

	require.NoError(t, h.engine.RunMarketTick(ctx))

	got, err := h.companies.GetByID(ctx, fixtures[0].ID)
	require.NoError(t, err)
	assert.Equal(t, fixtures[0].CurrentPrice, got.CurrentPrice, "prices untouched while closed")

	count, err := h.history.CountForCompany(ctx, fixtures[0].ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, h.engine.LastTick().IsZero())
}

func TestRunMarketTickRejectsOverlap(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()

	h.engine.SetClock(func() time.Time { return openClock })
	h.engine.inProgress.Store(true)

	err := h.engine.RunMarketTick(context.Background())
	assert.ErrorIs(t, err, domain.ErrConcurrencyViolation)

	h.engine.inProgress.Store(false)
	assert.NoError(t, h.engine.RunMarketTick(context.Background()))
}

func TestRunMarketTickDelistsAtPriceFloor(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	doomed := &domain.Company{
		Ticker:       "DOOM",
		Name:         "Doomed Holdings",
		Industry:     domain.IndustryCrypto,
		CurrentPrice: 0.00001,
		MarketCap:    1e6,
	}
	require.NoError(t, h.companies.Create(ctx, doomed))

	h.engine.SetClock(func() time.Time { return openClock })
	require.NoError(t, h.engine.RunMarketTick(ctx))

	got, err := h.companies.GetByID(ctx, doomed.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDelisted)
	assert.Zero(t, got.CurrentPrice)

	count, err := h.history.CountForCompany(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "delisting emits no price record")

	assert.Zero(t, h.momentum.Len(), "momentum state dropped on delist")

	// The next tick skips the frozen company entirely.
	require.NoError(t, h.engine.RunMarketTick(ctx))
	got, err = h.companies.GetByID(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentPrice)
	count, err = h.history.CountForCompany(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunMarketTickSettlesTriggeredOrders(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)
	companyID := fixtures[0].ID

	// price_below with a target far above the price band always
	// triggers at the tick's market price.
	order := enginetest.NewPendingOrder(companyID, domain.ConditionPriceBelow, 2000)
	order.Shares = 10
	order.EscrowedAmount = 20000
	require.NoError(t, h.orders.Create(ctx, order))

	h.engine.SetClock(func() time.Time { return openClock })
	require.NoError(t, h.engine.RunMarketTick(ctx))

	got, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	require.NotNil(t, got.ExecutionPrice)

	company, err := h.companies.GetByID(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, company.CurrentPrice, *got.ExecutionPrice, "filled at the tick's market price")

	// Escrow conservation: refund + cost = escrow.
	balance, err := h.orders.GetBalance(ctx, order.UserID)
	require.NoError(t, err)
	cost := *got.ExecutionPrice * float64(order.Shares)
	assert.InDelta(t, order.EscrowedAmount-cost, balance, 1e-6)
}

func TestRunMarketTickExpiresNewsExactlyOnce(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)

	// Published 5 minutes ago with volatility 1.0: its 1-minute decay
	// window has already elapsed.
	ev := enginetest.NewNewsEvent(fixtures[0].ID, domain.SentimentPositive, 0.02, 1.0)
	ev.PublishedAt = openClock.Add(-5 * time.Minute)
	require.NoError(t, h.newsRepo.Create(ctx, ev))

	h.engine.SetClock(func() time.Time { return openClock })
	require.NoError(t, h.engine.RunMarketTick(ctx))

	got, err := h.newsRepo.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Applied, "expired event flipped applied")
}

func TestRunMarketTickExpiresNewsOlderThanLongestWindow(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)

	// Maximum volatility gives the full 20-minute window, and the event
	// was published 25 minutes before the clock: the window elapsed
	// while no tick ran, as happens over a close or a restart. The next
	// tick must still flip it.
	ev := enginetest.NewNewsEvent(fixtures[0].ID, domain.SentimentNegative, 0.03, 3.0)
	ev.PublishedAt = openClock.Add(-25 * time.Minute)
	require.NoError(t, h.newsRepo.Create(ctx, ev))

	h.engine.SetClock(func() time.Time { return openClock })
	require.NoError(t, h.engine.RunMarketTick(ctx))

	got, err := h.newsRepo.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Applied, "stale event flipped applied on the next tick")
}

func TestRunNewsTickPublishesWhileOpen(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	h.seedUniverse(t)
	h.engine.SetClock(func() time.Time { return openClock })

	require.NoError(t, h.engine.RunNewsTick(ctx))

	byCompany, err := h.newsRepo.ListUnapplied(ctx)
	require.NoError(t, err)

	total := 0
	for _, events := range byCompany {
		total += len(events)
	}
	assert.Equal(t, 2, total, "one event per sampled company")
}

func TestRunNewsTickClosedMarketIsNoOp(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	h.seedUniverse(t)
	sunday := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	h.engine.SetClock(func() time.Time { return sunday })

	require.NoError(t, h.engine.RunNewsTick(ctx))

	byCompany, err := h.newsRepo.ListUnapplied(ctx)
	require.NoError(t, err)
	assert.Empty(t, byCompany)
}

func TestCloseMarketThenWarmStartRestoresMomentum(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	h.seedUniverse(t)
	h.engine.SetClock(func() time.Time { return openClock })

	require.NoError(t, h.engine.RunMarketTick(ctx))
	tracked := h.momentum.Len()
	require.Greater(t, tracked, 0)

	require.NoError(t, h.engine.CloseMarket(ctx))

	// Simulate a restart: fresh tracker, same cache database.
	fresh := pricing.NewMomentumTracker()
	h.engine.momentum = fresh
	h.engine.WarmStart(ctx)
	assert.Equal(t, tracked, fresh.Len())
}

func TestWarmStartColdCacheIsHarmless(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()

	h.engine.WarmStart(context.Background())
	assert.Zero(t, h.momentum.Len())
}

func TestOpenMarketWarmStartsColdCache(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	h.seedUniverse(t)
	h.engine.SetClock(func() time.Time { return openClock })
	require.NoError(t, h.engine.RunMarketTick(ctx))
	require.NoError(t, h.engine.CloseMarket(ctx))

	tracked := h.momentum.Len()
	h.engine.momentum = pricing.NewMomentumTracker()
	require.NoError(t, h.engine.OpenMarket(ctx))
	assert.Equal(t, tracked, h.engine.momentum.Len())
}

type recordingNotifier struct {
	calls  int
	prices map[int64]float64
}

func (n *recordingNotifier) OnTickComplete(_ context.Context, prices map[int64]float64) {
	n.calls++
	n.prices = prices
}

func TestPortfolioNotifierReceivesTickPrices(t *testing.T) {
	h, cleanup := newEngineHarness(t)
	defer cleanup()
	ctx := context.Background()

	fixtures := h.seedUniverse(t)
	h.engine.SetClock(func() time.Time { return openClock })

	notifier := &recordingNotifier{}
	h.engine.SetPortfolioNotifier(notifier)

	require.NoError(t, h.engine.RunMarketTick(ctx))

	assert.Equal(t, 1, notifier.calls)
	assert.Len(t, notifier.prices, len(fixtures))
}
