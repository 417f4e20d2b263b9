// Package engine orchestrates the market tick: price recomputation,
// persistence, and order settlement, gated by trading hours and an
// overlap guard.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/modules/companies"
	"github.com/paperbull/engine/internal/modules/market_hours"
	"github.com/paperbull/engine/internal/modules/news"
	"github.com/paperbull/engine/internal/modules/orders"
	"github.com/paperbull/engine/internal/modules/pricing"
)

// momentumSnapshotKey is the cache row holding the momentum warm-start.
const momentumSnapshotKey = "momentum_state"

// leaderTopN is how many top market-cap peers form an industry's
// leader average.
const leaderTopN = 3

// PortfolioNotifier is the external collaborator informed after each
// completed tick so it can snapshot portfolio valuations. Optional.
type PortfolioNotifier interface {
	OnTickComplete(ctx context.Context, prices map[int64]float64)
}

// Config holds engine tuning.
type Config struct {
	TickWorkers          int
	NewsCompaniesPerTick int
}

// Engine is the tick orchestrator. Construct once per process and pass
// around; all caches and clients are injected handles, not globals.
type Engine struct {
	cfg       Config
	companies *companies.Repository
	history   *companies.HistoryRepository
	newsRepo  *news.Repository
	decay     *news.DecayTracker
	generator *news.Generator
	model     *pricing.Model
	momentum  *pricing.MomentumTracker
	executor  *orders.Executor
	hours     *market_hours.Service
	snapshots *SnapshotStore
	notifier  PortfolioNotifier
	log       zerolog.Logger

	inProgress atomic.Bool
	lastTick   atomic.Int64 // unix seconds of the last completed market tick

	// now is swappable for tests.
	now func() time.Time
}

// New creates the engine.
func New(
	cfg Config,
	companyRepo *companies.Repository,
	historyRepo *companies.HistoryRepository,
	newsRepo *news.Repository,
	decay *news.DecayTracker,
	generator *news.Generator,
	model *pricing.Model,
	momentum *pricing.MomentumTracker,
	executor *orders.Executor,
	hours *market_hours.Service,
	snapshots *SnapshotStore,
	log zerolog.Logger,
) *Engine {
	if cfg.TickWorkers < 1 {
		cfg.TickWorkers = 1
	}

	return &Engine{
		cfg:       cfg,
		companies: companyRepo,
		history:   historyRepo,
		newsRepo:  newsRepo,
		decay:     decay,
		generator: generator,
		model:     model,
		momentum:  momentum,
		executor:  executor,
		hours:     hours,
		snapshots: snapshots,
		log:       log.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
}

// SetPortfolioNotifier wires the external portfolio-snapshot
// collaborator.
func (e *Engine) SetPortfolioNotifier(n PortfolioNotifier) {
	e.notifier = n
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// IsMarketOpen reports whether the trading window is currently open.
func (e *Engine) IsMarketOpen() bool {
	return e.hours.IsOpen(e.now())
}

// LastTick returns when the last market tick completed, zero if never.
func (e *Engine) LastTick() time.Time {
	sec := e.lastTick.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// WarmStart restores the momentum cache from the last saved snapshot.
// Absence or decode failure is logged and ignored: momentum state is
// never financial truth.
func (e *Engine) WarmStart(ctx context.Context) {
	payload, err := e.snapshots.Load(ctx, momentumSnapshotKey)
	if err != nil {
		e.log.Warn().Err(err).Msg("Momentum snapshot load failed, starting cold")
		return
	}
	if payload == nil {
		e.log.Debug().Msg("No momentum snapshot, starting cold")
		return
	}

	if err := e.momentum.Restore(payload); err != nil {
		e.log.Warn().Err(err).Msg("Momentum snapshot decode failed, starting cold")
		return
	}

	e.log.Info().Int("companies", e.momentum.Len()).Msg("Momentum state restored")
}

// tickSnapshot is the immutable pre-tick view every worker reads.
type tickSnapshot struct {
	companies []domain.Company
	news      map[int64][]domain.NewsEvent
	leaders   map[domain.Industry]float64
	mood      float64
	now       time.Time
}

// companyOutcome is one worker's result for one company.
type companyOutcome struct {
	companyID  int64
	newPrice   float64
	delisted   bool
	expiredIDs []string
	err        error
}

// mergeOutcomes collects worker results into the price map handed to
// the order executor.
func mergeOutcomes(outcomes []companyOutcome) (prices map[int64]float64, expired []string, failures int) {
	prices = make(map[int64]float64, len(outcomes))
	for _, o := range outcomes {
		expired = append(expired, o.expiredIDs...)
		if o.err != nil {
			failures++
			continue
		}
		if !o.delisted {
			prices[o.companyID] = o.newPrice
		}
	}
	return prices, expired, failures
}

// fanOut runs fn over every company with bounded parallelism. Workers
// only read the shared snapshot and write disjoint per-company rows.
func fanOut(workers int, companies []domain.Company, fn func(domain.Company) companyOutcome) []companyOutcome {
	outcomes := make([]companyOutcome, len(companies))
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i := range companies {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[idx] = fn(companies[idx])
		}(i)
	}
	wg.Wait()

	return outcomes
}
