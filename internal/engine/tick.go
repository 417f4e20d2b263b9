package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/modules/pricing"
)

// RunMarketTick executes one full market update cycle: snapshot, price
// recomputation, persistence, order settlement. It is a no-op outside
// trading hours and rejects overlapping invocations outright: double
// processing the same minute corrupts momentum state and can
// double-settle orders.
func (e *Engine) RunMarketTick(ctx context.Context) error {
	if !e.inProgress.CompareAndSwap(false, true) {
		e.log.Warn().Msg("Market tick rejected, previous tick still running")
		return domain.ErrConcurrencyViolation
	}
	defer e.inProgress.Store(false)

	now := e.now()
	if !e.hours.IsOpen(now) {
		e.log.Debug().Time("now", now).Msg("Market closed, tick is a no-op")
		return nil
	}

	started := time.Now()

	snapshot, err := e.loadSnapshot(ctx, now)
	if err != nil {
		// The one fatal failure mode: without a snapshot there is
		// nothing safe to compute. Next schedule retries.
		return fmt.Errorf("failed to load tick snapshot: %w", err)
	}

	outcomes := fanOut(e.cfg.TickWorkers, snapshot.companies, func(c domain.Company) companyOutcome {
		return e.processCompany(ctx, snapshot, c)
	})

	prices, expiredNews, failures := mergeOutcomes(outcomes)

	if err := e.newsRepo.MarkApplied(ctx, expiredNews); err != nil {
		// Non-fatal: events stay unapplied and expire next tick.
		e.log.Error().Err(err).Msg("Failed to expire news events")
	}

	stats, err := e.executor.Run(ctx, prices, now)
	if err != nil {
		e.log.Error().Err(err).Msg("Order executor pass failed")
	}

	if e.notifier != nil {
		e.notifier.OnTickComplete(ctx, prices)
	}

	e.lastTick.Store(now.Unix())

	e.log.Info().
		Int("companies", len(snapshot.companies)).
		Int("priced", len(prices)).
		Int("failures", failures).
		Int("orders_executed", stats.Executed).
		Int("orders_expired", stats.Expired).
		Dur("elapsed", time.Since(started)).
		Msg("Market tick complete")

	return nil
}

// loadSnapshot reads the immutable pre-tick view: active companies,
// unapplied news, per-industry leader averages, and the per-tick
// market mood. Everything downstream reads this snapshot only, so no
// in-tick update can influence another company within the same tick.
func (e *Engine) loadSnapshot(ctx context.Context, now time.Time) (*tickSnapshot, error) {
	active, err := e.companies.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	newsByCompany, err := e.newsRepo.ListUnapplied(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &tickSnapshot{
		companies: active,
		news:      newsByCompany,
		mood:      e.decay.DrawMood(),
		now:       now,
	}
	snapshot.leaders = pricing.LeaderAverages(active, leaderTopN)

	return snapshot, nil
}

// processCompany computes and persists one company's tick. Failures
// are per-company: the company is skipped this tick and logged, never
// aborting the run.
func (e *Engine) processCompany(ctx context.Context, snap *tickSnapshot, c domain.Company) companyOutcome {
	out := companyOutcome{companyID: c.ID}

	agg := e.decay.Aggregate(snap.news[c.ID], c.MarketCap, snap.mood, snap.now)
	out.expiredIDs = agg.ExpiredIDs

	result := e.model.Compute(&c, e.momentum.Get(c.ID), agg.Impact, snap.leaders[c.Industry], snap.now.Hour())

	if result.Delist {
		// Price floor hit: freeze at zero, emit no price record.
		if err := e.companies.Delist(ctx, c.ID); err != nil {
			out.err = err
			e.log.Error().Err(err).Int64("company_id", c.ID).Msg("Delisting write failed, retrying next tick")
			return out
		}
		e.momentum.Forget(c.ID)
		out.delisted = true
		return out
	}

	if err := e.companies.UpdatePrice(ctx, c.ID, result.NewPrice); err != nil {
		out.err = err
		e.log.Error().Err(err).Int64("company_id", c.ID).Msg("Price write failed, company skipped this tick")
		return out
	}

	record := domain.PriceUpdateRecord{
		CompanyID: c.ID,
		OldPrice:  c.CurrentPrice,
		NewPrice:  result.NewPrice,
		ChangePct: result.ChangePct,
		Reason:    result.Reason,
		Timestamp: snap.now,
	}
	if err := e.history.Insert(ctx, record); err != nil {
		// The company row is already updated; losing one audit row is
		// logged loudly but does not undo the price.
		e.log.Error().Err(err).Int64("company_id", c.ID).Msg("Price history insert failed")
	}

	e.momentum.Record(c.ID, result.Change)
	out.newPrice = result.NewPrice

	return out
}

// RunNewsTick publishes generated news events for a random sample of
// active companies. No-op while the market is closed.
func (e *Engine) RunNewsTick(ctx context.Context) error {
	now := e.now()
	if !e.hours.IsOpen(now) {
		e.log.Debug().Msg("Market closed, news tick is a no-op")
		return nil
	}

	active, err := e.companies.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load companies for news tick: %w", err)
	}

	e.generator.PublishBatch(ctx, active, e.cfg.NewsCompaniesPerTick, now)
	return nil
}

// OpenMarket marks the start of a trading session. Idempotent; the
// actual gate is the trading-hours predicate, so this only logs and
// warms caches.
func (e *Engine) OpenMarket(ctx context.Context) error {
	e.log.Info().Msg("Market session opening")

	// A restart between sessions leaves the momentum cache cold.
	if e.momentum.Len() == 0 {
		e.WarmStart(ctx)
	}

	return nil
}

// CloseMarket marks the end of a trading session: closing prices are
// captured (driving the consecutive-down-days counters) and the
// momentum cache is snapshotted for the next warm start. Idempotent;
// capturing twice just rewrites the same closing price.
func (e *Engine) CloseMarket(ctx context.Context) error {
	e.log.Info().Msg("Market session closing")

	if err := e.companies.CaptureClosingPrices(ctx); err != nil {
		return fmt.Errorf("failed to capture closing prices: %w", err)
	}

	payload, err := e.momentum.Snapshot()
	if err != nil {
		e.log.Warn().Err(err).Msg("Momentum snapshot failed, next start is cold")
		return nil
	}
	if err := e.snapshots.Save(ctx, momentumSnapshotKey, payload); err != nil {
		e.log.Warn().Err(err).Msg("Momentum snapshot save failed, next start is cold")
	}

	return nil
}
