package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/database"
	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/reliability"
)

// Executor evaluates and settles pending orders against post-tick
// prices. It runs once per market tick, after prices are persisted,
// under the tick's mutual-exclusion guard.
type Executor struct {
	repo    *Repository
	retry   reliability.RetryPolicy
	timeout time.Duration
	log     zerolog.Logger
}

// NewExecutor creates an order executor.
func NewExecutor(repo *Repository, retry reliability.RetryPolicy, timeout time.Duration, log zerolog.Logger) *Executor {
	return &Executor{
		repo:    repo,
		retry:   retry,
		timeout: timeout,
		log:     log.With().Str("component", "order_executor").Logger(),
	}
}

// RunStats summarizes one executor pass.
type RunStats struct {
	Evaluated int
	Executed  int
	Expired   int
	Failed    int
}

// Run performs one executor pass: condition evaluation and settlement
// first, then the expiration sweep. Per-order failures are isolated; a
// failing order stays pending and is retried next tick. Expiration
// fires regardless of evaluation failures so escrow is never held
// indefinitely.
func (e *Executor) Run(ctx context.Context, prices map[int64]float64, now time.Time) (RunStats, error) {
	var stats RunStats

	pending, err := e.repo.ListPending(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load pending orders: %w", err)
	}

	for i := range pending {
		order := &pending[i]
		if !order.ExpiresAt.After(now) {
			// Handled by the expiration sweep below.
			continue
		}

		price, ok := prices[order.CompanyID]
		if !ok {
			continue
		}

		stats.Evaluated++

		triggered, err := e.conditionMet(ctx, order, price)
		if err != nil {
			stats.Failed++
			e.log.Error().Err(err).Str("order_id", order.ID).Msg("Condition evaluation failed, order stays pending")
			continue
		}
		if !triggered {
			continue
		}

		settled, err := e.settle(ctx, order, price, now)
		if err != nil {
			stats.Failed++
			e.log.Error().Err(err).Str("order_id", order.ID).Msg("Settlement failed, order stays pending")
			continue
		}
		if settled {
			stats.Executed++
		}
	}

	expired, failed := e.expireSweep(ctx, pending, now)
	stats.Expired = expired
	stats.Failed += failed

	e.log.Info().
		Int("evaluated", stats.Evaluated).
		Int("executed", stats.Executed).
		Int("expired", stats.Expired).
		Int("failed", stats.Failed).
		Msg("Order executor pass complete")

	return stats, nil
}

// conditionMet evaluates an order's trigger against the current price.
// An order whose holding is missing for profit_rate is never satisfied;
// it simply ages toward expiry.
func (e *Executor) conditionMet(ctx context.Context, order *domain.PendingOrder, price float64) (bool, error) {
	switch order.ConditionType {
	case domain.ConditionPriceBelow:
		return price <= order.TargetValue, nil

	case domain.ConditionPriceAbove:
		return price >= order.TargetValue, nil

	case domain.ConditionProfitRate:
		holding, err := e.repo.GetHolding(ctx, order.UserID, order.CompanyID)
		if err != nil {
			return false, err
		}
		if holding == nil || holding.AverageCost <= 0 {
			e.log.Debug().
				Str("order_id", order.ID).
				Msg("No holding for profit_rate order, condition unsatisfiable")
			return false, nil
		}
		profitPct := (price - holding.AverageCost) / holding.AverageCost * 100
		return profitPct >= order.TargetValue, nil

	default:
		return false, fmt.Errorf("%w: unknown condition type %q on order %s",
			domain.ErrDataIntegrity, order.ConditionType, order.ID)
	}
}

// settle fills an order at the current market price. Status flip,
// balance credit, share delivery, and the settlement row form one
// transaction; escrow is conserved exactly. Returns false without
// error when the order was already settled by a previous attempt.
func (e *Executor) settle(ctx context.Context, order *domain.PendingOrder, price float64, now time.Time) (bool, error) {
	totalAmount := price * float64(order.Shares)

	var refund float64
	var credit float64

	switch order.OrderType {
	case domain.OrderTypeBuy:
		// The trigger condition (price <= target, escrow = target*shares)
		// makes cost > escrow unreachable. If it happens anyway the data
		// is wrong and execution is refused outright.
		refund = order.EscrowedAmount - totalAmount
		if refund < 0 {
			return false, fmt.Errorf("%w: buy order %s cost %.4f exceeds escrow %.4f",
				domain.ErrDataIntegrity, order.ID, totalAmount, order.EscrowedAmount)
		}
		credit = refund

	case domain.OrderTypeSell:
		// Shares were withheld at placement; the proceeds go to the user.
		refund = 0
		credit = totalAmount

	default:
		return false, fmt.Errorf("%w: unknown order type %q on order %s",
			domain.ErrDataIntegrity, order.OrderType, order.ID)
	}

	var settled bool

	err := e.retry.Do(ctx, e.log, "settle_order", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		return database.WithTransaction(e.repo.DB(), func(tx *sql.Tx) error {
			res, err := tx.ExecContext(callCtx, `
				UPDATE pending_orders
				SET status = ?, executed_at = ?, execution_price = ?
				WHERE id = ? AND status = ?
			`, string(domain.OrderStatusExecuted), now.Unix(), price,
				order.ID, string(domain.OrderStatusPending))
			if err != nil {
				return fmt.Errorf("failed to mark order %s executed: %w", order.ID, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check order update %s: %w", order.ID, err)
			}
			if affected == 0 {
				// Already settled by a previous attempt; nothing to redo.
				return nil
			}

			if credit != 0 {
				if err := creditBalance(tx, order.UserID, credit); err != nil {
					return err
				}
			}

			if order.OrderType == domain.OrderTypeBuy {
				if err := addShares(tx, order.UserID, order.CompanyID, order.Shares, price); err != nil {
					return err
				}
			}

			_, err = tx.ExecContext(callCtx, `
				INSERT INTO settlements (order_id, user_id, company_id, order_type, shares, execution_price, total_amount, refund, settled_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, order.ID, order.UserID, order.CompanyID, string(order.OrderType),
				order.Shares, price, totalAmount, refund, now.Unix())
			if err != nil {
				return fmt.Errorf("failed to record settlement for order %s: %w", order.ID, err)
			}

			e.log.Info().
				Str("order_id", order.ID).
				Str("type", string(order.OrderType)).
				Float64("price", price).
				Int64("shares", order.Shares).
				Float64("total", totalAmount).
				Float64("refund", refund).
				Msg("Order executed")

			settled = true
			return nil
		})
	})

	return settled, err
}

// expireSweep expires every pending order past its deadline, refunding
// the full escrow (funds for buys, shares for sells). Runs after the
// evaluation pass each tick, and independently of its failures.
func (e *Executor) expireSweep(ctx context.Context, pending []domain.PendingOrder, now time.Time) (expired, failed int) {
	for i := range pending {
		order := &pending[i]
		if order.ExpiresAt.After(now) {
			continue
		}

		if err := e.expire(ctx, order, now); err != nil {
			failed++
			e.log.Error().Err(err).Str("order_id", order.ID).Msg("Expiration failed, will retry next tick")
			continue
		}
		expired++
	}

	return expired, failed
}

// expire refunds and closes one expired order in a single transaction.
func (e *Executor) expire(ctx context.Context, order *domain.PendingOrder, now time.Time) error {
	return e.retry.Do(ctx, e.log, "expire_order", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		var freshHolding bool

		err := database.WithTransaction(e.repo.DB(), func(tx *sql.Tx) error {
			res, err := tx.ExecContext(callCtx, `
				UPDATE pending_orders SET status = ? WHERE id = ? AND status = ?
			`, string(domain.OrderStatusExpired), order.ID, string(domain.OrderStatusPending))
			if err != nil {
				return fmt.Errorf("failed to mark order %s expired: %w", order.ID, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check expiry update %s: %w", order.ID, err)
			}
			if affected == 0 {
				return nil
			}

			switch order.OrderType {
			case domain.OrderTypeBuy:
				return creditBalance(tx, order.UserID, order.EscrowedAmount)
			case domain.OrderTypeSell:
				freshHolding, err = restoreShares(tx, order.UserID, order.CompanyID, order.Shares)
				return err
			default:
				return fmt.Errorf("%w: unknown order type %q on order %s",
					domain.ErrDataIntegrity, order.OrderType, order.ID)
			}
		})
		if err != nil {
			return err
		}

		if freshHolding {
			e.log.Warn().
				Str("order_id", order.ID).
				Int64("user_id", order.UserID).
				Msg("Holding row was gone at expiry, shares reinstated without cost basis")
		}

		e.log.Info().
			Str("order_id", order.ID).
			Str("type", string(order.OrderType)).
			Msg("Order expired, escrow refunded")

		return nil
	})
}
