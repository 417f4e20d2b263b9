// Package orders provides the pending-order store and the executor
// that settles conditional orders against post-tick prices.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
)

// ordersColumns is the list of columns for the pending_orders table.
// Column order must match scanOrder().
const ordersColumns = `id, user_id, company_id, order_type, condition_type, target_value, shares, escrowed_amount, status, expires_at, executed_at, execution_price, created_at`

// Repository handles pending order, holding, and balance operations.
// Balance credit is the atomic primitive the executor builds
// settlements on; it is only ever called inside a settlement
// transaction.
type Repository struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new orders repository.
func NewRepository(marketDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		marketDB: marketDB,
		log:      log.With().Str("repo", "orders").Logger(),
	}
}

// DB exposes the underlying connection for settlement transactions.
func (r *Repository) DB() *sql.DB {
	return r.marketDB
}

// Create inserts a new pending order. Placement (and its escrow
// withholding) happens outside the engine; this exists for seeding and
// tests.
func (r *Repository) Create(ctx context.Context, o *domain.PendingOrder) error {
	query := `
		INSERT INTO pending_orders
		(id, user_id, company_id, order_type, condition_type, target_value, shares, escrowed_amount, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.marketDB.ExecContext(ctx, query,
		o.ID, o.UserID, o.CompanyID, string(o.OrderType), string(o.ConditionType),
		o.TargetValue, o.Shares, o.EscrowedAmount, string(domain.OrderStatusPending),
		o.ExpiresAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create pending order %s: %w", o.ID, err)
	}

	o.Status = domain.OrderStatusPending
	return nil
}

// ListPending returns all orders still in pending status, expired ones
// included: the expiration pass needs them.
func (r *Repository) ListPending(ctx context.Context) ([]domain.PendingOrder, error) {
	query := "SELECT " + ordersColumns + " FROM pending_orders WHERE status = ? ORDER BY created_at"

	rows, err := r.marketDB.QueryContext(ctx, query, string(domain.OrderStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending orders: %w", err)
	}

	return out, nil
}

// ListByStatus returns orders in a given status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.PendingOrder, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + ordersColumns + " FROM pending_orders WHERE status = ? ORDER BY created_at DESC LIMIT ?"

	rows, err := r.marketDB.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s orders: %w", status, err)
	}
	defer rows.Close()

	var out []domain.PendingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s orders: %w", status, err)
	}

	return out, nil
}

// Get returns a single order or nil.
func (r *Repository) Get(ctx context.Context, id string) (*domain.PendingOrder, error) {
	query := "SELECT " + ordersColumns + " FROM pending_orders WHERE id = ?"

	rows, err := r.marketDB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get order %s: %w", id, err)
		}
		return nil, nil
	}

	return scanOrder(rows)
}

// GetHolding returns a user's holding in a company, or nil when absent.
func (r *Repository) GetHolding(ctx context.Context, userID, companyID int64) (*domain.Holding, error) {
	query := "SELECT user_id, company_id, shares, average_cost FROM holdings WHERE user_id = ? AND company_id = ?"

	var h domain.Holding
	err := r.marketDB.QueryRowContext(ctx, query, userID, companyID).Scan(
		&h.UserID, &h.CompanyID, &h.Shares, &h.AverageCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding user=%d company=%d: %w", userID, companyID, err)
	}

	return &h, nil
}

// GetBalance returns a user's balance; missing rows read as zero.
func (r *Repository) GetBalance(ctx context.Context, userID int64) (float64, error) {
	var amount float64
	err := r.marketDB.QueryRowContext(ctx,
		"SELECT amount FROM balances WHERE user_id = ?", userID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for user %d: %w", userID, err)
	}
	return amount, nil
}

// creditBalance atomically adds amount to a user's balance inside an
// existing transaction. Negative amounts debit.
func creditBalance(tx *sql.Tx, userID int64, amount float64) error {
	query := `
		INSERT INTO balances (user_id, amount) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET amount = amount + excluded.amount
	`
	if _, err := tx.Exec(query, userID, amount); err != nil {
		return fmt.Errorf("failed to credit balance for user %d: %w", userID, err)
	}
	return nil
}

// addShares delivers purchased shares into a user's holding inside an
// existing transaction, folding the fill into the weighted average
// cost. SET expressions read the pre-update row, so average_cost uses
// the old share count.
func addShares(tx *sql.Tx, userID, companyID, shares int64, price float64) error {
	query := `
		INSERT INTO holdings (user_id, company_id, shares, average_cost) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, company_id) DO UPDATE SET
			average_cost = (holdings.shares * holdings.average_cost + excluded.shares * excluded.average_cost)
				/ (holdings.shares + excluded.shares),
			shares = holdings.shares + excluded.shares
	`
	if _, err := tx.Exec(query, userID, companyID, shares, price); err != nil {
		return fmt.Errorf("failed to add shares user=%d company=%d: %w", userID, companyID, err)
	}
	return nil
}

// restoreShares returns escrowed shares to a user's holding inside an
// existing transaction. If the holding row vanished since placement the
// shares are reinstated on a fresh row with the order's cost basis
// unknown; that is logged upstream as an integrity notice.
func restoreShares(tx *sql.Tx, userID, companyID, shares int64) (freshRow bool, err error) {
	res, err := tx.Exec(
		"UPDATE holdings SET shares = shares + ? WHERE user_id = ? AND company_id = ?",
		shares, userID, companyID)
	if err != nil {
		return false, fmt.Errorf("failed to restore shares user=%d company=%d: %w", userID, companyID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check share restore user=%d company=%d: %w", userID, companyID, err)
	}
	if affected > 0 {
		return false, nil
	}

	_, err = tx.Exec(
		"INSERT INTO holdings (user_id, company_id, shares, average_cost) VALUES (?, ?, ?, 0)",
		userID, companyID, shares)
	if err != nil {
		return false, fmt.Errorf("failed to reinstate holding user=%d company=%d: %w", userID, companyID, err)
	}

	return true, nil
}

// scanOrder scans one order from a result set.
func scanOrder(rows *sql.Rows) (*domain.PendingOrder, error) {
	var o domain.PendingOrder
	var orderType, conditionType, status string
	var expiresAt, createdAt int64
	var executedAt sql.NullInt64
	var executionPrice sql.NullFloat64

	err := rows.Scan(&o.ID, &o.UserID, &o.CompanyID, &orderType, &conditionType,
		&o.TargetValue, &o.Shares, &o.EscrowedAmount, &status,
		&expiresAt, &executedAt, &executionPrice, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending order: %w", err)
	}

	o.OrderType = domain.OrderType(orderType)
	o.ConditionType = domain.ConditionType(conditionType)
	o.Status = domain.OrderStatus(status)
	o.ExpiresAt = time.Unix(expiresAt, 0)
	o.CreatedAt = time.Unix(createdAt, 0)

	if executedAt.Valid {
		t := time.Unix(executedAt.Int64, 0)
		o.ExecutedAt = &t
	}
	if executionPrice.Valid {
		p := executionPrice.Float64
		o.ExecutionPrice = &p
	}

	return &o, nil
}
