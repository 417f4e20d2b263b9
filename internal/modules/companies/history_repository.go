package companies

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/reliability"
)

// HistoryRepository appends to the price-history audit trail in the
// ledger database. Rows are insert-only and never mutated.
type HistoryRepository struct {
	ledgerDB *sql.DB
	retry    reliability.RetryPolicy
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHistoryRepository creates a new price history repository.
func NewHistoryRepository(ledgerDB *sql.DB, retry reliability.RetryPolicy, timeout time.Duration, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		ledgerDB: ledgerDB,
		retry:    retry,
		timeout:  timeout,
		log:      log.With().Str("repo", "price_history").Logger(),
	}
}

// Insert appends one price update record.
func (r *HistoryRepository) Insert(ctx context.Context, rec domain.PriceUpdateRecord) error {
	return r.retry.Do(ctx, r.log, "insert_price_record", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		query := `
			INSERT INTO price_history (company_id, old_price, new_price, change_pct, reason, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := r.ledgerDB.ExecContext(callCtx, query,
			rec.CompanyID, rec.OldPrice, rec.NewPrice, rec.ChangePct, rec.Reason, rec.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert price record for company %d: %w", rec.CompanyID, err)
		}

		return nil
	})
}

// ListRecent returns the newest records for a company, newest first.
func (r *HistoryRepository) ListRecent(ctx context.Context, companyID int64, limit int) ([]domain.PriceUpdateRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, company_id, old_price, new_price, change_pct, reason, timestamp
		FROM price_history
		WHERE company_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.QueryContext(ctx, query, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list price history for company %d: %w", companyID, err)
	}
	defer rows.Close()

	var out []domain.PriceUpdateRecord
	for rows.Next() {
		var rec domain.PriceUpdateRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.CompanyID, &rec.OldPrice, &rec.NewPrice, &rec.ChangePct, &rec.Reason, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan price record: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price history: %w", err)
	}

	return out, nil
}

// CountForCompany returns how many records exist for a company.
// Used by tests asserting that delisted companies stop producing rows.
func (r *HistoryRepository) CountForCompany(ctx context.Context, companyID int64) (int, error) {
	var count int
	err := r.ledgerDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM price_history WHERE company_id = ?", companyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count price history for company %d: %w", companyID, err)
	}
	return count, nil
}
