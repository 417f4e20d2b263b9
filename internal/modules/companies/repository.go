// Package companies provides repositories for company state and the
// price-history audit trail.
package companies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/reliability"
)

// companiesColumns is the list of columns for the companies table.
// Used to avoid SELECT * which can break when schema changes.
// Column order must match scanCompany().
const companiesColumns = `id, ticker, name, industry, current_price, previous_price, last_closing_price, market_cap, is_delisted, consecutive_down_days`

// Repository handles company database operations.
type Repository struct {
	marketDB *sql.DB
	retry    reliability.RetryPolicy
	timeout  time.Duration
	log      zerolog.Logger
}

// NewRepository creates a new company repository. Writes run under the
// injected retry policy with a per-call timeout.
func NewRepository(marketDB *sql.DB, retry reliability.RetryPolicy, timeout time.Duration, log zerolog.Logger) *Repository {
	return &Repository{
		marketDB: marketDB,
		retry:    retry,
		timeout:  timeout,
		log:      log.With().Str("repo", "companies").Logger(),
	}
}

// ListActive returns all companies that are still listed.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Company, error) {
	query := "SELECT " + companiesColumns + " FROM companies WHERE is_delisted = 0 ORDER BY id"

	rows, err := r.marketDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active companies: %w", err)
	}
	defer rows.Close()

	return r.scanCompanies(rows)
}

// ListAll returns every company, delisted ones included.
func (r *Repository) ListAll(ctx context.Context) ([]domain.Company, error) {
	query := "SELECT " + companiesColumns + " FROM companies ORDER BY id"

	rows, err := r.marketDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	return r.scanCompanies(rows)
}

// GetByID returns a single company or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Company, error) {
	query := "SELECT " + companiesColumns + " FROM companies WHERE id = ?"

	row := r.marketDB.QueryRowContext(ctx, query, id)
	company, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company %d: %w", id, err)
	}

	return company, nil
}

// Create inserts a new company. Used by seeding, not by the tick path.
func (r *Repository) Create(ctx context.Context, c *domain.Company) error {
	query := `
		INSERT INTO companies
		(ticker, name, industry, current_price, previous_price, last_closing_price, market_cap, is_delisted, consecutive_down_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := r.marketDB.ExecContext(ctx, query,
		c.Ticker, c.Name, string(c.Industry),
		c.CurrentPrice, c.PreviousPrice, c.LastClosingPrice,
		c.MarketCap, boolToInt(c.IsDelisted), c.ConsecutiveDownDays,
	)
	if err != nil {
		return fmt.Errorf("failed to create company %s: %w", c.Ticker, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get company id for %s: %w", c.Ticker, err)
	}
	c.ID = id

	r.log.Info().Str("ticker", c.Ticker).Int64("id", id).Msg("Company created")
	return nil
}

// UpdatePrice persists the post-tick price for a single company in one
// statement: current becomes previous, the new price becomes current.
// Delisted companies are never touched.
func (r *Repository) UpdatePrice(ctx context.Context, companyID int64, newPrice float64) error {
	return r.retry.Do(ctx, r.log, "update_price", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		query := `
			UPDATE companies
			SET previous_price = current_price, current_price = ?
			WHERE id = ? AND is_delisted = 0
		`
		res, err := r.marketDB.ExecContext(callCtx, query, newPrice, companyID)
		if err != nil {
			return fmt.Errorf("failed to update price for company %d: %w", companyID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check price update for company %d: %w", companyID, err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: company %d missing or delisted", domain.ErrDataIntegrity, companyID)
		}

		return nil
	})
}

// Delist freezes a company permanently at price zero. The transition is
// one-way; there is no relisting path.
func (r *Repository) Delist(ctx context.Context, companyID int64) error {
	return r.retry.Do(ctx, r.log, "delist", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		query := `
			UPDATE companies
			SET is_delisted = 1, previous_price = current_price, current_price = 0
			WHERE id = ? AND is_delisted = 0
		`
		if _, err := r.marketDB.ExecContext(callCtx, query, companyID); err != nil {
			return fmt.Errorf("failed to delist company %d: %w", companyID, err)
		}

		r.log.Warn().Int64("company_id", companyID).Msg("Company delisted")
		return nil
	})
}

// CaptureClosingPrices runs at market close: it updates the
// consecutive-down-days counter against the prior close and then copies
// the current price into last_closing_price. The SET expressions all
// read the pre-update row, so one statement covers both.
func (r *Repository) CaptureClosingPrices(ctx context.Context) error {
	return r.retry.Do(ctx, r.log, "capture_closing_prices", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		query := `
			UPDATE companies
			SET consecutive_down_days = CASE
					WHEN last_closing_price > 0 AND current_price < last_closing_price
					THEN consecutive_down_days + 1
					ELSE 0
				END,
				last_closing_price = current_price
			WHERE is_delisted = 0
		`
		if _, err := r.marketDB.ExecContext(callCtx, query); err != nil {
			return fmt.Errorf("failed to capture closing prices: %w", err)
		}

		return nil
	})
}

// scanCompany scans a company from a single row.
func scanCompany(row *sql.Row) (*domain.Company, error) {
	var c domain.Company
	var industry string
	var delisted int

	err := row.Scan(&c.ID, &c.Ticker, &c.Name, &industry,
		&c.CurrentPrice, &c.PreviousPrice, &c.LastClosingPrice,
		&c.MarketCap, &delisted, &c.ConsecutiveDownDays)
	if err != nil {
		return nil, err
	}

	ind, err := domain.ParseIndustry(industry)
	if err != nil {
		return nil, fmt.Errorf("%w: company %d: %v", domain.ErrDataIntegrity, c.ID, err)
	}
	c.Industry = ind
	c.IsDelisted = delisted != 0

	return &c, nil
}

// scanCompanies scans companies from a result set. A row whose industry
// no longer parses is logged and skipped: one poisoned row must not
// take the whole listing (and with it every tick) down with it. The
// strict parse stays in scanCompany for single-row lookups.
func (r *Repository) scanCompanies(rows *sql.Rows) ([]domain.Company, error) {
	var out []domain.Company

	for rows.Next() {
		var c domain.Company
		var industry string
		var delisted int

		err := rows.Scan(&c.ID, &c.Ticker, &c.Name, &industry,
			&c.CurrentPrice, &c.PreviousPrice, &c.LastClosingPrice,
			&c.MarketCap, &delisted, &c.ConsecutiveDownDays)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}

		ind, err := domain.ParseIndustry(industry)
		if err != nil {
			r.log.Error().
				Err(fmt.Errorf("%w: %v", domain.ErrDataIntegrity, err)).
				Int64("company_id", c.ID).
				Str("ticker", c.Ticker).
				Msg("Company row has an unrecognized industry, skipped")
			continue
		}
		c.Industry = ind
		c.IsDelisted = delisted != 0

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate companies: %w", err)
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
