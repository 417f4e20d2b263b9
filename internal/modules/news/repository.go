// Package news provides the news event store and the decay tracker
// that turns events into per-tick price impact.
package news

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
)

// Repository handles news event database operations.
type Repository struct {
	marketDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new news repository.
func NewRepository(marketDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		marketDB: marketDB,
		log:      log.With().Str("repo", "news").Logger(),
	}
}

// Create inserts a new news event.
func (r *Repository) Create(ctx context.Context, ev domain.NewsEvent) error {
	query := `
		INSERT INTO news_events (id, company_id, headline, sentiment, impact_magnitude, volatility, published_at, applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err := r.marketDB.ExecContext(ctx, query,
		ev.ID, ev.CompanyID, ev.Headline, string(ev.Sentiment),
		ev.ImpactMagnitude, ev.Volatility, ev.PublishedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create news event %s: %w", ev.ID, err)
	}

	r.log.Debug().
		Str("id", ev.ID).
		Int64("company_id", ev.CompanyID).
		Str("sentiment", string(ev.Sentiment)).
		Msg("News event created")

	return nil
}

// ListUnapplied returns every unapplied event, grouped by company.
// There is deliberately no time filter: an event whose decay window
// elapsed while no tick ran (market closed, restart) must still be
// returned so the expiry pass can flip it. Per-event expiry is the
// decay tracker's call; anything past its window contributes zero
// impact and comes back as an expired ID.
func (r *Repository) ListUnapplied(ctx context.Context) (map[int64][]domain.NewsEvent, error) {
	query := `
		SELECT id, company_id, headline, sentiment, impact_magnitude, volatility, published_at, applied
		FROM news_events
		WHERE applied = 0
		ORDER BY published_at
	`

	rows, err := r.marketDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unapplied news events: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.NewsEvent)
	for rows.Next() {
		var ev domain.NewsEvent
		var sentiment string
		var published int64
		var applied int

		err := rows.Scan(&ev.ID, &ev.CompanyID, &ev.Headline, &sentiment,
			&ev.ImpactMagnitude, &ev.Volatility, &published, &applied)
		if err != nil {
			return nil, fmt.Errorf("failed to scan news event: %w", err)
		}

		ev.Sentiment = domain.Sentiment(sentiment)
		ev.PublishedAt = time.Unix(published, 0)
		ev.Applied = applied != 0

		out[ev.CompanyID] = append(out[ev.CompanyID], ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate news events: %w", err)
	}

	return out, nil
}

// MarkApplied flips applied for the given events. The applied = 0 guard
// makes the flip exactly-once even under redundant calls.
func (r *Repository) MarkApplied(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := "UPDATE news_events SET applied = 1 WHERE applied = 0 AND id IN (" + placeholders + ")"
	res, err := r.marketDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark news events applied: %w", err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		r.log.Debug().Int64("count", affected).Msg("News events expired")
	}

	return nil
}

// Get returns a single event or nil. Used by tests verifying the
// exactly-once applied flip.
func (r *Repository) Get(ctx context.Context, id string) (*domain.NewsEvent, error) {
	query := `
		SELECT id, company_id, headline, sentiment, impact_magnitude, volatility, published_at, applied
		FROM news_events WHERE id = ?
	`

	var ev domain.NewsEvent
	var sentiment string
	var published int64
	var applied int

	err := r.marketDB.QueryRowContext(ctx, query, id).Scan(
		&ev.ID, &ev.CompanyID, &ev.Headline, &sentiment,
		&ev.ImpactMagnitude, &ev.Volatility, &published, &applied)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get news event %s: %w", id, err)
	}

	ev.Sentiment = domain.Sentiment(sentiment)
	ev.PublishedAt = time.Unix(published, 0)
	ev.Applied = applied != 0

	return &ev, nil
}
