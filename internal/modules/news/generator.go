package news

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
)

// headlineTemplates keyed by sentiment; %s is the company name.
var headlineTemplates = map[domain.Sentiment][]string{
	domain.SentimentPositive: {
		"%s beats quarterly expectations",
		"%s lands major new contract",
		"Analysts upgrade %s outlook",
	},
	domain.SentimentNegative: {
		"%s misses earnings forecast",
		"Regulators open inquiry into %s",
		"%s announces surprise restructuring",
	},
	domain.SentimentNeutral: {
		"%s schedules investor day",
		"%s files routine disclosure",
		"%s appoints new board member",
	},
}

// Generator publishes randomly generated news events for the news tick.
// Externally created events flow through the same table and are
// indistinguishable to the decay tracker.
type Generator struct {
	repo *Repository
	mu   sync.Mutex
	rng  *rand.Rand
	log  zerolog.Logger
}

// NewGenerator creates a news generator.
func NewGenerator(repo *Repository, src rand.Source, log zerolog.Logger) *Generator {
	return &Generator{
		repo: repo,
		rng:  rand.New(src),
		log:  log.With().Str("component", "news_generator").Logger(),
	}
}

// PublishBatch creates one event each for up to count companies sampled
// from the snapshot. Per-event failures are logged and skipped.
func (g *Generator) PublishBatch(ctx context.Context, snapshot []domain.Company, count int, now time.Time) int {
	if len(snapshot) == 0 || count <= 0 {
		return 0
	}

	g.mu.Lock()
	picks := g.rng.Perm(len(snapshot))
	g.mu.Unlock()

	if count > len(picks) {
		count = len(picks)
	}

	published := 0
	for _, idx := range picks[:count] {
		company := snapshot[idx]
		ev := g.randomEvent(company, now)

		if err := g.repo.Create(ctx, ev); err != nil {
			g.log.Error().Err(err).Int64("company_id", company.ID).Msg("Failed to publish news event")
			continue
		}
		published++
	}

	g.log.Info().Int("published", published).Msg("News tick published events")
	return published
}

// randomEvent draws sentiment, magnitude and volatility for one event.
// Sentiment is skewed 40/40/20 positive/negative/neutral.
func (g *Generator) randomEvent(company domain.Company, now time.Time) domain.NewsEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	sentiment := domain.SentimentNeutral
	switch u := g.rng.Float64(); {
	case u < 0.4:
		sentiment = domain.SentimentPositive
	case u < 0.8:
		sentiment = domain.SentimentNegative
	}

	templates := headlineTemplates[sentiment]
	headline := fmt.Sprintf(templates[g.rng.IntN(len(templates))], company.Name)

	return domain.NewsEvent{
		ID:              uuid.NewString(),
		CompanyID:       company.ID,
		Headline:        headline,
		Sentiment:       sentiment,
		ImpactMagnitude: 0.005 + g.rng.Float64()*0.025,
		Volatility:      1.0 + g.rng.Float64()*2.0,
		PublishedAt:     now,
	}
}
