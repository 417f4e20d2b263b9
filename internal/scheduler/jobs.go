package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paperbull/engine/internal/database"
	"github.com/paperbull/engine/internal/domain"
	"github.com/paperbull/engine/internal/engine"
	"github.com/paperbull/engine/internal/modules/market_hours"
)

// jobTimeout bounds any single scheduled invocation. A tick that cannot
// finish inside the cadence must be cut off, not stacked.
const jobTimeout = 55 * time.Second

// MarketTickJob runs the per-minute market tick.
type MarketTickJob struct {
	Engine *engine.Engine
}

func (j *MarketTickJob) Name() string { return "market_tick" }

func (j *MarketTickJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := j.Engine.RunMarketTick(ctx)
	if errors.Is(err, domain.ErrConcurrencyViolation) {
		// The previous tick is still running; this minute is skipped.
		return nil
	}
	return err
}

// NewsTickJob runs the half-hourly news generation tick.
type NewsTickJob struct {
	Engine *engine.Engine
}

func (j *NewsTickJob) Name() string { return "news_tick" }

func (j *NewsTickJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	return j.Engine.RunNewsTick(ctx)
}

// OpenMarketJob runs once at the session open boundary.
type OpenMarketJob struct {
	Engine *engine.Engine
}

func (j *OpenMarketJob) Name() string { return "open_market" }

func (j *OpenMarketJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	return j.Engine.OpenMarket(ctx)
}

// CloseMarketJob runs once at the session close boundary.
type CloseMarketJob struct {
	Engine *engine.Engine
}

func (j *CloseMarketJob) Name() string { return "close_market" }

func (j *CloseMarketJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	return j.Engine.CloseMarket(ctx)
}

// WALCheckpointJob truncates the write-ahead logs while the market is
// quiet. A minute-cadence writer never lets sqlite auto-checkpoint
// enough on its own, so the WAL files grow without this.
type WALCheckpointJob struct {
	DBs []*database.DB
}

func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

func (j *WALCheckpointJob) Run() error {
	for _, db := range j.DBs {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAll wires the engine entry points onto their cadences:
// market tick every minute, news tick every 30 minutes, open/close at
// the session boundaries on weekdays, WAL maintenance nightly.
func RegisterAll(s *Scheduler, eng *engine.Engine, window market_hours.Window, dbs []*database.DB) error {
	jobs := []struct {
		schedule string
		job      Job
	}{
		{"0 * * * * *", &MarketTickJob{Engine: eng}},
		{"0 */30 * * * *", &NewsTickJob{Engine: eng}},
		{fmt.Sprintf("0 %d %d * * MON-FRI", window.OpenMinute, window.OpenHour), &OpenMarketJob{Engine: eng}},
		{fmt.Sprintf("0 %d %d * * MON-FRI", window.CloseMinute, window.CloseHour), &CloseMarketJob{Engine: eng}},
		{"0 0 3 * * *", &WALCheckpointJob{DBs: dbs}},
	}

	for _, j := range jobs {
		if err := s.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", j.job.Name(), err)
		}
	}

	return nil
}
