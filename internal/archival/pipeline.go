// Package archival moves terminal records from the operational store into
// the analytical warehouse. Every pipeline follows the same discipline:
// extract terminal source rows, enrich them, stage-and-merge into the
// warehouse, and only then delete the source. A failure anywhere
// short-circuits before cleanup, so source rows survive every partial run.
package archival

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alpaca-signal-engine/internal/cache"
	"alpaca-signal-engine/internal/events"
	"alpaca-signal-engine/internal/logging"
)

// activityQueryPause spaces broker activity queries to stay under the rate
// cap.
const activityQueryPause = 100 * time.Millisecond

// Row is one staged warehouse row keyed by column name.
type Row = map[string]interface{}

// Pipeline is one archival job. Stages run strictly in order; Cleanup is
// reached only when Load succeeded.
type Pipeline interface {
	Name() string
	Extract(ctx context.Context) ([]interface{}, error)
	Transform(ctx context.Context, records []interface{}) ([]Row, error)
	Load(ctx context.Context, rows []Row) error
	Cleanup(ctx context.Context, records []interface{}) error
}

// Runner executes pipelines under per-job mutual exclusion and reports
// completion on the event bus.
type Runner struct {
	locks  *cache.JobLockRepository
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewRunner wires a pipeline runner. locks and bus may be nil.
func NewRunner(locks *cache.JobLockRepository, bus *events.Bus) *Runner {
	return &Runner{
		locks:  locks,
		bus:    bus,
		logger: logging.Component("archival"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one pipeline end to end and returns the archived row count.
// A held lock skips the run without error; any stage failure propagates so
// the job is reported as failed.
func (r *Runner) Run(ctx context.Context, p Pipeline) (int, error) {
	jobName := "archive:" + p.Name()
	if r.locks != nil {
		lock, ok := r.locks.AcquireLock(ctx, jobName, cache.DefaultLockTTL)
		if !ok {
			r.logger.Info().Str("job", jobName).Msg("lock held elsewhere, skipping run")
			return 0, nil
		}
		defer lock.Release(ctx)
	}

	started := r.now()
	count, err := r.run(ctx, p)
	duration := r.now().Sub(started)

	if r.bus != nil {
		r.bus.Publish(events.EventJobCompleted, map[string]interface{}{
			"job":      jobName,
			"rows":     count,
			"seconds":  duration.Seconds(),
			"failed":   err != nil,
		})
	}
	if err != nil {
		r.logger.Error().Err(err).Str("job", jobName).Msg("archival pipeline failed")
		return count, err
	}
	if r.locks != nil {
		r.locks.MarkRun(ctx, jobName, started)
	}
	r.logger.Info().
		Str("job", jobName).
		Int("rows", count).
		Float64("seconds", duration.Seconds()).
		Msg("archival pipeline complete")
	return count, nil
}

func (r *Runner) run(ctx context.Context, p Pipeline) (int, error) {
	records, err := p.Extract(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s extract: %w", p.Name(), err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	rows, err := p.Transform(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("%s transform: %w", p.Name(), err)
	}
	if err := p.Load(ctx, rows); err != nil {
		return 0, fmt.Errorf("%s load: %w", p.Name(), err)
	}
	if err := p.Cleanup(ctx, records); err != nil {
		// Rows are merged; a cleanup failure means the next run re-merges
		// the same rows, which the (id, ds) upsert absorbs.
		return len(rows), fmt.Errorf("%s cleanup: %w", p.Name(), err)
	}
	return len(rows), nil
}
