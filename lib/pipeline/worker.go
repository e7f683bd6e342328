package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Extractor performs the remote interaction for one work unit on one
// session. Returned errors should be classified with Transient /
// Permanent / Reconciliation; anything else is treated as permanent.
type Extractor interface {
	Extract(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error)

func (f ExtractorFunc) Extract(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
	return f(ctx, session, unit)
}

// queueItem is either a work unit or the shutdown sentinel.
type queueItem struct {
	unit     WorkUnit
	sentinel bool
}

// collector gathers per-unit outcomes for one batch. Completion order
// is nondeterministic; the aggregator restores input order afterwards.
type collector struct {
	mu       sync.Mutex
	results  map[string][]*Record
	failures []Failure
}

func newCollector() *collector {
	return &collector{results: map[string][]*Record{}}
}

func (c *collector) success(unit WorkUnit, records []*Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[unit.ID] = records
}

func (c *collector) failure(unit WorkUnit, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, Failure{
		Unit:   unit,
		Kind:   KindOf(err),
		Detail: permanentDetail(err),
	})
}

// worker pulls units off the queue until it sees a sentinel, which it
// re-enqueues for the remaining workers before exiting. The held
// session is always released, however the loop ends.
func (j *Job) worker(ctx context.Context, id int, queue chan queueItem, col *collector, progress *Progress) {
	lease, err := j.sessions.Acquire(ctx)
	if err != nil {
		slog.WarnContext(ctx, "worker could not construct a session, aborting",
			"worker", id, "err", err)
		return
	}
	defer lease.Release()

	for item := range queue {
		if item.sentinel {
			queue <- item
			slog.DebugContext(ctx, "worker received sentinel, exiting", "worker", id)
			return
		}

		records, err := j.extractWithRetry(ctx, lease.Session(), item.unit)
		if err == nil {
			col.success(item.unit, records)
		} else {
			slog.WarnContext(ctx, "work unit abandoned",
				"worker", id, "unit", item.unit.ID, "err", err)
			col.failure(item.unit, err)
		}

		lease.Use()
		overall, batch := progress.UnitDone(ctx)
		slog.InfoContext(ctx, "progress",
			"worker", id,
			"overall", fmt.Sprintf("%d/%d", overall, progress.Total()),
			"percent", fmt.Sprintf("%.2f", progress.Percent()),
			"batch", fmt.Sprintf("%d/%d", batch, progress.BatchSize()),
		)

		if invalidatesSession(err) || lease.ShouldRecycle() {
			slog.DebugContext(ctx, "recycling session", "worker", id)
			err := lease.Recycle(ctx)
			if err != nil {
				slog.WarnContext(ctx, "worker could not recycle its session, aborting",
					"worker", id, "err", err)
				return
			}
		}
	}
}

// extractWithRetry applies the retry policy around one extractor call,
// converting panics into permanent failures so a misbehaving extractor
// can never take down the worker.
func (j *Job) extractWithRetry(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
	var records []*Record
	err := j.retry.Do(ctx, func() error {
		var err error
		records, err = safeExtract(ctx, j.extractor, session, unit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func safeExtract(ctx context.Context, e Extractor, session Session, unit WorkUnit) (records []*Record, err error) {
	defer func() {
		r := recover()
		if r != nil {
			slog.ErrorContext(ctx, "extractor panicked", "unit", unit.ID, "panic", r)
			records = nil
			err = Permanent(fmt.Errorf("extractor panic: %v", r))
		}
	}()
	return e.Extract(ctx, session, unit)
}
