package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config carries the externally supplied knobs of one run; the job
// treats them as fixed for its whole duration.
type Config struct {
	ShardIndex int
	ShardCount int
	BatchSize  int
	PoolSize   int
	// work units processed on one session before it is recycled;
	// <= 0 disables budget-based recycling
	SessionBudget int
	Retry         RetryPolicy
}

// Options wires a Job's collaborators.
type Options struct {
	Config    Config
	Sessions  Factory
	Extractor Extractor
	// output destination; its tail is also the resume checkpoint
	OutputPath string
	// failure log destination
	FailurePath string
	// metadata columns of the failure log, in order
	FailureMetaKeys []string
}

// Job is one resumable extraction run over a shard of work units.
type Job struct {
	cfg        Config
	sessions   *Pool
	extractor  Extractor
	retry      RetryPolicy
	outputPath string
	output     *RecordWriter
	failures   *FailureWriter
}

// Summary is the user-facing completion report.
type Summary struct {
	UnitsAssigned  int
	UnitsSkipped   int
	UnitsProcessed int
	UnitsFailed    int
	Batches        int
	RowsWritten    int
	FailureLog     bool
}

func NewJob(opts Options) (*Job, error) {
	cfg := opts.Config
	if cfg.ShardCount <= 0 {
		return nil, configErrorf("shard count must be positive, got %d", cfg.ShardCount)
	}
	if cfg.ShardIndex < 0 || cfg.ShardIndex >= cfg.ShardCount {
		return nil, configErrorf("shard index %d out of range [0, %d)", cfg.ShardIndex, cfg.ShardCount)
	}
	if cfg.BatchSize <= 0 {
		return nil, configErrorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.PoolSize <= 0 {
		return nil, configErrorf("pool size must be positive, got %d", cfg.PoolSize)
	}

	output, err := NewRecordWriter(opts.OutputPath)
	if err != nil {
		return nil, err
	}

	return &Job{
		cfg:        cfg,
		sessions:   NewPool(opts.Sessions, cfg.PoolSize, cfg.SessionBudget),
		extractor:  opts.Extractor,
		retry:      cfg.Retry,
		outputPath: opts.OutputPath,
		output:     output,
		failures:   NewFailureWriter(opts.FailurePath, opts.FailureMetaKeys),
	}, nil
}

// Run partitions units into this instance's shard, resumes past
// previously persisted output, and processes the remainder batch by
// batch. Per-unit failures land in the failure log; configuration and
// write errors abort the run, as does a batch whose workers all died
// before draining it (writing past such units would corrupt the
// checkpoint). Cancellation lets the in-flight batch finish and stops
// before the next one.
func (j *Job) Run(ctx context.Context, units []WorkUnit) (Summary, error) {
	shard, err := Shard(units, j.cfg.ShardIndex, j.cfg.ShardCount)
	if err != nil {
		return Summary{}, err
	}

	lastID, found, err := LastUnitID(j.outputPath)
	if err != nil {
		return Summary{}, err
	}
	remaining := shard
	if found {
		remaining = Resume(shard, lastID)
	}

	summary := Summary{
		UnitsAssigned: len(shard),
		UnitsSkipped:  len(shard) - len(remaining),
	}
	slog.InfoContext(ctx, "resolved checkpoint",
		"assigned", summary.UnitsAssigned,
		"already_done", summary.UnitsSkipped,
		"remaining", len(remaining),
	)

	batches, err := Batches(remaining, j.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	progress := NewProgress(len(remaining))
	for i, batch := range batches {
		// graceful shutdown: the batch that was in flight when the
		// context ended has finished and been written; later batches
		// stay unstarted and resume on the next run
		if err := ctx.Err(); err != nil {
			slog.InfoContext(ctx, "stopping after completed batch",
				"batches_done", summary.Batches, "batches_left", len(batches)-i)
			return summary, err
		}

		slog.InfoContext(ctx, "processing batch",
			"batch", i+1, "batches", len(batches), "size", len(batch))

		err := j.runBatch(ctx, batch, progress, &summary)
		if err != nil {
			return summary, err
		}
		summary.Batches++
	}

	slog.InfoContext(ctx, "job complete",
		"rows_written", summary.RowsWritten,
		"failures", summary.UnitsFailed,
		"failure_log", summary.FailureLog,
	)
	return summary, nil
}

// runBatch drains one batch through the worker pool, then performs the
// batch's single ordered write. The queue-drain barrier (all workers
// joined) happens before any write: no partial-batch output exists.
func (j *Job) runBatch(ctx context.Context, batch []WorkUnit, progress *Progress, summary *Summary) error {
	progress.StartBatch(len(batch))

	// sized so sentinel re-enqueues can never block an exiting worker
	queue := make(chan queueItem, len(batch)+2*j.cfg.PoolSize)
	for _, unit := range batch {
		queue <- queueItem{unit: unit}
	}
	for i := 0; i < j.cfg.PoolSize; i++ {
		queue <- queueItem{sentinel: true}
	}

	col := newCollector()
	wg := sync.WaitGroup{}
	for i := 0; i < j.cfg.PoolSize; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			j.worker(ctx, id, queue, col, progress)
		}(i)
	}
	wg.Wait()

	// restore input order; completion order is nondeterministic
	var records []*Record
	processed := 0
	for _, unit := range batch {
		recs, ok := col.results[unit.ID]
		if !ok {
			continue
		}
		processed++
		records = append(records, recs...)
	}

	unaccounted := len(batch) - processed - len(col.failures)
	if unaccounted > 0 {
		// workers died (session construction) before draining the
		// queue. Writing anything now would advance the checkpoint
		// tail past units that are in neither the output nor the
		// failure log, silently dropping them from every future run.
		// Abort with the batch unwritten so a re-run retries it whole.
		slog.ErrorContext(ctx, "aborting: units neither completed nor failed",
			"count", unaccounted)
		return fmt.Errorf(
			"%d of %d units in batch neither completed nor failed; aborting before the checkpoint advances past them",
			unaccounted, len(batch),
		)
	}

	summary.UnitsProcessed += processed
	summary.UnitsFailed += len(col.failures)

	if len(col.failures) > 0 {
		err := j.failures.Append(col.failures)
		if err != nil {
			return err
		}
		summary.FailureLog = true
	}

	if len(records) == 0 {
		slog.InfoContext(ctx, "no successful units in batch, skipping write")
		return nil
	}

	rows, err := j.output.Append(records)
	if err != nil {
		return err
	}
	summary.RowsWritten += rows
	slog.InfoContext(ctx, "batch written", "rows", rows, "total_rows", summary.RowsWritten)
	return nil
}
