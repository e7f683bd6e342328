package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"royaledata/lib/telemetry"

	"github.com/stretchr/testify/require"
)

// fakeExtractor produces one row per unit, failing permanently for the
// configured ids and transiently (once) for others. Safe for
// concurrent workers.
type fakeExtractor struct {
	mu            sync.Mutex
	permanent     map[string]bool
	flakyOnce     map[string]bool
	attempts      map[string]int
	flakyAttempts map[string]int
}

func newFakeExtractor(permanent, flakyOnce []string) *fakeExtractor {
	e := &fakeExtractor{
		permanent:     map[string]bool{},
		flakyOnce:     map[string]bool{},
		attempts:      map[string]int{},
		flakyAttempts: map[string]int{},
	}
	for _, id := range permanent {
		e.permanent[id] = true
	}
	for _, id := range flakyOnce {
		e.flakyOnce[id] = true
	}
	return e
}

func (e *fakeExtractor) Extract(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
	e.mu.Lock()
	e.attempts[unit.ID]++
	attempt := e.attempts[unit.ID]
	if e.flakyOnce[unit.ID] {
		e.flakyAttempts[unit.ID]++
	}
	e.mu.Unlock()

	if e.permanent[unit.ID] {
		return nil, Permanent(fmt.Errorf("status 404 for %s", unit.ID))
	}
	if e.flakyOnce[unit.ID] && attempt == 1 {
		return nil, Transient(fmt.Errorf("connection reset"))
	}

	rec := NewRecord()
	rec.Set("id", unit.ID)
	for _, meta := range unit.Meta {
		rec.Set(meta.Key, meta.Value)
	}
	rec.Set("value", len(unit.ID))
	return []*Record{rec}, nil
}

func testOptions(t *testing.T, dir string, extractor Extractor, factory Factory) Options {
	t.Helper()
	return Options{
		Config: Config{
			ShardIndex:    0,
			ShardCount:    1,
			BatchSize:     100,
			PoolSize:      5,
			SessionBudget: 10,
			Retry:         RetryPolicy{MaxAttempts: 3, BackoffBase: 0},
		},
		Sessions:        factory,
		Extractor:       extractor,
		OutputPath:      filepath.Join(dir, "out.csv"),
		FailurePath:     filepath.Join(dir, "failed.csv"),
		FailureMetaKeys: []string{"country"},
	}
}

func TestJobEndToEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:lib/pipeline")
	defer cleanup()

	dir := t.TempDir()
	units := makeUnits(237)
	for i := range units {
		units[i].Meta = []MetaField{{Key: "country", Value: "italy"}}
	}

	failing := []string{"unit-010", "unit-110", "unit-210"}
	flaky := []string{"unit-050", "unit-150"}
	extractor := newFakeExtractor(failing, flaky)

	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))

	job, err := NewJob(opts)
	require.NoError(t, err)

	summary, err := job.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, Summary{
		UnitsAssigned:  237,
		UnitsSkipped:   0,
		UnitsProcessed: 234,
		UnitsFailed:    3,
		Batches:        3,
		RowsWritten:    234,
		FailureLog:     true,
	}, summary)

	// rows come out in input order regardless of which worker finished
	// first, one per successful unit, identifier in the leading column
	rows := readCsv(t, opts.OutputPath)
	require.Equal(t, []string{"id", "country", "value"}, rows[0])
	require.Len(t, rows, 235)

	expectFailing := map[string]bool{}
	for _, id := range failing {
		expectFailing[id] = true
	}
	i := 1
	for _, unit := range units {
		if expectFailing[unit.ID] {
			continue
		}
		require.Equal(t, unit.ID, rows[i][0])
		i++
	}

	// transient failures were retried, not abandoned
	require.Equal(t, 2, extractor.flakyAttempts["unit-050"])

	failures := readCsv(t, opts.FailurePath)
	require.Equal(t, [][]string{
		{"work_unit_id", "country", "error_kind", "error_detail"},
		{"unit-010", "italy", "permanent", "status 404 for unit-010"},
		{"unit-110", "italy", "permanent", "status 404 for unit-110"},
		{"unit-210", "italy", "permanent", "status 404 for unit-210"},
	}, failures)

	// budget 10 forces periodic recycling beyond the initial pool fill
	require.Greater(t, constructed.Load(), int64(5))
}

func TestJobRunIsResumable(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:lib/pipeline")
	defer cleanup()

	dir := t.TempDir()
	units := makeUnits(237)

	extractor := newFakeExtractor([]string{"unit-010"}, nil)
	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))

	job, err := NewJob(opts)
	require.NoError(t, err)
	first, err := job.Run(context.Background(), units)
	require.NoError(t, err)
	require.Equal(t, 236, first.UnitsProcessed)

	before := readCsv(t, opts.OutputPath)

	// the second run must find everything done and append nothing
	job, err = NewJob(opts)
	require.NoError(t, err)
	second, err := job.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, Summary{
		UnitsAssigned: 237,
		UnitsSkipped:  237,
	}, second)
	require.Equal(t, before, readCsv(t, opts.OutputPath))
}

func TestJobResumesMidway(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(10)

	// a previous run persisted the first four units
	done := units[:4]
	writer, err := NewRecordWriter(filepath.Join(dir, "out.csv"))
	require.NoError(t, err)
	var records []*Record
	for _, unit := range done {
		rec := NewRecord()
		rec.Set("id", unit.ID)
		rec.Set("value", len(unit.ID))
		records = append(records, rec)
	}
	_, err = writer.Append(records)
	require.NoError(t, err)

	extractor := newFakeExtractor(nil, nil)
	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)
	summary, err := job.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, 4, summary.UnitsSkipped)
	require.Equal(t, 6, summary.UnitsProcessed)

	// already-done units were never re-extracted
	require.Zero(t, extractor.attempts["unit-000"])
	require.Zero(t, extractor.attempts["unit-003"])

	rows := readCsv(t, opts.OutputPath)
	require.Len(t, rows, 11)
	require.Equal(t, "unit-009", rows[10][0])
}

func TestJobLogsExhaustedUnitsOnce(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(5)

	// unit-002 never succeeds; all attempts are transient
	extractor := ExtractorFunc(func(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
		if unit.ID == "unit-002" {
			return nil, Transient(errors.New("connection reset"))
		}
		rec := NewRecord()
		rec.Set("id", unit.ID)
		return []*Record{rec}, nil
	})

	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)
	summary, err := job.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, 4, summary.UnitsProcessed)
	require.Equal(t, 1, summary.UnitsFailed)

	failures := readCsv(t, opts.FailurePath)
	require.Len(t, failures, 2)
	require.Equal(t, []string{"unit-002", "transient-exhausted", "connection reset"}, failures[1])
}

func TestJobAbortsOnSessionConstructionFailure(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(6)

	extractor := newFakeExtractor(nil, nil)

	// the login endpoint is down for the whole first run
	var down atomic.Bool
	down.Store(true)
	opts := testOptions(t, dir, extractor, func(ctx context.Context) (Session, error) {
		if down.Load() {
			return nil, errors.New("login rejected")
		}
		return &fakeSession{}, nil
	})
	opts.Config.BatchSize = 3
	opts.Config.PoolSize = 2
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)

	// every worker dies on construction: the run must abort with the
	// batch unwritten rather than move on and let a later batch's
	// write advance the checkpoint past these units
	summary, err := job.Run(context.Background(), units)
	require.Error(t, err)
	require.Zero(t, summary.Batches)
	require.Zero(t, summary.UnitsProcessed)
	require.Zero(t, summary.RowsWritten)

	_, err = os.Stat(opts.OutputPath)
	require.True(t, os.IsNotExist(err))

	// the endpoint recovers; a plain re-run picks everything up,
	// including the units of the aborted first batch
	down.Store(false)
	job, err = NewJob(opts)
	require.NoError(t, err)
	summary, err = job.Run(context.Background(), units)
	require.NoError(t, err)
	require.Equal(t, 6, summary.UnitsProcessed)
	require.Zero(t, summary.UnitsSkipped)

	rows := readCsv(t, opts.OutputPath)
	require.Len(t, rows, 7)
	require.Equal(t, "unit-000", rows[1][0])
	require.Equal(t, "unit-005", rows[6][0])
}

func TestJobWithholdsPartiallyDrainedBatch(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(3)

	extractor := newFakeExtractor(nil, nil)

	// the first construction succeeds, the recycle after the budget
	// does not: the lone worker dies mid-batch with units still queued
	var constructions atomic.Int64
	opts := testOptions(t, dir, extractor, func(ctx context.Context) (Session, error) {
		if constructions.Add(1) > 1 {
			return nil, errors.New("login rejected")
		}
		return &fakeSession{}, nil
	})
	opts.Config.PoolSize = 1
	opts.Config.SessionBudget = 1
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)
	summary, err := job.Run(context.Background(), units)
	require.Error(t, err)

	// the one completed unit must not be written either: its row would
	// move the checkpoint while unit-001 and unit-002 are in neither
	// the output nor the failure log
	require.Zero(t, summary.RowsWritten)
	_, err = os.Stat(opts.OutputPath)
	require.True(t, os.IsNotExist(err))
}

func TestJobStopsAfterCancelledBatch(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancellation arrives while the first batch is in flight; that
	// batch finishes and is written, the rest never starts
	extractor := ExtractorFunc(func(innerCtx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
		if unit.ID == "unit-001" {
			cancel()
		}
		rec := NewRecord()
		rec.Set("id", unit.ID)
		return []*Record{rec}, nil
	})

	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))
	opts.Config.BatchSize = 3
	opts.Config.PoolSize = 1
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)
	summary, err := job.Run(ctx, units)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, summary.Batches)
	require.Equal(t, 3, summary.UnitsProcessed)
	require.Equal(t, 3, summary.RowsWritten)
	require.Zero(t, summary.UnitsFailed)

	// the in-flight batch's rows checkpoint cleanly for the next run
	rows := readCsv(t, opts.OutputPath)
	require.Len(t, rows, 4)
	require.Equal(t, "unit-002", rows[3][0])
}

func TestJobRecyclesInvalidatedSessions(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(3)

	// the first unit poisons its session; the worker must swap it out
	// before continuing with the remaining units
	extractor := ExtractorFunc(func(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
		if unit.ID == "unit-000" {
			return nil, InvalidateSession(Permanent(errors.New("interstitial page")))
		}
		rec := NewRecord()
		rec.Set("id", unit.ID)
		return []*Record{rec}, nil
	})

	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))
	opts.Config.PoolSize = 1
	opts.Config.SessionBudget = 0
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)
	summary, err := job.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, 2, summary.UnitsProcessed)
	require.Equal(t, 1, summary.UnitsFailed)
	require.GreaterOrEqual(t, constructed.Load(), int64(2))
}

func TestJobRejectsBadConfig(t *testing.T) {
	extractor := newFakeExtractor(nil, nil)
	var constructed atomic.Int64

	testCases := []struct {
		name   string
		mutate func(*Options)
	}{
		{name: "zero_shard_count", mutate: func(o *Options) { o.Config.ShardCount = 0 }},
		{name: "shard_index_out_of_range", mutate: func(o *Options) { o.Config.ShardIndex = 5 }},
		{name: "zero_batch_size", mutate: func(o *Options) { o.Config.BatchSize = 0 }},
		{name: "zero_pool_size", mutate: func(o *Options) { o.Config.PoolSize = 0 }},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			opts := testOptions(t, t.TempDir(), extractor, countingFactory(&constructed))
			test.mutate(&opts)

			_, err := NewJob(opts)
			var configErr *ConfigurationError
			require.ErrorAs(t, err, &configErr)
		})
	}
}

func TestWorkerRecoversExtractorPanic(t *testing.T) {
	dir := t.TempDir()
	units := makeUnits(3)

	extractor := ExtractorFunc(func(ctx context.Context, session Session, unit WorkUnit) ([]*Record, error) {
		if unit.ID == "unit-001" {
			panic("nil deref in parsing")
		}
		rec := NewRecord()
		rec.Set("id", unit.ID)
		return []*Record{rec}, nil
	})

	var constructed atomic.Int64
	opts := testOptions(t, dir, extractor, countingFactory(&constructed))
	opts.FailureMetaKeys = nil

	job, err := NewJob(opts)
	require.NoError(t, err)
	summary, err := job.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, 2, summary.UnitsProcessed)
	require.Equal(t, 1, summary.UnitsFailed)

	failures := readCsv(t, opts.FailurePath)
	require.Equal(t, "unit-001", failures[1][0])
	require.Equal(t, "permanent", failures[1][1])
	require.Contains(t, failures[1][2], "panic")
}
