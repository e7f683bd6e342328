package pipeline

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("pipeline.progress")
var overallGauge, _ = meter.Int64Gauge("units_completed")
var batchGauge, _ = meter.Int64Gauge("batch_units_completed")

// Progress holds the shared completion counters workers bump after each
// unit. Advisory only: reporting reads them, control flow never does.
type Progress struct {
	total     int64
	overall   atomic.Int64
	batchDone atomic.Int64
	batchSize atomic.Int64
}

func NewProgress(total int) *Progress {
	return &Progress{total: int64(total)}
}

func (p *Progress) StartBatch(size int) {
	p.batchDone.Store(0)
	p.batchSize.Store(int64(size))
}

// UnitDone increments both counters and returns their new values for
// reporting.
func (p *Progress) UnitDone(ctx context.Context) (overall, batch int64) {
	overall = p.overall.Add(1)
	batch = p.batchDone.Add(1)
	overallGauge.Record(ctx, overall)
	batchGauge.Record(ctx, batch)
	return overall, batch
}

func (p *Progress) Total() int64 {
	return p.total
}

func (p *Progress) BatchSize() int64 {
	return p.batchSize.Load()
}

// Percent of the overall shard completed, 0 when the shard is empty.
func (p *Progress) Percent() float64 {
	if p.total == 0 {
		return 0
	}
	return float64(p.overall.Load()) / float64(p.total) * 100
}
