package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("go.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var heapGauge, _ = meter.Int64Gauge("heap_mb")
var liveObjectsGauge, _ = meter.Int64Gauge("live_objects")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")

// InstrumentPerfStats samples process health every 30 seconds for the
// lifetime of ctx. Long extraction runs hold hundreds of thousands of
// flattened rows in flight, so heap growth is worth watching.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)
				heapGauge.Record(ctx, int64(memStats.HeapAlloc/1_000_000))
				liveObjectsGauge.Record(ctx, int64(memStats.Mallocs)-int64(memStats.Frees))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

				usage, err := cpu.Percent(0, false)
				if err != nil {
					slog.WarnContext(ctx, "failed to read cpu usage", "err", err)
				} else if len(usage) > 0 {
					cpuGauge.Record(ctx, usage[0])
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
