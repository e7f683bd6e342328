package main

import (
	"context"
	"os"

	"royaledata/cmd/royale-cli/commands"
	"royaledata/lib/serviceutil"
	"royaledata/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(os.Getenv("VERBOSE") != "")

	// telemetry is optional for a CLI: no telemetry.json5, no exporters
	t, err := telemetry.SetupFromEnv(ctx, "royale-cli")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer t.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	}

	commands.ExecuteContext(ctx)
}
