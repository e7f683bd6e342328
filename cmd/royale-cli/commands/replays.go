package commands

import (
	"time"

	"royaledata/lib/pipeline"
	"royaledata/lib/scrapers/replay"
	"royaledata/lib/serviceutil"

	"github.com/spf13/cobra"
)

var replaysInput *string
var replaysOut *string
var replaysFailures *string
var replaysShardIndex *int
var replaysShardCount *int

func init() {
	replaysInput = replaysCmd.Flags().String("input", "replays.csv", "The csv to read replay ids from, one per row in a replay_id column.")
	replaysOut = replaysCmd.Flags().String("out", "replay_events.csv", "The csv file to write replay event rows to.")
	replaysFailures = replaysCmd.Flags().String("failures", "failed_replays.csv", "The csv file to log abandoned replays to.")
	replaysShardIndex = replaysCmd.Flags().Int("shard-index", -1, "Overrides pipeline.shard_index so several machines can split the input.")
	replaysShardCount = replaysCmd.Flags().Int("shard-count", 0, "Overrides pipeline.shard_count.")
	rootCmd.AddCommand(replaysCmd)
}

var replaysCmd = &cobra.Command{
	Use:   "replays [--input <path>] [--out <path>] [--failures <path>]",
	Short: "Scrapes the reconciled event timeline of every replay into a csv, resuming where a prior run stopped.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		units, err := readUnits(*replaysInput, "replay_id", nil)
		if err != nil {
			serviceutil.Fatal("failed to read replays", err)
		}

		jobCfg := cfg.Pipeline.jobConfig()
		if *replaysShardIndex >= 0 {
			jobCfg.ShardIndex = *replaysShardIndex
		}
		if *replaysShardCount > 0 {
			jobCfg.ShardCount = *replaysShardCount
		}

		job, err := pipeline.NewJob(pipeline.Options{
			Config: jobCfg,
			Sessions: replay.SessionFactory(replay.SessionOptions{
				StorageStatePath: cfg.StorageState,
				Timeout:          time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
			}),
			Extractor:   replay.Extractor{},
			OutputPath:  *replaysOut,
			FailurePath: *replaysFailures,
		})
		if err != nil {
			serviceutil.Fatal("failed to configure job", err)
		}

		summary, err := job.Run(cmd.Context(), units)
		if err != nil {
			serviceutil.Fatal("extraction failed", err)
		}
		printSummary(summary)
	},
}
