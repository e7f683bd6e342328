package commands

import (
	"time"

	"royaledata/lib/pipeline"
	"royaledata/lib/royaleapi"
	"royaledata/lib/serviceutil"

	"github.com/spf13/cobra"
)

var playersClans *string
var playersOut *string
var playersFailures *string

func init() {
	playersClans = playersCmd.Flags().String("clans", "all_clans.csv", "The clans csv to read clan tags from.")
	playersOut = playersCmd.Flags().String("out", "players.csv", "The csv file to write member rows to.")
	playersFailures = playersCmd.Flags().String("failures", "failed_clans.csv", "The csv file to log abandoned clans to.")
	rootCmd.AddCommand(playersCmd)
}

var playersCmd = &cobra.Command{
	Use:   "players [--clans <path>] [--out <path>] [--failures <path>]",
	Short: "Extracts every member of every clan into a players csv, resuming where a prior run stopped.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		units, err := readUnits(*playersClans, "tag", []string{"country"})
		if err != nil {
			serviceutil.Fatal("failed to read clans", err)
		}

		client := royaleapi.NewClient(royaleapi.ClientOptions{
			Token:   cfg.Token,
			Timeout: time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		})

		job, err := pipeline.NewJob(pipeline.Options{
			Config:          cfg.Pipeline.jobConfig(),
			Sessions:        royaleapi.SessionFactory(client),
			Extractor:       royaleapi.MemberExtractor{},
			OutputPath:      *playersOut,
			FailurePath:     *playersFailures,
			FailureMetaKeys: []string{"country"},
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
