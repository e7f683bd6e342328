package commands

import (
	"time"

	"royaledata/lib/pipeline"
	"royaledata/lib/royaleapi"
	"royaledata/lib/serviceutil"

	"github.com/spf13/cobra"
)

var battlesPlayers *string
var battlesOut *string
var battlesFailures *string

func init() {
	battlesPlayers = battlesCmd.Flags().String("players", "players.csv", "The players csv to read player tags from.")
	battlesOut = battlesCmd.Flags().String("out", "battles.csv", "The csv file to write battle rows to.")
	battlesFailures = battlesCmd.Flags().String("failures", "failed_players.csv", "The csv file to log abandoned players to.")
	rootCmd.AddCommand(battlesCmd)
}

var battlesCmd = &cobra.Command{
	Use:   "battles [--players <path>] [--out <path>] [--failures <path>]",
	Short: "Extracts the recent battle log of every player into a battles csv, resuming where a prior run stopped.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		units, err := readUnits(*battlesPlayers, "player_tag", []string{"clan_tag", "country"})
		if err != nil {
			serviceutil.Fatal("failed to read players", err)
		}

		client := royaleapi.NewClient(royaleapi.ClientOptions{
			Token:   cfg.Token,
			Timeout: time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		})

		job, err := pipeline.NewJob(pipeline.Options{
			Config:          cfg.Pipeline.jobConfig(),
			Sessions:        royaleapi.SessionFactory(client),
			Extractor:       royaleapi.BattleExtractor{},
			OutputPath:      *battlesOut,
			FailurePath:     *battlesFailures,
			FailureMetaKeys: []string{"clan_tag", "country"},
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
