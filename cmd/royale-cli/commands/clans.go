package commands

import (
	"log/slog"

	"royaledata/lib/pipeline"
	"royaledata/lib/royaleapi"
	"royaledata/lib/serviceutil"

	"github.com/spf13/cobra"
)

var clansLocation *int
var clansOut *string

func init() {
	clansLocation = clansCmd.Flags().Int("location", 0, "The numeric locationId to list clans for (e.g. 57000120 for Italy).")
	clansOut = clansCmd.Flags().String("out", "clans.csv", "The csv file to write clan rows to.")
	clansCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(clansCmd)
}

var clansCmd = &cobra.Command{
	Use:   "clans --location <id> [--out <path/to/clans.csv>]",
	Short: "Lists every clan of a location into a csv.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client := royaleapi.NewClient(royaleapi.ClientOptions{Token: cfg.Token})

		clans, err := client.ClansByLocation(cmd.Context(), *clansLocation)
		if err != nil {
			serviceutil.Fatal("failed to list clans", err)
		}

		records := make([]*pipeline.Record, 0, len(clans))
		for _, clan := range clans {
			rec := pipeline.NewRecord()
			rec.Set("tag", clan.Tag)
			rec.Set("name", clan.Name)
			rec.Set("type", clan.Type)
			rec.Set("clanScore", clan.ClanScore)
			rec.Set("members", clan.Members)
			rec.Set("requiredTrophies", clan.RequiredTrophies)
			records = append(records, rec)
		}

		writer, err := pipeline.NewRecordWriter(*clansOut)
		if err != nil {
			serviceutil.Fatal("failed to open output", err)
		}
		rows, err := writer.Append(records)
		if err != nil {
			serviceutil.Fatal("failed to write output", err)
		}

		slog.Info("saved clans", "rows", rows, "out", *clansOut)
	},
}
