package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"royaledata/lib/pipeline"
	"royaledata/lib/serviceutil"

	"github.com/spf13/cobra"
)

var combineDir *string
var combineOut *string

func init() {
	combineDir = combineCmd.Flags().String("dir", ".", "The directory holding per-country *_clans.csv files.")
	combineOut = combineCmd.Flags().String("out", "all_clans.csv", "The merged csv to write.")
	rootCmd.AddCommand(combineCmd)
}

var combineCmd = &cobra.Command{
	Use:   "combine [--dir <dir>] [--out <path/to/all_clans.csv>]",
	Short: "Merges per-country clan csvs into one file, tagging each row with its country.",
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := filepath.Glob(filepath.Join(*combineDir, "*_clans.csv"))
		if err != nil {
			serviceutil.Fatal("failed to list clan csvs", err)
		}
		if len(paths) == 0 {
			serviceutil.Fatal("no *_clans.csv files found", os.ErrNotExist)
		}

		writer, err := pipeline.NewRecordWriter(*combineOut)
		if err != nil {
			serviceutil.Fatal("failed to open output", err)
		}

		total := 0
		for _, path := range paths {
			country := strings.TrimSuffix(filepath.Base(path), "_clans.csv")

			units, err := readUnits(path, "tag", []string{"name", "type", "clanScore", "members", "requiredTrophies"})
			if err != nil {
				serviceutil.Fatal("failed to read "+path, err)
			}

			records := make([]*pipeline.Record, 0, len(units))
			for _, unit := range units {
				rec := pipeline.NewRecord()
				rec.Set("tag", unit.ID)
				for _, meta := range unit.Meta {
					rec.Set(meta.Key, meta.Value)
				}
				rec.Set("country", country)
				records = append(records, rec)
			}

			rows, err := writer.Append(records)
			if err != nil {
				serviceutil.Fatal("failed to write "+*combineOut, err)
			}
			total += rows
			slog.Info("merged clans", "country", country, "rows", rows)
		}

		slog.Info("saved combined clans", "rows", total, "out", *combineOut)
	},
}
