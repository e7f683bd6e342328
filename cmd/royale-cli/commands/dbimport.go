package commands

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"royaledata/lib/serviceutil"
	"royaledata/lib/sqliteutil"

	"github.com/spf13/cobra"
)

var dbImportCsv *string
var dbImportTarget *string
var dbImportAuthToken *string

func init() {
	dbImportCsv = dbImportCmd.Flags().String("csv", "", "The csv file to import.")
	dbImportTarget = dbImportCmd.Flags().String("db", "royaledata.db", "The sqlite file or libsql:// url to import into.")
	dbImportAuthToken = dbImportCmd.Flags().String("auth-token", "", "The auth token for a remote libsql database.")
	dbImportCmd.MarkFlagRequired("csv")
	dbCmd.AddCommand(dbImportCmd)
	rootCmd.AddCommand(dbCmd)
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manages the dataset database.",
}

var dbImportCmd = &cobra.Command{
	Use:   "import --csv <path> [--db <target>] [--auth-token <token>]",
	Short: "Imports a csv dataset into a sqlite or libsql table named after the file.",
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(*dbImportCsv)
		if err != nil {
			serviceutil.Fatal("failed to open csv", err)
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		if err != nil {
			serviceutil.Fatal("failed to read csv", err)
		}
		if len(rows) < 1 {
			serviceutil.Fatal("csv has no header", os.ErrInvalid)
		}

		name := strings.TrimSuffix(filepath.Base(*dbImportCsv), ".csv")
		header := rows[0]

		columns := make([]string, len(header))
		placeholders := make([]string, len(header))
		for i, col := range header {
			columns[i] = fmt.Sprintf("%q TEXT", col)
			placeholders[i] = "?"
		}
		schema := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %q (%s);",
			name, strings.Join(columns, ", "),
		)

		db, err := sqliteutil.OpenDB(schema, *dbImportTarget, *dbImportAuthToken)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer db.Close()

		tx, err := db.BeginTx(cmd.Context(), nil)
		if err != nil {
			serviceutil.Fatal("failed to begin transaction", err)
		}
		defer tx.Rollback()

		insert := fmt.Sprintf(
			"INSERT INTO %q VALUES (%s)",
			name, strings.Join(placeholders, ", "),
		)
		stmt, err := tx.PrepareContext(cmd.Context(), insert)
		if err != nil {
			serviceutil.Fatal("failed to prepare insert", err)
		}
		defer stmt.Close()

		inserted := 0
		for _, row := range rows[1:] {
			values := make([]any, len(header))
			for i := range header {
				if i < len(row) {
					values[i] = row[i]
				} else {
					values[i] = ""
				}
			}
			_, err = stmt.ExecContext(cmd.Context(), values...)
			if err != nil {
				serviceutil.Fatal("failed to insert row", err)
			}
			inserted++
		}

		err = tx.Commit()
		if err != nil {
			serviceutil.Fatal("failed to commit", err)
		}

		slog.Info("imported csv", "table", name, "rows", inserted, "db", *dbImportTarget)
	},
}
