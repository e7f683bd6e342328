package commands

import (
	"encoding/csv"
	"fmt"
	"os"

	"royaledata/lib/configutil"
	"royaledata/lib/pipeline"
	"royaledata/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Config struct {
	// bearer token for the official api
	Token string `json:"token"`
	// cookie dump for the replay site, saved from a logged-in browser
	StorageState string         `json:"storage_state"`
	Pipeline     PipelineConfig `json:"pipeline"`
}

type PipelineConfig struct {
	ShardIndex       int     `json:"shard_index"`
	ShardCount       int     `json:"shard_count"`
	BatchSize        int     `json:"batch_size"`
	PoolSize         int     `json:"pool_size"`
	SessionBudget    int     `json:"session_budget"`
	RetryAttempts    int     `json:"retry_attempts"`
	RetryBackoffBase float64 `json:"retry_backoff_base"`
	TimeoutSeconds   int     `json:"timeout_seconds"`
}

func (c PipelineConfig) jobConfig() pipeline.Config {
	out := pipeline.Config{
		ShardIndex:    c.ShardIndex,
		ShardCount:    c.ShardCount,
		BatchSize:     c.BatchSize,
		PoolSize:      c.PoolSize,
		SessionBudget: c.SessionBudget,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: c.RetryAttempts,
			BackoffBase: c.RetryBackoffBase,
		},
	}
	if out.ShardCount == 0 {
		out.ShardCount = 1
	}
	if out.BatchSize == 0 {
		out.BatchSize = 100
	}
	if out.PoolSize == 0 {
		out.PoolSize = 5
	}
	if out.SessionBudget == 0 {
		out.SessionBudget = 10
	}
	if out.Retry.MaxAttempts == 0 {
		out.Retry.MaxAttempts = 3
	}
	if out.Retry.BackoffBase == 0 {
		out.Retry.BackoffBase = 1.5
	}
	return out
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

// readUnits loads work units from an input csv: one unit per row keyed
// by idColumn, carrying the listed metadata columns when present.
func readUnits(path, idColumn string, metaColumns []string) ([]pipeline.WorkUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	header := rows[0]
	idIdx := -1
	metaIdx := map[string]int{}
	for i, col := range header {
		if col == idColumn {
			idIdx = i
		}
		for _, meta := range metaColumns {
			if col == meta {
				metaIdx[meta] = i
			}
		}
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("%s must contain a %q column", path, idColumn)
	}

	var units []pipeline.WorkUnit
	for _, row := range rows[1:] {
		if idIdx >= len(row) || row[idIdx] == "" {
			continue
		}
		unit := pipeline.WorkUnit{ID: row[idIdx]}
		for _, meta := range metaColumns {
			idx, ok := metaIdx[meta]
			if !ok || idx >= len(row) {
				continue
			}
			unit.Meta = append(unit.Meta, pipeline.MetaField{Key: meta, Value: row[idx]})
		}
		units = append(units, unit)
	}
	return units, nil
}

func printSummary(s pipeline.Summary) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"units assigned", s.UnitsAssigned},
		{"units skipped (already done)", s.UnitsSkipped},
		{"units processed", s.UnitsProcessed},
		{"units failed", s.UnitsFailed},
		{"batches", s.Batches},
		{"rows written", s.RowsWritten},
		{"failure log produced", s.FailureLog},
	})
	t.Render()
}
