package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// RecordWriter appends batches of records to a CSV destination. The
// first write fixes the column set (the union of the batch's fields in
// first-seen order) and emits the header; later writes append rows
// restricted to those columns, leaving absent fields empty.
type RecordWriter struct {
	path    string
	columns []string
}

// NewRecordWriter prepares a writer for path. If prior output exists
// its header is adopted so resumed runs keep the column set stable.
func NewRecordWriter(path string) (*RecordWriter, error) {
	w := &RecordWriter{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading existing header of %s: %w", path, err)
	}
	w.columns = header
	return w, nil
}

// Append writes all records in one atomic append. Returns the number of
// rows written.
func (w *RecordWriter) Append(records []*Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	writeHeader := false
	if len(w.columns) == 0 {
		w.columns = unionColumns(records)
		writeHeader = true
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	out := csv.NewWriter(f)
	if writeHeader {
		err = out.Write(w.columns)
		if err != nil {
			return 0, err
		}
	}

	for _, rec := range records {
		row := make([]string, len(w.columns))
		for i, col := range w.columns {
			v, ok := rec.Get(col)
			if !ok {
				continue
			}
			row[i] = formatValue(v)
		}
		err = out.Write(row)
		if err != nil {
			return 0, err
		}
	}

	out.Flush()
	return len(records), out.Error()
}

func unionColumns(records []*Record) []string {
	var columns []string
	seen := map[string]bool{}
	for _, rec := range records {
		for _, key := range rec.Keys() {
			if seen[key] {
				continue
			}
			seen[key] = true
			columns = append(columns, key)
		}
	}
	return columns
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		// json decodes every number as float64; keep integers clean
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

// FailureWriter appends abandoned units to a debug CSV with columns
// {work_unit_id, metadata..., error_kind, error_detail}, header on
// first write.
type FailureWriter struct {
	path     string
	metaKeys []string
}

func NewFailureWriter(path string, metaKeys []string) *FailureWriter {
	return &FailureWriter{path: path, metaKeys: metaKeys}
}

func (w *FailureWriter) Append(failures []Failure) error {
	if len(failures) == 0 {
		return nil
	}

	info, err := os.Stat(w.path)
	writeHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	out := csv.NewWriter(f)
	if writeHeader {
		header := append([]string{"work_unit_id"}, w.metaKeys...)
		header = append(header, "error_kind", "error_detail")
		err = out.Write(header)
		if err != nil {
			return err
		}
	}

	for _, failure := range failures {
		row := []string{failure.Unit.ID}
		for _, key := range w.metaKeys {
			row = append(row, failure.Unit.metaValue(key))
		}
		row = append(row, string(failure.Kind), failure.Detail)
		err = out.Write(row)
		if err != nil {
			return err
		}
	}

	out.Flush()
	return out.Error()
}
