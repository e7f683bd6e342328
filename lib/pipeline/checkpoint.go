package pipeline

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Resume returns the suffix of units strictly after the unit identified
// by lastID. When lastID is empty or not present in the sequence the
// full slice is returned unchanged: resumption is conservative and
// never skips unscanned work out of uncertainty.
func Resume(units []WorkUnit, lastID string) []WorkUnit {
	if lastID == "" {
		return units
	}
	for i, u := range units {
		if u.ID == lastID {
			return units[i+1:]
		}
	}
	return units
}

// LastUnitID reads the identifier of the final row of a previously
// persisted output file (the leading column). Returns ok=false when no
// prior output exists or the file holds only a header.
//
// Only the tail row is inspected; earlier rows are trusted to be
// present because batches are written strictly in order. A corrupted
// prefix would go unnoticed here.
func LastUnitID(path string) (id string, ok bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// flattened battle rows can get long
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var last string
	lines := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last = line
		lines++
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	// a single line is the header
	if lines < 2 {
		return "", false, nil
	}

	fields, err := csv.NewReader(strings.NewReader(last)).Read()
	if err != nil {
		return "", false, fmt.Errorf("parsing last row of %s: %w", path, err)
	}
	field := strings.TrimSpace(fields[0])
	if field == "" {
		return "", false, nil
	}
	return field, true, nil
}
