package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caffeinestack/caffeinestack/pkg/types"
)

// zonelessLayouts are accepted for timestamps without a UTC offset; they are
// read in local time.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// formatFor picks csv or json from an explicit flag value or the file
// extension.
func formatFor(flagValue, path string) (string, error) {
	f := strings.ToLower(flagValue)
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch f {
	case "csv", "json":
		return f, nil
	case "":
		return "csv", nil
	default:
		return "", fmt.Errorf("unknown input format %q: want csv|json", f)
	}
}

func readDoses(r io.Reader, format string) ([]types.Dose, error) {
	if format == "json" {
		return readJSON(r)
	}
	return readCSV(r)
}

// readCSV parses "amount_mg,timestamp" rows. A first row whose amount is not
// numeric is treated as a header. Blank lines and lines starting with # are
// skipped.
func readCSV(r io.Reader) ([]types.Dose, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var doses []types.Dose
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}

		amount, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("csv line %d: amount %q: %w", line, rec[0], err)
		}
		if err := checkAmount(amount); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		at, err := parseTime(rec[1])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		doses = append(doses, types.Dose{AmountMg: amount, OccurredAt: at})
	}
	return doses, nil
}

// checkAmount rejects negative and non-finite amounts.
func checkAmount(mg float64) error {
	if mg < 0 || math.IsNaN(mg) || math.IsInf(mg, 0) {
		return fmt.Errorf("amount_mg %v must be a finite value >= 0", mg)
	}
	return nil
}

type jsonDose struct {
	AmountMg   float64 `json:"amount_mg"`
	OccurredAt string  `json:"occurred_at"`
}

// readJSON parses [{"amount_mg": ..., "occurred_at": ...}, ...].
func readJSON(r io.Reader) ([]types.Dose, error) {
	var raw []jsonDose
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	doses := make([]types.Dose, 0, len(raw))
	for i, d := range raw {
		if err := checkAmount(d.AmountMg); err != nil {
			return nil, fmt.Errorf("json entry %d: %w", i, err)
		}
		at, err := parseTime(d.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("json entry %d: %w", i, err)
		}
		doses = append(doses, types.Dose{AmountMg: d.AmountMg, OccurredAt: at})
	}
	return doses, nil
}
