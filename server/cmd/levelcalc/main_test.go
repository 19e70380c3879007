package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeinestack/caffeinestack/pkg/types"
	"github.com/caffeinestack/caffeinestack/server/internal/level"
)

func TestReadCSV(t *testing.T) {
	in := strings.NewReader(`amount_mg,timestamp
# morning
80,2024-03-01T08:00:00Z
120, 2024-03-01T10:30:00+01:00
`)
	doses, err := readCSV(in)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	want := []types.Dose{
		{AmountMg: 80, OccurredAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		{AmountMg: 120, OccurredAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)},
	}
	if len(doses) != len(want) {
		t.Fatalf("len: got %d, want %d", len(doses), len(want))
	}
	for i := range want {
		if doses[i].AmountMg != want[i].AmountMg || !doses[i].OccurredAt.Equal(want[i].OccurredAt) {
			t.Errorf("dose %d: got %+v, want %+v", i, doses[i], want[i])
		}
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct{ name, in string }{
		{"bad amount after header", "amount,ts\nx,2024-03-01T08:00:00Z\n"},
		{"bad timestamp", "80,yesterday\n"},
		{"wrong field count", "80\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readCSV(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadDoses_RejectsNegativeAmounts(t *testing.T) {
	tests := []struct {
		name, format, in, want string
	}{
		{"csv", "csv", "amount_mg,timestamp\n80,2024-03-01T08:00:00Z\n-5,2024-03-01T09:00:00Z\n", "csv line 3"},
		{"csv nan", "csv", "NaN,2024-03-01T08:00:00Z\n", "csv line 1"},
		{"json", "json", `[{"amount_mg": 10, "occurred_at": "2024-03-01T08:00:00Z"},
			{"amount_mg": -0.5, "occurred_at": "2024-03-01T09:00:00Z"}]`, "json entry 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readDoses(strings.NewReader(tt.in), tt.format)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not name %q", err, tt.want)
			}
		})
	}
}

func TestReadJSON(t *testing.T) {
	doses, err := readJSON(strings.NewReader(`[
		{"amount_mg": 95, "occurred_at": "2024-03-01T07:15:00Z"},
		{"amount_mg": 60, "occurred_at": "2024-03-01 09:00:00"}
	]`))
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if len(doses) != 2 {
		t.Fatalf("len: got %d, want 2", len(doses))
	}
	if !doses[1].OccurredAt.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)) {
		t.Errorf("local timestamp: got %v", doses[1].OccurredAt)
	}
	if _, err := readJSON(strings.NewReader(`[{"amount_mg": 1, "occurred_at": "noon"}]`)); err == nil {
		t.Error("expected error for bad timestamp")
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		flag, path, want string
		wantErr          bool
	}{
		{"", "doses.csv", "csv", false},
		{"", "doses.JSON", "json", false},
		{"json", "doses.csv", "json", false},
		{"", "-", "csv", false},
		{"", "doses.txt", "", true},
		{"xml", "doses.csv", "", true},
	}
	for _, tt := range tests {
		got, err := formatFor(tt.flag, tt.path)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("formatFor(%q, %q): got %q, %v", tt.flag, tt.path, got, err)
		}
	}
}

func TestRun_PrintsReportAndPlot(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "doses.csv")
	if err := os.WriteFile(in, []byte("100,2024-03-01T06:00:00Z\n200,2024-03-01T09:00:00Z\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	plotPath := filepath.Join(dir, "level.png")

	var out bytes.Buffer
	err := run([]string{"-now", "2024-03-01T12:00:00Z", "-plot", plotPath, in}, nil, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var got output
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := level.Compute([]types.Dose{
		{AmountMg: 100, OccurredAt: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)},
		{AmountMg: 200, OccurredAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}, now)
	if got.Doses != 2 || len(got.Levels) != level.ReportLen {
		t.Fatalf("unexpected output: %+v", got)
	}
	for i := range want {
		if got.Levels[i] != want[i] {
			t.Errorf("levels[%d]: got %v, want %v", i, got.Levels[i], want[i])
		}
	}
	if got.Status != level.Classify(want.Current()).Name {
		t.Errorf("status: got %q", got.Status)
	}
	assertPNG(t, plotPath)
}

func TestRun_Stdin(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-format", "json", "-now", "2024-03-01T12:00:00Z", "-"},
		strings.NewReader(`[]`), &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var got output
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Doses != 0 || got.CurrentMg != 0 || got.Status != level.StatusFaded {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestRun_Usage(t *testing.T) {
	if err := run(nil, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected usage error without an input path")
	}
	if err := run([]string{"-now", "soon", "-"}, strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Error("expected error for bad -now")
	}
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open plot: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("decode plot: %v", err)
	}
}
