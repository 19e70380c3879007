package level

import (
	"time"

	"github.com/caffeinestack/caffeinestack/pkg/types"
)

// Result is the full output of one engine run.
type Result struct {
	// Report is the 25-point hourly series, identical to Compute's output.
	Report Report

	// Minutes is the minute-resolution level series. Minutes[0] is the level
	// at Start; the last entry is the minute before now.
	Minutes []float64

	// Start is the time of the earliest dose. Zero when there are no doses.
	Start time.Time

	// Profile is the growth profile the simulation consumed.
	Profile GrowthProfile
}

// Compute returns the hourly caffeine report for doses as of now.
// With no doses it returns all zeros without simulating.
func Compute(doses []types.Dose, now time.Time) Report {
	return Trace(doses, now).Report
}

// Trace runs the same computation as Compute and keeps the intermediate
// minute series and growth profile for diagnostics.
//
// If now is at or before the earliest dose's minute the minute series is
// empty and the report is all zeros.
func Trace(doses []types.Dose, now time.Time) Result {
	if len(doses) == 0 {
		return Result{}
	}

	sorted, offsets := Normalize(doses)
	profile := BuildGrowthProfile(sorted, offsets)

	start := sorted[0].OccurredAt
	minutes := Simulate(profile, MinutesBetween(start, now))

	return Result{
		Report:  Resample(minutes),
		Minutes: minutes,
		Start:   start,
		Profile: profile,
	}
}
