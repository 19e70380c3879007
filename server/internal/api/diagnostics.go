package api

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/caffeinestack/caffeinestack/pkg/types"
	"github.com/caffeinestack/caffeinestack/server/internal/level"
)

// DiagnosticHint is one human-readable insight about a user's caffeine level.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var hintRank = map[string]int{"critical": 0, "warning": 1, "info": 2}

// computeDiagnostics derives hints from a level computation. doses must be the
// input the result was computed from. Hints are ordered critical first, then
// warnings, then info.
func computeDiagnostics(res level.Result, doses []types.Dose, now time.Time) []DiagnosticHint {
	hints := []DiagnosticHint{}

	if len(doses) == 0 {
		return append(hints, DiagnosticHint{
			Key:    "no_history",
			Level:  "info",
			Title:  "No coffee yet",
			Detail: "No purchases are recorded for this user, so the level is zero everywhere.",
		})
	}

	current := res.Report.Current()

	// ── Absorption still in progress ─────────────────────────────────────────
	var pending float64
	for _, d := range doses {
		m := level.MinutesBetween(d.OccurredAt, now)
		if m >= 0 && m < level.AbsorptionMinutes {
			pending += d.AmountMg * float64(level.AbsorptionMinutes-m) / level.AbsorptionMinutes
		}
	}
	if pending > 0 {
		v := pending
		hints = append(hints, DiagnosticHint{
			Key:   "absorbing",
			Level: "info",
			Title: "Still absorbing",
			Detail: fmt.Sprintf(
				"About %.0f mg from the last hour's coffee has not entered the bloodstream yet, "+
					"so the level will keep rising for a while.", pending),
			Value: &v,
		})
	}

	// ── Level thresholds ─────────────────────────────────────────────────────
	switch {
	case current > level.ThresholdOverloaded:
		v := current
		mins := minutesUntilBelow(current, level.ThresholdOverloaded)
		hints = append(hints, DiagnosticHint{
			Key:   "overloaded",
			Level: "critical",
			Title: fmt.Sprintf("%.0f mg in system", current),
			Detail: fmt.Sprintf(
				"The level is above %.0f mg. Without more coffee it drops below that in about %s.",
				level.ThresholdOverloaded, formatMinutes(mins)),
			Value: &v,
		})
	case current > level.ThresholdFocused:
		mins := minutesUntilBelow(current, level.ThresholdFocused)
		if mins <= 60 {
			v := float64(mins)
			hints = append(hints, DiagnosticHint{
				Key:   "fading_soon",
				Level: "warning",
				Title: "Fading soon",
				Detail: fmt.Sprintf(
					"The level drops below %.0f mg in about %s.", level.ThresholdFocused, formatMinutes(mins)),
				Value: &v,
			})
		}
	}

	// ── Peak earlier in the reporting window ─────────────────────────────────
	if peak := res.Report.Peak(); peak > current && peak > level.ThresholdOverloaded {
		v := peak
		hints = append(hints, DiagnosticHint{
			Key:    "recent_peak",
			Level:  "info",
			Title:  fmt.Sprintf("Peaked at %.0f mg", peak),
			Detail: "The level was above the overload threshold during the last 24 hours.",
			Value:  &v,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return hintRank[hints[i].Level] < hintRank[hints[j].Level]
	})
	return hints
}

// minutesUntilBelow returns how many minutes of pure decay take mg to or
// below threshold.
func minutesUntilBelow(mg, threshold float64) int {
	if mg <= threshold || threshold <= 0 {
		return 0
	}
	return int(math.Ceil(math.Log(threshold/mg) / math.Log(level.DecayRate)))
}

func formatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}
