package level

import (
	"sort"
	"time"

	"github.com/caffeinestack/caffeinestack/pkg/types"
)

// Normalize returns a copy of doses sorted by OccurredAt (stable, so doses
// with identical timestamps keep their input order) together with each
// dose's minute offset from the earliest one.
//
// The caller's slice is not modified. An empty input returns nil, nil;
// callers are expected to handle the no-dose case before normalizing.
func Normalize(doses []types.Dose) ([]types.Dose, []int) {
	if len(doses) == 0 {
		return nil, nil
	}

	sorted := make([]types.Dose, len(doses))
	copy(sorted, doses)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	first := sorted[0].OccurredAt
	offsets := make([]int, len(sorted))
	for i, d := range sorted {
		offsets[i] = MinutesBetween(first, d.OccurredAt)
	}
	return sorted, offsets
}

// MinutesBetween returns the number of whole minutes from `from` to `to`,
// rounded towards negative infinity. A negative difference of 30 seconds
// is therefore -1, not 0.
func MinutesBetween(from, to time.Time) int {
	d := to.Sub(from)
	m := int(d / time.Minute)
	if d%time.Minute < 0 {
		m--
	}
	return m
}
