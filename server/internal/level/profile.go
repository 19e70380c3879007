package level

import "github.com/caffeinestack/caffeinestack/pkg/types"

// AbsorptionMinutes is the window over which a dose is absorbed. Each dose
// contributes 1/AbsorptionMinutes of its amount to every minute of the window.
const AbsorptionMinutes = 60

// GrowthProfile holds the additive caffeine contribution (mg) for each
// minute offset since the first dose. Offsets outside the backing slice
// read as zero.
type GrowthProfile []float64

// At returns the contribution at minute offset i, or 0 if i is not covered.
func (p GrowthProfile) At(i int) float64 {
	if i < 0 || i >= len(p) {
		return 0
	}
	return p[i]
}

// Total returns the sum of all contributions.
func (p GrowthProfile) Total() float64 {
	var sum float64
	for _, v := range p {
		sum += v
	}
	return sum
}

// BuildGrowthProfile spreads every dose over AbsorptionMinutes consecutive
// slots starting at its offset. Overlapping doses accumulate.
//
// sorted and offsets are the outputs of Normalize and must have equal length.
func BuildGrowthProfile(sorted []types.Dose, offsets []int) GrowthProfile {
	if len(sorted) == 0 {
		return nil
	}

	// Offsets are non-decreasing, so the last one bounds the profile.
	size := offsets[len(offsets)-1] + AbsorptionMinutes
	profile := make(GrowthProfile, size)

	for i, d := range sorted {
		perMinute := d.AmountMg / AbsorptionMinutes
		start := offsets[i]
		for t := start; t < start+AbsorptionMinutes; t++ {
			profile[t] += perMinute
		}
	}
	return profile
}
