package level

import "math"

// HalfLifeMinutes is the time for the level to halve when nothing new is
// absorbed.
const HalfLifeMinutes = 300

// DecayRate is the fraction of the level retained from one minute to the
// next: 0.5^(1/HalfLifeMinutes).
var DecayRate = math.Pow(0.5, 1.0/HalfLifeMinutes)

// Simulate produces one level value per minute for minutes 0 … minutes-1.
//
// Value i is the level entering minute i: it is recorded before minute i's
// decay and growth are applied, so it reflects everything up to minute i-1.
// Existing clients depend on this alignment.
//
// A non-positive minutes returns an empty (nil) series.
func Simulate(profile GrowthProfile, minutes int) []float64 {
	if minutes <= 0 {
		return nil
	}

	series := make([]float64, 0, minutes)
	var acc float64
	for i := 0; i < minutes; i++ {
		series = append(series, acc)
		acc = acc*DecayRate + profile.At(i)
	}
	return series
}
