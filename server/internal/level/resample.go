package level

const (
	// ReportLen is the number of hourly samples in a Report.
	ReportLen = 25

	// SampleStepMinutes is the spacing between report samples.
	SampleStepMinutes = 60
)

// Report is the hourly reporting series, oldest first. Index ReportLen-1 is
// the most recent minute; index 0 is roughly 24 hours earlier.
type Report [ReportLen]float64

// Slice returns the report as a slice, e.g. for JSON encoding as an array.
func (r Report) Slice() []float64 {
	out := make([]float64, ReportLen)
	copy(out, r[:])
	return out
}

// Current returns the most recent sample.
func (r Report) Current() float64 { return r[ReportLen-1] }

// Peak returns the largest sample.
func (r Report) Peak() float64 {
	var max float64
	for _, v := range r {
		if v > max {
			max = v
		}
	}
	return max
}

// Mean returns the arithmetic mean of all samples.
func (r Report) Mean() float64 {
	var sum float64
	for _, v := range r {
		sum += v
	}
	return sum / ReportLen
}

// Resample picks every SampleStepMinutes-th value counting back from the
// newest entry of series. Samples that would fall before the start of the
// series are zero; they are not extrapolated from the oldest value.
func Resample(series []float64) Report {
	var out Report
	n := len(series)
	for j := 0; j < ReportLen; j++ {
		back := j * SampleStepMinutes // distance from the newest minute
		if back < n {
			out[ReportLen-1-j] = series[n-1-back]
		}
	}
	return out
}
