// Package level estimates blood-caffeine levels from a list of doses.
//
// The computation is a four-stage pipeline, one file per stage:
//
//	normalize.go  sort doses and convert timestamps to minute offsets
//	profile.go    spread each dose linearly over a 60 minute absorption window
//	simulate.go   walk minute by minute applying decay (5h half-life) plus growth
//	resample.go   sample the minute series hourly into a fixed 25-point report
//
// engine.go ties the stages together. Compute and Trace accept an explicit
// reference time so results are deterministic: identical doses and identical
// now always produce bit-identical output. Nothing in this package reads the
// wall clock, performs I/O or keeps state between calls.
//
// status.go maps a level in mg to a named status used by the API and alerts.
package level
