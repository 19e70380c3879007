// Package plot renders a minute-resolution caffeine series as a PNG chart.
package plot
