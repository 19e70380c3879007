// Package metrics keeps in-process counters and gauges for the server and
// renders them in the Prometheus text exposition format.
//
// Families are built directly as client_model DTOs and encoded with expfmt,
// the same types the Prometheus server parses on scrape.
package metrics
