// Package api implements the HTTP REST API for caffeinestack-server.
//
// New(opts) returns an http.Handler that serves:
//
//	PUT  /user/request                         register a user
//	POST /user/login                           issue a JWT (jwt auth mode only)
//	POST /machine, GET /machine                register / list coffee machines
//	PUT  /machine/{id}                         re-tune a machine
//	GET  /coffee/buy/{user_id}/{machine_id}    purchase now
//	PUT  /coffee/buy/{user_id}/{machine_id}    purchase at {"timestamp": ...}
//	GET  /stats/coffee[/machine/{id}|/user/{id}]
//	GET  /stats/level/user/{id}                25 hourly caffeine levels (mg)
//	GET  /stats/level/user/{id}/detail         levels, status and hints
//	GET  /stats/level/user/{id}/plot.png       minute-resolution chart
//	GET  /alerts, /metrics, /health
//
// Errors are JSON bodies of the form {"error_code": N, "error_text": "..."}.
// No external HTTP framework is used.
package api
