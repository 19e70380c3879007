// Package stream pushes live caffeine levels to WebSocket clients.
//
// Clients connect to /ws/level?user_id=N and receive the level detail for
// that user immediately and then on every tick of the hub's interval:
//
//	{"event": "level", "user_id": N, "data": {...}}
//
// Each subscribed user's level is computed once per tick regardless of how
// many clients follow it.
package stream
