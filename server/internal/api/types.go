package api

import "github.com/caffeinestack/caffeinestack/server/internal/alerts"

// UserCreated is the payload for PUT /user/request.
type UserCreated struct {
	UserID uint `json:"user_id"`
}

// TokenResponse is the payload for POST /user/login.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"` // RFC3339
}

// MachineCreated is the payload for POST /machine.
type MachineCreated struct {
	CoffeeMachineID uint `json:"coffee_machine_id"`
}

// MachineResponse is one machine in GET /machine or PUT /machine/{id}.
type MachineResponse struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Caffeine int    `json:"caffeine"`
}

// PurchaseCreated is the payload for GET|PUT /coffee/buy/{user_id}/{machine_id}.
type PurchaseCreated struct {
	CoffeePurchaseID uint `json:"coffee_purchase_id"`
}

// PurchaseResponse is one entry in the GET /stats/coffee* lists.
type PurchaseResponse struct {
	UserID    uint   `json:"user_id"`
	MachineID uint   `json:"machine_id"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// LevelDetail is the payload for GET /stats/level/user/{id}/detail and the
// data of every WebSocket level event.
type LevelDetail struct {
	UserID      uint             `json:"user_id"`
	Levels      []float64        `json:"levels"`
	CurrentMg   float64          `json:"current_mg"`
	PeakMg      float64          `json:"peak_mg"`
	MeanMg      float64          `json:"mean_mg"`
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	Hints       []DiagnosticHint `json:"hints"`
	GeneratedAt string           `json:"generated_at"` // RFC3339, the reference "now"
}

// AlertsResponse is the payload for GET /alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// errorResponse is the JSON error body used by every endpoint.
type errorResponse struct {
	Code int    `json:"error_code"`
	Text string `json:"error_text"`
}
