package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caffeinestack/caffeinestack/pkg/types"
	"github.com/caffeinestack/caffeinestack/server/internal/config"
	"github.com/caffeinestack/caffeinestack/server/internal/level"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	UserID     uint       `json:"user_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Snapshot is the per-user input to rule evaluation.
type Snapshot struct {
	UserID   uint
	Report   level.Report
	Status   level.Status
	Doses24h int
}

// NewSnapshot builds a Snapshot from a report and the doses it was computed
// from. Doses24h counts doses in the 24 hours up to and including now.
func NewSnapshot(userID uint, report level.Report, doses []types.Dose, now time.Time) Snapshot {
	cutoff := now.Add(-24 * time.Hour)
	n := 0
	for _, d := range doses {
		if d.OccurredAt.After(cutoff) && !d.OccurredAt.After(now) {
			n++
		}
	}
	return Snapshot{
		UserID:   userID,
		Report:   report,
		Status:   level.Classify(report.Current()),
		Doses24h: n,
	}
}

// Engine evaluates alert rules against user snapshots and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:userID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
}

// New creates an Engine from the server alert configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// SetConfig swaps rules and webhooks, typically after a config reload.
// Firing alerts for rules that no longer exist are dropped.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = cfg.Rules
	e.webhooks = cfg.Webhooks

	names := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		names[r.Name] = true
	}
	for key, a := range e.active {
		if !names[a.RuleName] {
			delete(e.active, key)
		}
	}
}

// Evaluate tests all configured rules against snap.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(snap Snapshot) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		key := fmt.Sprintf("%s:%d", rule.Name, snap.UserID)
		fires, value := evalCondition(rule.Condition, snap)

		if fires {
			e.fire(rule, key, snap.UserID, value, now)
		} else {
			e.resolve(rule, key, now)
		}
	}
}

func (e *Engine) fire(rule config.AlertRule, key string, userID uint, value float64, now time.Time) {
	e.mu.Lock()
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if now.Sub(e.lastFire[key]) <= cooldown {
		e.mu.Unlock()
		return
	}

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: rule.Name,
		UserID:   userID,
		Severity: sev,
		Value:    value,
		Message: fmt.Sprintf("[%s] %s fired for user %d: %s (%.2f)",
			sev, rule.Name, userID, rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	if prev, ok := e.active[key]; ok {
		e.archive(prev, now)
	}
	e.active[key] = a
	e.lastFire[key] = now
	alertCopy := *a
	webhooks := e.webhooks
	e.mu.Unlock()

	slog.Warn("alerts: fired",
		"rule", rule.Name,
		"user_id", userID,
		"value", value,
		"severity", sev,
	)
	go e.deliver(webhooks, &alertCopy)
}

func (e *Engine) resolve(rule config.AlertRule, key string, now time.Time) {
	e.mu.Lock()
	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, key)
	e.archive(a, now)
	alertCopy := *a
	webhooks := e.webhooks
	e.mu.Unlock()

	slog.Info("alerts: resolved", "rule", rule.Name, "user_id", a.UserID)
	go e.deliver(webhooks, &alertCopy)
}

// archive marks a resolved at now and appends it to the bounded history.
// The caller holds e.mu.
func (e *Engine) archive(a *Alert, now time.Time) {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}

// FiringUsers returns the distinct ids of users with a firing alert, in
// ascending order.
func (e *Engine) FiringUsers() []uint {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[uint]bool, len(e.active))
	out := make([]uint, 0, len(e.active))
	for _, a := range e.active {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			out = append(out, a.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
