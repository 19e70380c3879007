package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caffeinestack/caffeinestack/pkg/types"
	"github.com/caffeinestack/caffeinestack/server/internal/alerts"
	"github.com/caffeinestack/caffeinestack/server/internal/level"
	"github.com/caffeinestack/caffeinestack/server/internal/metrics"
	"github.com/caffeinestack/caffeinestack/server/internal/store"
)

const (
	// maxHistory caps how far back Trace reads doses, which bounds the
	// simulated span. A dose this old contributes less than 1e-40 mg.
	maxHistory = 30 * 24 * time.Hour

	// alertLookback selects users for the periodic alert sweep: anyone with
	// a purchase this recent, plus everyone with a firing alert.
	alertLookback = 48 * time.Hour
)

// Levels loads a user's doses and runs the level engine over them. It is
// shared by the REST handlers and the WebSocket hub.
type Levels struct {
	store   *store.Store
	window  time.Duration
	alerts  *alerts.Engine
	metrics *metrics.Registry
}

// NewLevels returns a Levels backed by st. window bounds the dose history;
// zero, or anything longer than 30 days, reads the last 30 days. ae and mr
// may be nil.
func NewLevels(st *store.Store, window time.Duration, ae *alerts.Engine, mr *metrics.Registry) *Levels {
	return &Levels{store: st, window: window, alerts: ae, metrics: mr}
}

// Trace computes the full engine result for userID at now, along with the
// doses it was computed from. It returns store.ErrUserNotFound for unknown
// users.
func (l *Levels) Trace(ctx context.Context, userID uint, now time.Time) (level.Result, []types.Dose, error) {
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return level.Result{}, nil, err
	}

	window := l.window
	if window <= 0 || window > maxHistory {
		window = maxHistory
	}
	since := now.Add(-window)
	doses, err := l.store.Doses(ctx, userID, since)
	if err != nil {
		return level.Result{}, nil, fmt.Errorf("api: load doses: %w", err)
	}

	res := level.Trace(doses, now)
	if l.metrics != nil {
		l.metrics.IncComputations()
	}
	return res, doses, nil
}

// Detail computes the level detail payload for userID at now.
func (l *Levels) Detail(ctx context.Context, userID uint, now time.Time) (*LevelDetail, error) {
	res, doses, err := l.Trace(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return newLevelDetail(userID, res, doses, now), nil
}

// Evaluate recomputes userID's report at now and runs the alert rules on it.
// It is a no-op without an alert engine.
func (l *Levels) Evaluate(ctx context.Context, userID uint, now time.Time) error {
	if l.alerts == nil {
		return nil
	}
	res, doses, err := l.Trace(ctx, userID, now)
	if err != nil {
		return err
	}
	l.alerts.Evaluate(alerts.NewSnapshot(userID, res.Report, doses, now))
	return nil
}

// EvaluateAll runs the alert rules at now for every user with a recent
// purchase or a firing alert. Failures for one user are logged and do not
// stop the sweep.
func (l *Levels) EvaluateAll(ctx context.Context, now time.Time) error {
	if l.alerts == nil {
		return nil
	}
	recent, err := l.store.RecentUsers(ctx, now.Add(-alertLookback))
	if err != nil {
		return err
	}

	users := make(map[uint]bool, len(recent))
	ids := append([]uint(nil), recent...)
	for _, id := range recent {
		users[id] = true
	}
	for _, id := range l.alerts.FiringUsers() {
		if !users[id] {
			users[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		if err := l.Evaluate(ctx, id, now); err != nil {
			slog.Warn("api: alert sweep", "user_id", id, "err", err)
		}
	}
	return nil
}

// Run re-evaluates alert rules every interval until ctx is cancelled, so
// alerts fire as doses absorb and resolve as they decay.
func (l *Levels) Run(ctx context.Context, interval time.Duration, clock func() time.Time) {
	if l.alerts == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.EvaluateAll(ctx, clock()); err != nil {
				slog.Error("api: alert sweep failed", "err", err)
			}
		}
	}
}

func newLevelDetail(userID uint, res level.Result, doses []types.Dose, now time.Time) *LevelDetail {
	status := level.Classify(res.Report.Current())
	return &LevelDetail{
		UserID:      userID,
		Levels:      res.Report.Slice(),
		CurrentMg:   res.Report.Current(),
		PeakMg:      res.Report.Peak(),
		MeanMg:      res.Report.Mean(),
		Status:      status.Name,
		Message:     status.Message,
		Hints:       computeDiagnostics(res, doses, now),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}
