// Package lifecycle owns the alert state machine. All trigger throttling
// (cooldown, daily cap, expiry) is enforced here through single conditional
// updates so concurrent evaluators cannot double-fire one alert.
package lifecycle

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	obsmetrics "github.com/tradepulse/alertd/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome is the classified result of one trigger attempt.
type Outcome string

const (
	OutcomeFired      Outcome = "FIRED"
	OutcomeSuppressed Outcome = "SUPPRESSED"
	OutcomeRejected   Outcome = "REJECTED"
)

// Suppression and rejection reasons recorded on the decision.
const (
	ReasonCooldown   = "cooldown_active"
	ReasonDailyCap   = "daily_cap_reached"
	ReasonConcurrent = "concurrent_fire"
	ReasonStatus     = "status_ineligible"
	ReasonExpired    = "alert_expired"
	ReasonNotFound   = "alert_not_found"
)

// Decision reports what the state machine did with a matched alert.
// Exactly one evaluator obtains a FIRED decision per episode.
type Decision struct {
	Outcome Outcome
	Reason  string

	// FiredAt and TriggersToday are set only on a FIRED decision.
	FiredAt       time.Time
	TriggersToday int
}

func (d Decision) Fired() bool { return d.Outcome == OutcomeFired }

type Manager struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewManager(db *gorm.DB, log *zap.Logger, metrics *obsmetrics.Metrics) *Manager {
	return &Manager{
		db:      db,
		log:     log.Named("lifecycle"),
		metrics: metrics,
	}
}

// TryTrigger attempts to move a matched alert into TRIGGERED and claim the
// episode. The guard and counter bump happen in one UPDATE; a zero row
// count is re-read and classified rather than treated as an error, so the
// caller always learns why nothing fired.
func (m *Manager) TryTrigger(ctx context.Context, alert *alertdomain.Alert, now time.Time) (Decision, error) {
	now = now.UTC()
	today := dayKey(now)
	cooldownEdge := now.Add(-time.Duration(alert.CooldownMinutes) * time.Minute)

	res := m.db.WithContext(ctx).Exec(
		`UPDATE alerts
		 SET status = ?,
		     last_triggered_at = ?,
		     trigger_count = trigger_count + 1,
		     triggers_today = CASE WHEN trigger_day = ? THEN triggers_today + 1 ELSE 1 END,
		     trigger_day = ?,
		     updated_at = ?
		 WHERE id = ?
		   AND deleted_at IS NULL
		   AND status IN (?, ?)
		   AND (last_triggered_at IS NULL OR last_triggered_at <= ?)
		   AND (max_triggers_per_day IS NULL OR trigger_day IS NULL OR trigger_day <> ? OR triggers_today < max_triggers_per_day)
		   AND (expires_at IS NULL OR expires_at > ?)`,
		alertdomain.AlertStatusTriggered,
		now,
		today,
		today,
		now,
		alert.ID,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
		cooldownEdge,
		today,
		now,
	)
	if res.Error != nil {
		return Decision{}, res.Error
	}

	if res.RowsAffected > 0 {
		fresh, err := m.readState(ctx, alert.ID)
		if err != nil {
			return Decision{}, err
		}
		decision := Decision{
			Outcome: OutcomeFired,
			FiredAt: now,
		}
		if fresh != nil {
			decision.TriggersToday = fresh.TriggersToday
		}
		obsmetrics.Scheduler().IncAlertTransition(string(alertdomain.AlertStatusActive), obsmetrics.AlertTransitionFired)
		if m.metrics != nil {
			m.metrics.RecordFire(ctx, string(alert.AlertType))
		}
		m.log.Info("alert fired",
			zap.String("alert_id", alert.ID.String()),
			zap.String("user_id", alert.UserID.String()),
			zap.Int("triggers_today", decision.TriggersToday),
		)
		return decision, nil
	}

	decision, err := m.classify(ctx, alert, now, cooldownEdge)
	if err != nil {
		return Decision{}, err
	}
	if m.metrics != nil {
		switch decision.Outcome {
		case OutcomeSuppressed:
			m.metrics.RecordSuppressed(ctx, string(alert.AlertType), decision.Reason)
		case OutcomeRejected:
			m.metrics.RecordRejected(ctx, string(alert.AlertType), decision.Reason)
		}
	}
	return decision, nil
}

// classify re-reads the row after a lost guard and names the losing
// condition. The read races with other writers, so the freshest state wins.
func (m *Manager) classify(ctx context.Context, alert *alertdomain.Alert, now time.Time, cooldownEdge time.Time) (Decision, error) {
	fresh, err := m.readState(ctx, alert.ID)
	if err != nil {
		return Decision{}, err
	}
	if fresh == nil || fresh.DeletedAt != nil {
		return Decision{Outcome: OutcomeRejected, Reason: ReasonNotFound}, nil
	}

	switch fresh.Status {
	case alertdomain.AlertStatusActive, alertdomain.AlertStatusTriggered:
	default:
		return Decision{Outcome: OutcomeRejected, Reason: ReasonStatus}, nil
	}

	if fresh.ExpiresAt != nil && !fresh.ExpiresAt.After(now) {
		// Opportunistic cleanup so the sweep job has less to do.
		if _, err := m.MarkExpired(ctx, alert.ID, now); err != nil {
			m.log.Warn("expire on classify failed",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err),
			)
		}
		return Decision{Outcome: OutcomeRejected, Reason: ReasonExpired}, nil
	}

	if fresh.LastTriggeredAt != nil && fresh.LastTriggeredAt.After(cooldownEdge) {
		return Decision{Outcome: OutcomeSuppressed, Reason: ReasonCooldown}, nil
	}

	if fresh.MaxTriggersPerDay != nil && fresh.TriggerDay != nil &&
		*fresh.TriggerDay == dayKey(now) && fresh.TriggersToday >= *fresh.MaxTriggersPerDay {
		return Decision{Outcome: OutcomeSuppressed, Reason: ReasonDailyCap}, nil
	}

	return Decision{Outcome: OutcomeSuppressed, Reason: ReasonConcurrent}, nil
}

// MarkExpired transitions a past-expiry alert into EXPIRED. Safe to call
// repeatedly; only the first caller flips the row.
func (m *Manager) MarkExpired(ctx context.Context, alertID snowflake.ID, now time.Time) (bool, error) {
	now = now.UTC()
	res := m.db.WithContext(ctx).Exec(
		`UPDATE alerts
		 SET status = ?, updated_at = ?
		 WHERE id = ?
		   AND deleted_at IS NULL
		   AND status IN (?, ?, ?)
		   AND expires_at IS NOT NULL
		   AND expires_at <= ?`,
		alertdomain.AlertStatusExpired,
		now,
		alertID,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
		alertdomain.AlertStatusSnoozed,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	expired := res.RowsAffected > 0
	if expired {
		obsmetrics.Scheduler().IncAlertTransition(string(alertdomain.AlertStatusActive), obsmetrics.AlertTransitionExpired)
		m.log.Info("alert expired", zap.String("alert_id", alertID.String()))
	}
	return expired, nil
}

// Reactivate returns a TRIGGERED alert to ACTIVE once its cooldown has
// elapsed. Purely cosmetic for listings; eligibility for the next fire is
// already decided by the trigger guard.
func (m *Manager) Reactivate(ctx context.Context, alert *alertdomain.Alert, now time.Time) (bool, error) {
	now = now.UTC()
	cooldownEdge := now.Add(-time.Duration(alert.CooldownMinutes) * time.Minute)

	res := m.db.WithContext(ctx).Exec(
		`UPDATE alerts
		 SET status = ?, updated_at = ?
		 WHERE id = ?
		   AND deleted_at IS NULL
		   AND status = ?
		   AND last_triggered_at IS NOT NULL
		   AND last_triggered_at <= ?`,
		alertdomain.AlertStatusActive,
		now,
		alert.ID,
		alertdomain.AlertStatusTriggered,
		cooldownEdge,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// WakeSnoozed returns SNOOZED alerts whose snooze window has passed to
// ACTIVE. Used by the sweep job.
func (m *Manager) WakeSnoozed(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	res := m.db.WithContext(ctx).Exec(
		`UPDATE alerts
		 SET status = ?, snoozed_until = NULL, updated_at = ?
		 WHERE deleted_at IS NULL
		   AND status = ?
		   AND snoozed_until IS NOT NULL
		   AND snoozed_until <= ?`,
		alertdomain.AlertStatusActive,
		now,
		alertdomain.AlertStatusSnoozed,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

type alertState struct {
	ID                snowflake.ID
	Status            alertdomain.AlertStatus
	LastTriggeredAt   *time.Time
	MaxTriggersPerDay *int
	TriggerDay        *string
	TriggersToday     int
	ExpiresAt         *time.Time
	DeletedAt         *time.Time
}

func (m *Manager) readState(ctx context.Context, alertID snowflake.ID) (*alertState, error) {
	var state alertState
	err := m.db.WithContext(ctx).Raw(
		`SELECT id, status, last_triggered_at, max_triggers_per_day, trigger_day,
		 triggers_today, expires_at, deleted_at
		 FROM alerts WHERE id = ?`,
		alertID,
	).Scan(&state).Error
	if err != nil {
		return nil, err
	}
	if state.ID == 0 {
		return nil, nil
	}
	return &state, nil
}

// dayKey is the UTC calendar day used for daily cap accounting.
func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
