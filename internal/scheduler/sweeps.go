package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	obsmetrics "github.com/tradepulse/alertd/internal/observability/metrics"
	"go.uber.org/zap"
)

// QuotaSweepJob disables the newest alerts of users who slipped over
// their entitlement, for example after a plan downgrade. The API rejects
// over-quota creates up front; this sweep handles caps that shrank
// afterwards.
func (s *Scheduler) QuotaSweepJob(ctx context.Context) error {
	if s.quota == nil {
		return nil
	}

	type userCount struct {
		UserID snowflake.ID
		Total  int
	}
	var counts []userCount
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, COUNT(*) AS total
		 FROM alerts
		 WHERE deleted_at IS NULL AND status IN (?, ?, ?)
		 GROUP BY user_id`,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
		alertdomain.AlertStatusSnoozed,
	).Scan(&counts).Error
	if err != nil {
		return err
	}

	var jobErr error
	disabled := 0
	for _, uc := range counts {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		maxAlerts, err := s.quota.MaxAlerts(ctx, uc.UserID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if maxAlerts <= 0 || uc.Total <= maxAlerts {
			continue
		}

		n, err := s.disableExcessAlerts(ctx, uc.UserID, uc.Total-maxAlerts)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		disabled += n
		s.log.Info("alerts disabled over quota",
			zap.String("user_id", uc.UserID.String()),
			zap.Int("max_alerts", maxAlerts),
			zap.Int("disabled", n),
		)
	}
	if disabled > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("quota_sweep", disabled)
	}
	return jobErr
}

func (s *Scheduler) disableExcessAlerts(ctx context.Context, userID snowflake.ID, excess int) (int, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM alerts
		 WHERE user_id = ? AND deleted_at IS NULL AND status IN (?, ?, ?)
		 ORDER BY id DESC
		 LIMIT ?`,
		userID,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
		alertdomain.AlertStatusSnoozed,
		excess,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Exec(
		`UPDATE alerts SET status = ?, snoozed_until = NULL, updated_at = ? WHERE id IN (?)`,
		alertdomain.AlertStatusDisabled,
		s.clock.Now().UTC(),
		ids,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// EscalationSweepJob surfaces channels that failed on every one of an
// alert's last N episodes. Delivery failures never bubble up through
// dispatch, so this is the operator-facing signal that a channel is
// persistently broken.
func (s *Scheduler) EscalationSweepJob(ctx context.Context) error {
	threshold := s.cfg.EscalationThreshold
	since := s.clock.Now().UTC().Add(-24 * time.Hour)

	var alertIDs []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT alert_id FROM alert_history
		 WHERE error_message IS NOT NULL AND triggered_at >= ?
		 ORDER BY alert_id ASC
		 LIMIT ?`,
		since,
		s.cfg.BatchSize,
	).Scan(&alertIDs).Error
	if err != nil {
		return err
	}

	var jobErr error
	for _, alertID := range alertIDs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		channels, err := s.consecutiveFailures(ctx, alertID, threshold)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		for _, channel := range channels {
			s.log.Warn("channel escalation: persistent delivery failures",
				zap.String("alert_id", alertID.String()),
				zap.String("channel", channel),
				zap.Int("consecutive_failures", threshold),
			)
			if s.metrics != nil {
				s.metrics.RecordChannelEscalation(ctx, channel)
			}
		}
	}
	return jobErr
}

// consecutiveFailures returns the channels whose status is FAILED in every
// one of the alert's last n history rows.
func (s *Scheduler) consecutiveFailures(ctx context.Context, alertID snowflake.ID, n int) ([]string, error) {
	var rows []*alertdomain.AlertHistory
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, alert_id, notification_status, triggered_at
		 FROM alert_history
		 WHERE alert_id = ?
		 ORDER BY triggered_at DESC
		 LIMIT ?`,
		alertID,
		n,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) < n {
		return nil, nil
	}

	failing := map[string]int{}
	for _, row := range rows {
		var statuses map[string]alertdomain.ChannelOutcome
		if err := json.Unmarshal(row.NotificationStatus, &statuses); err != nil {
			return nil, err
		}
		for channel, outcome := range statuses {
			if outcome.Status == alertdomain.DeliveryFailed {
				failing[channel]++
			}
		}
	}

	var escalated []string
	for channel, count := range failing {
		if count == n {
			escalated = append(escalated, channel)
		}
	}
	return escalated, nil
}
