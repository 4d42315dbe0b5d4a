// Package scheduler drives periodic alert evaluation and state sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/clock"
	"github.com/tradepulse/alertd/internal/condition"
	"github.com/tradepulse/alertd/internal/dispatch"
	"github.com/tradepulse/alertd/internal/lifecycle"
	"github.com/tradepulse/alertd/internal/marketdata"
	obsmetrics "github.com/tradepulse/alertd/internal/observability/metrics"
	"github.com/tradepulse/alertd/internal/quota"
	"github.com/tradepulse/alertd/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler requires db, logger, clock, lifecycle, dispatcher and source")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Lifecycle  *lifecycle.Manager
	Dispatcher *dispatch.Dispatcher
	Source     marketdata.Source
	Quota      quota.Resolver        `optional:"true"`
	Metrics    *obsmetrics.Metrics   `optional:"true"`
	Limiter    *ratelimit.APILimiter `optional:"true"`
	Config     Config                `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	lifecycle  *lifecycle.Manager
	dispatcher *dispatch.Dispatcher
	source     marketdata.Source
	quota      quota.Resolver
	metrics    *obsmetrics.Metrics
	limiter    *ratelimit.APILimiter

	metricEvents chan snowflake.ID
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Lifecycle == nil || p.Dispatcher == nil || p.Source == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		clock:        p.Clock,
		lifecycle:    p.Lifecycle,
		dispatcher:   p.Dispatcher,
		source:       p.Source,
		quota:        p.Quota,
		metrics:      p.Metrics,
		limiter:      p.Limiter,
		metricEvents: make(chan snowflake.ID, cfg.MetricQueueSize),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	token, owner, err := s.limiter.TryJobLock(ctx, name)
	if err != nil {
		s.log.Warn("job lock unavailable, running anyway",
			zap.String("job", name),
			zap.Error(err),
		)
		owner = true
		token = ""
	}
	if !owner {
		return nil
	}
	if token != "" {
		defer func() {
			if err := s.limiter.ReleaseJobLock(context.WithoutCancel(ctx), name, token); err != nil {
				s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the next tick picks up the remainder.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"evaluate_due", s.isJobEnabled("evaluate_due"), func(ctx context.Context) error {
			return s.runJob(ctx, "evaluate_due", s.cfg.EvalTimeout, s.EvaluateDueJob)
		}},
		{"expire_alerts", s.isJobEnabled("expire_alerts"), func(ctx context.Context) error {
			return s.runJob(ctx, "expire_alerts", s.cfg.SweepTimeout, s.ExpireAlertsJob)
		}},
		{"wake_snoozed", s.isJobEnabled("wake_snoozed"), func(ctx context.Context) error {
			return s.runJob(ctx, "wake_snoozed", s.cfg.SweepTimeout, s.WakeSnoozedJob)
		}},
		{"reactivate_cooled", s.isJobEnabled("reactivate_cooled"), func(ctx context.Context) error {
			return s.runJob(ctx, "reactivate_cooled", s.cfg.SweepTimeout, s.ReactivateCooledJob)
		}},
		{"quota_sweep", s.isJobEnabled("quota_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "quota_sweep", s.cfg.SweepTimeout, s.QuotaSweepJob)
		}},
		{"escalation_sweep", s.isJobEnabled("escalation_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "escalation_sweep", s.cfg.SweepTimeout, s.EscalationSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case userID := <-s.metricEvents:
			s.drainMetricEvents(ctx, userID)
		case <-ticker.C:
		}
	}
}

// NotifyMetricUpdate requests an out-of-band evaluation for one user, for
// example after a trade fill lands. Drops silently when the queue is full;
// the periodic tick covers the gap.
func (s *Scheduler) NotifyMetricUpdate(userID snowflake.ID) {
	select {
	case s.metricEvents <- userID:
	default:
	}
}

func (s *Scheduler) drainMetricEvents(ctx context.Context, first snowflake.ID) {
	users := map[snowflake.ID]struct{}{first: {}}
	for {
		select {
		case userID := <-s.metricEvents:
			users[userID] = struct{}{}
		default:
			for userID := range users {
				if err := s.runJob(ctx, "evaluate_user", s.cfg.EvalTimeout, func(jctx context.Context) error {
					return s.EvaluateUser(jctx, userID)
				}); err != nil {
					s.log.Warn("metric event evaluation failed",
						zap.String("user_id", userID.String()),
						zap.Error(err),
					)
				}
			}
			return
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EvaluateDueJob walks every eligible alert in id-ordered batches and runs
// the evaluate/fire/dispatch pipeline for each.
func (s *Scheduler) EvaluateDueJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	var jobErr error
	var cursor snowflake.ID

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		alerts, err := s.fetchEligible(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			break
		}
		cursor = alerts[len(alerts)-1].ID

		processed := 0
		for _, alert := range alerts {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			if err := s.evaluateAlert(ctx, alert, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			processed++
		}
		obsmetrics.Scheduler().AddBatchProcessed("evaluate_due", processed)
	}

	return jobErr
}

// EvaluateUser runs the pipeline for one user's eligible alerts.
func (s *Scheduler) EvaluateUser(ctx context.Context, userID snowflake.ID) error {
	now := s.clock.Now().UTC()

	var alerts []*alertdomain.Alert
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, description, alert_type, conditions, symbols, strategies,
		 channels, priority, cooldown_minutes, max_triggers_per_day, webhook_template, expires_at,
		 status, snoozed_until, last_triggered_at, trigger_count, trigger_day, triggers_today,
		 created_at, updated_at, deleted_at
		 FROM alerts
		 WHERE user_id = ? AND deleted_at IS NULL AND status IN (?, ?)
		 ORDER BY id ASC`,
		userID,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
	).Scan(&alerts).Error
	if err != nil {
		return err
	}

	var jobErr error
	for _, alert := range alerts {
		if err := s.evaluateAlert(ctx, alert, now); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

// evaluateAlert fetches snapshots for the alert's scope, evaluates the
// conditions and, on a match, lets the lifecycle manager arbitrate the
// fire. Dispatch happens only on a FIRED decision.
func (s *Scheduler) evaluateAlert(ctx context.Context, alert *alertdomain.Alert, now time.Time) error {
	if alert.ExpiresAt != nil && !alert.ExpiresAt.After(now) {
		_, err := s.lifecycle.MarkExpired(ctx, alert.ID, now)
		return err
	}

	conds, err := alert.DecodeConditions()
	if err != nil {
		s.recordEvalError(ctx, "bad_conditions")
		return fmt.Errorf("alert %s: %w", alert.ID.String(), err)
	}

	symbols, err := alert.DecodeSymbols()
	if err != nil {
		s.recordEvalError(ctx, "bad_symbols")
		return fmt.Errorf("alert %s: %w", alert.ID.String(), err)
	}
	strategies, err := alert.DecodeStrategies()
	if err != nil {
		s.recordEvalError(ctx, "bad_strategies")
		return fmt.Errorf("alert %s: %w", alert.ID.String(), err)
	}
	scopes := symbols
	if len(scopes) == 0 {
		scopes = []string{""}
	}

	for _, symbol := range scopes {
		snapshot, err := s.source.Snapshot(ctx, alert.UserID, symbol)
		if err != nil {
			s.recordEvalError(ctx, "source_unavailable")
			s.log.Warn("snapshot fetch failed",
				zap.String("alert_id", alert.ID.String()),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}
		if !strategyInScope(strategies, snapshot) {
			continue
		}

		matched, operands := condition.Evaluate(conds, snapshot)
		if !matched {
			continue
		}

		decision, err := s.lifecycle.TryTrigger(ctx, alert, now)
		if err != nil {
			return fmt.Errorf("alert %s: %w", alert.ID.String(), err)
		}
		if !decision.Fired() {
			s.log.Debug("fire withheld",
				zap.String("alert_id", alert.ID.String()),
				zap.String("outcome", string(decision.Outcome)),
				zap.String("reason", decision.Reason),
			)
			return nil
		}

		if _, err := s.dispatcher.Dispatch(ctx, alert, decision.FiredAt, operands); err != nil {
			return fmt.Errorf("dispatch %s: %w", alert.ID.String(), err)
		}
		// One episode per evaluation pass even when several symbols match.
		return nil
	}

	// No symbol matched; return a TRIGGERED row to ACTIVE once cooled.
	if alert.Status == alertdomain.AlertStatusTriggered {
		if _, err := s.lifecycle.Reactivate(ctx, alert, now); err != nil {
			return err
		}
	}
	return nil
}

// strategyInScope applies the alert's strategy scope filter. Scoped
// alerts only evaluate snapshots the source attributes to one of the
// named strategies; unattributed snapshots are account-level data and
// fall outside the scope.
func strategyInScope(strategies []string, snapshot condition.Snapshot) bool {
	if len(strategies) == 0 {
		return true
	}
	value, ok := snapshot["strategy"]
	if !ok {
		return false
	}
	for _, strategy := range strategies {
		if value.Str == strategy {
			return true
		}
	}
	return false
}

// ExpireAlertsJob sweeps alerts whose expiry passed. Bulk update; the
// status guard keeps it idempotent across replicas.
func (s *Scheduler) ExpireAlertsJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE alerts
		 SET status = ?, updated_at = ?
		 WHERE deleted_at IS NULL
		   AND status IN (?, ?, ?)
		   AND expires_at IS NOT NULL
		   AND expires_at <= ?`,
		alertdomain.AlertStatusExpired,
		now,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
		alertdomain.AlertStatusSnoozed,
		now,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("expire_alerts", int(res.RowsAffected))
		s.log.Info("alerts expired", zap.Int64("count", res.RowsAffected))
	}
	return nil
}

// WakeSnoozedJob returns alerts whose snooze window has passed to ACTIVE.
func (s *Scheduler) WakeSnoozedJob(ctx context.Context) error {
	woken, err := s.lifecycle.WakeSnoozed(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if woken > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("wake_snoozed", int(woken))
	}
	return nil
}

// ReactivateCooledJob flips TRIGGERED alerts whose cooldown has elapsed
// back to ACTIVE. Cooldown varies per row, so this walks candidates.
func (s *Scheduler) ReactivateCooledJob(ctx context.Context) error {
	now := s.clock.Now().UTC()

	var alerts []*alertdomain.Alert
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, cooldown_minutes, last_triggered_at, status
		 FROM alerts
		 WHERE deleted_at IS NULL AND status = ? AND last_triggered_at IS NOT NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		alertdomain.AlertStatusTriggered,
		s.cfg.BatchSize,
	).Scan(&alerts).Error
	if err != nil {
		return err
	}

	var jobErr error
	processed := 0
	for _, alert := range alerts {
		updated, err := s.lifecycle.Reactivate(ctx, alert, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if updated {
			processed++
		}
	}
	if processed > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("reactivate_cooled", processed)
	}
	return jobErr
}

func (s *Scheduler) fetchEligible(ctx context.Context, cursor snowflake.ID, limit int) ([]*alertdomain.Alert, error) {
	var alerts []*alertdomain.Alert
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, description, alert_type, conditions, symbols, strategies,
		 channels, priority, cooldown_minutes, max_triggers_per_day, webhook_template, expires_at,
		 status, snoozed_until, last_triggered_at, trigger_count, trigger_day, triggers_today,
		 created_at, updated_at, deleted_at
		 FROM alerts
		 WHERE deleted_at IS NULL AND status IN (?, ?) AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		alertdomain.AlertStatusActive,
		alertdomain.AlertStatusTriggered,
		cursor,
		limit,
	).Scan(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *Scheduler) recordEvalError(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.RecordEvaluationError(ctx, reason)
	}
}
