package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&alertdomain.Alert{}))
	return db
}

func newTestManager(t *testing.T) (*Manager, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewManager(db, zap.NewNop(), nil), db, node
}

func seedAlert(t *testing.T, db *gorm.DB, node *snowflake.Node, mutate func(*alertdomain.Alert)) *alertdomain.Alert {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	alert := &alertdomain.Alert{
		ID:              node.Generate(),
		UserID:          node.Generate(),
		Name:            "btc breakout",
		AlertType:       alertdomain.AlertTypePriceAbove,
		Conditions:      datatypes.JSON(`[{"field":"price","operator":"gt","value":50000}]`),
		Channels:        datatypes.JSON(`["in_app"]`),
		Priority:        alertdomain.PriorityMedium,
		CooldownMinutes: 30,
		Status:          alertdomain.AlertStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if mutate != nil {
		mutate(alert)
	}
	require.NoError(t, db.Create(alert).Error)
	return alert
}

func loadAlert(t *testing.T, db *gorm.DB, id snowflake.ID) *alertdomain.Alert {
	t.Helper()
	var alert alertdomain.Alert
	require.NoError(t, db.Where("id = ?", id).First(&alert).Error)
	return &alert
}

func TestTryTriggerFires(t *testing.T) {
	mgr, db, node := newTestManager(t)
	alert := seedAlert(t, db, node, nil)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	decision, err := mgr.TryTrigger(context.Background(), alert, now)
	require.NoError(t, err)
	assert.True(t, decision.Fired())
	assert.Equal(t, 1, decision.TriggersToday)
	assert.Equal(t, now, decision.FiredAt)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, alertdomain.AlertStatusTriggered, fresh.Status)
	assert.Equal(t, int64(1), fresh.TriggerCount)
	require.NotNil(t, fresh.TriggerDay)
	assert.Equal(t, "2026-03-10", *fresh.TriggerDay)
	require.NotNil(t, fresh.LastTriggeredAt)
	assert.Equal(t, now.Unix(), fresh.LastTriggeredAt.Unix())
}

func TestTryTriggerCooldownSuppresses(t *testing.T) {
	mgr, db, node := newTestManager(t)
	alert := seedAlert(t, db, node, nil)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	decision, err := mgr.TryTrigger(context.Background(), alert, now)
	require.NoError(t, err)
	require.True(t, decision.Fired())

	decision, err = mgr.TryTrigger(context.Background(), alert, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, decision.Outcome)
	assert.Equal(t, ReasonCooldown, decision.Reason)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, int64(1), fresh.TriggerCount)
}

func TestTryTriggerFiresAgainAfterCooldown(t *testing.T) {
	mgr, db, node := newTestManager(t)
	alert := seedAlert(t, db, node, nil)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	decision, err := mgr.TryTrigger(context.Background(), alert, now)
	require.NoError(t, err)
	require.True(t, decision.Fired())

	decision, err = mgr.TryTrigger(context.Background(), alert, now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.True(t, decision.Fired())
	assert.Equal(t, 2, decision.TriggersToday)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, int64(2), fresh.TriggerCount)
}

func TestTryTriggerDailyCapAndUTCDayReset(t *testing.T) {
	mgr, db, node := newTestManager(t)
	maxPerDay := 2
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.CooldownMinutes = 0
		a.MaxTriggersPerDay = &maxPerDay
	})
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		decision, err := mgr.TryTrigger(context.Background(), alert, now)
		require.NoError(t, err)
		require.True(t, decision.Fired())
		assert.Equal(t, i, decision.TriggersToday)
	}

	decision, err := mgr.TryTrigger(context.Background(), alert, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, decision.Outcome)
	assert.Equal(t, ReasonDailyCap, decision.Reason)

	// The cap accounts per UTC calendar day, so an hour later it resets.
	decision, err = mgr.TryTrigger(context.Background(), alert, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, decision.Fired())
	assert.Equal(t, 1, decision.TriggersToday)

	fresh := loadAlert(t, db, alert.ID)
	require.NotNil(t, fresh.TriggerDay)
	assert.Equal(t, "2026-03-11", *fresh.TriggerDay)
	assert.Equal(t, 1, fresh.TriggersToday)
	assert.Equal(t, int64(3), fresh.TriggerCount)
}

func TestTryTriggerConcurrentFiresExactlyOnce(t *testing.T) {
	mgr, db, node := newTestManager(t)
	alert := seedAlert(t, db, node, nil)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	const workers = 8
	var wg sync.WaitGroup
	decisions := make([]Decision, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = mgr.TryTrigger(context.Background(), alert, now)
		}(i)
	}
	wg.Wait()

	fired := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if decisions[i].Fired() {
			fired++
		} else {
			assert.Equal(t, OutcomeSuppressed, decisions[i].Outcome)
		}
	}
	assert.Equal(t, 1, fired)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, int64(1), fresh.TriggerCount)
}

func TestTryTriggerRejectsIneligibleStatus(t *testing.T) {
	mgr, db, node := newTestManager(t)
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.Status = alertdomain.AlertStatusDisabled
	})

	decision, err := mgr.TryTrigger(context.Background(), alert, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, decision.Outcome)
	assert.Equal(t, ReasonStatus, decision.Reason)
}

func TestTryTriggerRejectsExpiredAndFlipsStatus(t *testing.T) {
	mgr, db, node := newTestManager(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.ExpiresAt = &past
	})

	decision, err := mgr.TryTrigger(context.Background(), alert, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, decision.Outcome)
	assert.Equal(t, ReasonExpired, decision.Reason)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, alertdomain.AlertStatusExpired, fresh.Status)
}

func TestTryTriggerNotFound(t *testing.T) {
	mgr, _, node := newTestManager(t)
	ghost := &alertdomain.Alert{ID: node.Generate(), UserID: node.Generate()}

	decision, err := mgr.TryTrigger(context.Background(), ghost, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, decision.Outcome)
	assert.Equal(t, ReasonNotFound, decision.Reason)
}

func TestMarkExpiredIdempotent(t *testing.T) {
	mgr, db, node := newTestManager(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.ExpiresAt = &past
	})

	expired, err := mgr.MarkExpired(context.Background(), alert.ID, now)
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = mgr.MarkExpired(context.Background(), alert.ID, now)
	require.NoError(t, err)
	assert.False(t, expired)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, alertdomain.AlertStatusExpired, fresh.Status)
}

func TestMarkExpiredLeavesFutureExpiry(t *testing.T) {
	mgr, db, node := newTestManager(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.ExpiresAt = &future
	})

	expired, err := mgr.MarkExpired(context.Background(), alert.ID, now)
	require.NoError(t, err)
	assert.False(t, expired)

	fresh := loadAlert(t, db, alert.ID)
	assert.Equal(t, alertdomain.AlertStatusActive, fresh.Status)
}

func TestReactivateAfterCooldown(t *testing.T) {
	mgr, db, node := newTestManager(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	last := now.Add(-31 * time.Minute)
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.Status = alertdomain.AlertStatusTriggered
		a.LastTriggeredAt = &last
	})

	updated, err := mgr.Reactivate(context.Background(), alert, now)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, alertdomain.AlertStatusActive, loadAlert(t, db, alert.ID).Status)
}

func TestReactivateHoldsDuringCooldown(t *testing.T) {
	mgr, db, node := newTestManager(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	last := now.Add(-5 * time.Minute)
	alert := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.Status = alertdomain.AlertStatusTriggered
		a.LastTriggeredAt = &last
	})

	updated, err := mgr.Reactivate(context.Background(), alert, now)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, alertdomain.AlertStatusTriggered, loadAlert(t, db, alert.ID).Status)
}

func TestWakeSnoozed(t *testing.T) {
	mgr, db, node := newTestManager(t)
	now := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	pending := now.Add(time.Hour)

	ready := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.Status = alertdomain.AlertStatusSnoozed
		a.SnoozedUntil = &due
	})
	still := seedAlert(t, db, node, func(a *alertdomain.Alert) {
		a.Name = "eth breakout"
		a.Status = alertdomain.AlertStatusSnoozed
		a.SnoozedUntil = &pending
	})

	woken, err := mgr.WakeSnoozed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), woken)

	freshReady := loadAlert(t, db, ready.ID)
	assert.Equal(t, alertdomain.AlertStatusActive, freshReady.Status)
	assert.Nil(t, freshReady.SnoozedUntil)
	assert.Equal(t, alertdomain.AlertStatusSnoozed, loadAlert(t, db, still.ID).Status)
}
