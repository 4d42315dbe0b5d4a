package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	alertrepo "github.com/tradepulse/alertd/internal/alert/repository"
	alertsvc "github.com/tradepulse/alertd/internal/alert/service"
	"github.com/tradepulse/alertd/internal/clock"
	"github.com/tradepulse/alertd/internal/condition"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	templaterepo "github.com/tradepulse/alertd/internal/template/repository"
	"github.com/tradepulse/alertd/internal/userctx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type quotaStub struct{}

func (quotaStub) MaxAlerts(ctx context.Context, userID snowflake.ID) (int, error) {
	return 10, nil
}

func newTestService(t *testing.T) (templatedomain.Service, *gorm.DB, *snowflake.Node, context.Context) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&alertdomain.Alert{},
		&alertdomain.AlertHistory{},
		&alertdomain.DeliveryProfile{},
		&templatedomain.AlertTemplate{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	alerts := alertsvc.NewService(alertsvc.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  alertrepo.Provide(),
		Quota: quotaStub{},
	})
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     templaterepo.Provide(),
		Alertsvc: alerts,
	})

	userID := node.Generate()
	return svc, db, node, userctx.WithUserID(context.Background(), int64(userID))
}

func seedTemplate(t *testing.T, db *gorm.DB, node *snowflake.Node) *templatedomain.AlertTemplate {
	t.Helper()
	template := &templatedomain.AlertTemplate{
		ID:              node.Generate(),
		Slug:            "daily-loss-limit",
		Name:            "Daily loss limit",
		Description:     "Fires when daily PnL drops below a loss threshold.",
		Category:        "risk",
		AlertType:       alertdomain.AlertTypeDailyPnL,
		Conditions:      datatypes.JSON(`[{"field":"daily_pnl","operator":"lt","value":-500}]`),
		Channels:        datatypes.JSON(`["email","in_app"]`),
		Priority:        alertdomain.PriorityHigh,
		CooldownMinutes: 60,
	}
	require.NoError(t, db.Create(template).Error)
	return template
}

func TestListTemplatesFiltersByCategory(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	seedTemplate(t, db, node)
	breakout := &templatedomain.AlertTemplate{
		ID:              node.Generate(),
		Slug:            "price-breakout",
		Name:            "Price breakout",
		Category:        "price",
		AlertType:       alertdomain.AlertTypePriceAbove,
		Conditions:      datatypes.JSON(`[{"field":"current_price","operator":"gt","value":100}]`),
		Channels:        datatypes.JSON(`["in_app"]`),
		Priority:        alertdomain.PriorityMedium,
		CooldownMinutes: 15,
	}
	require.NoError(t, db.Create(breakout).Error)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	risk, err := svc.List(ctx, "risk")
	require.NoError(t, err)
	require.Len(t, risk, 1)
	assert.Equal(t, "daily-loss-limit", risk[0].Slug)
	assert.Equal(t, "risk", risk[0].Category)

	none, err := svc.List(ctx, "no-such-category")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetTemplate(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	seedTemplate(t, db, node)

	resp, err := svc.Get(ctx, "daily-loss-limit")
	require.NoError(t, err)
	assert.Equal(t, "Daily loss limit", resp.Name)
	assert.Equal(t, "risk", resp.Category)
	require.Len(t, resp.Conditions, 1)
	assert.Equal(t, "daily_pnl", resp.Conditions[0].Field)
	assert.Equal(t, -500.0, resp.Conditions[0].Value.Num)

	_, err = svc.Get(ctx, "no-such-template")
	assert.ErrorIs(t, err, templatedomain.ErrTemplateNotFound)
}

func TestMaterializeDefaults(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	seedTemplate(t, db, node)

	resp, err := svc.Materialize(ctx, templatedomain.MaterializeRequest{Slug: "daily-loss-limit"})
	require.NoError(t, err)

	assert.Equal(t, "Daily loss limit", resp.Name)
	assert.Equal(t, alertdomain.AlertTypeDailyPnL, resp.AlertType)
	assert.Equal(t, alertdomain.PriorityHigh, resp.Priority)
	assert.Equal(t, 60, resp.CooldownMinutes)
	assert.Equal(t, alertdomain.AlertStatusActive, resp.Status)
	assert.ElementsMatch(t, []alertdomain.Channel{alertdomain.ChannelEmail, alertdomain.ChannelInApp}, resp.Channels)
	require.Len(t, resp.Conditions, 1)
	assert.Equal(t, -500.0, resp.Conditions[0].Value.Num)
}

func TestMaterializeOverrides(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	seedTemplate(t, db, node)

	name := "my loss limit"
	resp, err := svc.Materialize(ctx, templatedomain.MaterializeRequest{
		Slug:     "daily-loss-limit",
		Name:     &name,
		Symbols:  []string{"BTCUSD"},
		Channels: []alertdomain.Channel{alertdomain.ChannelSMS},
		Overrides: map[string]json.RawMessage{
			"daily_pnl": json.RawMessage(`-1000`),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "my loss limit", resp.Name)
	assert.Equal(t, []string{"BTCUSD"}, resp.Symbols)
	assert.Equal(t, []alertdomain.Channel{alertdomain.ChannelSMS}, resp.Channels)
	require.Len(t, resp.Conditions, 1)
	assert.Equal(t, condition.OpLt, resp.Conditions[0].Operator)
	assert.Equal(t, -1000.0, resp.Conditions[0].Value.Num)
}

func TestMaterializeRejectsUnmatchedOverride(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	seedTemplate(t, db, node)

	_, err := svc.Materialize(ctx, templatedomain.MaterializeRequest{
		Slug: "daily-loss-limit",
		Overrides: map[string]json.RawMessage{
			"win_rate": json.RawMessage(`40`),
		},
	})
	assert.ErrorIs(t, err, templatedomain.ErrInvalidOverride)
}

func TestMaterializeRejectsMistypedOverride(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	seedTemplate(t, db, node)

	_, err := svc.Materialize(ctx, templatedomain.MaterializeRequest{
		Slug: "daily-loss-limit",
		Overrides: map[string]json.RawMessage{
			"daily_pnl": json.RawMessage(`"a lot"`),
		},
	})
	assert.ErrorIs(t, err, templatedomain.ErrInvalidOverride)
}

func TestMaterializedAlertIsDetachedCopy(t *testing.T) {
	svc, db, node, ctx := newTestService(t)
	template := seedTemplate(t, db, node)

	resp, err := svc.Materialize(ctx, templatedomain.MaterializeRequest{Slug: "daily-loss-limit"})
	require.NoError(t, err)

	// Editing the template afterwards does not touch the alert.
	require.NoError(t, db.Model(template).Update("cooldown_minutes", 999).Error)

	var alert alertdomain.Alert
	require.NoError(t, db.Where("id = ?", resp.ID).First(&alert).Error)
	assert.Equal(t, 60, alert.CooldownMinutes)
}
