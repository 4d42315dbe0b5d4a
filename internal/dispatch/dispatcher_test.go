package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	alertrepo "github.com/tradepulse/alertd/internal/alert/repository"
	"github.com/tradepulse/alertd/internal/condition"
	"github.com/tradepulse/alertd/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type emailStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *emailStub) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.err
}

type smsStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *smsStub) Send(ctx context.Context, to string, message string) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.err
}

type webhookStub struct {
	mu      sync.Mutex
	calls   int
	payload []byte
	err     error
}

func (p *webhookStub) Post(ctx context.Context, url string, secret string, payload []byte) error {
	p.mu.Lock()
	p.calls++
	p.payload = payload
	p.mu.Unlock()
	return p.err
}

type fixture struct {
	dispatcher *Dispatcher
	db         *gorm.DB
	node       *snowflake.Node
	email      *emailStub
	sms        *smsStub
	webhook    *webhookStub
	hub        *realtime.Hub
}

func newFixture(t *testing.T) *fixture {
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
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		node:    node,
		email:   &emailStub{},
		sms:     &smsStub{},
		webhook: &webhookStub{},
		hub:     realtime.NewHub(),
	}
	f.dispatcher = NewDispatcher(DispatcherParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    alertrepo.Provide(),
		Email:   f.email,
		SMS:     f.sms,
		Webhook: f.webhook,
		Hub:     f.hub,
	})
	return f
}

func (f *fixture) seedProfile(t *testing.T, userID snowflake.ID, email, phone, webhookURL string) {
	t.Helper()
	profile := &alertdomain.DeliveryProfile{UserID: userID}
	if email != "" {
		profile.Email = &email
	}
	if phone != "" {
		profile.PhoneNumber = &phone
	}
	if webhookURL != "" {
		profile.WebhookURL = &webhookURL
	}
	require.NoError(t, f.db.Create(profile).Error)
}

func (f *fixture) newAlert(userID snowflake.ID, channels string) *alertdomain.Alert {
	return &alertdomain.Alert{
		ID:         f.node.Generate(),
		UserID:     userID,
		Name:       "daily loss limit",
		AlertType:  alertdomain.AlertTypeDailyPnL,
		Conditions: datatypes.JSON(`[{"field":"daily_pnl","operator":"lt","value":-500}]`),
		Channels:   datatypes.JSON(channels),
		Priority:   alertdomain.PriorityHigh,
		Status:     alertdomain.AlertStatusTriggered,
	}
}

func historyRows(t *testing.T, db *gorm.DB, alertID snowflake.ID) []alertdomain.AlertHistory {
	t.Helper()
	var rows []alertdomain.AlertHistory
	require.NoError(t, db.Where("alert_id = ?", alertID).Find(&rows).Error)
	return rows
}

func TestDispatchWritesOneHistoryRowPerEpisode(t *testing.T) {
	f := newFixture(t)
	userID := f.node.Generate()
	f.seedProfile(t, userID, "trader@example.com", "+15550100", "")
	alert := f.newAlert(userID, `["email","sms","in_app"]`)
	firedAt := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	entry, err := f.dispatcher.Dispatch(context.Background(), alert, firedAt, []condition.Operand{
		{Field: "daily_pnl", Operator: condition.OpLt, Expected: -500.0, Actual: -620.0, Match: true},
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.EpisodeID)
	assert.Nil(t, entry.ErrorMessage)

	rows := historyRows(t, f.db, alert.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, entry.EpisodeID, rows[0].EpisodeID)

	var outcomes map[string]alertdomain.ChannelOutcome
	require.NoError(t, json.Unmarshal(rows[0].NotificationStatus, &outcomes))
	require.Len(t, outcomes, 3)
	assert.Equal(t, alertdomain.DeliveryDelivered, outcomes["email"].Status)
	assert.Equal(t, alertdomain.DeliveryDelivered, outcomes["sms"].Status)
	assert.Equal(t, alertdomain.DeliveryDelivered, outcomes["in_app"].Status)

	var triggerData map[string]any
	require.NoError(t, json.Unmarshal(rows[0].TriggerData, &triggerData))
	assert.Equal(t, -620.0, triggerData["daily_pnl"])

	assert.Equal(t, 1, f.email.calls)
	assert.Equal(t, 1, f.sms.calls)
}

func TestDispatchMixedOutcomesRecordedNotReturned(t *testing.T) {
	f := newFixture(t)
	userID := f.node.Generate()
	f.seedProfile(t, userID, "trader@example.com", "", "")
	f.email.err = errors.New("smtp: connection refused")
	alert := f.newAlert(userID, `["email","sms","in_app"]`)

	entry, err := f.dispatcher.Dispatch(context.Background(), alert, time.Now(), nil)
	require.NoError(t, err)

	var outcomes map[string]alertdomain.ChannelOutcome
	require.NoError(t, json.Unmarshal(entry.NotificationStatus, &outcomes))
	assert.Equal(t, alertdomain.DeliveryFailed, outcomes["email"].Status)
	assert.Contains(t, outcomes["email"].Detail, "connection refused")
	assert.Equal(t, alertdomain.DeliverySkipped, outcomes["sms"].Status)
	assert.Equal(t, "no_phone_on_file", outcomes["sms"].Detail)
	assert.Equal(t, alertdomain.DeliveryDelivered, outcomes["in_app"].Status)

	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "email")
}

func TestDispatchSkipsChannelsWithoutEndpoints(t *testing.T) {
	f := newFixture(t)
	userID := f.node.Generate()
	// No delivery profile at all.
	alert := f.newAlert(userID, `["email","sms","webhook"]`)

	entry, err := f.dispatcher.Dispatch(context.Background(), alert, time.Now(), nil)
	require.NoError(t, err)

	var outcomes map[string]alertdomain.ChannelOutcome
	require.NoError(t, json.Unmarshal(entry.NotificationStatus, &outcomes))
	assert.Equal(t, "no_email_on_file", outcomes["email"].Detail)
	assert.Equal(t, "no_phone_on_file", outcomes["sms"].Detail)
	assert.Equal(t, "no_webhook_on_file", outcomes["webhook"].Detail)
	assert.Nil(t, entry.ErrorMessage)
	assert.Equal(t, 0, f.email.calls)
	assert.Equal(t, 0, f.sms.calls)
	assert.Equal(t, 0, f.webhook.calls)
}

func TestDispatchDefaultWebhookPayload(t *testing.T) {
	f := newFixture(t)
	userID := f.node.Generate()
	f.seedProfile(t, userID, "", "", "https://hooks.example.com/alert")
	alert := f.newAlert(userID, `["webhook"]`)
	firedAt := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	entry, err := f.dispatcher.Dispatch(context.Background(), alert, firedAt, []condition.Operand{
		{Field: "daily_pnl", Operator: condition.OpLt, Expected: -500.0, Actual: -620.0, Match: true},
	})
	require.NoError(t, err)

	var outcomes map[string]alertdomain.ChannelOutcome
	require.NoError(t, json.Unmarshal(entry.NotificationStatus, &outcomes))
	require.Equal(t, alertdomain.DeliveryDelivered, outcomes["webhook"].Status)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(f.webhook.payload, &payload))
	assert.Equal(t, entry.EpisodeID, payload["episode_id"])
	assert.Equal(t, alert.ID.String(), payload["alert_id"])
	assert.Equal(t, "daily loss limit", payload["alert_name"])
	assert.Equal(t, "2026-03-10T13:00:00Z", payload["triggered_at"])
}

func TestDispatchBrokenCustomTemplateFailsOnlyWebhook(t *testing.T) {
	f := newFixture(t)
	userID := f.node.Generate()
	f.seedProfile(t, userID, "trader@example.com", "", "https://hooks.example.com/alert")
	broken := `{"oops": {{.NoSuchFunc | bogus}}}`
	alert := f.newAlert(userID, `["email","webhook"]`)
	alert.WebhookTemplate = &broken

	entry, err := f.dispatcher.Dispatch(context.Background(), alert, time.Now(), nil)
	require.NoError(t, err)

	var outcomes map[string]alertdomain.ChannelOutcome
	require.NoError(t, json.Unmarshal(entry.NotificationStatus, &outcomes))
	assert.Equal(t, alertdomain.DeliveryFailed, outcomes["webhook"].Status)
	assert.Contains(t, outcomes["webhook"].Detail, "template")
	assert.Equal(t, alertdomain.DeliveryDelivered, outcomes["email"].Status)
	assert.Equal(t, 0, f.webhook.calls)
}

func TestDispatchInAppReachesSubscriber(t *testing.T) {
	f := newFixture(t)
	userID := f.node.Generate()
	alert := f.newAlert(userID, `["in_app"]`)

	sub, backlog, err := f.hub.Subscribe(userID.String())
	require.NoError(t, err)
	defer sub.Close()
	require.Empty(t, backlog)

	entry, err := f.dispatcher.Dispatch(context.Background(), alert, time.Now(), nil)
	require.NoError(t, err)

	select {
	case notification := <-sub.Events():
		assert.Equal(t, entry.EpisodeID, notification.EpisodeID)
		assert.Equal(t, alert.ID.String(), notification.AlertID)
		assert.Equal(t, "daily loss limit", notification.AlertName)
	case <-time.After(time.Second):
		t.Fatal("expected in-app notification")
	}
}

func TestRenderWebhookPayloadCustomTemplate(t *testing.T) {
	custom := `{"text": "{{.AlertName}} fired", "id": {{json .EpisodeID}}}`
	alert := &alertdomain.Alert{WebhookTemplate: &custom}

	payload, err := renderWebhookPayload(alert, PayloadData{
		EpisodeID: "ep-1",
		AlertName: "drawdown guard",
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "drawdown guard fired", decoded["text"])
	assert.Equal(t, "ep-1", decoded["id"])
}

func TestBuildMessageSkipsMissingOperands(t *testing.T) {
	alert := &alertdomain.Alert{Name: "win rate floor"}
	message := buildMessage(alert, []condition.Operand{
		{Field: "win_rate", Operator: condition.OpLt, Expected: 40.0, Actual: 35.5, Match: true},
		{Field: "trade_count", Operator: condition.OpGte, Expected: 10.0, Missing: true},
	})
	assert.Contains(t, message, "win rate floor: ")
	assert.Contains(t, message, "win_rate lt 40 (now 35.5)")
	assert.NotContains(t, message, "trade_count")
}
