// Package dispatch fans a fired alert episode out to its configured
// channels and records exactly one history row per episode.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/condition"
	obsmetrics "github.com/tradepulse/alertd/internal/observability/metrics"
	"github.com/tradepulse/alertd/internal/providers/email"
	"github.com/tradepulse/alertd/internal/providers/sms"
	"github.com/tradepulse/alertd/internal/providers/webhook"
	"github.com/tradepulse/alertd/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Skip reasons recorded on SKIPPED channel outcomes.
const (
	skipNoEmail   = "no_email_on_file"
	skipNoPhone   = "no_phone_on_file"
	skipNoWebhook = "no_webhook_on_file"
)

type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	repo    alertdomain.Repository
	email   email.Provider
	sms     sms.Provider
	webhook webhook.Provider
	hub     *realtime.Hub
	metrics *obsmetrics.Metrics

	channelTimeout time.Duration
}

type DispatcherParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    alertdomain.Repository
	Email   email.Provider
	SMS     sms.Provider
	Webhook webhook.Provider
	Hub     *realtime.Hub
	Metrics *obsmetrics.Metrics
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	return &Dispatcher{
		db:             p.DB,
		log:            p.Log.Named("dispatch"),
		genID:          p.GenID,
		repo:           p.Repo,
		email:          p.Email,
		sms:            p.SMS,
		webhook:        p.Webhook,
		hub:            p.Hub,
		metrics:        p.Metrics,
		channelTimeout: 10 * time.Second,
	}
}

// Dispatch delivers one fired episode to every configured channel in
// parallel and appends the single history row. Channel failures are
// isolated: they land in the outcome map, never in the returned error.
// The returned error covers only the history write itself.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *alertdomain.Alert, firedAt time.Time, operands []condition.Operand) (*alertdomain.AlertHistory, error) {
	episodeID := uuid.NewString()

	channels, err := alert.DecodeChannels()
	if err != nil {
		return nil, err
	}

	profile, err := d.repo.FindDeliveryProfile(ctx, d.db, alert.UserID)
	if err != nil {
		d.log.Warn("delivery profile lookup failed",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err),
		)
		profile = nil
	}

	message := buildMessage(alert, operands)
	triggerData := buildTriggerData(operands)

	var mu sync.Mutex
	outcomes := make(map[string]alertdomain.ChannelOutcome, len(channels))
	record := func(ch alertdomain.Channel, outcome alertdomain.ChannelOutcome) {
		mu.Lock()
		outcomes[string(ch)] = outcome
		mu.Unlock()
		if d.metrics != nil {
			d.metrics.RecordChannelOutcome(ctx, string(ch), string(outcome.Status))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			start := time.Now()
			status, detail := d.deliver(gctx, ch, alert, profile, episodeID, firedAt, message, triggerData)
			record(ch, alertdomain.ChannelOutcome{
				Status:    status,
				Detail:    detail,
				LatencyMS: time.Since(start).Milliseconds(),
			})
			return nil
		})
	}
	// Deliveries never return errors through the group; Wait only joins.
	_ = g.Wait()

	entry, err := d.writeHistory(ctx, alert, episodeID, firedAt, triggerData, channels, outcomes)
	if err != nil {
		return nil, err
	}

	d.log.Info("episode dispatched",
		zap.String("episode_id", episodeID),
		zap.String("alert_id", alert.ID.String()),
		zap.Int("channels", len(channels)),
	)
	return entry, nil
}

func (d *Dispatcher) deliver(
	ctx context.Context,
	ch alertdomain.Channel,
	alert *alertdomain.Alert,
	profile *alertdomain.DeliveryProfile,
	episodeID string,
	firedAt time.Time,
	message string,
	triggerData map[string]any,
) (alertdomain.DeliveryStatus, string) {
	ctx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	switch ch {
	case alertdomain.ChannelEmail:
		if profile == nil || profile.Email == nil {
			return alertdomain.DeliverySkipped, skipNoEmail
		}
		subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Priority)), alert.Name)
		body := fmt.Sprintf("<p>%s</p><p>Triggered at %s</p>", message, firedAt.UTC().Format(time.RFC3339))
		if err := d.email.Send(ctx, []string{*profile.Email}, subject, body); err != nil {
			return alertdomain.DeliveryFailed, err.Error()
		}
		return alertdomain.DeliveryDelivered, ""

	case alertdomain.ChannelSMS:
		if profile == nil || profile.PhoneNumber == nil {
			return alertdomain.DeliverySkipped, skipNoPhone
		}
		if err := d.sms.Send(ctx, *profile.PhoneNumber, message); err != nil {
			return alertdomain.DeliveryFailed, err.Error()
		}
		return alertdomain.DeliveryDelivered, ""

	case alertdomain.ChannelWebhook:
		if profile == nil || profile.WebhookURL == nil {
			return alertdomain.DeliverySkipped, skipNoWebhook
		}
		payload, err := renderWebhookPayload(alert, PayloadData{
			EpisodeID:   episodeID,
			AlertID:     alert.ID.String(),
			AlertName:   alert.Name,
			AlertType:   string(alert.AlertType),
			Priority:    string(alert.Priority),
			Message:     message,
			TriggeredAt: firedAt.UTC().Format(time.RFC3339),
			TriggerData: triggerData,
		})
		if err != nil {
			return alertdomain.DeliveryFailed, err.Error()
		}
		secret := ""
		if profile.WebhookSecret != nil {
			secret = *profile.WebhookSecret
		}
		if err := d.webhook.Post(ctx, *profile.WebhookURL, secret, payload); err != nil {
			return alertdomain.DeliveryFailed, err.Error()
		}
		return alertdomain.DeliveryDelivered, ""

	case alertdomain.ChannelInApp:
		d.hub.Publish(alert.UserID.String(), realtime.Notification{
			EpisodeID:   episodeID,
			AlertID:     alert.ID.String(),
			AlertName:   alert.Name,
			AlertType:   string(alert.AlertType),
			Priority:    string(alert.Priority),
			Message:     message,
			TriggerData: triggerData,
			TriggeredAt: firedAt,
		})
		if d.metrics != nil {
			d.metrics.RecordRealtimePublish(ctx, "published")
		}
		return alertdomain.DeliveryDelivered, ""

	default:
		return alertdomain.DeliverySkipped, "unknown_channel"
	}
}

func (d *Dispatcher) writeHistory(
	ctx context.Context,
	alert *alertdomain.Alert,
	episodeID string,
	firedAt time.Time,
	triggerData map[string]any,
	channels []alertdomain.Channel,
	outcomes map[string]alertdomain.ChannelOutcome,
) (*alertdomain.AlertHistory, error) {
	encodedData, err := json.Marshal(triggerData)
	if err != nil {
		return nil, err
	}
	encodedChannels, err := json.Marshal(channels)
	if err != nil {
		return nil, err
	}
	encodedOutcomes, err := json.Marshal(outcomes)
	if err != nil {
		return nil, err
	}

	var errorMessage *string
	failures := make([]string, 0, len(outcomes))
	for ch, outcome := range outcomes {
		if outcome.Status == alertdomain.DeliveryFailed {
			failures = append(failures, fmt.Sprintf("%s: %s", ch, outcome.Detail))
		}
	}
	if len(failures) > 0 {
		joined := strings.Join(failures, "; ")
		errorMessage = &joined
	}

	entry := &alertdomain.AlertHistory{
		ID:                 d.genID.Generate(),
		AlertID:            alert.ID,
		UserID:             alert.UserID,
		EpisodeID:          episodeID,
		TriggeredAt:        firedAt.UTC(),
		TriggerData:        datatypes.JSON(encodedData),
		Channels:           datatypes.JSON(encodedChannels),
		NotificationStatus: datatypes.JSON(encodedOutcomes),
		ErrorMessage:       errorMessage,
		CreatedAt:          firedAt.UTC(),
	}
	if err := d.repo.InsertHistory(ctx, d.db, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
