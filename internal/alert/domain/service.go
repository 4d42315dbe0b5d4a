package domain

import (
	"context"
	"errors"
	"time"

	"github.com/tradepulse/alertd/internal/condition"
	"github.com/tradepulse/alertd/pkg/db/pagination"
)

var (
	ErrAlertNotFound      = errors.New("alert_not_found")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidAlertID     = errors.New("invalid_alert_id")
	ErrInvalidName        = errors.New("invalid_name")
	ErrDuplicateName      = errors.New("duplicate_name")
	ErrInvalidAlertType   = errors.New("invalid_alert_type")
	ErrInvalidChannel     = errors.New("invalid_channel")
	ErrInvalidPriority    = errors.New("invalid_priority")
	ErrInvalidCooldown    = errors.New("invalid_cooldown")
	ErrInvalidDailyCap    = errors.New("invalid_daily_cap")
	ErrInvalidExpiry      = errors.New("invalid_expiry")
	ErrInvalidSnooze      = errors.New("invalid_snooze")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrAlertQuotaExceeded = errors.New("alert_quota_exceeded")
)

type CreateAlertRequest struct {
	Name              string                `json:"name"`
	Description       string                `json:"description,omitempty"`
	AlertType         AlertType             `json:"alert_type"`
	Conditions        []condition.Condition `json:"conditions"`
	Symbols           []string              `json:"symbols,omitempty"`
	Strategies        []string              `json:"strategies,omitempty"`
	Channels          []Channel             `json:"channels"`
	Priority          Priority              `json:"priority,omitempty"`
	CooldownMinutes   int                   `json:"cooldown_minutes,omitempty"`
	MaxTriggersPerDay *int                  `json:"max_triggers_per_day,omitempty"`
	WebhookTemplate   *string               `json:"webhook_template,omitempty"`
	ExpiresAt         *time.Time            `json:"expires_at,omitempty"`
}

type UpdateAlertRequest struct {
	AlertID           string
	Name              *string                `json:"name,omitempty"`
	Description       *string                `json:"description,omitempty"`
	Conditions        *[]condition.Condition `json:"conditions,omitempty"`
	Symbols           *[]string              `json:"symbols,omitempty"`
	Strategies        *[]string              `json:"strategies,omitempty"`
	Channels          *[]Channel             `json:"channels,omitempty"`
	Priority          *Priority              `json:"priority,omitempty"`
	CooldownMinutes   *int                   `json:"cooldown_minutes,omitempty"`
	MaxTriggersPerDay *int                   `json:"max_triggers_per_day,omitempty"`
	WebhookTemplate   *string                `json:"webhook_template,omitempty"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
}

type ListAlertRequest struct {
	pagination.Pagination
	Status    string `form:"status"`
	AlertType string `form:"alert_type"`
}

type ListAlertResponse struct {
	pagination.PageInfo
	Alerts []AlertResponse `json:"alerts"`
}

type ListHistoryRequest struct {
	pagination.Pagination
	AlertID string     `form:"alert_id"`
	From    *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To      *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Entries []HistoryResponse `json:"entries"`
}

type SnoozeAlertRequest struct {
	AlertID string
	Until   *time.Time `json:"until,omitempty"`
	Minutes *int       `json:"minutes,omitempty"`
}

type ToggleAlertRequest struct {
	AlertID string
	Enabled bool `json:"enabled"`
}

// TestAlertRequest dry-runs an alert's conditions against a caller supplied
// snapshot without touching trigger state or sending notifications.
type TestAlertRequest struct {
	AlertID  string
	Snapshot map[string]any `json:"snapshot"`
}

type TestAlertResponse struct {
	Matched  bool                `json:"matched"`
	Operands []condition.Operand `json:"operands"`
}

type AlertResponse struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Description       string                `json:"description,omitempty"`
	AlertType         AlertType             `json:"alert_type"`
	Conditions        []condition.Condition `json:"conditions"`
	Symbols           []string              `json:"symbols,omitempty"`
	Strategies        []string              `json:"strategies,omitempty"`
	Channels          []Channel             `json:"channels"`
	Priority          Priority              `json:"priority"`
	CooldownMinutes   int                   `json:"cooldown_minutes"`
	MaxTriggersPerDay *int                  `json:"max_triggers_per_day,omitempty"`
	ExpiresAt         *time.Time            `json:"expires_at,omitempty"`
	Status            AlertStatus           `json:"status"`
	SnoozedUntil      *time.Time            `json:"snoozed_until,omitempty"`
	LastTriggeredAt   *time.Time            `json:"last_triggered_at,omitempty"`
	TriggerCount      int64                 `json:"trigger_count"`
	TriggersToday     int                   `json:"triggers_today"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

type HistoryResponse struct {
	ID                 string                    `json:"id"`
	AlertID            string                    `json:"alert_id"`
	EpisodeID          string                    `json:"episode_id"`
	TriggeredAt        time.Time                 `json:"triggered_at"`
	TriggerData        map[string]any            `json:"trigger_data,omitempty"`
	Channels           []Channel                 `json:"channels"`
	NotificationStatus map[string]ChannelOutcome `json:"notification_status"`
	ErrorMessage       *string                   `json:"error_message,omitempty"`
}

// ChannelOutcome is the recorded result of one channel's delivery attempt.
type ChannelOutcome struct {
	Status    DeliveryStatus `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	LatencyMS int64          `json:"latency_ms,omitempty"`
}

type DeliveryProfileRequest struct {
	Email         *string `json:"email,omitempty"`
	PhoneNumber   *string `json:"phone_number,omitempty"`
	WebhookURL    *string `json:"webhook_url,omitempty"`
	WebhookSecret *string `json:"webhook_secret,omitempty"`
}

type DeliveryProfileResponse struct {
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	WebhookURL  *string `json:"webhook_url,omitempty"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Create(ctx context.Context, req CreateAlertRequest) (AlertResponse, error)
	List(ctx context.Context, req ListAlertRequest) (ListAlertResponse, error)
	Get(ctx context.Context, alertID string) (AlertResponse, error)
	Update(ctx context.Context, req UpdateAlertRequest) (AlertResponse, error)
	Toggle(ctx context.Context, req ToggleAlertRequest) (AlertResponse, error)
	Snooze(ctx context.Context, req SnoozeAlertRequest) (AlertResponse, error)
	Unsnooze(ctx context.Context, alertID string) (AlertResponse, error)
	Delete(ctx context.Context, alertID string) error
	Test(ctx context.Context, req TestAlertRequest) (TestAlertResponse, error)
	History(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)
	GetDeliveryProfile(ctx context.Context) (DeliveryProfileResponse, error)
	UpdateDeliveryProfile(ctx context.Context, req DeliveryProfileRequest) (DeliveryProfileResponse, error)
}
