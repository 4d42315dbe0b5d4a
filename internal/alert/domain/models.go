// Package domain contains persistence models for alerts and their history.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tradepulse/alertd/internal/condition"
	"gorm.io/datatypes"
)

// AlertStatus represents lifecycle states for an alert.
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "ACTIVE"
	AlertStatusTriggered AlertStatus = "TRIGGERED"
	AlertStatusSnoozed   AlertStatus = "SNOOZED"
	AlertStatusDisabled  AlertStatus = "DISABLED"
	AlertStatusExpired   AlertStatus = "EXPIRED"
	AlertStatusDeleted   AlertStatus = "DELETED"
)

// AlertType is the semantic category of an alert.
type AlertType string

const (
	AlertTypePriceAbove      AlertType = "price_above"
	AlertTypePriceBelow      AlertType = "price_below"
	AlertTypeDailyPnL        AlertType = "daily_pnl"
	AlertTypeDrawdown        AlertType = "drawdown"
	AlertTypeWinRate         AlertType = "win_rate"
	AlertTypePatternDetected AlertType = "pattern_detected"
	AlertTypeCustom          AlertType = "custom"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Channel is a delivery medium for a triggered alert.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Alert is the persisted rule definition plus its mutable trigger state.
// Status, trigger counters and last_triggered_at are updated only through
// the lifecycle manager's conditional writes.
type Alert struct {
	ID                snowflake.ID   `gorm:"primaryKey"`
	UserID            snowflake.ID   `gorm:"not null;index:ux_alerts_user_name,priority:1"`
	Name              string         `gorm:"type:text;not null;index:ux_alerts_user_name,priority:2"`
	Description       string         `gorm:"type:text"`
	AlertType         AlertType      `gorm:"type:text;not null"`
	Conditions        datatypes.JSON `gorm:"not null"`
	Symbols           datatypes.JSON `gorm:""`
	Strategies        datatypes.JSON `gorm:""`
	Channels          datatypes.JSON `gorm:"not null"`
	Priority          Priority       `gorm:"type:text;not null"`
	CooldownMinutes   int            `gorm:"not null;default:0"`
	MaxTriggersPerDay *int           `gorm:""`
	WebhookTemplate   *string        `gorm:"type:text"`
	ExpiresAt         *time.Time     `gorm:""`
	Status            AlertStatus    `gorm:"type:text;not null;index"`
	SnoozedUntil      *time.Time     `gorm:""`
	LastTriggeredAt   *time.Time     `gorm:""`
	TriggerCount      int64          `gorm:"not null;default:0"`
	TriggerDay        *string        `gorm:"type:text"`
	TriggersToday     int            `gorm:"not null;default:0"`
	CreatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt         *time.Time     `gorm:"index"`
}

// TableName sets the database table name.
func (Alert) TableName() string { return "alerts" }

// DecodeConditions parses the stored JSON into typed conditions.
func (a *Alert) DecodeConditions() ([]condition.Condition, error) {
	var conds []condition.Condition
	if err := json.Unmarshal(a.Conditions, &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

// DecodeChannels parses the stored JSON channel set.
func (a *Alert) DecodeChannels() ([]Channel, error) {
	var channels []Channel
	if err := json.Unmarshal(a.Channels, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// DecodeSymbols parses the optional symbol scope filter.
func (a *Alert) DecodeSymbols() ([]string, error) {
	if len(a.Symbols) == 0 {
		return nil, nil
	}
	var symbols []string
	if err := json.Unmarshal(a.Symbols, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// DecodeStrategies parses the optional strategy scope filter.
func (a *Alert) DecodeStrategies() ([]string, error) {
	if len(a.Strategies) == 0 {
		return nil, nil
	}
	var strategies []string
	if err := json.Unmarshal(a.Strategies, &strategies); err != nil {
		return nil, err
	}
	return strategies, nil
}

// DeliveryStatus is the per-channel outcome of one dispatch.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliverySkipped   DeliveryStatus = "SKIPPED"
)

// AlertHistory is the append-only audit row for one triggering episode.
// Never mutated after insertion.
type AlertHistory struct {
	ID                 snowflake.ID   `gorm:"primaryKey"`
	AlertID            snowflake.ID   `gorm:"not null;index:ix_alert_history_alert_triggered,priority:1"`
	UserID             snowflake.ID   `gorm:"not null;index"`
	EpisodeID          string         `gorm:"type:text;not null"`
	TriggeredAt        time.Time      `gorm:"not null;index:ix_alert_history_alert_triggered,priority:2"`
	TriggerData        datatypes.JSON `gorm:""`
	Channels           datatypes.JSON `gorm:"not null"`
	NotificationStatus datatypes.JSON `gorm:"not null"`
	ErrorMessage       *string        `gorm:"type:text"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AlertHistory) TableName() string { return "alert_history" }

// DeliveryProfile holds the per-user contact endpoints channels deliver to.
// A channel with no endpoint on file is Skipped, not Failed.
type DeliveryProfile struct {
	UserID        snowflake.ID `gorm:"primaryKey"`
	Email         *string      `gorm:"type:text"`
	PhoneNumber   *string      `gorm:"type:text"`
	WebhookURL    *string      `gorm:"type:text"`
	WebhookSecret *string      `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DeliveryProfile) TableName() string { return "delivery_profiles" }

// ValidAlertType reports whether t is a supported alert category.
func ValidAlertType(t AlertType) bool {
	switch t {
	case AlertTypePriceAbove, AlertTypePriceBelow, AlertTypeDailyPnL,
		AlertTypeDrawdown, AlertTypeWinRate, AlertTypePatternDetected, AlertTypeCustom:
		return true
	default:
		return false
	}
}

// ValidChannel reports whether c names a supported delivery medium.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp, ChannelWebhook:
		return true
	default:
		return false
	}
}

// ValidPriority reports whether p is a supported priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}
