// Package domain describes the built-in alert template catalogue.
// Materializing a template copies its definition into a new alert owned by
// the caller; later catalogue changes never touch materialized alerts.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/condition"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrTemplateNotFound = errors.New("template_not_found")
	ErrInvalidOverride  = errors.New("invalid_override")
)

type AlertTemplate struct {
	ID              snowflake.ID          `gorm:"primaryKey"`
	Slug            string                `gorm:"type:text;not null;uniqueIndex"`
	Name            string                `gorm:"type:text;not null"`
	Description     string                `gorm:"type:text"`
	Category        string                `gorm:"type:text;not null;default:'';index"`
	AlertType       alertdomain.AlertType `gorm:"type:text;not null"`
	Conditions      datatypes.JSON        `gorm:"not null"`
	Channels        datatypes.JSON        `gorm:"not null"`
	Priority        alertdomain.Priority  `gorm:"type:text;not null"`
	CooldownMinutes int                   `gorm:"not null;default:0"`
	CreatedAt       time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AlertTemplate) TableName() string { return "alert_templates" }

func (t *AlertTemplate) DecodeConditions() ([]condition.Condition, error) {
	var conds []condition.Condition
	if err := json.Unmarshal(t.Conditions, &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

func (t *AlertTemplate) DecodeChannels() ([]alertdomain.Channel, error) {
	var channels []alertdomain.Channel
	if err := json.Unmarshal(t.Channels, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

type TemplateResponse struct {
	ID              string                `json:"id"`
	Slug            string                `json:"slug"`
	Name            string                `json:"name"`
	Description     string                `json:"description,omitempty"`
	Category        string                `json:"category,omitempty"`
	AlertType       alertdomain.AlertType `json:"alert_type"`
	Conditions      []condition.Condition `json:"conditions"`
	Channels        []alertdomain.Channel `json:"channels"`
	Priority        alertdomain.Priority  `json:"priority"`
	CooldownMinutes int                   `json:"cooldown_minutes"`
}

// MaterializeRequest creates an alert from a template. Overrides replace
// the comparison value of conditions on the named field; anything else in
// the template is copied as-is unless an explicit field below replaces it.
type MaterializeRequest struct {
	Slug      string
	Name      *string                    `json:"name,omitempty"`
	Symbols   []string                   `json:"symbols,omitempty"`
	Channels  []alertdomain.Channel      `json:"channels,omitempty"`
	Overrides map[string]json.RawMessage `json:"overrides,omitempty"`
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB, category string) ([]*AlertTemplate, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*AlertTemplate, error)
	Insert(ctx context.Context, db *gorm.DB, template *AlertTemplate) error
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}

type Service interface {
	List(ctx context.Context, category string) ([]TemplateResponse, error)
	Get(ctx context.Context, slug string) (TemplateResponse, error)
	Materialize(ctx context.Context, req MaterializeRequest) (alertdomain.AlertResponse, error)
}
