package repository

import (
	"context"
	"strings"

	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	"gorm.io/gorm"
)

const templateColumns = `id, slug, name, description, category, alert_type, conditions, channels,
	 priority, cooldown_minutes, created_at, updated_at`

type repo struct{}

func Provide() templatedomain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB, category string) ([]*templatedomain.AlertTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM alert_templates`
	args := []any{}
	if category = strings.TrimSpace(category); category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY slug ASC`

	var templates []*templatedomain.AlertTemplate
	err := db.WithContext(ctx).Raw(query, args...).Scan(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*templatedomain.AlertTemplate, error) {
	var template templatedomain.AlertTemplate
	err := db.WithContext(ctx).Raw(
		`SELECT `+templateColumns+` FROM alert_templates WHERE slug = ? LIMIT 1`,
		strings.TrimSpace(slug),
	).Scan(&template).Error
	if err != nil {
		return nil, err
	}
	if template.ID == 0 {
		return nil, nil
	}
	return &template, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, template *templatedomain.AlertTemplate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO alert_templates (
			id, slug, name, description, category, alert_type, conditions, channels,
			priority, cooldown_minutes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		template.ID,
		template.Slug,
		template.Name,
		template.Description,
		template.Category,
		template.AlertType,
		template.Conditions,
		template.Channels,
		template.Priority,
		template.CooldownMinutes,
		template.CreatedAt,
		template.UpdatedAt,
	).Error
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM alert_templates`).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
