package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"gorm.io/gorm"
)

const alertColumns = `id, user_id, name, description, alert_type, conditions, symbols, strategies,
	 channels, priority, cooldown_minutes, max_triggers_per_day, webhook_template, expires_at,
	 status, snoozed_until, last_triggered_at, trigger_count, trigger_day, triggers_today,
	 created_at, updated_at, deleted_at`

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alert *alertdomain.Alert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO alerts (
			id, user_id, name, description, alert_type, conditions, symbols, strategies,
			channels, priority, cooldown_minutes, max_triggers_per_day, webhook_template,
			expires_at, status, snoozed_until, last_triggered_at, trigger_count, trigger_day,
			triggers_today, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.UserID,
		alert.Name,
		alert.Description,
		alert.AlertType,
		alert.Conditions,
		alert.Symbols,
		alert.Strategies,
		alert.Channels,
		alert.Priority,
		alert.CooldownMinutes,
		alert.MaxTriggersPerDay,
		alert.WebhookTemplate,
		alert.ExpiresAt,
		alert.Status,
		alert.SnoozedUntil,
		alert.LastTriggeredAt,
		alert.TriggerCount,
		alert.TriggerDay,
		alert.TriggersToday,
		alert.CreatedAt,
		alert.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, alert *alertdomain.Alert) error {
	return db.WithContext(ctx).Exec(
		`UPDATE alerts SET
			name = ?, description = ?, conditions = ?, symbols = ?, strategies = ?, channels = ?,
			priority = ?, cooldown_minutes = ?, max_triggers_per_day = ?, webhook_template = ?,
			expires_at = ?, updated_at = ?
		 WHERE user_id = ? AND id = ? AND deleted_at IS NULL`,
		alert.Name,
		alert.Description,
		alert.Conditions,
		alert.Symbols,
		alert.Strategies,
		alert.Channels,
		alert.Priority,
		alert.CooldownMinutes,
		alert.MaxTriggersPerDay,
		alert.WebhookTemplate,
		alert.ExpiresAt,
		alert.UpdatedAt,
		alert.UserID,
		alert.ID,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE alerts SET status = ?, deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND id = ? AND deleted_at IS NULL`,
		alertdomain.AlertStatusDeleted,
		userID,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*alertdomain.Alert, error) {
	var alert alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts WHERE user_id = ? AND id = ? AND deleted_at IS NULL`,
		userID,
		id,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, userID snowflake.ID, name string) (*alertdomain.Alert, error) {
	var alert alertdomain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+`
		 FROM alerts WHERE user_id = ? AND name = ? AND deleted_at IS NULL LIMIT 1`,
		userID,
		name,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter alertdomain.ListFilter) ([]*alertdomain.Alert, error) {
	query := `SELECT ` + alertColumns + `
		 FROM alerts WHERE user_id = ? AND deleted_at IS NULL`
	args := []any{userID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.AlertType != "" {
		query += ` AND alert_type = ?`
		args = append(args, filter.AlertType)
	}
	if filter.Cursor != 0 {
		query += ` AND id > ?`
		args = append(args, filter.Cursor)
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var alerts []*alertdomain.Alert
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *repo) CountActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM alerts
		 WHERE user_id = ? AND deleted_at IS NULL AND status NOT IN (?, ?)`,
		userID,
		alertdomain.AlertStatusExpired,
		alertdomain.AlertStatusDeleted,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SetStatus transitions the alert to target status only when the current
// status is one of from. Returns false when no row matched the guard.
func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, from []alertdomain.AlertStatus, to alertdomain.AlertStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE alerts SET status = ?, snoozed_until = NULL, updated_at = ?
		 WHERE user_id = ? AND id = ? AND deleted_at IS NULL AND status IN ?`,
		to,
		now,
		userID,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Snooze(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, until time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE alerts SET status = ?, snoozed_until = ?, updated_at = ?
		 WHERE user_id = ? AND id = ? AND deleted_at IS NULL AND status IN ?`,
		alertdomain.AlertStatusSnoozed,
		until,
		now,
		userID,
		id,
		[]alertdomain.AlertStatus{alertdomain.AlertStatusActive, alertdomain.AlertStatusTriggered, alertdomain.AlertStatusSnoozed},
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, entry *alertdomain.AlertHistory) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO alert_history (
			id, alert_id, user_id, episode_id, triggered_at, trigger_data, channels,
			notification_status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AlertID,
		entry.UserID,
		entry.EpisodeID,
		entry.TriggeredAt,
		entry.TriggerData,
		entry.Channels,
		entry.NotificationStatus,
		entry.ErrorMessage,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter alertdomain.HistoryFilter) ([]*alertdomain.AlertHistory, error) {
	query := `SELECT id, alert_id, user_id, episode_id, triggered_at, trigger_data, channels,
		 notification_status, error_message, created_at
		 FROM alert_history WHERE user_id = ?`
	args := []any{userID}

	if filter.AlertID != 0 {
		query += ` AND alert_id = ?`
		args = append(args, filter.AlertID)
	}
	if filter.From != nil {
		query += ` AND triggered_at >= ?`
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND triggered_at < ?`
		args = append(args, *filter.To)
	}
	if filter.Cursor != 0 {
		query += ` AND id < ?`
		args = append(args, filter.Cursor)
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var entries []*alertdomain.AlertHistory
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindDeliveryProfile(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*alertdomain.DeliveryProfile, error) {
	var profile alertdomain.DeliveryProfile
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, email, phone_number, webhook_url, webhook_secret, created_at, updated_at
		 FROM delivery_profiles WHERE user_id = ?`,
		userID,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.UserID == 0 {
		return nil, nil
	}
	return &profile, nil
}

func (r *repo) UpsertDeliveryProfile(ctx context.Context, db *gorm.DB, profile *alertdomain.DeliveryProfile) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE delivery_profiles SET email = ?, phone_number = ?, webhook_url = ?, webhook_secret = ?, updated_at = ?
		 WHERE user_id = ?`,
		profile.Email,
		profile.PhoneNumber,
		profile.WebhookURL,
		profile.WebhookSecret,
		profile.UpdatedAt,
		profile.UserID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO delivery_profiles (user_id, email, phone_number, webhook_url, webhook_secret, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		profile.UserID,
		profile.Email,
		profile.PhoneNumber,
		profile.WebhookURL,
		profile.WebhookSecret,
		profile.CreatedAt,
		profile.UpdatedAt,
	).Error
}
