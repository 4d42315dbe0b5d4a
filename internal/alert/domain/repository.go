package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status    AlertStatus
	AlertType AlertType
	Limit     int
	Cursor    snowflake.ID
}

type HistoryFilter struct {
	AlertID snowflake.ID
	From    *time.Time
	To      *time.Time
	Limit   int
	Cursor  snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alert *Alert) error
	Update(ctx context.Context, db *gorm.DB, alert *Alert) error
	SoftDelete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Alert, error)
	FindByName(ctx context.Context, db *gorm.DB, userID snowflake.ID, name string) (*Alert, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter) ([]*Alert, error)
	CountActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	SetStatus(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, from []AlertStatus, to AlertStatus, now time.Time) (bool, error)
	Snooze(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, until time.Time, now time.Time) (bool, error)
	InsertHistory(ctx context.Context, db *gorm.DB, entry *AlertHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter HistoryFilter) ([]*AlertHistory, error)
	FindDeliveryProfile(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*DeliveryProfile, error)
	UpsertDeliveryProfile(ctx context.Context, db *gorm.DB, profile *DeliveryProfile) error
}
