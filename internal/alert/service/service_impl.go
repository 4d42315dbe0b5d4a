package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/clock"
	"github.com/tradepulse/alertd/internal/condition"
	"github.com/tradepulse/alertd/internal/quota"
	"github.com/tradepulse/alertd/internal/userctx"
	"github.com/tradepulse/alertd/pkg/db"
	"github.com/tradepulse/alertd/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxNameLength    = 120
	maxSnoozeMinutes = 7 * 24 * 60
	defaultPageSize  = 20
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  alertdomain.Repository
	quota quota.Resolver
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  alertdomain.Repository
	Quota quota.Resolver
}

func NewService(p ServiceParam) alertdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("alert.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		quota: p.Quota,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req alertdomain.CreateAlertRequest) (alertdomain.AlertResponse, error) {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidUser
	}

	now := s.clock.Now().UTC()

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidName
	}
	if !alertdomain.ValidAlertType(req.AlertType) {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidAlertType
	}
	if err := condition.Validate(req.Conditions); err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if err := validateChannels(req.Channels); err != nil {
		return alertdomain.AlertResponse{}, err
	}

	priority := req.Priority
	if priority == "" {
		priority = alertdomain.PriorityMedium
	}
	if !alertdomain.ValidPriority(priority) {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidPriority
	}
	if req.CooldownMinutes < 0 {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidCooldown
	}
	if req.MaxTriggersPerDay != nil && *req.MaxTriggersPerDay < 1 {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidDailyCap
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidExpiry
	}

	maxAlerts, err := s.quota.MaxAlerts(ctx, userID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	count, err := s.repo.CountActiveByUser(ctx, s.db, userID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if count >= int64(maxAlerts) {
		return alertdomain.AlertResponse{}, alertdomain.ErrAlertQuotaExceeded
	}

	existing, err := s.repo.FindByName(ctx, s.db, userID, name)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if existing != nil {
		return alertdomain.AlertResponse{}, alertdomain.ErrDuplicateName
	}

	conditions, err := json.Marshal(req.Conditions)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	channels, err := json.Marshal(req.Channels)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	alert := &alertdomain.Alert{
		ID:                s.genID.Generate(),
		UserID:            userID,
		Name:              name,
		Description:       strings.TrimSpace(req.Description),
		AlertType:         req.AlertType,
		Conditions:        datatypes.JSON(conditions),
		Channels:          datatypes.JSON(channels),
		Priority:          priority,
		CooldownMinutes:   req.CooldownMinutes,
		MaxTriggersPerDay: req.MaxTriggersPerDay,
		WebhookTemplate:   req.WebhookTemplate,
		ExpiresAt:         req.ExpiresAt,
		Status:            alertdomain.AlertStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if len(req.Symbols) > 0 {
		symbols, err := json.Marshal(req.Symbols)
		if err != nil {
			return alertdomain.AlertResponse{}, err
		}
		alert.Symbols = datatypes.JSON(symbols)
	}
	if len(req.Strategies) > 0 {
		strategies, err := json.Marshal(req.Strategies)
		if err != nil {
			return alertdomain.AlertResponse{}, err
		}
		alert.Strategies = datatypes.JSON(strategies)
	}

	if err := s.repo.Insert(ctx, s.db, alert); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return alertdomain.AlertResponse{}, alertdomain.ErrDuplicateName
		}
		return alertdomain.AlertResponse{}, err
	}

	s.log.Info("alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("alert_type", string(alert.AlertType)),
	)

	return toResponse(alert)
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req alertdomain.ListAlertRequest) (alertdomain.ListAlertResponse, error) {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return alertdomain.ListAlertResponse{}, alertdomain.ErrInvalidUser
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	filter := alertdomain.ListFilter{
		Status:    alertdomain.AlertStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		AlertType: alertdomain.AlertType(strings.TrimSpace(req.AlertType)),
		Limit:     limit + 1,
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err == nil && cursor.ID != "" {
			if id, perr := snowflake.ParseString(cursor.ID); perr == nil {
				filter.Cursor = id
			}
		}
	}

	alerts, err := s.repo.List(ctx, s.db, userID, filter)
	if err != nil {
		return alertdomain.ListAlertResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(alerts, int32(limit), func(a *alertdomain.Alert) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: a.ID.String()})
		return token
	})
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}

	resp := alertdomain.ListAlertResponse{PageInfo: *pageInfo}
	resp.Alerts = make([]alertdomain.AlertResponse, 0, len(alerts))
	for _, alert := range alerts {
		item, err := toResponse(alert)
		if err != nil {
			return alertdomain.ListAlertResponse{}, err
		}
		resp.Alerts = append(resp.Alerts, item)
	}
	return resp, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, alertID string) (alertdomain.AlertResponse, error) {
	alert, err := s.fetch(ctx, alertID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	return toResponse(alert)
}

// Update implements domain.Service.
func (s *Service) Update(ctx context.Context, req alertdomain.UpdateAlertRequest) (alertdomain.AlertResponse, error) {
	alert, err := s.fetch(ctx, req.AlertID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	now := s.clock.Now().UTC()

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > maxNameLength {
			return alertdomain.AlertResponse{}, alertdomain.ErrInvalidName
		}
		if name != alert.Name {
			existing, err := s.repo.FindByName(ctx, s.db, alert.UserID, name)
			if err != nil {
				return alertdomain.AlertResponse{}, err
			}
			if existing != nil && existing.ID != alert.ID {
				return alertdomain.AlertResponse{}, alertdomain.ErrDuplicateName
			}
		}
		alert.Name = name
	}
	if req.Description != nil {
		alert.Description = strings.TrimSpace(*req.Description)
	}
	if req.Conditions != nil {
		if err := condition.Validate(*req.Conditions); err != nil {
			return alertdomain.AlertResponse{}, err
		}
		encoded, err := json.Marshal(*req.Conditions)
		if err != nil {
			return alertdomain.AlertResponse{}, err
		}
		alert.Conditions = datatypes.JSON(encoded)
	}
	if req.Symbols != nil {
		encoded, err := json.Marshal(*req.Symbols)
		if err != nil {
			return alertdomain.AlertResponse{}, err
		}
		alert.Symbols = datatypes.JSON(encoded)
	}
	if req.Strategies != nil {
		encoded, err := json.Marshal(*req.Strategies)
		if err != nil {
			return alertdomain.AlertResponse{}, err
		}
		alert.Strategies = datatypes.JSON(encoded)
	}
	if req.Channels != nil {
		if err := validateChannels(*req.Channels); err != nil {
			return alertdomain.AlertResponse{}, err
		}
		encoded, err := json.Marshal(*req.Channels)
		if err != nil {
			return alertdomain.AlertResponse{}, err
		}
		alert.Channels = datatypes.JSON(encoded)
	}
	if req.Priority != nil {
		if !alertdomain.ValidPriority(*req.Priority) {
			return alertdomain.AlertResponse{}, alertdomain.ErrInvalidPriority
		}
		alert.Priority = *req.Priority
	}
	if req.CooldownMinutes != nil {
		if *req.CooldownMinutes < 0 {
			return alertdomain.AlertResponse{}, alertdomain.ErrInvalidCooldown
		}
		alert.CooldownMinutes = *req.CooldownMinutes
	}
	if req.MaxTriggersPerDay != nil {
		if *req.MaxTriggersPerDay < 1 {
			return alertdomain.AlertResponse{}, alertdomain.ErrInvalidDailyCap
		}
		alert.MaxTriggersPerDay = req.MaxTriggersPerDay
	}
	if req.WebhookTemplate != nil {
		alert.WebhookTemplate = req.WebhookTemplate
	}
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return alertdomain.AlertResponse{}, alertdomain.ErrInvalidExpiry
		}
		alert.ExpiresAt = req.ExpiresAt
	}

	alert.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, alert); err != nil {
		return alertdomain.AlertResponse{}, err
	}
	return toResponse(alert)
}

// Toggle implements domain.Service.
func (s *Service) Toggle(ctx context.Context, req alertdomain.ToggleAlertRequest) (alertdomain.AlertResponse, error) {
	alert, err := s.fetch(ctx, req.AlertID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	now := s.clock.Now().UTC()

	var from []alertdomain.AlertStatus
	var to alertdomain.AlertStatus
	if req.Enabled {
		from = []alertdomain.AlertStatus{alertdomain.AlertStatusDisabled}
		to = alertdomain.AlertStatusActive
	} else {
		from = []alertdomain.AlertStatus{
			alertdomain.AlertStatusActive,
			alertdomain.AlertStatusTriggered,
			alertdomain.AlertStatusSnoozed,
		}
		to = alertdomain.AlertStatusDisabled
	}

	updated, err := s.repo.SetStatus(ctx, s.db, alert.UserID, alert.ID, from, to, now)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if !updated {
		// Already in the requested state or terminal. Report the current row.
		if alert.Status == to {
			return toResponse(alert)
		}
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidStatus
	}

	return s.Get(ctx, req.AlertID)
}

// Snooze implements domain.Service.
func (s *Service) Snooze(ctx context.Context, req alertdomain.SnoozeAlertRequest) (alertdomain.AlertResponse, error) {
	alert, err := s.fetch(ctx, req.AlertID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	now := s.clock.Now().UTC()

	var until time.Time
	switch {
	case req.Until != nil:
		until = req.Until.UTC()
	case req.Minutes != nil:
		if *req.Minutes < 1 || *req.Minutes > maxSnoozeMinutes {
			return alertdomain.AlertResponse{}, alertdomain.ErrInvalidSnooze
		}
		until = now.Add(time.Duration(*req.Minutes) * time.Minute)
	default:
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidSnooze
	}
	if !until.After(now) {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidSnooze
	}

	updated, err := s.repo.Snooze(ctx, s.db, alert.UserID, alert.ID, until, now)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if !updated {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidStatus
	}

	return s.Get(ctx, req.AlertID)
}

// Unsnooze implements domain.Service.
func (s *Service) Unsnooze(ctx context.Context, alertID string) (alertdomain.AlertResponse, error) {
	alert, err := s.fetch(ctx, alertID)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	now := s.clock.Now().UTC()

	updated, err := s.repo.SetStatus(ctx, s.db, alert.UserID, alert.ID,
		[]alertdomain.AlertStatus{alertdomain.AlertStatusSnoozed}, alertdomain.AlertStatusActive, now)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if !updated {
		return alertdomain.AlertResponse{}, alertdomain.ErrInvalidStatus
	}

	return s.Get(ctx, alertID)
}

// Delete implements domain.Service.
func (s *Service) Delete(ctx context.Context, alertID string) error {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return alertdomain.ErrInvalidUser
	}

	id, err := s.parseID(alertID)
	if err != nil {
		return err
	}

	deleted, err := s.repo.SoftDelete(ctx, s.db, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return alertdomain.ErrAlertNotFound
	}

	s.log.Info("alert deleted",
		zap.String("alert_id", id.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}

// Test implements domain.Service. It evaluates the alert's conditions
// against a caller supplied snapshot without mutating trigger state.
func (s *Service) Test(ctx context.Context, req alertdomain.TestAlertRequest) (alertdomain.TestAlertResponse, error) {
	alert, err := s.fetch(ctx, req.AlertID)
	if err != nil {
		return alertdomain.TestAlertResponse{}, err
	}

	conds, err := alert.DecodeConditions()
	if err != nil {
		return alertdomain.TestAlertResponse{}, err
	}

	matched, operands := condition.Evaluate(conds, condition.SnapshotFromAny(req.Snapshot))
	return alertdomain.TestAlertResponse{Matched: matched, Operands: operands}, nil
}

// History implements domain.Service.
func (s *Service) History(ctx context.Context, req alertdomain.ListHistoryRequest) (alertdomain.ListHistoryResponse, error) {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return alertdomain.ListHistoryResponse{}, alertdomain.ErrInvalidUser
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	filter := alertdomain.HistoryFilter{
		From:  req.From,
		To:    req.To,
		Limit: limit + 1,
	}
	if strings.TrimSpace(req.AlertID) != "" {
		id, err := s.parseID(req.AlertID)
		if err != nil {
			return alertdomain.ListHistoryResponse{}, err
		}
		filter.AlertID = id
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err == nil && cursor.ID != "" {
			if id, perr := snowflake.ParseString(cursor.ID); perr == nil {
				filter.Cursor = id
			}
		}
	}

	entries, err := s.repo.ListHistory(ctx, s.db, userID, filter)
	if err != nil {
		return alertdomain.ListHistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, int32(limit), func(e *alertdomain.AlertHistory) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:          e.ID.String(),
			TriggeredAt: e.TriggeredAt.Format(time.RFC3339Nano),
		})
		return token
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	resp := alertdomain.ListHistoryResponse{PageInfo: *pageInfo}
	resp.Entries = make([]alertdomain.HistoryResponse, 0, len(entries))
	for _, entry := range entries {
		item, err := toHistoryResponse(entry)
		if err != nil {
			return alertdomain.ListHistoryResponse{}, err
		}
		resp.Entries = append(resp.Entries, item)
	}
	return resp, nil
}

// GetDeliveryProfile implements domain.Service.
func (s *Service) GetDeliveryProfile(ctx context.Context) (alertdomain.DeliveryProfileResponse, error) {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return alertdomain.DeliveryProfileResponse{}, alertdomain.ErrInvalidUser
	}

	profile, err := s.repo.FindDeliveryProfile(ctx, s.db, userID)
	if err != nil {
		return alertdomain.DeliveryProfileResponse{}, err
	}
	if profile == nil {
		return alertdomain.DeliveryProfileResponse{}, nil
	}
	return alertdomain.DeliveryProfileResponse{
		Email:       profile.Email,
		PhoneNumber: profile.PhoneNumber,
		WebhookURL:  profile.WebhookURL,
	}, nil
}

// UpdateDeliveryProfile implements domain.Service.
func (s *Service) UpdateDeliveryProfile(ctx context.Context, req alertdomain.DeliveryProfileRequest) (alertdomain.DeliveryProfileResponse, error) {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return alertdomain.DeliveryProfileResponse{}, alertdomain.ErrInvalidUser
	}

	now := s.clock.Now().UTC()

	existing, err := s.repo.FindDeliveryProfile(ctx, s.db, userID)
	if err != nil {
		return alertdomain.DeliveryProfileResponse{}, err
	}

	profile := &alertdomain.DeliveryProfile{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
		profile.Email = existing.Email
		profile.PhoneNumber = existing.PhoneNumber
		profile.WebhookURL = existing.WebhookURL
		profile.WebhookSecret = existing.WebhookSecret
	}
	if req.Email != nil {
		profile.Email = normalizeOptional(req.Email)
	}
	if req.PhoneNumber != nil {
		profile.PhoneNumber = normalizeOptional(req.PhoneNumber)
	}
	if req.WebhookURL != nil {
		profile.WebhookURL = normalizeOptional(req.WebhookURL)
	}
	if req.WebhookSecret != nil {
		profile.WebhookSecret = normalizeOptional(req.WebhookSecret)
	}

	if err := s.repo.UpsertDeliveryProfile(ctx, s.db, profile); err != nil {
		return alertdomain.DeliveryProfileResponse{}, err
	}
	return alertdomain.DeliveryProfileResponse{
		Email:       profile.Email,
		PhoneNumber: profile.PhoneNumber,
		WebhookURL:  profile.WebhookURL,
	}, nil
}

func (s *Service) fetch(ctx context.Context, alertID string) (*alertdomain.Alert, error) {
	userID, ok := userctx.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return nil, alertdomain.ErrInvalidUser
	}

	id, err := s.parseID(alertID)
	if err != nil {
		return nil, err
	}

	alert, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alertdomain.ErrAlertNotFound
	}
	return alert, nil
}

func (s *Service) parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, alertdomain.ErrInvalidAlertID
	}
	return id, nil
}

func validateChannels(channels []alertdomain.Channel) error {
	if len(channels) == 0 {
		return alertdomain.ErrInvalidChannel
	}
	seen := make(map[alertdomain.Channel]struct{}, len(channels))
	for _, ch := range channels {
		if !alertdomain.ValidChannel(ch) {
			return alertdomain.ErrInvalidChannel
		}
		if _, dup := seen[ch]; dup {
			return alertdomain.ErrInvalidChannel
		}
		seen[ch] = struct{}{}
	}
	return nil
}

func normalizeOptional(value *string) *string {
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func toResponse(alert *alertdomain.Alert) (alertdomain.AlertResponse, error) {
	conds, err := alert.DecodeConditions()
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	channels, err := alert.DecodeChannels()
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	symbols, err := alert.DecodeSymbols()
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	var strategies []string
	if len(alert.Strategies) > 0 {
		if err := json.Unmarshal(alert.Strategies, &strategies); err != nil {
			return alertdomain.AlertResponse{}, err
		}
	}

	return alertdomain.AlertResponse{
		ID:                alert.ID.String(),
		Name:              alert.Name,
		Description:       alert.Description,
		AlertType:         alert.AlertType,
		Conditions:        conds,
		Symbols:           symbols,
		Strategies:        strategies,
		Channels:          channels,
		Priority:          alert.Priority,
		CooldownMinutes:   alert.CooldownMinutes,
		MaxTriggersPerDay: alert.MaxTriggersPerDay,
		ExpiresAt:         alert.ExpiresAt,
		Status:            alert.Status,
		SnoozedUntil:      alert.SnoozedUntil,
		LastTriggeredAt:   alert.LastTriggeredAt,
		TriggerCount:      alert.TriggerCount,
		TriggersToday:     alert.TriggersToday,
		CreatedAt:         alert.CreatedAt,
		UpdatedAt:         alert.UpdatedAt,
	}, nil
}

func toHistoryResponse(entry *alertdomain.AlertHistory) (alertdomain.HistoryResponse, error) {
	var channels []alertdomain.Channel
	if err := json.Unmarshal(entry.Channels, &channels); err != nil {
		return alertdomain.HistoryResponse{}, err
	}

	var outcomes map[string]alertdomain.ChannelOutcome
	if err := json.Unmarshal(entry.NotificationStatus, &outcomes); err != nil {
		return alertdomain.HistoryResponse{}, err
	}

	var triggerData map[string]any
	if len(entry.TriggerData) > 0 {
		if err := json.Unmarshal(entry.TriggerData, &triggerData); err != nil {
			return alertdomain.HistoryResponse{}, err
		}
	}

	return alertdomain.HistoryResponse{
		ID:                 entry.ID.String(),
		AlertID:            entry.AlertID.String(),
		EpisodeID:          entry.EpisodeID,
		TriggeredAt:        entry.TriggeredAt,
		TriggerData:        triggerData,
		Channels:           channels,
		NotificationStatus: outcomes,
		ErrorMessage:       entry.ErrorMessage,
	}, nil
}
