package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/condition"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo     templatedomain.Repository
	alertsvc alertdomain.Service
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     templatedomain.Repository
	Alertsvc alertdomain.Service
}

func NewService(p ServiceParam) templatedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("template.service"),
		repo:     p.Repo,
		alertsvc: p.Alertsvc,
	}
}

// List implements domain.Service. An empty category returns the whole
// catalogue.
func (s *Service) List(ctx context.Context, category string) ([]templatedomain.TemplateResponse, error) {
	templates, err := s.repo.List(ctx, s.db, category)
	if err != nil {
		return nil, err
	}

	out := make([]templatedomain.TemplateResponse, 0, len(templates))
	for _, template := range templates {
		resp, err := toResponse(template)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, slug string) (templatedomain.TemplateResponse, error) {
	template, err := s.repo.FindBySlug(ctx, s.db, slug)
	if err != nil {
		return templatedomain.TemplateResponse{}, err
	}
	if template == nil {
		return templatedomain.TemplateResponse{}, templatedomain.ErrTemplateNotFound
	}
	return toResponse(template)
}

// Materialize implements domain.Service. The new alert is a one-time copy:
// it keeps no reference to the template it came from.
func (s *Service) Materialize(ctx context.Context, req templatedomain.MaterializeRequest) (alertdomain.AlertResponse, error) {
	template, err := s.repo.FindBySlug(ctx, s.db, req.Slug)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if template == nil {
		return alertdomain.AlertResponse{}, templatedomain.ErrTemplateNotFound
	}

	conds, err := template.DecodeConditions()
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	conds, err = applyOverrides(conds, req.Overrides)
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	channels, err := template.DecodeChannels()
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}
	if len(req.Channels) > 0 {
		channels = req.Channels
	}

	name := template.Name
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		name = strings.TrimSpace(*req.Name)
	}

	created, err := s.alertsvc.Create(ctx, alertdomain.CreateAlertRequest{
		Name:            name,
		Description:     template.Description,
		AlertType:       template.AlertType,
		Conditions:      conds,
		Symbols:         req.Symbols,
		Channels:        channels,
		Priority:        template.Priority,
		CooldownMinutes: template.CooldownMinutes,
	})
	if err != nil {
		return alertdomain.AlertResponse{}, err
	}

	s.log.Info("template materialized",
		zap.String("slug", template.Slug),
		zap.String("alert_id", created.ID),
	)
	return created, nil
}

// applyOverrides rebuilds conditions whose field appears in overrides with
// the caller's comparison value, re-running type coercion so a mistyped
// override is rejected, not stored.
func applyOverrides(conds []condition.Condition, overrides map[string]json.RawMessage) ([]condition.Condition, error) {
	if len(overrides) == 0 {
		return conds, nil
	}

	matched := make(map[string]bool, len(overrides))
	out := make([]condition.Condition, 0, len(conds))
	for _, c := range conds {
		raw, ok := overrides[c.Field]
		if !ok {
			out = append(out, c)
			continue
		}
		matched[c.Field] = true

		encoded, err := json.Marshal(map[string]any{
			"field":    c.Field,
			"operator": c.Operator,
			"value":    json.RawMessage(raw),
		})
		if err != nil {
			return nil, err
		}
		var replaced condition.Condition
		if err := json.Unmarshal(encoded, &replaced); err != nil {
			return nil, fmt.Errorf("%w: %s", templatedomain.ErrInvalidOverride, c.Field)
		}
		out = append(out, replaced)
	}

	for field := range overrides {
		if !matched[field] {
			return nil, fmt.Errorf("%w: %s", templatedomain.ErrInvalidOverride, field)
		}
	}
	return out, nil
}

func toResponse(template *templatedomain.AlertTemplate) (templatedomain.TemplateResponse, error) {
	conds, err := template.DecodeConditions()
	if err != nil {
		return templatedomain.TemplateResponse{}, err
	}
	channels, err := template.DecodeChannels()
	if err != nil {
		return templatedomain.TemplateResponse{}, err
	}

	return templatedomain.TemplateResponse{
		ID:              template.ID.String(),
		Slug:            template.Slug,
		Name:            template.Name,
		Description:     template.Description,
		Category:        template.Category,
		AlertType:       template.AlertType,
		Conditions:      conds,
		Channels:        channels,
		Priority:        template.Priority,
		CooldownMinutes: template.CooldownMinutes,
	}, nil
}
