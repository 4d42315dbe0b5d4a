package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/userctx"
)

type fakeAlertService struct {
	createCalls int
	lastUserID  snowflake.ID
	lastCreate  alertdomain.CreateAlertRequest
	createErr   error
	getErr      error
}

func (f *fakeAlertService) Create(ctx context.Context, req alertdomain.CreateAlertRequest) (alertdomain.AlertResponse, error) {
	f.createCalls++
	f.lastCreate = req
	f.lastUserID, _ = userctx.UserIDFromContext(ctx)
	if f.createErr != nil {
		return alertdomain.AlertResponse{}, f.createErr
	}
	return alertdomain.AlertResponse{ID: "42", Name: req.Name, Status: alertdomain.AlertStatusActive}, nil
}

func (f *fakeAlertService) List(ctx context.Context, req alertdomain.ListAlertRequest) (alertdomain.ListAlertResponse, error) {
	_ = ctx
	_ = req
	return alertdomain.ListAlertResponse{}, nil
}

func (f *fakeAlertService) Get(ctx context.Context, alertID string) (alertdomain.AlertResponse, error) {
	_ = ctx
	if f.getErr != nil {
		return alertdomain.AlertResponse{}, f.getErr
	}
	return alertdomain.AlertResponse{ID: alertID}, nil
}

func (f *fakeAlertService) Update(ctx context.Context, req alertdomain.UpdateAlertRequest) (alertdomain.AlertResponse, error) {
	_ = ctx
	return alertdomain.AlertResponse{ID: req.AlertID}, nil
}

func (f *fakeAlertService) Toggle(ctx context.Context, req alertdomain.ToggleAlertRequest) (alertdomain.AlertResponse, error) {
	_ = ctx
	return alertdomain.AlertResponse{ID: req.AlertID}, nil
}

func (f *fakeAlertService) Snooze(ctx context.Context, req alertdomain.SnoozeAlertRequest) (alertdomain.AlertResponse, error) {
	_ = ctx
	return alertdomain.AlertResponse{ID: req.AlertID}, nil
}

func (f *fakeAlertService) Unsnooze(ctx context.Context, alertID string) (alertdomain.AlertResponse, error) {
	_ = ctx
	return alertdomain.AlertResponse{ID: alertID}, nil
}

func (f *fakeAlertService) Delete(ctx context.Context, alertID string) error {
	_ = ctx
	_ = alertID
	return nil
}

func (f *fakeAlertService) Test(ctx context.Context, req alertdomain.TestAlertRequest) (alertdomain.TestAlertResponse, error) {
	_ = ctx
	_ = req
	return alertdomain.TestAlertResponse{}, nil
}

func (f *fakeAlertService) History(ctx context.Context, req alertdomain.ListHistoryRequest) (alertdomain.ListHistoryResponse, error) {
	_ = ctx
	_ = req
	return alertdomain.ListHistoryResponse{}, nil
}

func (f *fakeAlertService) GetDeliveryProfile(ctx context.Context) (alertdomain.DeliveryProfileResponse, error) {
	_ = ctx
	return alertdomain.DeliveryProfileResponse{}, nil
}

func (f *fakeAlertService) UpdateDeliveryProfile(ctx context.Context, req alertdomain.DeliveryProfileRequest) (alertdomain.DeliveryProfileResponse, error) {
	_ = ctx
	_ = req
	return alertdomain.DeliveryProfileResponse{}, nil
}

func newTestRouter(svc alertdomain.Service) (*gin.Engine, *Server) {
	gin.SetMode(gin.TestMode)
	srv := &Server{alertSvc: svc}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	api := router.Group("/v1")
	api.Use(srv.UserRequired())
	api.POST("/alerts", srv.CreateAlert)
	api.GET("/alerts/:id", srv.GetAlertByID)
	api.POST("/metric-events", srv.PostMetricEvent)
	return router, srv
}

func TestCreateAlertHandlerRequiresUserHeader(t *testing.T) {
	svc := &fakeAlertService{}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewBufferString(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if svc.createCalls != 0 {
		t.Fatal("expected service not to be called without a user header")
	}
}

func TestCreateAlertHandlerRejectsMalformedUserHeader(t *testing.T) {
	router, _ := newTestRouter(&fakeAlertService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewBufferString(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "not-a-number")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestCreateAlertHandlerPassesUserToService(t *testing.T) {
	svc := &fakeAlertService{}
	router, _ := newTestRouter(svc)

	body := `{"name":"  btc breakout  ","alert_type":"price_above","conditions":[{"field":"current_price","operator":"gt","value":50000}],"channels":["in_app"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "7133701633341440")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.createCalls != 1 {
		t.Fatalf("expected 1 create call, got %d", svc.createCalls)
	}
	if svc.lastUserID.String() != "7133701633341440" {
		t.Fatalf("expected user id from header, got %s", svc.lastUserID)
	}
	if svc.lastCreate.Name != "btc breakout" {
		t.Fatalf("expected trimmed name, got %q", svc.lastCreate.Name)
	}

	var payload struct {
		Data alertdomain.AlertResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Data.ID != "42" {
		t.Fatalf("expected alert id 42, got %s", payload.Data.ID)
	}
}

func TestCreateAlertHandlerMapsValidationErrors(t *testing.T) {
	svc := &fakeAlertService{createErr: alertdomain.ErrInvalidAlertType}
	router, _ := newTestRouter(svc)

	body := `{"name":"x","alert_type":"nope","conditions":[{"field":"current_price","operator":"gt","value":1}],"channels":["in_app"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "7133701633341440")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateAlertHandlerMapsQuotaTo403(t *testing.T) {
	svc := &fakeAlertService{createErr: alertdomain.ErrAlertQuotaExceeded}
	router, _ := newTestRouter(svc)

	body := `{"name":"x","alert_type":"price_above","conditions":[{"field":"current_price","operator":"gt","value":1}],"channels":["in_app"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "7133701633341440")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestGetAlertHandlerMapsNotFound(t *testing.T) {
	svc := &fakeAlertService{getErr: alertdomain.ErrAlertNotFound}
	router, _ := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/99", nil)
	req.Header.Set(HeaderUserID, "7133701633341440")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestMetricEventsWithoutSchedulerReturns503(t *testing.T) {
	router, _ := newTestRouter(&fakeAlertService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/metric-events", nil)
	req.Header.Set(HeaderUserID, "7133701633341440")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}
