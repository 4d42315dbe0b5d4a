package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tradepulse/alertd/internal/alert"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/config"
	"github.com/tradepulse/alertd/internal/dispatch"
	"github.com/tradepulse/alertd/internal/lifecycle"
	"github.com/tradepulse/alertd/internal/marketdata"
	"github.com/tradepulse/alertd/internal/observability"
	obsmiddleware "github.com/tradepulse/alertd/internal/observability/logger"
	obsmetrics "github.com/tradepulse/alertd/internal/observability/metrics"
	obstracing "github.com/tradepulse/alertd/internal/observability/tracing"
	"github.com/tradepulse/alertd/internal/providers"
	"github.com/tradepulse/alertd/internal/quota"
	"github.com/tradepulse/alertd/internal/ratelimit"
	"github.com/tradepulse/alertd/internal/realtime"
	"github.com/tradepulse/alertd/internal/scheduler"
	"github.com/tradepulse/alertd/internal/template"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	alert.Module,
	template.Module,
	quota.Module,
	marketdata.Module,
	lifecycle.Module,
	dispatch.Module,
	providers.Module,
	realtime.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	alertSvc    alertdomain.Service
	templateSvc templatedomain.Service
	hub         *realtime.Hub
	obsMetrics  *obsmetrics.Metrics
	limiter     *ratelimit.APILimiter
	scheduler   *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	AlertSvc    alertdomain.Service
	TemplateSvc templatedomain.Service
	Hub         *realtime.Hub          `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics    `optional:"true"`
	Limiter     *ratelimit.APILimiter  `optional:"true"`
	Scheduler   *scheduler.Scheduler   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		alertSvc:    p.AlertSvc,
		templateSvc: p.TemplateSvc,
		hub:         p.Hub,
		obsMetrics:  p.ObsMetrics,
		limiter:     p.Limiter,
		scheduler:   p.Scheduler,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.UserRequired())

	// -------- Alerts --------
	v1.POST("/alerts", s.WriteRateLimit(), s.CreateAlert)
	v1.GET("/alerts", s.ListAlerts)
	v1.GET("/alerts/:id", s.GetAlertByID)
	v1.PATCH("/alerts/:id", s.WriteRateLimit(), s.UpdateAlert)
	v1.DELETE("/alerts/:id", s.WriteRateLimit(), s.DeleteAlert)
	v1.POST("/alerts/:id/toggle", s.WriteRateLimit(), s.ToggleAlert)
	v1.POST("/alerts/:id/snooze", s.WriteRateLimit(), s.SnoozeAlert)
	v1.POST("/alerts/:id/unsnooze", s.WriteRateLimit(), s.UnsnoozeAlert)
	v1.POST("/alerts/:id/test", s.TestAlert)

	// -------- History --------
	v1.GET("/history", s.ListHistory)

	// -------- Templates --------
	v1.GET("/templates", s.ListTemplates)
	v1.GET("/templates/:slug", s.GetTemplateBySlug)
	v1.POST("/templates/:slug/materialize", s.WriteRateLimit(), s.MaterializeTemplate)

	// -------- Delivery profile --------
	v1.GET("/delivery-profile", s.GetDeliveryProfile)
	v1.PUT("/delivery-profile", s.WriteRateLimit(), s.PutDeliveryProfile)

	// -------- Realtime --------
	v1.GET("/stream", s.StreamNotifications)

	// -------- Metric events --------
	v1.POST("/metric-events", s.PostMetricEvent)
}
