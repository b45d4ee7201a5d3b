package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/permipay/permipay/internal/config"
	executiondomain "github.com/permipay/permipay/internal/execution/domain"
	ingestdomain "github.com/permipay/permipay/internal/ingest/domain"
	"github.com/permipay/permipay/internal/observability"
	obsmiddleware "github.com/permipay/permipay/internal/observability/logger"
	obsmetrics "github.com/permipay/permipay/internal/observability/metrics"
	obstracing "github.com/permipay/permipay/internal/observability/tracing"
	permissiondomain "github.com/permipay/permipay/internal/permission/domain"
	"github.com/permipay/permipay/internal/ratelimit"
	statsdomain "github.com/permipay/permipay/internal/stats/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
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

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine        *gin.Engine
	cfg           config.Config
	permissionSvc permissiondomain.Service
	executionSvc  executiondomain.Service
	statsSvc      statsdomain.Service
	ingestSvc     ingestdomain.Service
	chargeLimiter *ratelimit.ChargeLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	PermissionSvc permissiondomain.Service
	ExecutionSvc  executiondomain.Service
	StatsSvc      statsdomain.Service
	IngestSvc     ingestdomain.Service
	ChargeLimiter *ratelimit.ChargeLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		permissionSvc: p.PermissionSvc,
		executionSvc:  p.ExecutionSvc,
		statsSvc:      p.StatsSvc,
		ingestSvc:     p.IngestSvc,
		chargeLimiter: p.ChargeLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Permissions --------
	v1.GET("/permissions/:address", s.GetPermission)

	// -------- Executions --------
	v1.GET("/executions", s.ListExecutions)

	// -------- Stats --------
	v1.GET("/stats/global", s.GetGlobalStats)
	v1.GET("/stats/daily", s.GetDailyStats)
	v1.POST("/stats/rebuild", s.RebuildStats)

	// -------- Charges --------
	v1.POST("/charges", s.ChargeRateLimit(), s.CreateCharge)

	// -------- Chain events --------
	v1.POST("/events", s.IngestEvent)
	v1.POST("/events/unwind", s.UnwindEvents)
}
