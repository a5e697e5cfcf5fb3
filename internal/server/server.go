package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/expertly/internal/authorization"
	"github.com/smallbiznis/expertly/internal/clock"
	"github.com/smallbiznis/expertly/internal/config"
	obsmiddleware "github.com/smallbiznis/expertly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/expertly/internal/observability/metrics"
	obstracing "github.com/smallbiznis/expertly/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	rebatedomain "github.com/smallbiznis/expertly/internal/rebate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           cfg.Debug(),
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

func registerGin(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !cfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(cfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	rebateSvc  rebatedomain.Service
	authzSvc   authorization.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	PaymentSvc paymentdomain.Service
	RebateSvc  rebatedomain.Service
	AuthzSvc   authorization.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		rebateSvc:  p.RebateSvc,
		authzSvc:   p.AuthzSvc,
	}
	if p.Cfg.AuthJWTSecret == "" {
		svc.log.Warn("AUTH_JWT_SECRET is empty; authenticated routes will reject every request")
	}

	svc.registerPaymentRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments")

	// Gateway redirects land here without a bearer token.
	payments.GET("/success", s.ConfirmPayment)
	payments.GET("/fail", s.FailPayment)

	payments.POST("/orderId", s.AuthRequired(), s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentOrder), s.CreateOrder)
	payments.POST("/cancel", s.AuthRequired(), s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentCancel), s.CancelPayment)
	payments.GET("/:paymentType/:referenceId", s.AuthRequired(), s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentByReference)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	rebate := admin.Group("/rebate")
	rebate.GET("/verify", s.authorizeAction(authorization.ObjectRebate, authorization.ActionRebateVerify), s.VerifyRebates)
	rebate.GET("/create", s.authorizeAction(authorization.ObjectRebate, authorization.ActionRebateCreate), s.CreateRebates)
	rebate.GET("/process", s.authorizeAction(authorization.ObjectRebate, authorization.ActionRebateProcess), s.ProcessRebates)
	rebate.GET("/statement", s.authorizeAction(authorization.ObjectRebate, authorization.ActionRebateStatement), s.RebateStatement)
}
