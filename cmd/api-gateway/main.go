package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-tuition-api/api/swagger"
	"github.com/noah-isme/sma-tuition-api/internal/handler"
	"github.com/noah-isme/sma-tuition-api/internal/middleware"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
	"github.com/noah-isme/sma-tuition-api/internal/service"
	"github.com/noah-isme/sma-tuition-api/pkg/cache"
	"github.com/noah-isme/sma-tuition-api/pkg/config"
	"github.com/noah-isme/sma-tuition-api/pkg/database"
	"github.com/noah-isme/sma-tuition-api/pkg/jobs"
	"github.com/noah-isme/sma-tuition-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-tuition-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-tuition-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-tuition-api/pkg/storage"
)

// @title SMA Tuition API
// @version 1.0.0
// @description Tuition installment plans, payment admission and reconciliation.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		redisClient = nil
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsSvc := service.NewMetricsService()
	cadence, err := service.NewScheduleCadence(cfg.Tuition)
	if err != nil {
		logr.Fatal("invalid tuition schedule configuration", zap.Error(err))
	}

	planRepo := repository.NewPaymentPlanRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Tuition.SummaryCacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	allocator := service.NewReferenceAllocator(paymentRepo, service.AllocatorConfig{
		MaxAttempts: cfg.Tuition.AllocatorMaxAttempts,
		RetryDelay:  cfg.Tuition.AllocatorRetryDelay,
	}, logr, metricsSvc)
	planSvc := service.NewPaymentPlanService(planRepo, service.NewScheduleBuilder(cadence), auditRepo, cacheSvc, cfg.Tuition.SummaryCacheTTL, logr)

	paymentOpts := []service.PaymentServiceOption{
		service.WithPaymentCache(cacheSvc),
		service.WithPaymentMetrics(metricsSvc),
	}
	var (
		receiptSvc   *service.ReceiptService
		receiptQueue *jobs.Queue
	)
	if cfg.Receipts.Enabled {
		store, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
		if err != nil {
			logr.Fatal("failed to prepare receipt storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)
		receiptSvc = service.NewReceiptService(paymentRepo, planRepo, store, signer, service.ReceiptConfig{
			APIPrefix:   cfg.APIPrefix,
			Institution: "SMA",
		}, logr, nil, nil)
		receiptQueue = jobs.NewQueue("receipts", receiptSvc.Handle, jobs.QueueConfig{
			Workers:    cfg.Receipts.WorkerConcurrency,
			MaxRetries: cfg.Receipts.WorkerRetries,
			Logger:     logr,
			Observer:   metricsSvc,
		})
		receiptSvc.AttachQueue(receiptQueue)
		receiptQueue.Start(ctx)
		defer receiptQueue.Stop()
		paymentOpts = append(paymentOpts, service.WithPaymentReceipts(receiptSvc))
	}
	paymentSvc := service.NewPaymentService(planRepo, paymentRepo, allocator, auditRepo, service.PaymentServiceConfig{
		ReceiptPrefix:       cfg.Tuition.ReceiptPrefix,
		CashReferencePrefix: cfg.Tuition.CashReferencePrefix,
		AdmissionRetryLimit: cfg.Tuition.AdmissionRetryLimit,
	}, logr, paymentOpts...)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readinessChecks(db, redisClient))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:     authSvc,
		audit:    auditRepo,
		logger:   logr,
		plans:    handler.NewPaymentPlanHandler(planSvc),
		payments: handler.NewPaymentHandler(paymentSvc),
		receipts: receiptHandler(receiptSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if redisClient != nil {
		_ = cacheRepo.Close()
	}
	logr.Info("server stopped")
}

type routeDeps struct {
	auth     *service.AuthService
	audit    *repository.AuditRepository
	logger   *zap.Logger
	plans    *handler.PaymentPlanHandler
	payments *handler.PaymentHandler
	receipts *handler.ReceiptHandler
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	admins := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleCashier)

	// signed token is the credential for downloads
	if deps.receipts != nil {
		api.GET("/receipts/download",
			middleware.Audit(deps.audit, deps.logger, models.AuditActionReceiptDownload, "receipt"),
			deps.receipts.Download)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))

	plans := secured.Group("/payment-plans")
	plans.POST("", staff, deps.plans.Create)
	plans.GET("", deps.plans.List)
	plans.GET("/:id", deps.plans.Get)
	plans.GET("/:id/installments", deps.plans.Installments)
	plans.PUT("/:id/installments", admins, deps.plans.EditSchedule)
	plans.POST("/:id/cancel", admins, deps.plans.Cancel)
	plans.POST("/:id/overdue", admins, deps.plans.MarkOverdue)
	plans.GET("/:id/payments", deps.payments.PlanHistory)

	payments := secured.Group("/payments")
	payments.POST("", deps.payments.Submit)
	payments.POST("/counter", staff, deps.payments.RecordCounter)
	payments.GET("/:id", deps.payments.Get)
	payments.POST("/:id/review", admins, deps.payments.Review)

	secured.GET("/installments/:id/payments", deps.payments.InstallmentHistory)

	if deps.receipts != nil {
		payments.GET("/:id/receipt", deps.receipts.Link)
		plans.GET("/:id/payments/export",
			middleware.Audit(deps.audit, deps.logger, models.AuditActionHistoryExport, "payment_plan"),
			deps.receipts.ExportHistory)
	}
}

func receiptHandler(svc *service.ReceiptService) *handler.ReceiptHandler {
	if svc == nil {
		return nil
	}
	return handler.NewReceiptHandler(svc)
}

func readinessChecks(db *sqlx.DB, client *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}
