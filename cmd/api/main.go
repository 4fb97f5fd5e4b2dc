package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donation-workflow-api/config"
	"donation-workflow-api/controllers"
	"donation-workflow-api/middleware"
	"donation-workflow-api/repository"
	"donation-workflow-api/routes"
	"donation-workflow-api/services"
	"donation-workflow-api/workflow"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const serviceName = "donation-workflow-api"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	logFile, writer := config.InitLogging(cfg.Log.File)
	if logFile != nil {
		defer logFile.Close()
	}
	logger := config.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName, writer)
	defer func() { _ = logger.Sync() }()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	store, err := repository.Open(cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}

	registry := workflow.NewRegistry()
	if cfg.Workflow.AliasFile != "" {
		if err := registry.LoadAliasFile(cfg.Workflow.AliasFile); err != nil {
			logger.Fatal("failed to load status aliases", zap.String("file", cfg.Workflow.AliasFile), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.NewMetrics()
	notifier, closeSinks := services.BuildNotifier(ctx, cfg, store, metrics, logger)
	defer closeSinks()

	var archiver services.ReportArchiver
	if cfg.S3.Bucket != "" {
		s3Archiver, err := services.NewS3ArchiverFromConfig(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix)
		if err != nil {
			logger.Warn("report archival disabled", zap.Error(err))
		} else {
			archiver = s3Archiver
		}
	}

	wf := services.NewWorkflowService(store, registry, notifier, metrics, logger, services.WorkflowOptions{
		CommitRetries: cfg.Workflow.CommitRetries,
		RetryBackoff:  cfg.Workflow.RetryBackoff,
		AsyncNotify:   true,
	})
	appointments := services.NewAppointmentService(store, logger)
	sweeper := services.NewReconciliationService(store, archiver, metrics, logger)

	// Set Gin mode
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = writer

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	router.Use(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())

	routes.SetupRoutes(router, routes.Handlers{
		Cases:          controllers.NewCaseController(wf),
		Appointments:   controllers.NewAppointmentController(appointments),
		Reconciliation: controllers.NewReconciliationController(sweeper, cfg.Workflow.SweepLockName),
		Statuses:       controllers.NewStatusController(registry),
		Notifications:  controllers.NewNotificationController(store),
		DB:             store,
		Registry:       metrics.Registry,
		JWTSecret:      cfg.JWT.Secret,
		LogFile:        cfg.Log.File,
		ServiceName:    serviceName,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.String("db_driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := wf.DrainNotifications(shutdownCtx); err != nil {
		logger.Warn("pending notifications dropped at shutdown", zap.Error(err))
	}
}
