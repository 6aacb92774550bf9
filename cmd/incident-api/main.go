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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/campus-incident-api/api/swagger"
	"github.com/noah-isme/campus-incident-api/internal/handler"
	"github.com/noah-isme/campus-incident-api/internal/middleware"
	"github.com/noah-isme/campus-incident-api/internal/models"
	"github.com/noah-isme/campus-incident-api/internal/repository"
	"github.com/noah-isme/campus-incident-api/internal/service"
	"github.com/noah-isme/campus-incident-api/pkg/cache"
	"github.com/noah-isme/campus-incident-api/pkg/config"
	"github.com/noah-isme/campus-incident-api/pkg/database"
	"github.com/noah-isme/campus-incident-api/pkg/export"
	"github.com/noah-isme/campus-incident-api/pkg/jobs"
	"github.com/noah-isme/campus-incident-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-incident-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-incident-api/pkg/middleware/requestid"
	"github.com/noah-isme/campus-incident-api/pkg/storage"
)

// @title Campus Incident API
// @version 1.0.0
// @description Incident reporting backend with the ten-stage appeal workflow
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()

	appealRepo := repository.NewAppealRepository(db)
	reportRepo := repository.NewReportRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)

	var feed *repository.AppealFeed
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, live feed disabled", "error", err)
	} else {
		defer redisClient.Close() //nolint:errcheck
		feed = repository.NewAppealFeed(redisClient, cfg.Appeals.FeedChannel, logr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc := service.NewNotificationService(notificationRepo, jobs.QueueConfig{
		Workers:    cfg.Notifications.WorkerConcurrency,
		MaxRetries: cfg.Notifications.WorkerRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "campus-incident-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	reportSvc := service.NewReportService(reportRepo, appealRepo, notificationSvc, userRepo, validate, logr)

	appealSvc := service.NewAppealService(
		appealRepo,
		reportRepo,
		userRepo,
		notificationSvc,
		feed,
		userRepo,
		validate,
		logr,
		service.WithGatewayRetry(cfg.Appeals.GatewayRetries, cfg.Appeals.GatewayBackoff),
		service.WithOuterDeadline(cfg.Appeals.OuterDeadline),
		service.WithTransitionRecorder(metricsSvc),
	)

	files, err := storage.NewLocalStorage(cfg.Evidence.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare evidence storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Evidence.SignedURLSecret, cfg.Evidence.SignedURLTTL)
	evidenceSvc := service.NewEvidenceService(appealRepo, files, signer, cfg.Evidence.MaxFileSizeBytes, logr)
	exportSvc := service.NewExportService(appealRepo, reportRepo, export.NewCaseFileExporter(), logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	appealHandler := handler.NewAppealHandler(appealSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	evidenceHandler := handler.NewEvidenceHandler(evidenceSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, notificationSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	reports := api.Group("/reports", middleware.JWT(authSvc))
	reports.POST("", reportHandler.Create)
	reports.GET("", reportHandler.List)
	reports.GET("/:id", reportHandler.Get)
	reports.POST("/:id/moderate",
		middleware.RequireRoles(models.RoleAdmin),
		middleware.Audit(userRepo, models.AuditActionReportModerate, "report"),
		reportHandler.Moderate)

	appeals := api.Group("/appeals", middleware.JWT(authSvc))
	appeals.POST("", appealHandler.Submit)
	appeals.GET("", appealHandler.List)
	appeals.GET("/feed",
		middleware.RequireRoles(models.RoleAdmin, models.RoleDeptHead, models.RolePresident),
		appealHandler.Feed)
	appeals.GET("/:id", appealHandler.Get)
	appeals.GET("/:id/timeline", appealHandler.Timeline)
	appeals.POST("/:id/review",
		middleware.RequireRoles(models.RoleAdmin),
		appealHandler.AdminReview)
	appeals.POST("/:id/document",
		middleware.RequireRoles(models.RoleAdmin),
		appealHandler.Document)
	appeals.POST("/:id/forward-department",
		middleware.RequireRoles(models.RoleAdmin),
		appealHandler.ForwardToDepartment)
	appeals.POST("/:id/department-review",
		middleware.RequireRoles(models.RoleDeptHead),
		appealHandler.DepartmentReview)
	appeals.POST("/:id/forward-president",
		middleware.RequireRoles(models.RoleAdmin, models.RoleDeptHead),
		appealHandler.ForwardToPresident)
	appeals.POST("/:id/decision",
		middleware.RequireRoles(models.RolePresident),
		appealHandler.PresidentDecision)
	appeals.POST("/:id/complete",
		middleware.RequireRoles(models.RoleAdmin),
		appealHandler.Complete)

	appeals.POST("/:id/evidence", evidenceHandler.Upload)
	appeals.GET("/:id/evidence", evidenceHandler.Links)
	if cfg.Exports.Enabled {
		appeals.GET("/:id/export", evidenceHandler.Export)
	}
	// authorized by the signed token itself; claims, when present, feed the
	// request log
	api.GET("/evidence/download", middleware.OptionalJWT(authSvc), evidenceHandler.Download)

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	notifications.GET("", notificationHandler.Inbox)
	notifications.POST("/:id/read", notificationHandler.MarkRead)
	notifications.POST("/read-all", notificationHandler.MarkAllRead)

	users := api.Group("/users", middleware.JWT(authSvc))
	users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
	users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
	users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
	users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)

	api.GET("/ops/status",
		middleware.JWT(authSvc),
		middleware.RequireRoles(models.RoleAdmin),
		metricsHandler.Status)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
