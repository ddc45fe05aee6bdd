package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-tatib-api/api/swagger"
	"github.com/noah-isme/sma-tatib-api/internal/handler"
	"github.com/noah-isme/sma-tatib-api/internal/middleware"
	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/repository"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	"github.com/noah-isme/sma-tatib-api/pkg/cache"
	"github.com/noah-isme/sma-tatib-api/pkg/config"
	"github.com/noah-isme/sma-tatib-api/pkg/database"
	"github.com/noah-isme/sma-tatib-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-tatib-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-tatib-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-tatib-api/pkg/storage"
)

// @title SMA Tatib API
// @version 0.1.0
// @description Violation escalation engine for school discipline workflows
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var cacheRepo service.CacheRepository
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, settings cache disabled", "error", err)
	} else {
		cacheRepo = repository.NewRedisCacheRepository(redisClient)
	}

	evidenceStore, err := storage.NewLocalStorage(cfg.Evidence.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init evidence storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Evidence.SignedURLSecret, cfg.Evidence.SignedURLTTL)

	// Repositories.
	typeRepo := repository.NewViolationTypeRepository(db)
	violationRepo := repository.NewViolationRepository(db)
	escalationRepo := repository.NewEscalationRepository(db)
	coachingRepo := repository.NewCoachingRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Settings.CacheTTL, logr, cfg.Settings.CacheEnabled)
	settingSvc := service.NewSettingService(settingRepo, cacheSvc, cfg.Settings.CacheTTL, logr)
	calculator := service.NewPointsCalculator(violationRepo, typeRepo, logr)
	notificationSvc := service.NewNotificationService(directoryRepo, service.NotificationServiceConfig{
		Enabled:    cfg.Notifications.Enabled,
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)
	notificationSvc.Start(context.Background())
	defer notificationSvc.Stop()
	escalationSvc := service.NewEscalationService(escalationRepo, coachingRepo, calculator, studentRepo, notificationSvc, logr)
	caseSvc := service.NewCaseService(caseRepo, studentRepo, notificationSvc, nil, logr)
	violationSvc := service.NewViolationService(violationRepo, typeRepo, studentRepo, calculator,
		escalationSvc, caseSvc, notificationSvc, cfg.Discipline.EditWindow, nil, logr)
	typeSvc := service.NewViolationTypeService(typeRepo, nil, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	// Handlers.
	typeHandler := handler.NewViolationTypeHandler(typeSvc)
	violationHandler := handler.NewViolationHandler(violationSvc, metricsSvc, evidenceStore, signer, cfg.Evidence.MaxFileSizeBytes)
	coachingHandler := handler.NewCoachingHandler(escalationSvc, metricsSvc)
	caseHandler := handler.NewCaseHandler(caseSvc, metricsSvc)
	settingHandler := handler.NewSettingHandler(settingSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

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

	// Evidence downloads authenticate via the signed token itself.
	api.GET("/evidence", violationHandler.DownloadEvidence)

	auth := api.Group("", middleware.JWT(tokenSvc))

	catalogAdmin := middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor, models.RoleStudentAffairs)
	auth.GET("/violation-types", typeHandler.List)
	auth.GET("/violation-types/:id", typeHandler.Get)
	auth.POST("/violation-types", catalogAdmin, typeHandler.Create)
	auth.PUT("/violation-types/:id", catalogAdmin, typeHandler.Update)
	auth.GET("/violation-types/:id/rules", typeHandler.ListRules)
	auth.POST("/violation-types/:id/rules", catalogAdmin, typeHandler.AddRule)
	auth.PUT("/frequency-rules/:ruleId", catalogAdmin, typeHandler.UpdateRule)

	auth.GET("/violations", violationHandler.List)
	auth.POST("/violations", violationHandler.Record)
	auth.GET("/violations/:id", violationHandler.Get)
	auth.PUT("/violations/:id", violationHandler.Update)
	auth.DELETE("/violations/:id", violationHandler.Delete)
	auth.POST("/violations/:id/evidence", violationHandler.UploadEvidence)
	auth.GET("/violations/:id/evidence-url", violationHandler.EvidenceURL)

	auth.GET("/students/:id/points", violationHandler.StudentPoints)
	auth.GET("/students/:id/escalation", coachingHandler.Evaluate)
	auth.POST("/students/:id/escalation/sync", coachingHandler.Sync)

	auth.GET("/coaching", coachingHandler.List)
	auth.POST("/coaching/:id/start", coachingHandler.Start)
	auth.POST("/coaching/:id/complete", coachingHandler.Complete)

	auth.GET("/cases", caseHandler.List)
	auth.POST("/cases", caseHandler.Create)
	auth.GET("/cases/:id", caseHandler.Get)
	auth.PUT("/cases/:id", caseHandler.Update)
	auth.DELETE("/cases/:id", caseHandler.Delete)
	auth.POST("/cases/:id/approve", caseHandler.Approve)
	auth.POST("/cases/:id/reject", caseHandler.Reject)
	auth.POST("/cases/:id/start", caseHandler.Start)
	auth.POST("/cases/:id/complete", caseHandler.Complete)

	settingsAdmin := middleware.RequireRoles(models.RoleAdmin, models.RoleStudentAffairs)
	auth.GET("/settings", settingHandler.List)
	auth.GET("/settings/:key", settingHandler.Get)
	auth.GET("/settings/:key/history", settingHandler.History)
	auth.PUT("/settings/bulk", settingsAdmin, settingHandler.BulkUpdate)
	auth.PUT("/settings/:key", settingsAdmin, settingHandler.Update)
	auth.POST("/settings/reset", settingsAdmin, settingHandler.Reset)

	auth.GET("/admin/metrics", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
