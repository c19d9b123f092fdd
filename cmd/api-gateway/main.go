package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/change-desk-api/api/swagger"
	"github.com/noah-isme/change-desk-api/internal/handler"
	"github.com/noah-isme/change-desk-api/internal/middleware"
	"github.com/noah-isme/change-desk-api/internal/repository"
	"github.com/noah-isme/change-desk-api/internal/service"
	"github.com/noah-isme/change-desk-api/pkg/cache"
	"github.com/noah-isme/change-desk-api/pkg/config"
	"github.com/noah-isme/change-desk-api/pkg/database"
	"github.com/noah-isme/change-desk-api/pkg/export"
	"github.com/noah-isme/change-desk-api/pkg/logger"
	"github.com/noah-isme/change-desk-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/change-desk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/change-desk-api/pkg/middleware/requestid"
	"github.com/noah-isme/change-desk-api/pkg/storage"
)

// @title Change Desk API
// @version 1.0.0
// @description Change request approval lifecycle service
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

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, request cache disabled", "error", err)
			cfg.Cache.Enabled = false
		} else {
			defer redisClient.Close() //nolint:errcheck
			cacheRepo = repository.NewCacheRepository(redisClient)
		}
	}

	blobs, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init attachment storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewChangeRequestRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	requestSvc := service.NewRequestService(requestRepo, attachmentRepo, blobs, cacheRepo, userRepo, logr, service.RequestServiceConfig{
		CacheEnabled: cfg.Cache.Enabled,
		CacheTTL:     cfg.Cache.TTL,
	})

	attachmentSvc := service.NewAttachmentService(attachmentRepo, requestRepo, blobs, signer, userRepo, logr, service.AttachmentServiceConfig{
		MaxFileSize: cfg.Attachments.MaxFileSizeBytes,
		APIPrefix:   cfg.APIPrefix,
	})

	exportSvc := service.NewExportService(requestRepo, export.NewPDFExporter(), logr)

	metricsSvc := service.NewMetricsService()

	var notifySvc *service.NotificationService
	if cfg.Notifications.Enabled {
		smtp, err := mailer.New(cfg.SMTP)
		if err != nil {
			logr.Sugar().Warnw("smtp not configured, approver notifications disabled", "error", err)
		} else {
			notifySvc = service.NewNotificationService(smtp, metricsSvc, logr, service.NotificationServiceConfig{
				Enabled:     true,
				CC:          cfg.Notifications.CC,
				Workers:     cfg.Notifications.Workers,
				MaxRetries:  cfg.Notifications.MaxRetries,
				RetryDelay:  cfg.Notifications.RetryDelay,
				SendTimeout: cfg.Notifications.SendTimeout,
			})
		}
	}

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewChangeRequestHandler(requestSvc, exportSvc, notifySvc, metricsSvc)
	attachmentHandler := handler.NewAttachmentHandler(attachmentSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.Timeout(cfg.Timeouts.Request))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.Timeouts.Database)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/change-requests", requestHandler.List)
		protected.POST("/change-requests", requestHandler.Create)
		protected.GET("/change-requests/:id", requestHandler.Get)
		protected.PUT("/change-requests/:id", requestHandler.Update)
		protected.DELETE("/change-requests/:id", requestHandler.Delete)
		protected.POST("/change-requests/:id/transition", requestHandler.Transition)
		protected.GET("/change-requests/:id/export", requestHandler.Export)

		protected.GET("/change-requests/:id/attachments", attachmentHandler.List)
		protected.POST("/change-requests/:id/attachments", attachmentHandler.Upload)
		protected.GET("/attachments/:id/url", attachmentHandler.GetDownloadURL)
		protected.DELETE("/attachments/:id", attachmentHandler.Delete)
	}
	// Download authenticates via the signed token itself.
	api.GET("/attachments/:id/download", attachmentHandler.Download)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifySvc.Start(rootCtx)
	defer notifySvc.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
