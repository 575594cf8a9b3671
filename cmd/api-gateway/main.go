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

	_ "github.com/siteops/site-entry-api/api/swagger"
	"github.com/siteops/site-entry-api/internal/handler"
	"github.com/siteops/site-entry-api/internal/middleware"
	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/internal/repository"
	"github.com/siteops/site-entry-api/internal/service"
	"github.com/siteops/site-entry-api/pkg/cache"
	"github.com/siteops/site-entry-api/pkg/config"
	"github.com/siteops/site-entry-api/pkg/database"
	"github.com/siteops/site-entry-api/pkg/logger"
	corsmiddleware "github.com/siteops/site-entry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/siteops/site-entry-api/pkg/middleware/requestid"
	"github.com/siteops/site-entry-api/pkg/storage"
)

// @title Site Entry API
// @version 1.0.0
// @description Cross-company site entry approvals and deployment lifecycle
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, events and caching disabled", "error", err)
		redisClient = nil
	}

	docStore, err := storage.NewLocalStorage(cfg.WorkPlans.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.WorkPlans.SignedURLSecret, cfg.WorkPlans.SignedURLTTL)

	// Repositories.
	entryRequests := repository.NewEntryRequestRepository(db)
	deployments := repository.NewDeploymentRepository(db)
	companies := repository.NewCompanyRepository(db)
	identities := repository.NewIdentityRepository(db)
	users := repository.NewUserRepository(db)
	requestCache := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	eventSvc := service.NewEventService(redisClient, cfg.Events, logr,
		service.WithEventMetrics(metricsSvc))
	workPlanSvc := service.NewWorkPlanService(docStore, signer, cfg.WorkPlans, users, logr)
	authSvc := service.NewAuthService(users, cfg.JWT, logr)
	approvalSvc := service.NewApprovalService(entryRequests, identities, companies, workPlanSvc, eventSvc, users, logr,
		service.WithRequestCache(requestCache),
		service.WithApprovalMetrics(metricsSvc))
	deploymentSvc := service.NewDeploymentService(deployments, entryRequests, eventSvc, users, logr,
		service.WithDeploymentMetrics(metricsSvc))
	exportSvc := service.NewExportService(deploymentSvc, users, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eventSvc.Start(rootCtx)
	defer eventSvc.Stop()

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	entryRequestHandler := handler.NewEntryRequestHandler(approvalSvc)
	deploymentHandler := handler.NewDeploymentHandler(deploymentSvc, exportSvc)
	workPlanHandler := handler.NewWorkPlanHandler(workPlanSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

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
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	requests := protected.Group("/entry-requests")
	{
		requests.POST("", middleware.RequireCompanyType(models.CompanyTypeOwner), entryRequestHandler.Submit)
		requests.GET("", entryRequestHandler.List)
		requests.GET("/:id", entryRequestHandler.Get)
		requests.POST("/:id/intermediate-approval", middleware.RequireCompanyType(models.CompanyTypeIntermediate), entryRequestHandler.IntermediateApprove)
		requests.POST("/:id/intermediate-rejection", middleware.RequireCompanyType(models.CompanyTypeIntermediate), entryRequestHandler.IntermediateReject)
		requests.POST("/:id/final-approval", middleware.RequireCompanyType(models.CompanyTypeFinal), entryRequestHandler.FinalApprove)
		requests.POST("/:id/final-rejection", middleware.RequireCompanyType(models.CompanyTypeFinal), entryRequestHandler.FinalReject)
	}

	deploymentsGroup := protected.Group("/deployments")
	{
		deploymentsGroup.POST("", middleware.RequireCompanyType(models.CompanyTypeFinal), deploymentHandler.Create)
		deploymentsGroup.GET("", deploymentHandler.List)
		deploymentsGroup.GET("/export", deploymentHandler.Export)
		deploymentsGroup.GET("/:id", deploymentHandler.Get)
		deploymentsGroup.POST("/:id/extend", middleware.RequireCompanyType(models.CompanyTypeFinal), deploymentHandler.Extend)
		deploymentsGroup.POST("/:id/change-worker", middleware.RequireCompanyType(models.CompanyTypeFinal), deploymentHandler.ChangeWorker)
		deploymentsGroup.POST("/:id/complete", middleware.RequireCompanyType(models.CompanyTypeFinal), deploymentHandler.Complete)
	}

	workPlans := protected.Group("/work-plans")
	{
		workPlans.POST("", middleware.RequireCompanyType(models.CompanyTypeIntermediate), workPlanHandler.Upload)
		workPlans.GET("/signed-url", workPlanHandler.SignedURL)
	}
	// Download authenticates through the signed token itself.
	api.GET("/work-plans/download", workPlanHandler.Download)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
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
