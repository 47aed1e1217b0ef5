package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/lms-core-api/internal/handler"
	"github.com/noah-isme/lms-core-api/internal/middleware"
	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/recurrence"
	"github.com/noah-isme/lms-core-api/internal/repository"
	"github.com/noah-isme/lms-core-api/internal/scheduler"
	"github.com/noah-isme/lms-core-api/internal/service"
	"github.com/noah-isme/lms-core-api/pkg/cache"
	"github.com/noah-isme/lms-core-api/pkg/config"
	"github.com/noah-isme/lms-core-api/pkg/database"
	"github.com/noah-isme/lms-core-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-core-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-core-api/pkg/middleware/requestid"
)

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

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid organization timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	eventRepo := repository.NewEventRepository(db)
	slotRepo := repository.NewLessonSlotRepository(db)
	taskRepo := repository.NewCuratorTaskRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	expander := service.NewEventExpander(loc)
	eventSvc := service.NewEventService(eventRepo, groupRepo, slotRepo, cacheRepo, expander, validate, logr, service.EventServiceConfig{
		CacheTTL:    cfg.Calendar.CacheTTL,
		HorizonDays: cfg.Calendar.HorizonDays,
	})
	taskSvc := service.NewCuratorTaskService(taskRepo, groupRepo, loc, validate, logr)
	generatorSvc := service.NewTaskGeneratorService(taskRepo, groupRepo, recurrence.NewProjector(loc), metricsSvc, logr)

	driver := scheduler.NewDriver(generatorSvc.EnsureWeek, metricsSvc, logr, scheduler.Config{
		Interval: cfg.Scheduler.CheckInterval,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	registerRoutes(r, cfg, authSvc, eventSvc, taskSvc, metricsSvc)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		if err := driver.Start(); err != nil {
			logr.Sugar().Fatalw("failed to start scheduler", "error", err)
		}
	} else {
		logr.Info("task scheduler disabled")
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Scheduler.Enabled {
		if err := driver.Stop(shutdownCtx); err != nil {
			logr.Sugar().Warnw("scheduler shutdown incomplete", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
}

func registerRoutes(r *gin.Engine, cfg *config.Config, authSvc *service.AuthService, eventSvc *service.EventService, taskSvc *service.CuratorTaskService, metricsSvc *service.MetricsService) {
	authHandler := handler.NewAuthHandler(authSvc)
	eventHandler := handler.NewEventHandler(eventSvc)
	taskHandler := handler.NewCuratorTaskHandler(taskSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("", middleware.JWT(authSvc))

	events := authed.Group("/events")
	events.GET("/my", eventHandler.MyEvents)
	events.GET("/upcoming", eventHandler.Upcoming)
	events.GET("/calendar", eventHandler.Calendar)
	events.POST("/materialize",
		middleware.RequireRoles(models.RoleTeacher, models.RoleCurator, models.RoleHeadCurator, models.RoleAdmin),
		eventHandler.Materialize)

	tasks := authed.Group("/curator-tasks")
	tasks.GET("/my",
		middleware.RequireRoles(models.RoleCurator, models.RoleHeadCurator, models.RoleAdmin),
		taskHandler.MyTasks)
	tasks.PATCH("/:id/status",
		middleware.RequireRoles(models.RoleCurator, models.RoleHeadCurator, models.RoleAdmin),
		taskHandler.UpdateStatus)
	tasks.POST("/manual",
		middleware.RequireRoles(models.RoleHeadCurator, models.RoleAdmin),
		taskHandler.CreateManual)
	tasks.POST("/onboarding",
		middleware.RequireRoles(models.RoleHeadCurator, models.RoleAdmin),
		taskHandler.Onboarding)

	templates := authed.Group("/curator-tasks/templates",
		middleware.RequireRoles(models.RoleHeadCurator, models.RoleAdmin))
	templates.GET("", taskHandler.ListTemplates)
	templates.GET("/:id", taskHandler.GetTemplate)
	templates.POST("", taskHandler.CreateTemplate)
	templates.PUT("/:id", taskHandler.UpdateTemplate)
	templates.DELETE("/:id", taskHandler.DeleteTemplate)
}
