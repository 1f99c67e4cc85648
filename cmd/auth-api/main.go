package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/auth-api/api/swagger"
	"github.com/noah-isme/auth-api/internal/events"
	"github.com/noah-isme/auth-api/internal/handler"
	internalmiddleware "github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/repository"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/pkg/cache"
	"github.com/noah-isme/auth-api/pkg/config"
	"github.com/noah-isme/auth-api/pkg/database"
	"github.com/noah-isme/auth-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/auth-api/pkg/middleware/requestid"
)

// @title Auth API
// @version 1.0.0
// @description Registration, login and JWT access/refresh token lifecycle with role based access control
// @BasePath /
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

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, role cache disabled", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	userRepo := repository.NewUserRepository(db, metrics)
	tokenRepo := repository.NewRefreshTokenRepository(db, metrics)
	cacheRepo := repository.NewCacheRepository(redisClient, "auth-api:")

	tokens, err := service.NewTokenService(tokenRepo, service.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
	}, logr.Named("tokens"), metrics)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
	}
	dispatcher := events.NewDispatcher(publisher, events.DispatcherConfig{
		Workers:    cfg.Events.Workers,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
	}, logr.Named("events"))
	dispatcher.Start(context.Background())

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Redis.RoleTTL, logr, redisClient != nil)
	roles := service.NewRoleResolver(userRepo, cacheSvc, cfg.Redis.RoleTTL, logr)
	authSvc := service.NewAuthService(userRepo, tokens, service.NewBcryptHasher(0), roles, dispatcher, validator.New(), logr.Named("auth"))

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.Reaper.Enabled {
		reaper := service.NewTokenReaper(tokens, cfg.Reaper.Retention, logr.Named("reaper"))
		if err := reaper.Register(scheduler, cfg.Reaper.Schedule); err != nil {
			return err
		}
	}
	scheduler.Start()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	handler.RegisterRoutes(r, cfg.APIPrefix, internalmiddleware.Authenticate(tokens, userRepo), handler.Handlers{
		Auth:    handler.NewAuthHandler(authSvc),
		Access:  handler.NewAccessHandler(),
		Metrics: handler.NewMetricsHandler(metrics, userRepo),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	if err := scheduler.Shutdown(); err != nil {
		logr.Warn("scheduler shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logr.Warn("event dispatcher shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
	return nil
}
