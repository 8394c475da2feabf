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
	"go.uber.org/zap"

	_ "github.com/noah-isme/counseling-booking-api/api/swagger"
	"github.com/noah-isme/counseling-booking-api/internal/handler"
	"github.com/noah-isme/counseling-booking-api/internal/repository"
	"github.com/noah-isme/counseling-booking-api/internal/service"
	"github.com/noah-isme/counseling-booking-api/migrations"
	"github.com/noah-isme/counseling-booking-api/pkg/cache"
	"github.com/noah-isme/counseling-booking-api/pkg/config"
	"github.com/noah-isme/counseling-booking-api/pkg/database"
	"github.com/noah-isme/counseling-booking-api/pkg/logger"
)

// @title Counseling Booking API
// @version 1.0.0
// @description Time slot registry and appointment booking engine for student counseling.
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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db, migrations.FS, ".", logr)
		if err != nil {
			return err
		}
		if err := migrator.Up(ctx); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Booking.AvailabilityCacheTTL, logr, redisClient != nil)

	txRunner := repository.NewTxRunner(db)
	slotRepo := repository.NewTimeSlotRepository(db)
	apptRepo := repository.NewAppointmentRepository(db)
	userRepo := repository.NewUserRepository(db)

	sinks := []service.NotificationSink{service.NewLogSink(logr)}
	if redisClient != nil {
		sinks = append(sinks, service.NewRedisSink(cacheRepo, cfg.Notifications.RedisChannel))
	}
	notifier := service.NewNotificationService(userRepo, metrics, cfg.Notifications, logr, sinks...)
	notifier.Start(ctx)
	defer notifier.Stop()

	registry := service.NewTimeSlotService(slotRepo, txRunner, cacheSvc, metrics, cfg.Booking, validate, logr)
	engine := service.NewBookingService(apptRepo, registry, txRunner, notifier, metrics, validate, logr)
	tokens := service.NewTokenService(cfg.JWT)

	if cfg.Sweeper.Enabled {
		sweeper := service.NewSlotSweeper(registry, cfg.Sweeper.Interval, logr)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = cache.Probe{Client: redisClient}
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logr,
		Tokens:         tokens,
		Metrics:        handler.NewMetricsHandler(metrics, deps),
		Observer:       metrics,
		Slots:          handler.NewSlotHandler(registry),
		Appointments:   handler.NewAppointmentHandler(engine),
		Extra: func(r *gin.Engine) {
			if cfg.Env != config.EnvProduction {
				r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
			}
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
