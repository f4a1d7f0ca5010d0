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

	"github.com/Freeeeeet/consult_booking/internal/app"
	"github.com/Freeeeeet/consult_booking/internal/cache"
	"github.com/Freeeeeet/consult_booking/internal/config"
	"github.com/Freeeeeet/consult_booking/internal/controller/rest"
	"github.com/Freeeeeet/consult_booking/internal/controller/telegram"
	"github.com/Freeeeeet/consult_booking/internal/gateway/calendar"
	"github.com/Freeeeeet/consult_booking/internal/gateway/crm"
	"github.com/Freeeeeet/consult_booking/internal/repository"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"github.com/Freeeeeet/consult_booking/internal/service"
	"github.com/Freeeeeet/consult_booking/migrations"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	syncTaskTimeout = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := cfg.BusinessRules()
	if err != nil {
		return err
	}

	logger.Info("Starting consultation booking server",
		zap.String("environment", cfg.Environment),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("timezone", rules.Location.String()),
	)

	// База данных и миграции
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	migrator, err := app.NewMigrator(pool, migrations.FS, logger)
	if err != nil {
		return err
	}
	err = migrator.Run(ctx)
	migrator.Close()
	if err != nil {
		return err
	}

	// Кэш
	var bookingCache cache.Cache = cache.Nop{}
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		bookingCache = redisCache
		logger.Info("Redis cache enabled", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR is empty, caching disabled")
	}

	// Интеграции
	registry := resilience.NewRegistry()
	credentialChecks := make(map[string]app.CredentialChecker)

	var calendarGateway service.CalendarGateway
	if cfg.GoogleCredentialsFile != "" {
		client := resilience.NewClient(integrationSettings(cfg, "calendar"), logger)
		gw, err := calendar.NewGoogleGateway(ctx, cfg.GoogleCalendarID, client, logger,
			option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		if err != nil {
			return err
		}
		registry.Register(client)
		calendarGateway = gw
		credentialChecks["calendar"] = gw
	} else {
		logger.Warn("GOOGLE_CREDENTIALS_FILE is empty, calendar integration disabled")
	}

	var crmGateway service.CRMGateway
	if cfg.HubSpotToken != "" {
		client := resilience.NewClient(integrationSettings(cfg, "crm"), logger)
		httpClient := &http.Client{Timeout: cfg.IntegrationTimeout}
		gw := crm.NewHubSpotGateway(cfg.HubSpotBaseURL, cfg.HubSpotToken, httpClient, client, bookingCache, logger)
		registry.Register(client)
		crmGateway = gw
		credentialChecks["crm"] = gw
	} else {
		logger.Warn("HUBSPOT_TOKEN is empty, CRM integration disabled")
	}

	if err := app.VerifyIntegrations(ctx, credentialChecks, logger); err != nil {
		return err
	}

	// Telegram: уведомления и админские команды
	var (
		botInstance *bot.Bot
		notifier    service.Notifier
		digest      app.DigestNotifier
	)
	if cfg.TelegramToken != "" {
		botInstance, err = bot.New(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		n := telegram.NewNotifier(botInstance, cfg.TelegramAdminChatID, rules.Location, logger)
		notifier, digest = n, n
	} else {
		logger.Warn("TELEGRAM_TOKEN is empty, admin notifications disabled")
	}

	// Сервисы
	store := repository.NewBookingRepository(pool)
	availability := service.NewAvailabilityService(rules, store, calendarGateway, bookingCache, logger)
	limiter := service.NewFrequencyLimiter(rules, store, logger)
	syncService := service.NewSyncService(rules, store, calendarGateway, crmGateway, notifier, logger)

	queue := service.NewSyncQueue(syncService, cfg.SyncWorkers, cfg.SyncQueueSize, syncTaskTimeout, logger)
	queue.Start(ctx)

	bookings := service.NewBookingService(rules, store, availability, limiter, calendarGateway, queue, logger)

	scheduler := app.NewScheduler(bookings, digest, logger)
	scheduler.Start(ctx)

	if botInstance != nil {
		controller := telegram.NewBotController(botInstance, bookings, registry, cfg.TelegramAdminChatID, rules.Location, logger)
		if err := controller.RegisterHandlers(ctx); err != nil {
			logger.Warn("Failed to register bot commands", zap.Error(err))
		}
		go controller.Start(ctx)
	}

	// HTTP
	router := rest.NewRouter(rest.Deps{
		Bookings:     bookings,
		Availability: availability,
		Registry:     registry,
		Checks: map[string]rest.Pinger{
			"database": pool,
			"cache":    bookingCache,
		},
		Logger: logger,
	}, rest.Options{
		AdminToken:         cfg.AdminAPIToken,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AllowedOrigins:     cfg.AllowedOrigins(),
		Production:         cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-serverErr:
		if serveErr != nil {
			serveErr = fmt.Errorf("http server: %w", serveErr)
		}
	}

	// Сначала перестаём принимать запросы, затем дожидаемся фоновых задач
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	scheduler.Stop()
	queue.Stop()

	logger.Info("Pending sync tasks drained")
	return serveErr
}

func integrationSettings(cfg *config.Config, name string) resilience.Settings {
	return resilience.Settings{
		Name:             name,
		Timeout:          cfg.IntegrationTimeout,
		MaxRetries:       cfg.RetryMax,
		BaseDelay:        cfg.RetryBaseDelay,
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}
}
