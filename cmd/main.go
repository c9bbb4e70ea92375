package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/skill-arena/automation"
	"github.com/Dosada05/skill-arena/brackets"
	"github.com/Dosada05/skill-arena/config"
	"github.com/Dosada05/skill-arena/db"
	"github.com/Dosada05/skill-arena/handlers"
	"github.com/Dosada05/skill-arena/repositories"
	api "github.com/Dosada05/skill-arena/routes"
	"github.com/Dosada05/skill-arena/services"
	"github.com/Dosada05/skill-arena/storage"
	"github.com/Dosada05/skill-arena/verification"
	"github.com/go-chi/chi/v5"
)

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	if err := db.Migrate(dbConn, logger); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database connection established")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Архив завершённых сеток (Cloudflare R2), опционально
	var archiver storage.BracketArchiver
	if cfg.R2Enabled() {
		uploader, err := storage.NewCloudflareR2Uploader(ctx, storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = storage.NewBracketArchiver(uploader, "brackets")
		logger.Info("Cloudflare R2 bracket archive enabled")
	} else {
		logger.Info("R2 credentials not set, bracket archiving disabled")
	}

	// Инициализация WebSocket Hub
	wsHub := brackets.NewHub(logger)
	go wsHub.Run(ctx)
	logger.Info("WebSocket Hub started")

	// Инициализация репозиториев
	tx := repositories.NewTransactor(dbConn, logger)
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	disputeRepo := repositories.NewPostgresDisputeRepository(dbConn)
	automationRepo := repositories.NewPostgresAutomationRepository(dbConn)
	templateRepo := repositories.NewPostgresTemplateRepository(dbConn)
	challengeRepo := repositories.NewPostgresChallengeRepository(dbConn)
	pricingRepo := repositories.NewPostgresPricingRepository(dbConn)
	fraudRepo := repositories.NewPostgresFraudRepository(dbConn)
	logger.Info("Repositories initialized")

	// Инициализация сервисов
	deps := services.ProgressionDeps{
		Tournaments:  tournamentRepo,
		Participants: participantRepo,
		Matches:      matchRepo,
		Disputes:     disputeRepo,
		Publisher:    wsHub,
		Archiver:     archiver,
		Logger:       logger,
	}
	tournamentService := services.NewTournamentService(tx, tournamentRepo, participantRepo, wsHub, logger)
	bracketService := services.NewBracketService(tx, tournamentRepo, participantRepo, matchRepo, wsHub, logger,
		services.BracketServiceConfig{AllowByes: cfg.BracketAllowByes})
	resultService := services.NewResultService(tx, deps)
	matchService := services.NewMatchService(tx, deps, cfg.SystemUserID,
		time.Duration(cfg.MatchNoShowTimeoutMinutes)*time.Minute)
	logger.Info("Services initialized")

	// Автоматизация
	verifier := verification.NewHTTPVerifier(verification.HTTPVerifierConfig{
		BaseURL: cfg.VerifierBaseURL,
		APIKey:  cfg.VerifierAPIKey,
		RPS:     cfg.VerifierRPS,
		Timeout: cfg.VerifierTimeout,
	})
	if !verifier.Active() {
		logger.Warn("stat verifier not configured, disputes wait for an organizer")
	}
	scheduler := automation.NewScheduler(automationRepo, logger,
		automation.Options{
			Parallel:               cfg.AutomationParallel,
			MaxParallel:            cfg.AutomationMaxParallel,
			JobTimeout:             cfg.AutomationJobTimeout,
			BackoffMax:             cfg.AutomationBackoffMax,
			MaxConsecutiveFailures: cfg.AutomationMaxConsecutiveFailure,
		},
		automation.NewDisputeResolutionJob(disputeRepo, matchService, verifier, automation.DisputeResolutionConfig{
			SystemUserID:  cfg.SystemUserID,
			BatchSize:     cfg.DisputeBatchSize,
			MinConfidence: cfg.DisputeMinConfidence,
		}, logger),
		automation.NewTournamentSchedulerJob(templateRepo, tournamentRepo, tournamentService, cfg.SystemUserID, cfg.PlatformFeeRate, logger),
		automation.NewDynamicPricingJob(pricingRepo, challengeRepo, logger),
		automation.NewFraudDetectionJob(fraudRepo, logger),
		automation.NewMarketMakingJob(challengeRepo, pricingRepo, automation.MarketMakingConfig{
			SystemUserID:     cfg.SystemUserID,
			PopularityWindow: cfg.MarketPopularityWindow,
			PopularGames:     cfg.MarketPopularGames,
			MinOpen:          cfg.MarketMinOpenChallenges,
			MaxPerRun:        cfg.MarketMaxPerRun,
			DefaultEntryFee:  cfg.MarketDefaultEntryFee,
		}, logger),
	)
	go scheduler.Run(ctx, cfg.AutomationPollInterval)

	// Таймауты неявки игроков
	go func() {
		ticker := time.NewTicker(cfg.NoShowPollInterval)
		defer ticker.Stop()
		logger.Info("no-show sweeper started", slog.Duration("interval", cfg.NoShowPollInterval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := matchService.EnforceNoShowTimeouts(ctx, time.Now().UTC())
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Error("no-show sweep failed", slog.Any("error", err))
					}
					continue
				}
				if report.Forfeited > 0 || report.Escalated > 0 {
					logger.Info("no-show sweep finished",
						slog.Int("checked", report.Checked),
						slog.Int("forfeited", report.Forfeited),
						slog.Int("escalated", report.Escalated))
				}
			}
		}
	}()

	// Инициализация обработчиков HTTP
	router := chi.NewRouter()
	api.SetupRoutes(router,
		api.Config{
			JWTSecret:      []byte(cfg.JWTSecretKey),
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AutomationKey:  cfg.AutomationKey,
		},
		api.Handlers{
			Tournament: handlers.NewTournamentHandler(tournamentService, bracketService, matchService),
			Match:      handlers.NewMatchHandler(resultService, matchService),
			Dispute:    handlers.NewDisputeHandler(matchService),
			Admin:      handlers.NewAdminHandler(scheduler),
			WebSocket:  handlers.NewWebSocketHandler(wsHub, bracketService, cfg.CORSAllowedOrigins, logger),
			Health:     handlers.NewHealthHandler(dbConn),
		},
	)
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stop()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
