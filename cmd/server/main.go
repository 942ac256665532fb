package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyteller-server/internal/config"
	"storyteller-server/internal/handler"
	"storyteller-server/internal/repository"
	"storyteller-server/internal/service"
	"storyteller-server/migrations"
	"storyteller-server/pkg/ai"
	"storyteller-server/pkg/logger"
	"storyteller-server/pkg/migration"
)

func main() {
	// .env опционален, в проде переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server terminated with error", zap.Error(err))
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// --- хранилища ---
	var (
		profiles      repository.ProfileRepository
		conversations repository.ConversationRepository
		stories       repository.StoryRepository
	)
	if cfg.UsePostgres() {
		poolCfg, err := pgxpool.ParseConfig(cfg.GetDSN())
		if err != nil {
			return fmt.Errorf("failed to parse database config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		migrator := migration.NewMigrator(migration.Config{
			MigrationsPath: ".",
			MigrationsFS:   migrations.Files,
		}, pool)
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}

		profiles = repository.NewPgProfileRepository(pool, log)
		conversations = repository.NewPgConversationRepository(pool, log)
		stories = repository.NewPgStoryRepository(pool, log)
		log.Info("Using PostgreSQL storage", zap.String("host", cfg.DBHost))
	} else {
		store := repository.NewMemoryStore()
		profiles = store
		conversations = store
		stories = store
		log.Warn("DB_HOST not set, using in-memory storage")
	}

	// --- кэш профилей ---
	if cfg.UseRedis() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		defer redisClient.Close()
		profiles = repository.NewCachedProfileRepository(profiles, redisClient, cfg.ProfileCacheTTL, log)
		log.Info("Profile cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	// --- AI-клиент ---
	aiClient, err := newAIClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}
	log.Info("AI client ready",
		zap.String("provider", cfg.AIProvider),
		zap.String("model", cfg.AIModel))

	// --- сервисы ---
	profiler := service.NewProfiler(aiClient, profiles, log)
	teller := service.NewStoryteller(aiClient, stories, profiler, log)
	judge := service.NewJudge(aiClient, stories, log)
	summarizer := service.NewFeedbackSummarizer(aiClient, stories, log)
	intents := service.NewIntentAnalyzer(aiClient, log)
	dialogue := service.NewDialogueManager(aiClient, log)

	var ageFilter *service.AgeFilter
	if cfg.AgeFilterEnabled {
		ageFilter = service.NewAgeFilter(aiClient, log)
		log.Info("Age filter enabled")
	}

	orchestrator := service.NewOrchestrator(intents, teller, judge, summarizer, profiler, ageFilter,
		conversations, stories, service.OrchestratorConfig{
			EvaluationLimit: cfg.EvaluationLimit,
			AcceptThreshold: cfg.AcceptThreshold,
		}, log)

	// --- HTTP ---
	storyHandler := handler.NewStoryHandler(orchestrator, dialogue, profiler, conversations, cfg.RequestDeadline, log)
	router := handler.NewRouter(storyHandler, cfg.CORSOrigins, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newAIClient(cfg *config.Config) (ai.Client, error) {
	switch cfg.AIProvider {
	case "ollama":
		return ai.NewOllamaClient(ai.Config{
			BaseURL:    cfg.AIBaseURL,
			ModelName:  cfg.AIModel,
			Timeout:    cfg.AITimeout,
			MaxRetries: cfg.AIMaxRetries,
			RetryDelay: cfg.AIRetryDelay,
		})
	default:
		return ai.NewOpenAIClient(ai.Config{
			APIKey:     cfg.AIAPIKey,
			BaseURL:    cfg.AIBaseURL,
			ModelName:  cfg.AIModel,
			Timeout:    cfg.AITimeout,
			MaxRetries: cfg.AIMaxRetries,
			RetryDelay: cfg.AIRetryDelay,
		})
	}
}
