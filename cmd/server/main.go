// Command server starts the IELTS writing coach HTTP API.
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

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai/primary"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai/secondary"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/auth"
	httpserver "github.com/fairyhunter13/ielts-writing-coach/internal/adapter/httpserver"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ielts-writing-coach/internal/app"
	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/events"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/fallback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/seed"
	"github.com/fairyhunter13/ielts-writing-coach/internal/service/inflight"
	"github.com/fairyhunter13/ielts-writing-coach/internal/service/ratelimiter"
	"github.com/fairyhunter13/ielts-writing-coach/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infra: DB pool and schema
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("op=main.run: db connect: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("op=main.run: %w", err)
	}

	subsRepo := postgres.NewSubmissionRepo(pool)
	questionsRepo := postgres.NewQuestionRepo(pool)

	if cfg.QuestionsSeedFile != "" {
		n, err := seed.SeedFile(ctx, questionsRepo, cfg.QuestionsSeedFile, seed.Options{})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			slog.Warn("questions seed file missing", slog.String("path", cfg.QuestionsSeedFile))
		case err != nil:
			return fmt.Errorf("op=main.run: %w", err)
		default:
			slog.Info("questions seeded", slog.Int("count", n))
		}
	}

	// Optional Redis shared by the guard, the budget and the auth cache.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("op=main.run: redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
	}

	var authenticator domain.Authenticator
	if cfg.AuthURL != "" {
		authenticator = auth.NewCache(auth.NewClient(cfg.AuthURL, cfg.AuthAPIKey), rdb, cfg.AuthCacheTTL)
	} else if !cfg.IsDev() {
		return fmt.Errorf("op=main.run: %w: AUTH_URL is required outside dev", domain.ErrInvalidArgument)
	}

	// Providers
	gen := fallback.NewGenerator(fallback.NewSynonymEnhancer(nil))
	var primaryProvider domain.ChatProvider
	if cfg.PrimaryAPIKey != "" {
		primaryProvider = ai.NewCircuitBreaker("primary", primary.New(cfg), cfg.PrimaryBreakerFailures, cfg.PrimaryBreakerCooldown)
	} else if cfg.IsDev() {
		slog.Warn("PRIMARY_API_KEY not set, using the stub provider")
		primaryProvider = stub.New(500 * time.Millisecond)
	} else {
		return fmt.Errorf("op=main.run: %w: PRIMARY_API_KEY is required outside dev", domain.ErrInvalidArgument)
	}
	var secondaryProvider domain.ChatProvider
	if cfg.SecondaryEnabled() {
		secondaryProvider = secondary.New(cfg, gen)
	}

	// Events: selections stay in process, submission changes go to the broker.
	bus := events.NewBus()
	selections := events.NewSelectionStore(bus)
	var broker app.Pinger
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			return fmt.Errorf("op=main.run: %w", err)
		}
		defer func() { _ = producer.Close() }()
		unsubscribe := events.ForwardSubmissions(bus, producer)
		defer unsubscribe()
		broker = producer
	}
	// Drain async handlers before the producer closes.
	defer bus.Wait()

	analyze := usecase.NewAnalyzeService(subsRepo, questionsRepo, primaryProvider, secondaryProvider, feedback.NewParser(gen))
	analyze.Tokens = tokencount.DefaultCounter
	analyze.Model = cfg.PrimaryModel
	analyze.MaxTokens = cfg.EssayMaxTokens
	analyze.Guard = inflight.New(rdb, cfg.AnalysisLockTTL)
	analyze.Timeout = cfg.AnalysisDeadline()
	if budget := ratelimiter.NewBucketConfigFromPerHour(cfg.AnalysesPerHour); budget.Enabled() {
		analyze.Budget = ratelimiter.New(rdb, budget)
	}
	analyze.Selections = selections
	analyze.Bus = bus

	submissions := usecase.NewSubmissionService(subsRepo, bus)
	questions := usecase.NewQuestionService(questionsRepo, bus, cfg.QuestionsSeedFile)

	cleanup := postgres.NewCleanupService(pool, cfg.SubmissionRetentionDays)
	if cleanup.Enabled() {
		go cleanup.RunPeriodic(ctx, 24*time.Hour)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.SubmissionRetentionDays))
	}

	var redisProbe app.RedisClient
	if rdb != nil {
		redisProbe = rdb
	}
	srv := httpserver.NewServer(cfg, analyze, submissions, questions, app.BuildReadinessChecks(pool, redisProbe, broker)...)
	handler := app.BuildRouter(cfg, srv, authenticator)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("op=main.run: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", slog.Any("error", err))
	}
	return nil
}
