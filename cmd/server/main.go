package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lectern-backend/internal/config"
	"lectern-backend/internal/database"
	"lectern-backend/internal/handlers"
	"lectern-backend/internal/lecture"
	"lectern-backend/internal/logger"
	"lectern-backend/internal/middleware"
	"lectern-backend/internal/repository"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/router"
	"lectern-backend/internal/services"
	"lectern-backend/internal/websocket"
	"lectern-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	defer log.Sync()

	log.Info("🚀 Starting Lectern Backend...")
	log.Info("✓ Environment variables loaded", zap.String("env", cfg.Env))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ──── Step 2: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("✗ Redis connection failed", zap.Error(err))
	}
	defer redisClients.Close()
	log.Info("✓ Redis connected")

	// ──── Step 3: Initialize Gemini Clients ────
	fileExtractService := services.NewFileExtractService(0)

	geminiService, err := services.NewGeminiService(
		ctx,
		cfg.GeminiAPIKey,
		cfg.Models,
		cfg.GeminiConcurrentReqs,
		fileExtractService,
		log.Named("gemini"),
	)
	if err != nil {
		log.Fatal("✗ Gemini client initialization failed", zap.Error(err))
	}
	defer geminiService.Close()

	studioService, err := services.NewStudioService(ctx, cfg, log.Named("studio"))
	if err != nil {
		log.Fatal("✗ GenAI client initialization failed", zap.Error(err))
	}

	keySelector := services.NewEnvSelector(".env", cfg.GeminiAPIKey, func(ctx context.Context, key string) error {
		if err := geminiService.Rebind(ctx, key); err != nil {
			return err
		}
		return studioService.Rebind(ctx, key)
	}, log.Named("credentials"))

	if keySelector.HasSelectedKey(ctx) {
		log.Info("✓ Gemini clients initialized")
	} else {
		log.Warn("⚠ No API key selected; generation is disabled until POST /api/v1/credentials/select")
	}

	caller := retry.New(log.Named("retry"))
	caller.MaxAttempts = cfg.RetryMaxAttempts
	caller.InitialDelay = cfg.RetryInitialDelay

	assembler := lecture.NewAssembler(geminiService, studioService, caller, log.Named("lecture"))

	// ──── Step 4: Initialize Session Store ────
	sessionRepo := repository.NewSessionRepo(redisClients.Cache, cfg.SessionTTL)
	publisher := websocket.NewPublisher(redisClients.Cache)

	// ──── Step 5: Start Job Worker Pool ────
	workerPool := worker.NewPool(
		redisClients.Queue,
		assembler,
		sessionRepo,
		publisher,
		log.Named("worker"),
		cfg.WorkerCount,
	)
	workerPool.Start(ctx)
	log.Info("✓ Worker pool started", zap.Int("workers", cfg.WorkerCount))

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, log.Named("ws"))
	log.Info("✓ WebSocket hub started")

	// ──── Step 7: Initialize Handlers ────
	queue := worker.NewQueue(redisClients.Queue)
	h := router.Handlers{
		Session:     handlers.NewSessionHandler(sessionRepo, queue, wsHub, cfg.MaxUploadBytes, log.Named("http")),
		Lecture:     handlers.NewLectureHandler(sessionRepo, assembler, queue, publisher, cfg.MaxUploadBytes, log.Named("http")),
		Chat:        handlers.NewChatHandler(sessionRepo, geminiService, caller, cfg.MaxUploadBytes, log.Named("http")),
		Video:       handlers.NewVideoHandler(studioService, keySelector, caller, log.Named("http")),
		Credentials: handlers.NewCredentialsHandler(keySelector, log.Named("http")),
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, log.Named("ratelimit"))
	go limiter.Run(ctx)

	// ──── Step 8: Start HTTP Server ────
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router.New(h, limiter, cfg.FrontendURL, log.Named("http")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)

		wsHub.Close()
		stop()
		workerPool.Stop()
	}()

	log.Info(fmt.Sprintf("✓ Lectern Backend ready on http://localhost:%s", cfg.Port))
	log.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server error", zap.Error(err))
	}
	<-done
	log.Info("✓ Shutdown complete")
}
