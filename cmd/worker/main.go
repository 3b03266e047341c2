package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookforge/internal/adapter/repo"
	"bookforge/internal/agents"
	"bookforge/internal/infra"
	"bookforge/internal/llm"
	"bookforge/internal/pipeline"
	"bookforge/internal/progress"
	"bookforge/internal/queuing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: database connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer redisClient.Close()

	store, err := infra.NewBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: object store setup failed")
	}

	client, err := llm.New(llm.Options{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Version:     cfg.LLMVersion,
		MaxAttempts: cfg.LLMMaxRetry,
		HTTPClient:  &http.Client{Timeout: 120 * time.Second},
		Costs:       repo.NewCostRepository(pool),
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: model client setup failed")
	}

	progressStore := progress.NewStore(progress.NewRedisKV(redisClient), logger)
	runner := agents.NewRunner(client, store, logger)
	manuscripts := repo.NewManuscriptRepository(pool)

	queueOpts := queuing.Options{PollInterval: cfg.WorkerPollInterval, MaxDeliveries: cfg.QueueMaxDeliveries}
	analysisQueue := queuing.NewRedisQueue(redisClient, queuing.AnalysisQueue, logger, queueOpts)
	assetQueue := queuing.NewRedisQueue(redisClient, queuing.AssetQueue, logger, queueOpts)

	editorial := pipeline.NewEditorialOrchestrator(runner, store, progressStore, manuscripts, assetQueue, logger)
	assets := pipeline.NewAssetOrchestrator(runner, store, progressStore, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := analysisQueue.Run(ctx, editorial.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: analysis consumer stopped with error")
		}
	}()
	go func() {
		defer wg.Done()
		if err := assetQueue.Run(ctx, assets.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: asset consumer stopped with error")
		}
	}()

	logger.Info().Msg("worker: started")
	wg.Wait()
	logger.Info().Msg("worker: stopped")
}
