package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bookforge/internal/adapter/repo"
	"bookforge/internal/http/handlers"
	"bookforge/internal/http/httpapi"
	"bookforge/internal/infra"
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
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: database connection failed")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	defer redisClient.Close()

	store, err := infra.NewBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: object store setup failed")
	}

	progressStore := progress.NewStore(progress.NewRedisKV(redisClient), logger)
	queueOpts := queuing.Options{PollInterval: cfg.WorkerPollInterval, MaxDeliveries: cfg.QueueMaxDeliveries}
	analysisQueue := queuing.NewRedisQueue(redisClient, queuing.AnalysisQueue, logger, queueOpts)
	assetQueue := queuing.NewRedisQueue(redisClient, queuing.AssetQueue, logger, queueOpts)

	submitter := pipeline.NewSubmitter(store, progressStore, analysisQueue, assetQueue, logger)
	submitter.SetManuscripts(repo.NewManuscriptRepository(dbpool))
	costs := repo.NewCostRepository(dbpool)

	app := handlers.NewApp(submitter, progressStore, store, costs, logger)
	router := httpapi.NewRouter(app, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
