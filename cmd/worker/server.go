package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/config"
	"owlfenc-backend/internal/infrastructure/queue"
	"owlfenc-backend/internal/shared"
)

// asynqServer wraps asynq.Server
type asynqServer struct {
	*asynq.Server
}

// setupAsynqServer creates the Asynq server and starts it in the background
func setupAsynqServer(cfg *config.Config, handlers *HandlerRegistry) *asynqServer {
	mux := asynq.NewServeMux()
	handlers.RegisterHandlers(mux)

	concurrency := cfg.Job.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Queues: map[string]int{
				shared.QueueHigh:    20,
				shared.QueueDefault: 10,
				shared.QueueLow:     5,
			},
			Concurrency: concurrency,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Error().
					Err(err).
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Msg("[Asynq] Task failed")
			}),
		},
	)

	go func() {
		log.Info().Int("concurrency", concurrency).Msg("[Worker] Starting...")
		if err := srv.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("[Worker] Failed")
		}
	}()

	return &asynqServer{Server: srv}
}

// Shutdown waits for in-flight tasks up to the server's shutdown timeout
func (s *asynqServer) Shutdown() {
	log.Info().Msg("[Worker] Shutting down...")
	s.Server.Shutdown()
	log.Info().Msg("[Worker] Gracefully stopped")
}
