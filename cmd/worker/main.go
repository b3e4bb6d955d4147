package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/pkg/container"
	"owlfenc-backend/pkg/logger"
)

func main() {
	envErr := godotenv.Load()
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	logger.Init(env, "contract-worker")
	if envErr != nil {
		log.Info().Msg("No .env file found, using system environment variables")
	}

	// Initialize container
	c, err := container.NewContainer()
	if err != nil {
		log.Fatal().Err(err).Msg("[Container] Failed to initialize")
	}
	defer c.Cleanup()

	// The worker has nothing to do without the queue
	if err := checkRedis(c); err != nil {
		log.Fatal().Err(err).Msg("[Startup] Health check failed")
	}

	if c.DB == nil {
		log.Warn().Msg("[Startup] Worker is using the in-memory store and cannot see contracts written by the API")
	}

	handlers := initializeHandlers(c)
	srv := setupAsynqServer(c.Config, handlers)
	scheduler := setupScheduler(c.Config)

	go startHealthCheckServer(c)

	waitForShutdown(srv, scheduler)
}

func waitForShutdown(srv *asynqServer, scheduler *asynqScheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("[Shutdown] Gracefully stopping...")
	scheduler.Shutdown()
	srv.Shutdown()
	log.Info().Msg("[Shutdown] Stopped")
}
