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

	"github.com/rs/zerolog/log"

	"owlfenc-backend/pkg/container"
)

const (
	autoSaveSweepInterval = time.Minute
	poolMonitorInterval   = 30 * time.Second
)

func Serve() {
	// ========================================
	// 1. BUILD DI CONTAINER
	// ========================================
	appContainer, err := container.NewContainer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize container")
	}
	defer appContainer.Cleanup()

	// ========================================
	// 2. BACKGROUND LOOPS
	// ========================================
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go appContainer.AutoSave.Run(bgCtx, autoSaveSweepInterval)
	if appContainer.DB != nil {
		go appContainer.DB.MonitorPoolHealth(bgCtx, poolMonitorInterval)
	}

	// ========================================
	// 3. SETUP ROUTER + HTTP SERVER
	// ========================================
	router := SetupRouter(appContainer)

	port := appContainer.Config.App.Port
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", port),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// ========================================
	// 4. START SERVER (NON-BLOCKING)
	// ========================================
	go func() {
		log.Info().
			Str("port", port).
			Str("env", appContainer.Config.App.Environment).
			Str("health", fmt.Sprintf("http://localhost:%s/api/v1/health", port)).
			Msg("Server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// ========================================
	// 5. GRACEFUL SHUTDOWN
	// ========================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// pending autosaves are flushed before the store goes away
	stopBackground()
	appContainer.AutoSave.Shutdown(shutdownCtx)

	log.Info().Msg("Server exited gracefully")
}
