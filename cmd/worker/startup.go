package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"owlfenc-backend/pkg/container"
)

const healthAddr = ":9999"

// checkRedis verifies the queue backend before the server starts pulling tasks
func checkRedis(c *container.Container) error {
	if c.Redis == nil {
		return errors.New("redis is not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info().Str("addr", c.Config.Redis.Host).Msg("[Startup] Checking Redis Connection...")
	if err := c.Redis.HealthCheck(ctx); err != nil {
		return err
	}
	log.Info().Msg("[Startup] Redis Connection: OK")
	return nil
}

// startHealthCheckServer serves /health and /ready for the orchestrator
func startHealthCheckServer(c *container.Container) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP", "service": "contract-worker"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Redis.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_READY", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "READY"})
	})

	log.Info().Str("addr", healthAddr).Msg("[Health] Starting health check server")
	if err := http.ListenAndServe(healthAddr, mux); err != nil {
		log.Error().Err(err).Msg("[Health] Failed to start")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
