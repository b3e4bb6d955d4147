package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Ping checks the pool is alive within 5 seconds.
func (db *PostgresDB) Ping(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.Pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close is idempotent.
func (db *PostgresDB) Close() error {
	if db.Pool == nil {
		return nil
	}

	log.Info().Msg("[DATABASE] Closing connection pool")
	db.Pool.Close()
	db.Pool = nil
	return nil
}

// PoolStats is a snapshot of pgxpool statistics.
type PoolStats struct {
	AcquireCount         int64
	AcquireDuration      time.Duration
	AcquiredConns        int32
	CanceledAcquireCount int64
	IdleConns            int32
	MaxConns             int32
	TotalConns           int32
}

func (db *PostgresDB) Stats() (*PoolStats, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	raw := db.Pool.Stat()
	return &PoolStats{
		AcquireCount:         raw.AcquireCount(),
		AcquireDuration:      raw.AcquireDuration(),
		AcquiredConns:        raw.AcquiredConns(),
		CanceledAcquireCount: raw.CanceledAcquireCount(),
		IdleConns:            raw.IdleConns(),
		MaxConns:             raw.MaxConns(),
		TotalConns:           raw.TotalConns(),
	}, nil
}

// AvgAcquire is the mean time spent waiting for a connection.
func (s PoolStats) AvgAcquire() time.Duration {
	if s.AcquireCount == 0 {
		return 0
	}
	return s.AcquireDuration / time.Duration(s.AcquireCount)
}

// MonitorPoolHealth logs warnings on high utilization or acquire latency
// until ctx is done. Run it in its own goroutine.
func (db *PostgresDB) MonitorPoolHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := db.Stats()
			if err != nil {
				log.Warn().Err(err).Msg("[MONITOR] Failed to get pool stats")
				continue
			}

			if stats.MaxConns > 0 {
				utilization := float64(stats.AcquiredConns) / float64(stats.MaxConns) * 100
				if utilization > 80 {
					log.Warn().
						Float64("utilization_pct", utilization).
						Int32("acquired", stats.AcquiredConns).
						Int32("max", stats.MaxConns).
						Msg("[MONITOR] High pool utilization")
				}
			}
			if avg := stats.AvgAcquire(); avg > 100*time.Millisecond {
				log.Warn().Dur("avg_acquire", avg).Msg("[MONITOR] High acquire latency")
			}

		case <-ctx.Done():
			return
		}
	}
}
