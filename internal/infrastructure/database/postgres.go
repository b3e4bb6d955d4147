package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DBConfig holds connection, pool and retry settings for PostgreSQL.
type DBConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DBName   string
	SSLMode  string

	// Pool
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// Retry
	MaxRetries     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
}

// PostgresDB owns the pgx pool and its lifecycle.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	Config *DBConfig
}

func NewPostgresDB(config *DBConfig) *PostgresDB {
	return &PostgresDB{Config: config}
}

func (db *PostgresDB) buildConnectionString() string {
	sslMode := db.Config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		db.Config.Username,
		db.Config.Password,
		db.Config.Host,
		db.Config.Port,
		db.Config.DBName,
		sslMode,
	)
}

func (db *PostgresDB) configurePool() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(db.buildConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = db.Config.MaxConns
	config.MinConns = db.Config.MinConns
	config.MaxConnLifetime = db.Config.MaxConnLifetime
	config.MaxConnIdleTime = db.Config.MaxConnIdleTime
	config.HealthCheckPeriod = db.Config.HealthCheckPeriod
	config.ConnConfig.ConnectTimeout = db.Config.ConnectTimeout

	return config, nil
}

// connectWithRetry retries with exponential backoff: RetryDelay * 2^(attempt-1).
func (db *PostgresDB) connectWithRetry(ctx context.Context, config *pgxpool.Config) (*pgxpool.Pool, error) {
	var lastErr error
	maxRetries := db.Config.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Info().Int("attempt", attempt).Int("max", maxRetries).Msg("[DATABASE] Connection attempt")

		connectCtx, cancel := context.WithTimeout(ctx, db.Config.ConnectTimeout)
		pool, err := pgxpool.NewWithConfig(connectCtx, config)
		cancel()

		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info().Int("attempt", attempt).Msg("[DATABASE] Connected")
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("[DATABASE] Attempt failed")

		if attempt < maxRetries {
			delay := db.Config.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// Connect configures the pool and connects with retry.
func (db *PostgresDB) Connect(ctx context.Context) error {
	log.Info().
		Str("host", db.Config.Host).
		Str("database", db.Config.DBName).
		Msg("[DATABASE] Initializing PostgreSQL connection")

	config, err := db.configurePool()
	if err != nil {
		return fmt.Errorf("pool configuration failed: %w", err)
	}

	pool, err := db.connectWithRetry(ctx, config)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	db.Pool = pool
	return nil
}

// HealthCheck pings the database and logs pool usage.
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return err
	}

	stats := db.Pool.Stat()
	log.Debug().
		Int32("total", stats.TotalConns()).
		Int32("idle", stats.IdleConns()).
		Int32("acquired", stats.AcquiredConns()).
		Msg("[DATABASE] Health check passed")
	return nil
}
