package queue

import (
	"github.com/hibiken/asynq"

	"owlfenc-backend/internal/config"
)

// RedisOpt builds the asynq connection options from the Redis section.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Host,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient returns an asynq client for enqueueing contract tasks.
func NewClient(cfg config.RedisConfig) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}
