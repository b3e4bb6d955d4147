package job

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"owlfenc-backend/internal/domains/contract/service"
	"owlfenc-backend/pkg/logger"
)

// ================================================
// FAIL STALE PROCESSING JOB HANDLER
// ================================================

type FailStaleProcessingHandler struct {
	lifecycle service.LifecycleService
	timeout   time.Duration
}

func NewFailStaleProcessingHandler(lifecycle service.LifecycleService, timeout time.Duration) *FailStaleProcessingHandler {
	return &FailStaleProcessingHandler{
		lifecycle: lifecycle,
		timeout:   timeout,
	}
}

func (h *FailStaleProcessingHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logger.Info("Starting FailStaleProcessing job", map[string]interface{}{
		"timeout": h.timeout.String(),
	})

	moved, err := h.lifecycle.FailStaleProcessing(ctx, h.timeout)
	if err != nil {
		return fmt.Errorf("fail stale processing: %w", err)
	}

	if moved > 0 {
		logger.Warn("Stale processing contracts moved to error", map[string]interface{}{
			"moved_count": moved,
		})
		return nil
	}
	logger.Debug("Completed FailStaleProcessing job, nothing stale")
	return nil
}
