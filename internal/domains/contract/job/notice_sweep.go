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
// COMPLETION NOTICE SWEEP JOB HANDLER
// ================================================

// CompletionNoticeSweepHandler catches completed contracts whose notice was
// never enqueued.
type CompletionNoticeSweepHandler struct {
	delivery service.DeliveryService
	grace    time.Duration
}

func NewCompletionNoticeSweepHandler(delivery service.DeliveryService, grace time.Duration) *CompletionNoticeSweepHandler {
	return &CompletionNoticeSweepHandler{
		delivery: delivery,
		grace:    grace,
	}
}

func (h *CompletionNoticeSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logger.Info("Starting CompletionNoticeSweep job", map[string]interface{}{
		"grace": h.grace.String(),
	})

	delivered, err := h.delivery.SweepCompletionNotices(ctx, h.grace)
	if err != nil {
		return fmt.Errorf("sweep completion notices: %w", err)
	}

	if delivered > 0 {
		logger.Warn("Delivered missed completion notices", map[string]interface{}{
			"delivered_count": delivered,
		})
		return nil
	}
	logger.Debug("Completed CompletionNoticeSweep job, nothing missed")
	return nil
}
