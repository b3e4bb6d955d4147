package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"owlfenc-backend/internal/domains/contract/service"
	"owlfenc-backend/internal/shared"
	"owlfenc-backend/internal/shared/utils"
	"owlfenc-backend/pkg/logger"
)

// ================================================
// COMPLETION NOTICE: ENQUEUE
// ================================================

// Enqueuer is the part of *asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands completion notices to the worker. The task id is derived
// from the contract id so at most one notice task exists per contract.
type QueueNotifier struct {
	client Enqueuer
}

func NewQueueNotifier(client Enqueuer) *QueueNotifier {
	return &QueueNotifier{client: client}
}

func (n *QueueNotifier) NotifyCompleted(ctx context.Context, contractID uuid.UUID) error {
	task, err := utils.NewTask(shared.TypeContractCompletionNotice, shared.CompletionNoticePayload{
		ContractID: contractID.String(),
	})
	if err != nil {
		return err
	}

	_, err = n.client.EnqueueContext(ctx, task,
		asynq.TaskID("completion-"+contractID.String()),
		asynq.Queue(shared.QueueHigh),
		asynq.MaxRetry(5),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue completion notice: %w", err)
	}

	logger.Info("Completion notice enqueued", map[string]interface{}{
		"contract_id": contractID.String(),
	})
	return nil
}

// InlineNotifier sends the notice in-process. Used when no queue is configured.
type InlineNotifier struct {
	delivery service.DeliveryService
}

func NewInlineNotifier(delivery service.DeliveryService) *InlineNotifier {
	return &InlineNotifier{delivery: delivery}
}

func (n *InlineNotifier) NotifyCompleted(ctx context.Context, contractID uuid.UUID) error {
	_, err := n.delivery.SendCompletionNotice(ctx, contractID)
	return err
}

// ================================================
// COMPLETION NOTICE: PROCESS
// ================================================

type CompletionNoticeHandler struct {
	delivery service.DeliveryService
}

func NewCompletionNoticeHandler(delivery service.DeliveryService) *CompletionNoticeHandler {
	return &CompletionNoticeHandler{delivery: delivery}
}

func (h *CompletionNoticeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload shared.CompletionNoticePayload
	if err := utils.UnmarshalTask(t, &payload); err != nil {
		return err
	}

	contractID, err := uuid.Parse(payload.ContractID)
	if err != nil {
		return fmt.Errorf("invalid contract id %q: %w", payload.ContractID, asynq.SkipRetry)
	}

	logger.Info("Processing completion notice", map[string]interface{}{
		"contract_id": payload.ContractID,
	})

	result, err := h.delivery.SendCompletionNotice(ctx, contractID)
	if err != nil {
		return fmt.Errorf("send completion notice: %w", err)
	}

	logger.Info("Completion notice delivered", map[string]interface{}{
		"contract_id": payload.ContractID,
		"sent":        result.Sent,
		"failed":      result.Failed,
	})
	return nil
}
