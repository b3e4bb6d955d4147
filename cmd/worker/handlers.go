package main

import (
	"github.com/hibiken/asynq"

	contractJob "owlfenc-backend/internal/domains/contract/job"
	"owlfenc-backend/internal/shared"
	"owlfenc-backend/pkg/container"
)

// HandlerRegistry holds all job handlers
type HandlerRegistry struct {
	// Notification handlers
	completionNotice *contractJob.CompletionNoticeHandler

	// Maintenance handlers
	failStaleProcessing   *contractJob.FailStaleProcessingHandler
	completionNoticeSweep *contractJob.CompletionNoticeSweepHandler
}

// initializeHandlers creates all job handlers with their dependencies
func initializeHandlers(c *container.Container) *HandlerRegistry {
	return &HandlerRegistry{
		completionNotice:      contractJob.NewCompletionNoticeHandler(c.Delivery),
		failStaleProcessing:   contractJob.NewFailStaleProcessingHandler(c.Lifecycle, c.Config.Contract.ProcessingTimeout),
		completionNoticeSweep: contractJob.NewCompletionNoticeSweepHandler(c.Delivery, c.Config.Job.NoticeGrace),
	}
}

// RegisterHandlers registers all handlers with the mux
func (h *HandlerRegistry) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(shared.TypeContractCompletionNotice, h.completionNotice.ProcessTask)
	mux.HandleFunc(shared.TypeFailStaleProcessing, h.failStaleProcessing.ProcessTask)
	mux.HandleFunc(shared.TypeCompletionNoticeSweep, h.completionNoticeSweep.ProcessTask)
}
