package queue

import (
	"time"

	"github.com/hibiken/asynq"

	"owlfenc-backend/internal/config"
	"owlfenc-backend/internal/shared"
	"owlfenc-backend/internal/shared/utils"
	"owlfenc-backend/pkg/logger"
)

type Scheduler struct {
	scheduler *asynq.Scheduler
	jobConfig config.JobConfig
}

func NewScheduler(redisOpt asynq.RedisClientOpt, jobConfig config.JobConfig) *Scheduler {
	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{
		scheduler: scheduler,
		jobConfig: jobConfig,
	}
}

func (s *Scheduler) RegisterJobs() error {
	if err := s.registerFailStaleProcessingJob(); err != nil {
		return err
	}
	return s.registerCompletionNoticeSweepJob()
}

// ================================================
// JOB: Fail Stale Processing (every 5 minutes by default)
// ================================================
// A generate request that died between the processing transition and link
// issuance leaves the contract in processing. The sweep moves it to error so
// the owner can edit and generate again.
func (s *Scheduler) registerFailStaleProcessingJob() error {
	task, err := utils.NewTask(shared.TypeFailStaleProcessing, struct{}{})
	if err != nil {
		return err
	}

	_, err = s.scheduler.Register(
		s.jobConfig.StaleSweepCron,
		task,
		asynq.Queue(shared.QueueLow),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		logger.Error("Failed to register FailStaleProcessing job", err)
		return err
	}

	logger.Info("Registered FailStaleProcessing", map[string]interface{}{
		"cron": s.jobConfig.StaleSweepCron,
	})
	return nil
}

// ================================================
// JOB: Completion Notice Sweep (every 10 minutes by default)
// ================================================
// Completion never rolls back when the notice cannot be enqueued, so the
// sweep sends notices for completions that left no delivery log trace.
func (s *Scheduler) registerCompletionNoticeSweepJob() error {
	task, err := utils.NewTask(shared.TypeCompletionNoticeSweep, struct{}{})
	if err != nil {
		return err
	}

	_, err = s.scheduler.Register(
		s.jobConfig.NoticeSweepCron,
		task,
		asynq.Queue(shared.QueueLow),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	)
	if err != nil {
		logger.Error("Failed to register CompletionNoticeSweep job", err)
		return err
	}

	logger.Info("Registered CompletionNoticeSweep", map[string]interface{}{
		"cron": s.jobConfig.NoticeSweepCron,
	})
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Run()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
