package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks(statsCron string) error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			LogLevel: asynq.WarnLevel,
		}),
		log: log,
	}
}

// RegisterTasks schedules the ledger stats snapshot. An empty cron expression disables it.
func (s *scheduler) RegisterTasks(statsCron string) error {
	if statsCron == "" {
		return nil
	}

	entryID, err := s.asynqScheduler.Register(statsCron, NewLedgerStatsTask())
	if err != nil {
		return err
	}

	s.log.InfoContext(context.Background(), "scheduler: registered ledger stats task",
		slog.String("cron", statsCron),
		slog.String("entry_id", entryID),
	)

	return nil
}

func (s *scheduler) Run() {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	go func() {
		if err := s.asynqScheduler.Run(); err != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", slog.Any("error", err))
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
