package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Scheduler запускает фоновые задачи магазина по общему расписанию:
// сверку зависших покупок, деактивацию просроченных заданий, дневной сброс
type Scheduler struct {
	logger *zap.Logger
	jobs   []Job
}

// Job интерфейс фоновой задачи магазина
type Job interface {
	Run(ctx context.Context) error
}

// NewScheduler создает новый планировщик фоновых задач
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make([]Job, 0),
	}
}

// AddJob добавляет фоновую задачу в планировщик
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start запускает цикл фоновых задач с указанным интервалом.
// Первый проход выполняется сразу, чтобы после рестарта сервиса
// не ждать целый интервал до сверки покупок.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("запуск фоновых задач магазина",
		zap.Duration("interval", interval),
		zap.Int("jobs", len(s.jobs)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("остановка фоновых задач магазина")
			return
		case <-ticker.C:
			s.runJobs(ctx)
		}
	}
}

// runJobs выполняет все зарегистрированные задачи по очереди.
// Ошибка одной задачи не прерывает остальные.
func (s *Scheduler) runJobs(ctx context.Context) {
	for _, job := range s.jobs {
		name := fmt.Sprintf("%T", job)
		s.logger.Debug("запуск фоновой задачи", zap.String("job", name))

		if err := job.Run(ctx); err != nil {
			s.logger.Error("ошибка фоновой задачи",
				zap.String("job", name),
				zap.Error(err))
		}
	}
}
