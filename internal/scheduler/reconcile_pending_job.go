package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PurchaseReconciler досчитывает зависшие покупки
type PurchaseReconciler interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) error
}

// TaskExpirer закрывает задания с истекшим дедлайном
type TaskExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ReconcilePendingJob восстанавливает покупки, оставшиеся в статусе pending
// после перезапуска сервиса, и деактивирует просроченные задания
type ReconcilePendingJob struct {
	purchases PurchaseReconciler
	tasks     TaskExpirer
	olderThan time.Duration
	logger    *zap.Logger
}

// NewReconcilePendingJob создает джобу сверки зависших покупок
func NewReconcilePendingJob(purchases PurchaseReconciler, tasks TaskExpirer, olderThan time.Duration, logger *zap.Logger) *ReconcilePendingJob {
	return &ReconcilePendingJob{
		purchases: purchases,
		tasks:     tasks,
		olderThan: olderThan,
		logger:    logger,
	}
}

// Run запускает сверку зависших покупок и просроченных заданий
func (j *ReconcilePendingJob) Run(ctx context.Context) error {
	if err := j.purchases.ReconcileStale(ctx, j.olderThan, 100); err != nil {
		j.logger.Error("ошибка сверки зависших покупок", zap.Error(err))
		return fmt.Errorf("ошибка сверки зависших покупок: %w", err)
	}

	expired, err := j.tasks.ExpireOverdue(ctx, time.Now())
	if err != nil {
		j.logger.Error("ошибка деактивации просроченных заданий", zap.Error(err))
		return fmt.Errorf("ошибка деактивации просроченных заданий: %w", err)
	}
	if expired > 0 {
		j.logger.Info("просроченные задания деактивированы", zap.Int64("count", expired))
	}

	return nil
}
