package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"
)

// DailyEarningsResetter обнуляет дневной заработок пользователей
type DailyEarningsResetter interface {
	ResetDailyEarnings(ctx context.Context) (int64, error)
}

// ResetMarker хранит дату последнего сброса между перезапусками
type ResetMarker interface {
	GetValue(ctx context.Context, key string) (string, error)
	Upsert(ctx context.Context, key, value string) error
}

// DailyResetJob раз в сутки обнуляет счетчик дневного заработка.
// Дата последнего сброса хранится в настройках, поэтому перезапуск
// сервиса не приводит к повторному сбросу в тот же день.
type DailyResetJob struct {
	users    DailyEarningsResetter
	settings ResetMarker
	logger   *zap.Logger
}

// NewDailyResetJob создает джобу ежедневного сброса заработка
func NewDailyResetJob(users DailyEarningsResetter, settings ResetMarker, logger *zap.Logger) *DailyResetJob {
	return &DailyResetJob{
		users:    users,
		settings: settings,
		logger:   logger,
	}
}

// Run сбрасывает дневной заработок, если сегодня сброс еще не выполнялся
func (j *DailyResetJob) Run(ctx context.Context) error {
	today := time.Now().Format("2006-01-02")

	lastReset, err := j.settings.GetValue(ctx, models.SettingDailyResetDate)
	if err != nil && !errors.Is(err, store.ErrSettingNotFound) {
		return fmt.Errorf("ошибка чтения даты последнего сброса: %w", err)
	}
	if lastReset == today {
		return nil
	}

	affected, err := j.users.ResetDailyEarnings(ctx)
	if err != nil {
		return fmt.Errorf("ошибка сброса дневного заработка: %w", err)
	}

	if err := j.settings.Upsert(ctx, models.SettingDailyResetDate, today); err != nil {
		return fmt.Errorf("ошибка сохранения даты сброса: %w", err)
	}

	j.logger.Info("дневной заработок сброшен",
		zap.String("date", today),
		zap.Int64("users", affected))
	return nil
}
