package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stars-exchange/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSettingRepository реализует SettingRepository для PostgreSQL
type PostgresSettingRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSettingRepository создает новый репозиторий настроек
func NewSettingRepository(db *pgxpool.Pool, logger *zap.Logger) SettingRepository {
	return &PostgresSettingRepository{
		db:     db,
		logger: logger,
	}
}

// Get получает настройку по ключу
func (r *PostgresSettingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	query := `SELECT id, key, value, updated_at FROM settings WHERE key = $1`

	setting := &models.Setting{}
	err := r.db.QueryRow(ctx, query, key).Scan(&setting.ID, &setting.Key, &setting.Value, &setting.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("ошибка получения настройки: %w", err)
	}

	return setting, nil
}

// GetValue получает значение настройки по ключу
func (r *PostgresSettingRepository) GetValue(ctx context.Context, key string) (string, error) {
	setting, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// Upsert создает или обновляет настройку
func (r *PostgresSettingRepository) Upsert(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("ошибка сохранения настройки: %w", err)
	}

	r.logger.Info("настройка сохранена", zap.String("key", key), zap.String("value", value))
	return nil
}

// List получает все настройки
func (r *PostgresSettingRepository) List(ctx context.Context) ([]*models.Setting, error) {
	query := `SELECT id, key, value, updated_at FROM settings ORDER BY key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения настроек: %w", err)
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		setting := &models.Setting{}
		if err := rows.Scan(&setting.ID, &setting.Key, &setting.Value, &setting.UpdatedAt); err != nil {
			r.logger.Error("ошибка сканирования настройки", zap.Error(err))
			continue
		}
		settings = append(settings, setting)
	}

	return settings, nil
}
