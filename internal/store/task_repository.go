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

const taskColumns = `id, title, description, reward, type, status, is_active,
	       requirements, deadline, max_completions, completed_count, created_at`

// PostgresTaskRepository реализует TaskRepository для PostgreSQL
type PostgresTaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewTaskRepository создает новый репозиторий заданий
func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) TaskRepository {
	return &PostgresTaskRepository{
		db:     db,
		logger: logger,
	}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	task := &models.Task{}
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Reward, &task.Type, &task.Status,
		&task.IsActive, &task.Requirements, &task.Deadline, &task.MaxCompletions,
		&task.CompletedCount, &task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Create создает новое задание
func (r *PostgresTaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (title, description, reward, type, status, is_active,
		                  requirements, deadline, max_completions, completed_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusActive
	}

	err := r.db.QueryRow(ctx, query,
		task.Title, task.Description, task.Reward, task.Type, task.Status, task.IsActive,
		task.Requirements, task.Deadline, task.MaxCompletions, task.CompletedCount, task.CreatedAt,
	).Scan(&task.ID)

	if err != nil {
		return fmt.Errorf("ошибка создания задания: %w", err)
	}

	r.logger.Info("задание создано",
		zap.String("task_id", task.ID),
		zap.String("title", task.Title),
		zap.Int("reward", task.Reward))

	return nil
}

// GetByID получает задание по ID
func (r *PostgresTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}

	return task, nil
}

// ListActive получает активные задания
func (r *PostgresTaskRepository) ListActive(ctx context.Context) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE is_active = TRUE AND status = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, models.TaskStatusActive)
	if err != nil {
		r.logger.Error("ошибка получения активных заданий", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения активных заданий: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			r.logger.Error("ошибка сканирования задания", zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// List получает все задания для админ-панели
func (r *PostgresTaskRepository) List(ctx context.Context) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заданий: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			r.logger.Error("ошибка сканирования задания", zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// Update обновляет параметры задания
func (r *PostgresTaskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks
		SET title = $2, description = $3, reward = $4, type = $5, status = $6,
		    is_active = $7, requirements = $8, deadline = $9, max_completions = $10,
		    updated_at = $11
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		task.ID, task.Title, task.Description, task.Reward, task.Type, task.Status,
		task.IsActive, task.Requirements, task.Deadline, task.MaxCompletions, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления задания: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	r.logger.Info("задание обновлено",
		zap.String("task_id", task.ID),
		zap.String("status", task.Status),
		zap.Bool("is_active", task.IsActive))

	return nil
}

// ExpireOverdue переводит задания с истекшим сроком в статус expired
func (r *PostgresTaskRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE tasks
		SET status = $1, is_active = FALSE
		WHERE status = $2 AND deadline IS NOT NULL AND deadline < $3`

	result, err := r.db.Exec(ctx, query, models.TaskStatusExpired, models.TaskStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка завершения просроченных заданий: %w", err)
	}

	affected := result.RowsAffected()
	if affected > 0 {
		r.logger.Info("просроченные задания деактивированы", zap.Int64("tasks", affected))
	}
	return affected, nil
}
