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

// PostgresUserTaskRepository реализует UserTaskRepository для PostgreSQL
type PostgresUserTaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewUserTaskRepository создает новый репозиторий выполнения заданий
func NewUserTaskRepository(db *pgxpool.Pool, logger *zap.Logger) UserTaskRepository {
	return &PostgresUserTaskRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUser получает отметки о выполнении заданий пользователя
func (r *PostgresUserTaskRepository) GetByUser(ctx context.Context, userID string) ([]*models.UserTask, error) {
	query := `
		SELECT id, user_id, task_id, completed, completed_at, created_at
		FROM user_tasks WHERE user_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заданий пользователя: %w", err)
	}
	defer rows.Close()

	var userTasks []*models.UserTask
	for rows.Next() {
		ut := &models.UserTask{}
		err := rows.Scan(&ut.ID, &ut.UserID, &ut.TaskID, &ut.Completed, &ut.CompletedAt, &ut.CreatedAt)
		if err != nil {
			r.logger.Error("ошибка сканирования выполнения задания", zap.Error(err))
			continue
		}
		userTasks = append(userTasks, ut)
	}

	return userTasks, nil
}

// Complete отмечает задание выполненным и начисляет награду в одной транзакции БД.
// Уникальный индекс (user_id, task_id) гарантирует, что награда начисляется
// пользователю не более одного раза: существующая незавершенная отметка
// переводится в выполненную, завершенная возвращает ErrTaskAlreadyCompleted.
func (r *PostgresUserTaskRepository) Complete(ctx context.Context, userID string, task *models.Task) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции БД: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку пользователя: конкурентные начисления выполняются последовательно
	var balance int
	err = tx.QueryRow(ctx, `SELECT stars_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("ошибка блокировки пользователя: %w", err)
	}

	now := time.Now()

	var userTaskID string
	err = tx.QueryRow(ctx,
		`INSERT INTO user_tasks (user_id, task_id, completed, completed_at, created_at)
		 VALUES ($1, $2, TRUE, $3, $3)
		 ON CONFLICT (user_id, task_id) DO UPDATE
		 SET completed = TRUE, completed_at = EXCLUDED.completed_at
		 WHERE NOT user_tasks.completed
		 RETURNING id`,
		userID, task.ID, now,
	).Scan(&userTaskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskAlreadyCompleted
		}
		return fmt.Errorf("ошибка создания отметки о выполнении: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET stars_balance = stars_balance + $2,
		     total_stars_earned = total_stars_earned + $2,
		     daily_earnings = daily_earnings + $2,
		     tasks_completed = tasks_completed + 1,
		     updated_at = $3
		 WHERE id = $1`,
		userID, task.Reward, now,
	)
	if err != nil {
		return fmt.Errorf("ошибка начисления награды: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE tasks SET completed_count = completed_count + 1 WHERE id = $1`, task.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления счетчика выполнений: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, type, currency, amount, status, description, paid_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		userID, models.TransactionTypeTaskReward, models.CurrencyStars,
		float64(task.Reward), models.TransactionStatusCompleted,
		fmt.Sprintf("Награда за задание: %s", task.Title), now,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания транзакции награды: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции БД: %w", err)
	}

	r.logger.Info("задание выполнено",
		zap.String("user_id", userID),
		zap.String("task_id", task.ID),
		zap.Int("reward", task.Reward),
		zap.Int("new_balance", balance+task.Reward))

	return nil
}
