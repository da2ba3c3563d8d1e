package task

import (
	"context"
	"errors"
	"time"

	"stars-exchange/pkg/models"

	"go.uber.org/zap"
)

// ErrTaskUnavailable возвращается для неактивного, просроченного или
// исчерпанного задания
var ErrTaskUnavailable = errors.New("задание недоступно для выполнения")

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TaskRepository интерфейс для работы с заданиями
type TaskRepository interface {
	GetByID(ctx context.Context, id string) (*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)
}

// UserTaskRepository интерфейс для работы с выполнением заданий
type UserTaskRepository interface {
	GetByUser(ctx context.Context, userID string) ([]*models.UserTask, error)
	Complete(ctx context.Context, userID string, task *models.Task) error
}

// Notifier отправляет пользователю уведомления о наградах
type Notifier interface {
	TaskCompleted(user *models.User, task *models.Task)
}

// MetricsRecorder записывает метрики заданий
type MetricsRecorder interface {
	RecordTaskCompletion(taskType string)
}

// TaskWithStatus представляет задание вместе с состоянием его выполнения
type TaskWithStatus struct {
	*models.Task
	CompletedByUser bool       `json:"completed_by_user"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Service представляет сервис заданий
type Service struct {
	users     UserRepository
	tasks     TaskRepository
	userTasks UserTaskRepository
	notifier  Notifier
	metrics   MetricsRecorder
	logger    *zap.Logger
}

// NewService создает новый сервис заданий
func NewService(
	users UserRepository,
	tasks TaskRepository,
	userTasks UserTaskRepository,
	notifier Notifier,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:     users,
		tasks:     tasks,
		userTasks: userTasks,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
	}
}

// ListForUser возвращает активные задания с отметками о выполнении
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*TaskWithStatus, error) {
	tasks, err := s.tasks.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	completed := map[string]*models.UserTask{}
	if userID != "" {
		userTasks, err := s.userTasks.GetByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, ut := range userTasks {
			if ut.Completed {
				completed[ut.TaskID] = ut
			}
		}
	}

	out := make([]*TaskWithStatus, 0, len(tasks))
	for _, t := range tasks {
		item := &TaskWithStatus{Task: t}
		if ut, ok := completed[t.ID]; ok {
			item.CompletedByUser = true
			item.CompletedAt = ut.CompletedAt
		}
		out = append(out, item)
	}

	return out, nil
}

// Complete отмечает задание выполненным и начисляет награду.
// Задание может быть выполнено пользователем только один раз: повторный вызов
// возвращает store.ErrTaskAlreadyCompleted, баланс не меняется.
func (s *Service) Complete(ctx context.Context, userID, taskID string) (int, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return 0, err
	}

	if !task.IsAvailable(time.Now()) {
		return 0, ErrTaskUnavailable
	}

	if err := s.userTasks.Complete(ctx, userID, task); err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.RecordTaskCompletion(task.Type)
	}

	if s.notifier != nil && user.NotificationsEnabled {
		s.notifier.TaskCompleted(user, task)
	}

	s.logger.Info("пользователь выполнил задание",
		zap.String("user_id", userID),
		zap.String("task_id", taskID),
		zap.Int("reward", task.Reward))

	return task.Reward, nil
}
