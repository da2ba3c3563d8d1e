package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"go.uber.org/zap"
)

// Ошибки валидации настроек и заданий
var (
	ErrUnknownSettingKey   = errors.New("неизвестный ключ настройки")
	ErrInvalidSettingValue = errors.New("некорректное значение настройки")
	ErrInvalidTask         = errors.New("некорректные параметры задания")
)

// Ключи настроек, доступные для изменения через админ-панель
var editableSettings = map[string]bool{
	models.SettingStarsPrice:       true,
	models.SettingTonPrice:         true,
	models.SettingMarkupPercentage: true,
	models.SettingReferralBonusPct: true,
	models.SettingTonCacheMinutes:  true,
	models.SettingTonFallbackPrice: true,
}

// UserRepository интерфейс для статистики пользователей
type UserRepository interface {
	CountUsers(ctx context.Context) (int, error)
	CountReferred(ctx context.Context) (int, error)
}

// TransactionRepository интерфейс для статистики продаж
type TransactionRepository interface {
	SumCompletedRubSince(ctx context.Context, since time.Time) (float64, error)
	GetRecent(ctx context.Context, limit int) ([]*store.TransactionWithUser, error)
}

// SettingRepository интерфейс для управления настройками
type SettingRepository interface {
	Upsert(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]*models.Setting, error)
}

// TaskRepository интерфейс для управления заданиями
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	List(ctx context.Context) ([]*models.Task, error)
}

// Stats представляет сводную статистику магазина
type Stats struct {
	TotalUsers         int                          `json:"total_users"`
	ReferredUsers      int                          `json:"referred_users"`
	TodaySalesRub      float64                      `json:"today_sales_rub"`
	RecentTransactions []*store.TransactionWithUser `json:"recent_transactions"`
}

// Service представляет сервис админ-панели
type Service struct {
	users        UserRepository
	transactions TransactionRepository
	settings     SettingRepository
	tasks        TaskRepository
	logger       *zap.Logger
}

// NewService создает новый сервис админ-панели
func NewService(users UserRepository, transactions TransactionRepository, settings SettingRepository, tasks TaskRepository, logger *zap.Logger) *Service {
	return &Service{
		users:        users,
		transactions: transactions,
		settings:     settings,
		tasks:        tasks,
		logger:       logger,
	}
}

// Stats возвращает сводную статистику: пользователи, продажи за сегодня,
// последние транзакции
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}

	referred, err := s.users.CountReferred(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	sales, err := s.transactions.SumCompletedRubSince(ctx, startOfDay)
	if err != nil {
		return nil, err
	}

	recent, err := s.transactions.GetRecent(ctx, 20)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalUsers:         total,
		ReferredUsers:      referred,
		TodaySalesRub:      sales,
		RecentTransactions: recent,
	}, nil
}

// Settings возвращает все настройки магазина
func (s *Service) Settings(ctx context.Context) ([]*models.Setting, error) {
	return s.settings.List(ctx)
}

// UpdateSettings обновляет настройки магазина. Числовые настройки
// проверяются на корректность до записи.
func (s *Service) UpdateSettings(ctx context.Context, values map[string]string) error {
	// Сначала валидируем все значения, чтобы не применить обновление частично
	for key, value := range values {
		if !editableSettings[key] {
			return fmt.Errorf("%w: %s", ErrUnknownSettingKey, key)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidSettingValue, key, value)
		}
	}

	for key, value := range values {
		if err := s.settings.Upsert(ctx, key, value); err != nil {
			return err
		}
	}

	s.logger.Info("настройки магазина обновлены", zap.Int("count", len(values)))
	return nil
}

// Tasks возвращает все задания, включая черновики и приостановленные
func (s *Service) Tasks(ctx context.Context) ([]*models.Task, error) {
	return s.tasks.List(ctx)
}

// CreateTask создает новое задание. Задание создается активным
// и сразу видно пользователям.
func (s *Service) CreateTask(ctx context.Context, req *models.CreateTaskRequest) (*models.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: пустой заголовок", ErrInvalidTask)
	}
	if req.Reward <= 0 {
		return nil, fmt.Errorf("%w: награда должна быть положительной", ErrInvalidTask)
	}
	if !models.IsValidTaskType(req.Type) {
		return nil, fmt.Errorf("%w: неизвестный тип %s", ErrInvalidTask, req.Type)
	}
	if req.MaxCompletions != nil && *req.MaxCompletions <= 0 {
		return nil, fmt.Errorf("%w: лимит выполнений должен быть положительным", ErrInvalidTask)
	}

	task := &models.Task{
		Title:          req.Title,
		Description:    req.Description,
		Reward:         req.Reward,
		Type:           req.Type,
		Status:         models.TaskStatusActive,
		IsActive:       true,
		Requirements:   req.Requirements,
		Deadline:       req.Deadline,
		MaxCompletions: req.MaxCompletions,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("задание создано через админ-панель",
		zap.String("task_id", task.ID),
		zap.String("title", task.Title),
		zap.Int("reward", task.Reward))

	return task, nil
}

// UpdateTask изменяет задание: обновляются только переданные поля
func (s *Service) UpdateTask(ctx context.Context, taskID string, req *models.UpdateTaskRequest) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		if *req.Title == "" {
			return nil, fmt.Errorf("%w: пустой заголовок", ErrInvalidTask)
		}
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Reward != nil {
		if *req.Reward <= 0 {
			return nil, fmt.Errorf("%w: награда должна быть положительной", ErrInvalidTask)
		}
		task.Reward = *req.Reward
	}
	if req.Status != nil {
		if !models.IsValidTaskStatus(*req.Status) {
			return nil, fmt.Errorf("%w: неизвестный статус %s", ErrInvalidTask, *req.Status)
		}
		task.Status = *req.Status
	}
	if req.IsActive != nil {
		task.IsActive = *req.IsActive
	}
	if req.Requirements != nil {
		task.Requirements = req.Requirements
	}
	if req.Deadline != nil {
		task.Deadline = req.Deadline
	}
	if req.MaxCompletions != nil {
		if *req.MaxCompletions <= 0 {
			return nil, fmt.Errorf("%w: лимит выполнений должен быть положительным", ErrInvalidTask)
		}
		task.MaxCompletions = req.MaxCompletions
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("задание обновлено через админ-панель",
		zap.String("task_id", task.ID),
		zap.String("status", task.Status),
		zap.Bool("is_active", task.IsActive))

	return task, nil
}
