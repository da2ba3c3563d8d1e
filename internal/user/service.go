package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service представляет сервис для работы с пользователями
type Service struct {
	users  store.UserRepository
	logger *zap.Logger
}

// NewService создает новый сервис пользователей
func NewService(users store.UserRepository, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		logger: logger,
	}
}

// GetOrCreate получает пользователя по Telegram ID или создает нового.
// Повторный вызов с тем же Telegram ID возвращает существующего пользователя.
func (s *Service) GetOrCreate(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	existing, err := s.users.GetByTelegramID(ctx, req.TelegramID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}

	user := &models.User{
		TelegramID:           req.TelegramID,
		Username:             req.Username,
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		ReferralCode:         generateReferralCode(),
		NotificationsEnabled: true,
	}

	// Привязываем пригласившего по его реферальному коду
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referrer, err := s.users.GetByReferralCode(ctx, code)
		switch {
		case err == nil && referrer.TelegramID != req.TelegramID:
			user.ReferredBy = &referrer.ID
		case errors.Is(err, store.ErrUserNotFound):
			s.logger.Warn("реферальный код не найден",
				zap.String("referral_code", code),
				zap.Int64("telegram_id", req.TelegramID))
		case err != nil:
			return nil, fmt.Errorf("ошибка поиска пригласившего: %w", err)
		}
	}

	if err := s.users.Create(ctx, user); err != nil {
		// Возможна гонка: пользователь создан параллельным запросом
		if existing, getErr := s.users.GetByTelegramID(ctx, req.TelegramID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	s.logger.Info("создан новый пользователь",
		zap.Int64("telegram_id", req.TelegramID),
		zap.String("username", req.Username),
		zap.Bool("referred", user.ReferredBy != nil))

	return user, nil
}

// GetByTelegramID получает пользователя по Telegram ID
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.GetByTelegramID(ctx, telegramID)
}

// GetByID получает пользователя по ID
func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateProfile обновляет профиль пользователя
func (s *Service) UpdateProfile(ctx context.Context, userID string, req *models.UpdateUserRequest) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.NotificationsEnabled != nil {
		user.NotificationsEnabled = *req.NotificationsEnabled
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("ошибка обновления пользователя: %w", err)
	}

	s.logger.Info("профиль пользователя обновлен",
		zap.String("user_id", userID),
		zap.Bool("notifications_enabled", user.NotificationsEnabled))

	return user, nil
}

// generateReferralCode генерирует короткий реферальный код.
// Уникальность гарантирует ограничение в базе данных.
func generateReferralCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
