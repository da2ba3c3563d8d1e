package referral

import (
	"context"

	"stars-exchange/pkg/models"

	"go.uber.org/zap"
)

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetReferrals(ctx context.Context, referrerID string) ([]*models.User, error)
}

// Service представляет сервис реферальной программы
type Service struct {
	users  UserRepository
	logger *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(users UserRepository, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		logger: logger,
	}
}

// Stats возвращает реферальную статистику пользователя: код, список
// приглашенных и суммарный заработок
func (s *Service) Stats(ctx context.Context, userID string) (*models.ReferralStats, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	referrals, err := s.users.GetReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.ReferralStats{
		ReferralCode:   user.ReferralCode,
		TotalReferrals: len(referrals),
		TotalEarnings:  user.TotalReferralEarnings,
		Referrals:      referrals,
	}, nil
}
