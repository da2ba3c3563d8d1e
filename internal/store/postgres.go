package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stars-exchange/internal/config"
	"stars-exchange/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store представляет интерфейс для работы с базой данных
type Store interface {
	User() UserRepository
	Transaction() TransactionRepository
	Task() TaskRepository
	UserTask() UserTaskRepository
	Setting() SettingRepository
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db          *pgxpool.Pool
	logger      *zap.Logger
	user        UserRepository
	transaction TransactionRepository
	task        TaskRepository
	userTask    UserTaskRepository
	setting     SettingRepository
}

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	GetReferrals(ctx context.Context, referrerID string) ([]*models.User, error)
	CountUsers(ctx context.Context) (int, error)
	CountReferred(ctx context.Context) (int, error)
	ResetDailyEarnings(ctx context.Context) (int64, error)
}

// TransactionRepository интерфейс для работы с транзакциями
type TransactionRepository interface {
	Create(ctx context.Context, trx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
	GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error)
	SettlePurchase(ctx context.Context, id string, params SettleParams) error
	MarkFailed(ctx context.Context, id string, reason string) error
	SumCompletedRubSince(ctx context.Context, since time.Time) (float64, error)
	GetRecent(ctx context.Context, limit int) ([]*TransactionWithUser, error)
}

// TaskRepository интерфейс для работы с заданиями
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)
	List(ctx context.Context) ([]*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// UserTaskRepository интерфейс для работы с выполнением заданий
type UserTaskRepository interface {
	GetByUser(ctx context.Context, userID string) ([]*models.UserTask, error)
	Complete(ctx context.Context, userID string, task *models.Task) error
}

// SettingRepository интерфейс для работы с настройками магазина
type SettingRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	GetValue(ctx context.Context, key string) (string, error)
	Upsert(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]*models.Setting, error)
}

// SettleParams описывает начисления при успешном завершении покупки
type SettleParams struct {
	PaymentData      *string // Сырые данные уведомления платежной системы
	CreditStars      int     // Звезды к зачислению на баланс
	CreditTon        float64 // TON к зачислению на баланс
	ReferrerID       string  // ID пригласившего (пусто — без бонуса)
	ReferralBonus    int     // Бонус пригласившему в звездах
	BonusDescription string
}

// TransactionWithUser представляет транзакцию вместе с именем пользователя
type TransactionWithUser struct {
	models.Transaction
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	// Создание пула
	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Проверка подключения
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		db:     db,
		logger: logger,
	}

	// Инициализация репозиториев
	s.user = NewUserRepository(db, logger)
	s.transaction = NewTransactionRepository(db, logger)
	s.task = NewTaskRepository(db, logger)
	s.userTask = NewUserTaskRepository(db, logger)
	s.setting = NewSettingRepository(db, logger)

	return s, nil
}

// User возвращает репозиторий пользователей
func (s *store) User() UserRepository {
	return s.user
}

// Transaction возвращает репозиторий транзакций
func (s *store) Transaction() TransactionRepository {
	return s.transaction
}

// Task возвращает репозиторий заданий
func (s *store) Task() TaskRepository {
	return s.task
}

// UserTask возвращает репозиторий выполнения заданий
func (s *store) UserTask() UserTaskRepository {
	return s.userTask
}

// Setting возвращает репозиторий настроек
func (s *store) Setting() SettingRepository {
	return s.setting
}

// DB возвращает подключение к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.db
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

const userColumns = `id, telegram_id, username, first_name, last_name, stars_balance, ton_balance,
	       total_stars_earned, total_referral_earnings, tasks_completed, daily_earnings,
	       referral_code, referred_by, notifications_enabled, created_at, updated_at`

// userRepository реализует UserRepository
type userRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewUserRepository создает новый репозиторий пользователей
func NewUserRepository(db *pgxpool.Pool, logger *zap.Logger) UserRepository {
	return &userRepository{
		db:     db,
		logger: logger,
	}
}

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.TelegramID, &user.Username, &user.FirstName, &user.LastName,
		&user.StarsBalance, &user.TonBalance, &user.TotalStarsEarned, &user.TotalReferralEarnings,
		&user.TasksCompleted, &user.DailyEarnings, &user.ReferralCode, &user.ReferredBy,
		&user.NotificationsEnabled, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create создает нового пользователя
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (telegram_id, username, first_name, last_name, stars_balance, ton_balance,
		                  total_stars_earned, total_referral_earnings, tasks_completed, daily_earnings,
		                  referral_code, referred_by, notifications_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := r.db.QueryRow(ctx, query,
		user.TelegramID, user.Username, user.FirstName, user.LastName,
		user.StarsBalance, user.TonBalance, user.TotalStarsEarned, user.TotalReferralEarnings,
		user.TasksCompleted, user.DailyEarnings, user.ReferralCode, user.ReferredBy,
		user.NotificationsEnabled, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	r.logger.Info("пользователь создан",
		zap.String("user_id", user.ID),
		zap.Int64("telegram_id", user.TelegramID),
		zap.String("username", user.Username),
		zap.String("referral_code", user.ReferralCode))

	return nil
}

// GetByID получает пользователя по ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по ID: %w", err)
	}

	return user, nil
}

// GetByTelegramID получает пользователя по Telegram ID
func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по Telegram ID: %w", err)
	}

	return user, nil
}

// GetByReferralCode получает пользователя по реферальному коду
func (r *userRepository) GetByReferralCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя по реферальному коду: %w", err)
	}

	return user, nil
}

// Update обновляет профиль пользователя
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET username = $2, first_name = $3, last_name = $4, notifications_enabled = $5, updated_at = $6
		WHERE id = $1`

	user.UpdatedAt = time.Now()

	result, err := r.db.Exec(ctx, query,
		user.ID, user.Username, user.FirstName, user.LastName,
		user.NotificationsEnabled, user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("ошибка обновления пользователя: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	r.logger.Info("пользователь обновлен", zap.String("user_id", user.ID))
	return nil
}

// GetReferrals получает приглашенных пользователей
func (r *userRepository) GetReferrals(ctx context.Context, referrerID string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referred_by = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, referrerID)
	if err != nil {
		r.logger.Error("ошибка получения рефералов", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			r.logger.Error("ошибка сканирования реферала", zap.Error(err))
			continue
		}
		users = append(users, user)
	}

	return users, nil
}

// CountUsers возвращает общее число пользователей
func (r *userRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета пользователей: %w", err)
	}
	return count, nil
}

// CountReferred возвращает число пользователей, пришедших по реферальной ссылке
func (r *userRepository) CountReferred(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE referred_by IS NOT NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета приглашенных пользователей: %w", err)
	}
	return count, nil
}

// ResetDailyEarnings обнуляет дневной заработок всех пользователей
func (r *userRepository) ResetDailyEarnings(ctx context.Context) (int64, error) {
	query := `UPDATE users SET daily_earnings = 0, updated_at = $1 WHERE daily_earnings <> 0`

	result, err := r.db.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("ошибка сброса дневного заработка: %w", err)
	}

	affected := result.RowsAffected()
	r.logger.Info("дневной заработок сброшен", zap.Int64("users", affected))
	return affected, nil
}
