package models

import (
	"time"
)

// User представляет пользователя магазина
type User struct {
	ID                    string    `json:"id" db:"id"`
	TelegramID            int64     `json:"telegram_id" db:"telegram_id"`
	Username              string    `json:"username" db:"username"`
	FirstName             string    `json:"first_name" db:"first_name"`
	LastName              string    `json:"last_name" db:"last_name"`
	StarsBalance          int       `json:"stars_balance" db:"stars_balance"`                     // Баланс звезд
	TonBalance            float64   `json:"ton_balance" db:"ton_balance"`                         // Баланс TON (информационный)
	TotalStarsEarned      int       `json:"total_stars_earned" db:"total_stars_earned"`           // Всего заработано звезд
	TotalReferralEarnings int       `json:"total_referral_earnings" db:"total_referral_earnings"` // Всего заработано на рефералах
	TasksCompleted        int       `json:"tasks_completed" db:"tasks_completed"`                 // Количество выполненных заданий
	DailyEarnings         int       `json:"daily_earnings" db:"daily_earnings"`                   // Заработок за текущий день
	ReferralCode          string    `json:"referral_code" db:"referral_code"`                     // Уникальный реферальный код
	ReferredBy            *string   `json:"referred_by" db:"referred_by"`                         // ID пригласившего пользователя
	NotificationsEnabled  bool      `json:"notifications_enabled" db:"notifications_enabled"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction представляет денежную операцию пользователя
type Transaction struct {
	ID                 string     `json:"id" db:"id"`
	UserID             string     `json:"user_id" db:"user_id"`
	Type               string     `json:"type" db:"type"`         // buy_stars, buy_ton, referral_bonus, task_reward
	Currency           string     `json:"currency" db:"currency"` // stars, ton
	Amount             float64    `json:"amount" db:"amount"`     // Количество купленной/начисленной валюты
	RubAmount          *float64   `json:"rub_amount" db:"rub_amount"` // Сумма в рублях (для покупок)
	Status             string     `json:"status" db:"status"`         // pending, completed, failed
	Description        string     `json:"description" db:"description"`
	PaymentSystem      string     `json:"payment_system" db:"payment_system"` // freekassa
	PaymentURL         *string    `json:"payment_url" db:"payment_url"`
	InvoiceID          *string    `json:"invoice_id" db:"invoice_id"` // Номер заказа в платежной системе
	PaymentData        *string    `json:"payment_data" db:"payment_data"`
	TonPriceAtPurchase *float64   `json:"ton_price_at_purchase" db:"ton_price_at_purchase"`
	PaidAt             *time.Time `json:"paid_at" db:"paid_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Task представляет задание, за которое начисляются звезды
type Task struct {
	ID             string     `json:"id" db:"id"`
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description" db:"description"`
	Reward         int        `json:"reward" db:"reward"` // Награда в звездах
	Type           string     `json:"type" db:"type"`     // daily, social, referral, special
	Status         string     `json:"status" db:"status"` // draft, active, paused, expired
	IsActive       bool       `json:"is_active" db:"is_active"`
	Requirements   *string    `json:"requirements" db:"requirements"`
	Deadline       *time.Time `json:"deadline" db:"deadline"`
	MaxCompletions *int       `json:"max_completions" db:"max_completions"` // nil — без ограничения
	CompletedCount int        `json:"completed_count" db:"completed_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// UserTask представляет факт выполнения задания пользователем
type UserTask struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	TaskID      string     `json:"task_id" db:"task_id"`
	Completed   bool       `json:"completed" db:"completed"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Setting представляет конфигурационный параметр магазина
type Setting struct {
	ID        string    `json:"id" db:"id"`
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateUserRequest представляет запрос на создание пользователя
type CreateUserRequest struct {
	TelegramID   int64  `json:"telegram_id" validate:"required"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ReferralCode string `json:"referral_code"` // Код пригласившего (из start-параметра)
}

// UpdateUserRequest представляет запрос на обновление профиля
type UpdateUserRequest struct {
	Username             *string `json:"username,omitempty"`
	FirstName            *string `json:"first_name,omitempty"`
	LastName             *string `json:"last_name,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

// PurchaseQuote представляет рассчитанную стоимость покупки
type PurchaseQuote struct {
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	UnitPrice    float64 `json:"unit_price"`
	BasePrice    float64 `json:"base_price"`
	MarkupAmount float64 `json:"markup_amount"`
	TotalPrice   float64 `json:"total_price"`
}

// CreatePurchaseRequest представляет запрос на покупку звезд или TON
type CreatePurchaseRequest struct {
	Currency  string  `json:"currency" validate:"required,oneof=stars ton"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	RubAmount float64 `json:"rub_amount" validate:"required,gt=0"`
}

// CreateTaskRequest представляет запрос админ-панели на создание задания
type CreateTaskRequest struct {
	Title          string     `json:"title" validate:"required"`
	Description    string     `json:"description"`
	Reward         int        `json:"reward" validate:"required,gt=0"`
	Type           string     `json:"type" validate:"required"`
	Requirements   *string    `json:"requirements,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	MaxCompletions *int       `json:"max_completions,omitempty"`
}

// UpdateTaskRequest представляет запрос админ-панели на изменение задания.
// Обновляются только переданные поля.
type UpdateTaskRequest struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Reward         *int       `json:"reward,omitempty"`
	Status         *string    `json:"status,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty"`
	Requirements   *string    `json:"requirements,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	MaxCompletions *int       `json:"max_completions,omitempty"`
}

// ReferralStats представляет реферальную статистику пользователя
type ReferralStats struct {
	ReferralCode   string  `json:"referral_code"`
	TotalReferrals int     `json:"total_referrals"`
	TotalEarnings  int     `json:"total_earnings"`
	Referrals      []*User `json:"referrals"`
}

// Constants для типов транзакций
const (
	TransactionTypeBuyStars      = "buy_stars"
	TransactionTypeBuyTon        = "buy_ton"
	TransactionTypeReferralBonus = "referral_bonus"
	TransactionTypeTaskReward    = "task_reward"
)

// Constants для статусов транзакций
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Constants для валют покупки
const (
	CurrencyStars = "stars"
	CurrencyTon   = "ton"
)

// Constants для типов заданий
const (
	TaskTypeDaily    = "daily"
	TaskTypeSocial   = "social"
	TaskTypeReferral = "referral"
	TaskTypeSpecial  = "special"
)

// Constants для статусов заданий
const (
	TaskStatusDraft   = "draft"
	TaskStatusActive  = "active"
	TaskStatusPaused  = "paused"
	TaskStatusExpired = "expired"
)

// Constants для ключей настроек
const (
	SettingStarsPrice       = "stars_price"
	SettingTonPrice         = "ton_price"
	SettingMarkupPercentage = "markup_percentage"
	SettingReferralBonusPct = "referral_bonus_percentage"
	SettingTonCacheMinutes  = "ton_price_cache_minutes"
	SettingTonFallbackPrice = "ton_fallback_price"
	SettingDailyResetDate   = "daily_reset_date"
)

// Значения по умолчанию, когда настройка отсутствует в базе
const (
	DefaultStarsPrice       = 2.30
	DefaultTonPrice         = 420.50
	DefaultMarkupPercentage = 5.0
	DefaultReferralBonusPct = 10.0
)

// IsValidCurrency проверяет корректность валюты покупки
func IsValidCurrency(currency string) bool {
	switch currency {
	case CurrencyStars, CurrencyTon:
		return true
	default:
		return false
	}
}

// IsTerminalStatus сообщает, является ли статус транзакции конечным
func IsTerminalStatus(status string) bool {
	return status == TransactionStatusCompleted || status == TransactionStatusFailed
}

// CanTransition проверяет допустимость перехода статуса транзакции.
// Разрешены только pending -> completed и pending -> failed.
func CanTransition(from, to string) bool {
	if from != TransactionStatusPending {
		return false
	}
	return to == TransactionStatusCompleted || to == TransactionStatusFailed
}

// IsValidTaskType проверяет корректность типа задания
func IsValidTaskType(taskType string) bool {
	switch taskType {
	case TaskTypeDaily, TaskTypeSocial, TaskTypeReferral, TaskTypeSpecial:
		return true
	default:
		return false
	}
}

// IsValidTaskStatus проверяет корректность статуса задания
func IsValidTaskStatus(status string) bool {
	switch status {
	case TaskStatusDraft, TaskStatusActive, TaskStatusPaused, TaskStatusExpired:
		return true
	default:
		return false
	}
}

// PurchaseTypeForCurrency возвращает тип транзакции покупки для валюты
func PurchaseTypeForCurrency(currency string) string {
	if currency == CurrencyTon {
		return TransactionTypeBuyTon
	}
	return TransactionTypeBuyStars
}

// IsAvailable сообщает, доступно ли задание для выполнения в момент now
func (t *Task) IsAvailable(now time.Time) bool {
	if !t.IsActive || t.Status != TaskStatusActive {
		return false
	}
	if t.Deadline != nil && now.After(*t.Deadline) {
		return false
	}
	if t.MaxCompletions != nil && t.CompletedCount >= *t.MaxCompletions {
		return false
	}
	return true
}
