package purchase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"stars-exchange/internal/payment"
	"stars-exchange/internal/pricing"
	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки сервиса покупок
var (
	ErrAmountMismatch = errors.New("сумма платежа не совпадает с расчетной")
	ErrNotOwner       = errors.New("транзакция принадлежит другому пользователю")
	ErrInvalidWebhook = errors.New("неверная подпись уведомления")
)

// Допустимое расхождение между суммой клиента и расчетной суммой, в рублях
const amountTolerance = 1.0

// UserRepository интерфейс для работы с пользователями
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TransactionRepository интерфейс для работы с транзакциями
type TransactionRepository interface {
	Create(ctx context.Context, trx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
	GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error)
	SettlePurchase(ctx context.Context, id string, params store.SettleParams) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// SettingsReader читает настройки магазина
type SettingsReader interface {
	GetValue(ctx context.Context, key string) (string, error)
}

// Gateway интерфейс платежной системы
type Gateway interface {
	CreatePaymentURL(ctx context.Context, orderID string, amount float64, description string) (string, error)
	CheckPaymentStatus(ctx context.Context, orderID string) (string, error)
	VerifyWebhook(merchantID, amount, orderID, signature string) bool
}

// Notifier отправляет пользователю уведомления о покупках
type Notifier interface {
	PurchaseCompleted(user *models.User, trx *models.Transaction)
	PurchaseFailed(user *models.User, trx *models.Transaction, reason string)
}

// MetricsRecorder записывает метрики покупок
type MetricsRecorder interface {
	RecordPurchase(currency, status string, rubAmount float64, durationSeconds float64, attempts int)
	RecordReferralBonus()
	RecordWebhook(accepted bool)
	PendingPurchaseStarted()
	PendingPurchaseFinished()
}

// Config содержит настройки фонового опроса платежей
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
}

// Service представляет сервис покупки звезд и TON
type Service struct {
	users        UserRepository
	transactions TransactionRepository
	settings     SettingsReader
	calc         *pricing.Calculator
	gateway      Gateway
	notifier     Notifier
	metrics      MetricsRecorder
	cfg          Config
	logger       *zap.Logger

	rootCtx context.Context
	wg      sync.WaitGroup
}

// NewService создает новый сервис покупок
func NewService(
	users UserRepository,
	transactions TransactionRepository,
	settings SettingsReader,
	calc *pricing.Calculator,
	gateway Gateway,
	notifier Notifier,
	metrics MetricsRecorder,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:        users,
		transactions: transactions,
		settings:     settings,
		calc:         calc,
		gateway:      gateway,
		notifier:     notifier,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
		rootCtx:      context.Background(),
	}
}

// Start привязывает фоновые наблюдатели платежей к контексту приложения
func (s *Service) Start(ctx context.Context) {
	s.rootCtx = ctx
}

// Wait дожидается завершения всех фоновых наблюдателей
func (s *Service) Wait() {
	s.wg.Wait()
}

// Quote рассчитывает стоимость покупки без создания транзакции
func (s *Service) Quote(ctx context.Context, currency string, amount float64) (*models.PurchaseQuote, error) {
	return s.calc.Calculate(ctx, currency, amount)
}

// Submit создает покупку: формирует платежную ссылку, записывает pending-транзакцию
// и запускает фоновый опрос статуса платежа
func (s *Service) Submit(ctx context.Context, userID string, req *models.CreatePurchaseRequest) (*models.Transaction, error) {
	quote, err := s.calc.Calculate(ctx, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Клиент присылает сумму, которую показал ему интерфейс. Расхождение с
	// расчетной суммой означает устаревшие цены или подделку запроса.
	if math.Abs(quote.TotalPrice-req.RubAmount) > amountTolerance {
		s.logger.Warn("сумма клиента не совпадает с расчетной",
			zap.String("user_id", userID),
			zap.Float64("client_amount", req.RubAmount),
			zap.Float64("calculated", quote.TotalPrice))
		return nil, ErrAmountMismatch
	}

	invoiceID := uuid.NewString()

	var description string
	if req.Currency == models.CurrencyTon {
		description = fmt.Sprintf("Покупка %g TON", req.Amount)
	} else {
		description = fmt.Sprintf("Покупка %g звезд", req.Amount)
	}

	paymentURL, err := s.gateway.CreatePaymentURL(ctx, invoiceID, quote.TotalPrice, description)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания платежной ссылки: %w", err)
	}

	trx := &models.Transaction{
		UserID:        user.ID,
		Type:          models.PurchaseTypeForCurrency(req.Currency),
		Currency:      req.Currency,
		Amount:        req.Amount,
		RubAmount:     &quote.TotalPrice,
		Status:        models.TransactionStatusPending,
		Description:   description,
		PaymentSystem: "freekassa",
		PaymentURL:    &paymentURL,
		InvoiceID:     &invoiceID,
	}
	if req.Currency == models.CurrencyTon {
		trx.TonPriceAtPurchase = &quote.UnitPrice
	}

	if err := s.transactions.Create(ctx, trx); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PendingPurchaseStarted()
	}

	s.wg.Add(1)
	go s.watch(trx.ID, invoiceID, trx.CreatedAt)

	s.logger.Info("покупка создана",
		zap.String("transaction_id", trx.ID),
		zap.String("user_id", userID),
		zap.String("currency", req.Currency),
		zap.Float64("amount", req.Amount),
		zap.Float64("rub_amount", quote.TotalPrice))

	return trx, nil
}

// watch опрашивает платежную систему до конечного статуса платежа.
// После исчерпания попыток покупка переводится в failed.
func (s *Service) watch(transactionID, invoiceID string, createdAt time.Time) {
	defer s.wg.Done()
	if s.metrics != nil {
		defer s.metrics.PendingPurchaseFinished()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-s.rootCtx.Done():
			// Остановка приложения: покупка остается pending,
			// ее добьет фоновая сверка после рестарта
			s.logger.Info("наблюдатель платежа остановлен",
				zap.String("transaction_id", transactionID))
			return
		case <-ticker.C:
			attempts++

			status, err := s.gateway.CheckPaymentStatus(s.rootCtx, invoiceID)
			if err != nil {
				s.logger.Warn("ошибка проверки статуса платежа",
					zap.String("transaction_id", transactionID),
					zap.Int("attempt", attempts),
					zap.Error(err))
			} else {
				switch status {
				case payment.StatusPaid:
					if err := s.Settle(s.rootCtx, transactionID, nil); err != nil {
						s.logger.Error("ошибка завершения покупки",
							zap.String("transaction_id", transactionID),
							zap.Error(err))
					}
					s.recordFinal(transactionID, models.TransactionStatusCompleted, createdAt, attempts)
					return
				case payment.StatusCancelled:
					s.markFailed(s.rootCtx, transactionID, "платеж отменен платежной системой")
					s.recordFinal(transactionID, models.TransactionStatusFailed, createdAt, attempts)
					return
				}
			}

			if attempts >= s.cfg.MaxAttempts {
				s.markFailed(s.rootCtx, transactionID, "истекло время ожидания оплаты")
				s.recordFinal(transactionID, models.TransactionStatusFailed, createdAt, attempts)
				return
			}
		}
	}
}

// Settle завершает оплаченную покупку: начисляет валюту и реферальный бонус.
// Вызов идемпотентен: уже завершенная покупка не меняется.
func (s *Service) Settle(ctx context.Context, transactionID string, paymentData *string) error {
	trx, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, trx.UserID)
	if err != nil {
		return err
	}

	params := store.SettleParams{PaymentData: paymentData}
	if trx.Currency == models.CurrencyTon {
		params.CreditTon = trx.Amount
	} else {
		params.CreditStars = int(trx.Amount)
	}

	// Бонус пригласившему считается от суммы покупки в рублях
	if user.ReferredBy != nil && trx.RubAmount != nil {
		pct := pricing.FloatSetting(ctx, s.settings, models.SettingReferralBonusPct, models.DefaultReferralBonusPct, s.logger)
		bonus := int(math.Round(*trx.RubAmount * pct / 100))
		if bonus > 0 {
			params.ReferrerID = *user.ReferredBy
			params.ReferralBonus = bonus
			params.BonusDescription = fmt.Sprintf("Реферальный бонус за покупку приглашенного пользователя %s", user.FirstName)
		}
	}

	err = s.transactions.SettlePurchase(ctx, transactionID, params)
	if err != nil {
		if errors.Is(err, store.ErrTransactionSettled) {
			// Гонка с уведомлением или повторный вызов
			return nil
		}
		return err
	}

	if params.ReferralBonus > 0 && s.metrics != nil {
		s.metrics.RecordReferralBonus()
	}

	if s.notifier != nil && user.NotificationsEnabled {
		s.notifier.PurchaseCompleted(user, trx)
	}

	return nil
}

// HandleWebhook обрабатывает уведомление об оплате от платежной системы
func (s *Service) HandleWebhook(ctx context.Context, merchantID, amount, orderID, signature string, raw string) error {
	if !s.gateway.VerifyWebhook(merchantID, amount, orderID, signature) {
		if s.metrics != nil {
			s.metrics.RecordWebhook(false)
		}
		return ErrInvalidWebhook
	}

	trx, err := s.transactions.GetByInvoiceID(ctx, orderID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordWebhook(false)
		}
		return err
	}

	// Сумма уведомления должна совпадать с суммой заказа
	if trx.RubAmount != nil {
		paid, parseErr := strconv.ParseFloat(amount, 64)
		if parseErr != nil || math.Abs(paid-*trx.RubAmount) > 0.01 {
			if s.metrics != nil {
				s.metrics.RecordWebhook(false)
			}
			s.logger.Warn("сумма уведомления не совпадает с заказом",
				zap.String("transaction_id", trx.ID),
				zap.String("webhook_amount", amount),
				zap.Float64("order_amount", *trx.RubAmount))
			return ErrAmountMismatch
		}
	}

	if err := s.Settle(ctx, trx.ID, &raw); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordWebhook(true)
	}

	s.logger.Info("уведомление об оплате обработано",
		zap.String("transaction_id", trx.ID),
		zap.String("order_id", orderID))

	return nil
}

// Status возвращает транзакцию пользователя, при необходимости сверяя
// незавершенный платеж с платежной системой
func (s *Service) Status(ctx context.Context, userID, transactionID string) (*models.Transaction, error) {
	trx, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if trx.UserID != userID {
		return nil, ErrNotOwner
	}

	if trx.Status == models.TransactionStatusPending && trx.InvoiceID != nil {
		status, err := s.gateway.CheckPaymentStatus(ctx, *trx.InvoiceID)
		if err != nil {
			s.logger.Warn("ошибка сверки статуса платежа",
				zap.String("transaction_id", transactionID),
				zap.Error(err))
			return trx, nil
		}

		switch status {
		case payment.StatusPaid:
			if err := s.Settle(ctx, transactionID, nil); err != nil {
				return nil, err
			}
		case payment.StatusCancelled:
			s.markFailed(ctx, transactionID, "платеж отменен платежной системой")
		}

		return s.transactions.GetByID(ctx, transactionID)
	}

	return trx, nil
}

// History возвращает транзакции пользователя, новые первыми
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.transactions.GetByUserID(ctx, userID, limit)
}

// ReconcileStale добивает зависшие покупки: сверяет их с платежной системой
// и переводит просроченные в failed. Вызывается фоновым заданием.
func (s *Service) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) error {
	stale, err := s.transactions.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return err
	}

	maxAge := s.cfg.PollInterval * time.Duration(s.cfg.MaxAttempts)

	for _, trx := range stale {
		if trx.InvoiceID == nil {
			continue
		}

		status, err := s.gateway.CheckPaymentStatus(ctx, *trx.InvoiceID)
		if err != nil {
			s.logger.Warn("ошибка сверки зависшей покупки",
				zap.String("transaction_id", trx.ID),
				zap.Error(err))
			continue
		}

		switch status {
		case payment.StatusPaid:
			if err := s.Settle(ctx, trx.ID, nil); err != nil {
				s.logger.Error("ошибка завершения зависшей покупки",
					zap.String("transaction_id", trx.ID),
					zap.Error(err))
			}
		case payment.StatusCancelled:
			s.markFailed(ctx, trx.ID, "платеж отменен платежной системой")
		default:
			if time.Since(trx.CreatedAt) > maxAge {
				s.markFailed(ctx, trx.ID, "истекло время ожидания оплаты")
			}
		}
	}

	return nil
}

// markFailed переводит покупку в failed и уведомляет пользователя
func (s *Service) markFailed(ctx context.Context, transactionID, reason string) {
	err := s.transactions.MarkFailed(ctx, transactionID, reason)
	if err != nil {
		if !errors.Is(err, store.ErrTransactionSettled) {
			s.logger.Error("ошибка перевода покупки в failed",
				zap.String("transaction_id", transactionID),
				zap.Error(err))
		}
		return
	}

	if s.notifier != nil {
		if trx, err := s.transactions.GetByID(ctx, transactionID); err == nil {
			if user, err := s.users.GetByID(ctx, trx.UserID); err == nil && user.NotificationsEnabled {
				s.notifier.PurchaseFailed(user, trx, reason)
			}
		}
	}
}

// recordFinal записывает метрики конечного статуса покупки
func (s *Service) recordFinal(transactionID, status string, createdAt time.Time, attempts int) {
	if s.metrics == nil {
		return
	}

	var currency string
	var rub float64
	if trx, err := s.transactions.GetByID(s.rootCtx, transactionID); err == nil {
		currency = trx.Currency
		if trx.RubAmount != nil {
			rub = *trx.RubAmount
		}
		status = trx.Status
	}

	s.metrics.RecordPurchase(currency, status, rub, time.Since(createdAt).Seconds(), attempts)
}
