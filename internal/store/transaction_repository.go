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

const transactionColumns = `id, user_id, type, currency, amount, rub_amount, status, description,
	       payment_system, payment_url, invoice_id, payment_data, ton_price_at_purchase, paid_at, created_at`

// PostgresTransactionRepository реализует TransactionRepository для PostgreSQL
type PostgresTransactionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewTransactionRepository создает новый репозиторий транзакций
func NewTransactionRepository(db *pgxpool.Pool, logger *zap.Logger) TransactionRepository {
	return &PostgresTransactionRepository{
		db:     db,
		logger: logger,
	}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	trx := &models.Transaction{}
	err := row.Scan(
		&trx.ID, &trx.UserID, &trx.Type, &trx.Currency, &trx.Amount, &trx.RubAmount,
		&trx.Status, &trx.Description, &trx.PaymentSystem, &trx.PaymentURL, &trx.InvoiceID,
		&trx.PaymentData, &trx.TonPriceAtPurchase, &trx.PaidAt, &trx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return trx, nil
}

// Create создает новую транзакцию
func (r *PostgresTransactionRepository) Create(ctx context.Context, trx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			user_id, type, currency, amount, rub_amount, status, description,
			payment_system, payment_url, invoice_id, payment_data, ton_price_at_purchase, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	if trx.CreatedAt.IsZero() {
		trx.CreatedAt = time.Now()
	}
	if trx.Status == "" {
		trx.Status = models.TransactionStatusPending
	}

	err := r.db.QueryRow(ctx, query,
		trx.UserID, trx.Type, trx.Currency, trx.Amount, trx.RubAmount, trx.Status, trx.Description,
		trx.PaymentSystem, trx.PaymentURL, trx.InvoiceID, trx.PaymentData, trx.TonPriceAtPurchase, trx.CreatedAt,
	).Scan(&trx.ID)

	if err != nil {
		return fmt.Errorf("ошибка создания транзакции: %w", err)
	}

	r.logger.Info("транзакция создана",
		zap.String("transaction_id", trx.ID),
		zap.String("user_id", trx.UserID),
		zap.String("type", trx.Type),
		zap.String("status", trx.Status))

	return nil
}

// GetByID получает транзакцию по ID
func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	trx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("ошибка получения транзакции: %w", err)
	}

	return trx, nil
}

// GetByInvoiceID получает транзакцию по номеру заказа в платежной системе
func (r *PostgresTransactionRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE invoice_id = $1`

	trx, err := scanTransaction(r.db.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("ошибка получения транзакции по номеру заказа: %w", err)
	}

	return trx, nil
}

// GetByUserID получает транзакции пользователя, новые первыми
func (r *PostgresTransactionRepository) GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		r.logger.Error("ошибка получения транзакций пользователя", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения транзакций пользователя: %w", err)
	}
	defer rows.Close()

	var trxs []*models.Transaction
	for rows.Next() {
		trx, err := scanTransaction(rows)
		if err != nil {
			r.logger.Error("ошибка сканирования транзакции", zap.Error(err))
			continue
		}
		trxs = append(trxs, trx)
	}

	return trxs, nil
}

// ListStalePending получает зависшие незавершенные покупки
func (r *PostgresTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = $1 AND invoice_id IS NOT NULL AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, models.TransactionStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения зависших транзакций: %w", err)
	}
	defer rows.Close()

	var trxs []*models.Transaction
	for rows.Next() {
		trx, err := scanTransaction(rows)
		if err != nil {
			r.logger.Error("ошибка сканирования зависшей транзакции", zap.Error(err))
			continue
		}
		trxs = append(trxs, trx)
	}

	return trxs, nil
}

// SettlePurchase завершает покупку и начисляет средства в одной транзакции БД.
// Баланс пользователя блокируется через SELECT FOR UPDATE, поэтому конкурентные
// начисления одному пользователю выполняются последовательно. Повторный вызов
// для уже завершенной покупки возвращает ErrTransactionSettled.
func (r *PostgresTransactionRepository) SettlePurchase(ctx context.Context, id string, params SettleParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции БД: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, status string
	err = tx.QueryRow(ctx,
		`SELECT user_id, status FROM transactions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&userID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("ошибка блокировки транзакции: %w", err)
	}

	if status != models.TransactionStatusPending {
		return ErrTransactionSettled
	}

	now := time.Now()
	_, err = tx.Exec(ctx,
		`UPDATE transactions SET status = $2, paid_at = $3, payment_data = COALESCE($4, payment_data) WHERE id = $1`,
		id, models.TransactionStatusCompleted, now, params.PaymentData,
	)
	if err != nil {
		return fmt.Errorf("ошибка завершения транзакции: %w", err)
	}

	// Блокируем строку пользователя и начисляем купленную валюту
	_, err = tx.Exec(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID)
	if err != nil {
		return fmt.Errorf("ошибка блокировки пользователя: %w", err)
	}

	if params.CreditStars > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE users SET stars_balance = stars_balance + $2, total_stars_earned = total_stars_earned + $2, updated_at = $3 WHERE id = $1`,
			userID, params.CreditStars, now,
		)
		if err != nil {
			return fmt.Errorf("ошибка начисления звезд: %w", err)
		}
	}

	if params.CreditTon > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE users SET ton_balance = ton_balance + $2, updated_at = $3 WHERE id = $1`,
			userID, params.CreditTon, now,
		)
		if err != nil {
			return fmt.Errorf("ошибка начисления TON: %w", err)
		}
	}

	// Реферальный бонус пригласившему
	if params.ReferrerID != "" && params.ReferralBonus > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE users SET total_referral_earnings = total_referral_earnings + $2, updated_at = $3 WHERE id = $1`,
			params.ReferrerID, params.ReferralBonus, now,
		)
		if err != nil {
			return fmt.Errorf("ошибка начисления реферального бонуса: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, type, currency, amount, status, description, paid_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			params.ReferrerID, models.TransactionTypeReferralBonus, models.CurrencyStars,
			float64(params.ReferralBonus), models.TransactionStatusCompleted, params.BonusDescription, now, now,
		)
		if err != nil {
			return fmt.Errorf("ошибка создания транзакции реферального бонуса: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции БД: %w", err)
	}

	r.logger.Info("покупка завершена",
		zap.String("transaction_id", id),
		zap.String("user_id", userID),
		zap.Int("credit_stars", params.CreditStars),
		zap.Float64("credit_ton", params.CreditTon),
		zap.Int("referral_bonus", params.ReferralBonus))

	return nil
}

// MarkFailed переводит незавершенную транзакцию в статус failed.
// Уже завершенная транзакция не меняется: возвращается ErrTransactionSettled.
func (r *PostgresTransactionRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE transactions
		SET status = $2, payment_data = $3
		WHERE id = $1 AND status = $4
		RETURNING user_id`

	var userID string
	err := r.db.QueryRow(ctx, query, id, models.TransactionStatusFailed, reason, models.TransactionStatusPending).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо транзакции нет, либо она уже в конечном статусе
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return getErr
			}
			return ErrTransactionSettled
		}
		return fmt.Errorf("ошибка перевода транзакции в failed: %w", err)
	}

	r.logger.Warn("транзакция переведена в failed",
		zap.String("transaction_id", id),
		zap.String("user_id", userID),
		zap.String("reason", reason))

	return nil
}

// SumCompletedRubSince возвращает сумму оплаченных покупок в рублях с указанного момента
func (r *PostgresTransactionRepository) SumCompletedRubSince(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(rub_amount), 0)
		FROM transactions
		WHERE status = $1 AND rub_amount IS NOT NULL AND paid_at >= $2`

	var sum float64
	err := r.db.QueryRow(ctx, query, models.TransactionStatusCompleted, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета выручки: %w", err)
	}

	return sum, nil
}

// GetRecent получает последние транзакции с именами пользователей
func (r *PostgresTransactionRepository) GetRecent(ctx context.Context, limit int) ([]*TransactionWithUser, error) {
	query := `
		SELECT t.id, t.user_id, t.type, t.currency, t.amount, t.rub_amount, t.status, t.description,
		       t.payment_system, t.payment_url, t.invoice_id, t.payment_data, t.ton_price_at_purchase,
		       t.paid_at, t.created_at, u.username, u.first_name
		FROM transactions t
		JOIN users u ON u.id = t.user_id
		ORDER BY t.created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения последних транзакций: %w", err)
	}
	defer rows.Close()

	var trxs []*TransactionWithUser
	for rows.Next() {
		trx := &TransactionWithUser{}
		err := rows.Scan(
			&trx.ID, &trx.UserID, &trx.Type, &trx.Currency, &trx.Amount, &trx.RubAmount,
			&trx.Status, &trx.Description, &trx.PaymentSystem, &trx.PaymentURL, &trx.InvoiceID,
			&trx.PaymentData, &trx.TonPriceAtPurchase, &trx.PaidAt, &trx.CreatedAt,
			&trx.Username, &trx.FirstName,
		)
		if err != nil {
			r.logger.Error("ошибка сканирования транзакции", zap.Error(err))
			continue
		}
		trxs = append(trxs, trx)
	}

	return trxs, nil
}
