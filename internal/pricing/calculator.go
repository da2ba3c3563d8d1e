package pricing

import (
	"context"
	"errors"
	"math"
	"strconv"

	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"go.uber.org/zap"
)

// Ошибки валидации запроса расчета
var (
	ErrUnknownCurrency = errors.New("неизвестная валюта покупки")
	ErrInvalidAmount   = errors.New("количество должно быть больше нуля")
)

// SettingsReader читает настройки ценообразования
type SettingsReader interface {
	GetValue(ctx context.Context, key string) (string, error)
}

// Calculator рассчитывает стоимость покупки по настройкам магазина
type Calculator struct {
	settings SettingsReader
	logger   *zap.Logger
}

// NewCalculator создает новый калькулятор стоимости
func NewCalculator(settings SettingsReader, logger *zap.Logger) *Calculator {
	return &Calculator{
		settings: settings,
		logger:   logger,
	}
}

// Calculate рассчитывает стоимость покупки: базовая цена, наценка и итог.
// Все денежные значения округляются до копеек.
func (c *Calculator) Calculate(ctx context.Context, currency string, amount float64) (*models.PurchaseQuote, error) {
	if !models.IsValidCurrency(currency) {
		return nil, ErrUnknownCurrency
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var unitPrice float64
	switch currency {
	case models.CurrencyTon:
		unitPrice = FloatSetting(ctx, c.settings, models.SettingTonPrice, models.DefaultTonPrice, c.logger)
	default:
		unitPrice = FloatSetting(ctx, c.settings, models.SettingStarsPrice, models.DefaultStarsPrice, c.logger)
	}

	markupPct := FloatSetting(ctx, c.settings, models.SettingMarkupPercentage, models.DefaultMarkupPercentage, c.logger)

	basePrice := Round2(amount * unitPrice)
	markupAmount := Round2(basePrice * markupPct / 100)
	totalPrice := Round2(basePrice + markupAmount)

	return &models.PurchaseQuote{
		Currency:     currency,
		Amount:       amount,
		UnitPrice:    unitPrice,
		BasePrice:    basePrice,
		MarkupAmount: markupAmount,
		TotalPrice:   totalPrice,
	}, nil
}

// FloatSetting читает числовую настройку, возвращая значение по умолчанию,
// если настройка отсутствует или не является числом
func FloatSetting(ctx context.Context, settings SettingsReader, key string, def float64, logger *zap.Logger) float64 {
	value, err := settings.GetValue(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrSettingNotFound) && logger != nil {
			logger.Warn("ошибка чтения настройки, используется значение по умолчанию",
				zap.String("key", key), zap.Error(err))
		}
		return def
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		if logger != nil {
			logger.Warn("настройка не является числом, используется значение по умолчанию",
				zap.String("key", key), zap.String("value", value))
		}
		return def
	}

	return f
}

// Round2 округляет денежное значение до двух знаков
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
