package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"stars-exchange/pkg/models"
)

// TelegramNotifier отправляет пользователям уведомления о покупках и заданиях
// через Telegram бота. При пустом токене уведомления отключены.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewTelegramNotifier создает нотификатор. При пустом токене возвращается
// выключенный нотификатор, все вызовы которого безопасны.
func NewTelegramNotifier(botToken string, logger *zap.Logger) *TelegramNotifier {
	if botToken == "" {
		logger.Warn("токен бота не задан, уведомления отключены")
		return &TelegramNotifier{logger: logger}
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		logger.Error("ошибка инициализации Telegram бота, уведомления отключены", zap.Error(err))
		return &TelegramNotifier{logger: logger}
	}

	logger.Info("Telegram уведомления включены", zap.String("bot", bot.Self.UserName))
	return &TelegramNotifier{
		bot:    bot,
		logger: logger,
	}
}

// PurchaseCompleted уведомляет пользователя об успешной покупке
func (n *TelegramNotifier) PurchaseCompleted(user *models.User, trx *models.Transaction) {
	var what string
	switch trx.Currency {
	case models.CurrencyStars:
		what = fmt.Sprintf("%d Stars ⭐", int(trx.Amount))
	case models.CurrencyTon:
		what = fmt.Sprintf("%s TON 💎", formatTon(trx.Amount))
	default:
		what = fmt.Sprintf("%.2f %s", trx.Amount, trx.Currency)
	}

	text := fmt.Sprintf(`✅ <b>Покупка завершена!</b>

Вам зачислено: %s`, what)
	if trx.RubAmount != nil {
		text += fmt.Sprintf("\nСумма оплаты: %.2f ₽", *trx.RubAmount)
	}

	n.send(user.TelegramID, text)
}

// PurchaseFailed уведомляет пользователя о неуспешной покупке
func (n *TelegramNotifier) PurchaseFailed(user *models.User, trx *models.Transaction, reason string) {
	text := fmt.Sprintf(`❌ <b>Покупка не завершена</b>

%s

Если вы уже оплатили заказ, средства будут зачислены автоматически после подтверждения платежа.`, reason)

	n.send(user.TelegramID, text)
}

// TaskCompleted уведомляет пользователя о награде за выполненное задание
func (n *TelegramNotifier) TaskCompleted(user *models.User, task *models.Task) {
	text := fmt.Sprintf(`🎉 <b>Задание выполнено!</b>

«%s»

Награда: %d Stars ⭐`, task.Title, task.Reward)

	n.send(user.TelegramID, text)
}

// send отправляет HTML сообщение, при ошибке парсинга повторяет обычным текстом
func (n *TelegramNotifier) send(telegramID int64, text string) {
	if n.bot == nil {
		return
	}

	msg := tgbotapi.NewMessage(telegramID, text)
	msg.ParseMode = "HTML"

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("ошибка отправки HTML уведомления, отправляем как обычный текст",
			zap.Error(err),
			zap.Int64("telegram_id", telegramID))

		plain := strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "").Replace(text)
		fallback := tgbotapi.NewMessage(telegramID, plain)
		if _, err := n.bot.Send(fallback); err != nil {
			n.logger.Error("ошибка отправки уведомления",
				zap.Error(err),
				zap.Int64("telegram_id", telegramID))
		}
	}
}

// formatTon печатает количество TON без хвостовых нулей
func formatTon(amount float64) string {
	s := fmt.Sprintf("%.4f", amount)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
