package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"stars-exchange/internal/config"

	"go.uber.org/zap"
)

// Статусы платежа, которые возвращает шлюз
const (
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
	StatusPending   = "pending"
)

// FreeKassaClient представляет клиент платежной системы FreeKassa
type FreeKassaClient struct {
	shopID      string
	secretWord1 string // Подпись платежной формы
	secretWord2 string // Подпись уведомлений
	apiKey      string
	testMode    bool
	paymentURL  string
	apiURL      string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewFreeKassaClient создает новый клиент FreeKassa
func NewFreeKassaClient(cfg config.FreeKassaConfig, logger *zap.Logger) *FreeKassaClient {
	return &FreeKassaClient{
		shopID:      cfg.ShopID,
		secretWord1: cfg.SecretWord1,
		secretWord2: cfg.SecretWord2,
		apiKey:      cfg.APIKey,
		testMode:    cfg.TestMode,
		paymentURL:  "https://pay.fk.money/",
		apiURL:      "https://api.fk.life/v1/",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// CreatePaymentURL формирует платежную ссылку по SCI-протоколу
func (c *FreeKassaClient) CreatePaymentURL(ctx context.Context, orderID string, amount float64, description string) (string, error) {
	// В тестовом режиме возвращаем демонстрационную ссылку
	if c.testMode {
		testURL := fmt.Sprintf("%s?test=1&o=%s&oa=%.2f", c.paymentURL, orderID, amount)
		c.logger.Info("создана тестовая платежная ссылка",
			zap.String("order_id", orderID),
			zap.Float64("amount", amount),
			zap.Bool("test_mode", true))
		return testURL, nil
	}

	amountStr := fmt.Sprintf("%.2f", amount)
	signature := c.sciSignature(amountStr, "RUB", orderID)

	params := url.Values{}
	params.Set("m", c.shopID)
	params.Set("oa", amountStr)
	params.Set("o", orderID)
	params.Set("s", signature)
	params.Set("currency", "RUB")
	params.Set("lang", "ru")
	if description != "" {
		if len(description) > 255 {
			description = description[:255]
		}
		params.Set("desc", description)
	}

	paymentURL := c.paymentURL + "?" + params.Encode()

	c.logger.Info("создана платежная ссылка FreeKassa",
		zap.String("order_id", orderID),
		zap.String("amount", amountStr))

	return paymentURL, nil
}

// CheckPaymentStatus проверяет статус заказа через FreeKassa API.
// Возвращает paid, cancelled или pending.
func (c *FreeKassaClient) CheckPaymentStatus(ctx context.Context, orderID string) (string, error) {
	// В тестовом режиме все заказы считаются оплаченными
	if c.testMode {
		c.logger.Info("проверка статуса тестового заказа",
			zap.String("order_id", orderID),
			zap.String("status", StatusPaid),
			zap.Bool("test_mode", true))
		return StatusPaid, nil
	}

	if c.apiKey == "" {
		return "", fmt.Errorf("FREEKASSA_API_KEY не установлен, проверка статуса недоступна")
	}

	data := map[string]any{
		"shopId":    c.shopID,
		"nonce":     time.Now().Unix(),
		"paymentId": orderID,
	}
	data["signature"] = c.apiSignature(data)

	reqBody, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"orders", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("неожиданный статус ответа: %d", resp.StatusCode)
	}

	var ordersResp ordersResponse
	if err := json.NewDecoder(resp.Body).Decode(&ordersResp); err != nil {
		return "", fmt.Errorf("ошибка парсинга ответа: %w", err)
	}

	if ordersResp.Type != "success" || len(ordersResp.Orders) == 0 {
		return StatusPending, nil
	}

	status := mapOrderStatus(ordersResp.Orders[0].Status)

	c.logger.Info("статус заказа получен",
		zap.String("order_id", orderID),
		zap.String("status", status))

	return status, nil
}

// VerifyWebhook проверяет подпись уведомления от FreeKassa
func (c *FreeKassaClient) VerifyWebhook(merchantID, amount, orderID, signature string) bool {
	if merchantID != c.shopID {
		c.logger.Warn("несовпадение merchant_id в уведомлении",
			zap.String("expected", c.shopID),
			zap.String("got", merchantID))
		return false
	}

	expected := c.webhookSignature(merchantID, amount, orderID)
	valid := hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))

	if !valid {
		c.logger.Warn("неверная подпись уведомления FreeKassa",
			zap.String("order_id", orderID))
	}

	return valid
}

// ordersResponse представляет ответ FreeKassa API на запрос заказов
type ordersResponse struct {
	Type   string `json:"type"`
	Orders []struct {
		Status int `json:"status"`
	} `json:"orders"`
}

// mapOrderStatus переводит числовой статус FreeKassa во внутренний
func mapOrderStatus(status int) string {
	switch status {
	case 1:
		return StatusPaid
	case 2, 8, 9: // отменен, ошибка, истек
		return StatusCancelled
	default:
		return StatusPending
	}
}

// sciSignature формирует MD5-подпись платежной формы:
// shop_id:amount:secret:currency:order_id
func (c *FreeKassaClient) sciSignature(amount, currency, orderID string) string {
	s := fmt.Sprintf("%s:%s:%s:%s:%s", c.shopID, amount, c.secretWord1, currency, orderID)
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// webhookSignature формирует MD5-подпись уведомления:
// merchant_id:amount:secret:order_id
func (c *FreeKassaClient) webhookSignature(merchantID, amount, orderID string) string {
	s := fmt.Sprintf("%s:%s:%s:%s", merchantID, amount, c.secretWord2, orderID)
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// apiSignature формирует HMAC-SHA256 подпись API-запроса:
// значения параметров, отсортированных по ключу, через |
func (c *FreeKassaClient) apiSignature(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fmt.Sprintf("%v", data[k]))
	}

	mac := hmac.New(sha256.New, []byte(c.apiKey))
	mac.Write([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
