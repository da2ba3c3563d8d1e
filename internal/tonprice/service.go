package tonprice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"stars-exchange/internal/config"
	"stars-exchange/internal/pricing"
	"stars-exchange/pkg/models"

	"go.uber.org/zap"
)

// SettingsReader читает настройки курса TON
type SettingsReader interface {
	GetValue(ctx context.Context, key string) (string, error)
}

// Service получает рыночный курс TON в рублях: TON/USDT с Binance,
// USD/RUB с exchangerate-api, плюс наценка магазина. Результат кэшируется.
type Service struct {
	settings   SettingsReader
	binanceURL string
	rateURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	lastPrice  float64
	lastUpdate time.Time
}

// NewService создает новый сервис курса TON
func NewService(settings SettingsReader, cfg config.TonPriceConfig, logger *zap.Logger) *Service {
	return &Service{
		settings:   settings,
		binanceURL: cfg.BinanceURL,
		rateURL:    cfg.RateURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// CurrentPriceRub возвращает текущий курс TON в рублях с наценкой.
// При недоступности внешних API возвращается кэш, затем резервная цена.
func (s *Service) CurrentPriceRub(ctx context.Context) float64 {
	cacheMinutes := pricing.FloatSetting(ctx, s.settings, models.SettingTonCacheMinutes, 15, s.logger)

	s.mu.Lock()
	cached := s.lastPrice
	fresh := cached > 0 && time.Since(s.lastUpdate) < time.Duration(cacheMinutes)*time.Minute
	s.mu.Unlock()

	if fresh {
		return cached
	}

	price, err := s.fetchPrice(ctx)
	if err != nil {
		s.logger.Warn("ошибка обновления курса TON", zap.Error(err))
		if cached > 0 {
			return cached
		}
		return pricing.FloatSetting(ctx, s.settings, models.SettingTonFallbackPrice, 420, s.logger)
	}

	markup := pricing.FloatSetting(ctx, s.settings, models.SettingMarkupPercentage, models.DefaultMarkupPercentage, s.logger)
	final := pricing.Round2(price * (1 + markup/100))

	s.mu.Lock()
	s.lastPrice = final
	s.lastUpdate = time.Now()
	s.mu.Unlock()

	s.logger.Info("курс TON обновлен", zap.Float64("price_rub", final))
	return final
}

// fetchPrice получает базовую цену TON в рублях без наценки
func (s *Service) fetchPrice(ctx context.Context) (float64, error) {
	tonUsd, err := s.fetchTonUsd(ctx)
	if err != nil {
		return 0, err
	}

	usdRub, err := s.fetchUsdRub(ctx)
	if err != nil {
		return 0, err
	}

	return tonUsd * usdRub, nil
}

func (s *Service) fetchTonUsd(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.binanceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ошибка запроса курса TON/USDT: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("неожиданный статус ответа Binance: %d", resp.StatusCode)
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, fmt.Errorf("ошибка парсинга ответа Binance: %w", err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректная цена в ответе Binance: %w", err)
	}

	return price, nil
}

func (s *Service) fetchUsdRub(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.rateURL, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ошибка запроса курса USD/RUB: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("неожиданный статус ответа курса валют: %d", resp.StatusCode)
	}

	var rates struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return 0, fmt.Errorf("ошибка парсинга курса валют: %w", err)
	}

	rub, ok := rates.Rates["RUB"]
	if !ok || rub <= 0 {
		return 0, fmt.Errorf("курс RUB отсутствует в ответе")
	}

	return rub, nil
}
