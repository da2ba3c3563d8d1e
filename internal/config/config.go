package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Telegram   TelegramConfig
	Database   DatabaseConfig
	App        AppConfig
	FreeKassa  FreeKassaConfig
	Settlement SettlementConfig
	TonPrice   TonPriceConfig
}

// TelegramConfig содержит настройки Telegram бота
type TelegramConfig struct {
	BotToken string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

type AppConfig struct {
	Env        string
	LogLevel   string
	Port       int
	AdminToken string
}

// FreeKassaConfig содержит настройки платежной системы FreeKassa
type FreeKassaConfig struct {
	ShopID      string
	SecretWord1 string // Подпись платежной формы
	SecretWord2 string // Подпись уведомлений
	APIKey      string
	TestMode    bool
	AllowedIPs  []string // IP-адреса, с которых принимаются уведомления
}

// SettlementConfig содержит настройки фонового опроса платежей
type SettlementConfig struct {
	PollInterval time.Duration // Интервал опроса статуса платежа
	MaxAttempts  int           // Число попыток до перевода в failed
}

// TonPriceConfig содержит настройки источника курса TON
type TonPriceConfig struct {
	BinanceURL string
	RateURL    string
	Timeout    time.Duration
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// FreeKassa
	cfg.FreeKassa.ShopID = os.Getenv("FREEKASSA_SHOP_ID")
	cfg.FreeKassa.SecretWord1 = os.Getenv("FREEKASSA_SECRET_WORD_1")
	cfg.FreeKassa.SecretWord2 = os.Getenv("FREEKASSA_SECRET_WORD_2")
	cfg.FreeKassa.APIKey = os.Getenv("FREEKASSA_API_KEY")
	cfg.FreeKassa.TestMode = getEnvBoolDefault("FREEKASSA_TEST_MODE", true)
	cfg.FreeKassa.AllowedIPs = getEnvListDefault("FREEKASSA_ALLOWED_IPS",
		[]string{"168.119.157.136", "168.119.60.227", "178.154.197.79", "51.250.54.238"})

	// Settlement
	cfg.Settlement.PollInterval = time.Duration(getEnvIntDefault("SETTLEMENT_POLL_INTERVAL_SECONDS", 10)) * time.Second
	cfg.Settlement.MaxAttempts = getEnvIntDefault("SETTLEMENT_MAX_ATTEMPTS", 90)

	// TON price
	cfg.TonPrice.BinanceURL = getEnvDefault("TON_PRICE_BINANCE_URL", "https://api.binance.com/api/v3/ticker/price?symbol=TONUSDT")
	cfg.TonPrice.RateURL = getEnvDefault("TON_PRICE_RATE_URL", "https://api.exchangerate-api.com/v4/latest/USD")
	cfg.TonPrice.Timeout = time.Duration(getEnvIntDefault("TON_PRICE_TIMEOUT_SECONDS", 10)) * time.Second

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)
	cfg.App.AdminToken = os.Getenv("ADMIN_TOKEN")

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if !config.FreeKassa.TestMode {
		if config.FreeKassa.ShopID == "" {
			return fmt.Errorf("FREEKASSA_SHOP_ID не установлен")
		}
		if config.FreeKassa.SecretWord1 == "" {
			return fmt.Errorf("FREEKASSA_SECRET_WORD_1 не установлен")
		}
		if config.FreeKassa.SecretWord2 == "" {
			return fmt.Errorf("FREEKASSA_SECRET_WORD_2 не установлен")
		}
	}
	if config.Settlement.PollInterval <= 0 {
		return fmt.Errorf("SETTLEMENT_POLL_INTERVAL_SECONDS должен быть больше нуля")
	}
	if config.Settlement.MaxAttempts <= 0 {
		return fmt.Errorf("SETTLEMENT_MAX_ATTEMPTS должен быть больше нуля")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// IsAllowedIP проверяет, разрешен ли IP-адрес для уведомлений FreeKassa
func (c *FreeKassaConfig) IsAllowedIP(ip string) bool {
	if c.TestMode {
		return true
	}
	for _, allowed := range c.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
