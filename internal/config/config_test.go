package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Устанавливаем переменные окружения для теста
	os.Setenv("TELEGRAM_BOT_TOKEN", "test_token")
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_USER", "test_user")
	os.Setenv("DB_PASSWORD", "test_password")
	os.Setenv("DB_NAME", "test_db")
	os.Setenv("FREEKASSA_TEST_MODE", "true")

	// Загружаем конфигурацию
	cfg, err := Load()

	// Проверяем, что конфигурация загружена без ошибок
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	// Проверяем значения
	assert.Equal(t, "test_token", cfg.Telegram.BotToken)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "test_user", cfg.Database.User)
	assert.Equal(t, "test_password", cfg.Database.Password)
	assert.Equal(t, "test_db", cfg.Database.Name)

	// Проверяем значения по умолчанию
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 10*time.Second, cfg.Settlement.PollInterval)
	assert.Equal(t, 90, cfg.Settlement.MaxAttempts)
	assert.True(t, cfg.FreeKassa.TestMode)
	assert.NotEmpty(t, cfg.FreeKassa.AllowedIPs)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "test_user",
		Password: "test_password",
		Name:     "test_db",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()
	expected := "host=localhost port=5432 user=test_user password=test_password dbname=test_db sslmode=disable"
	assert.Equal(t, expected, dsn)
}

func TestAppConfigMethods(t *testing.T) {
	cfg := &AppConfig{
		Env:      "development",
		LogLevel: "debug",
	}

	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestFreeKassaAllowedIP(t *testing.T) {
	cfg := &FreeKassaConfig{
		TestMode:   false,
		AllowedIPs: []string{"168.119.157.136", "51.250.54.238"},
	}

	assert.True(t, cfg.IsAllowedIP("168.119.157.136"))
	assert.False(t, cfg.IsAllowedIP("10.0.0.1"))

	// В тестовом режиме проверка IP отключена
	cfg.TestMode = true
	assert.True(t, cfg.IsAllowedIP("10.0.0.1"))
}

func TestValidateConfig(t *testing.T) {
	// Тест с пустыми обязательными полями
	cfg := &Config{}
	err := validateConfig(cfg)
	assert.Error(t, err)

	// Тест с корректной конфигурацией
	cfg = &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "test_user",
			Password: "test_password",
			Name:     "test_db",
		},
		FreeKassa: FreeKassaConfig{
			TestMode: true,
		},
		Settlement: SettlementConfig{
			PollInterval: 10 * time.Second,
			MaxAttempts:  90,
		},
	}
	err = validateConfig(cfg)
	assert.NoError(t, err)

	// Боевой режим FreeKassa требует реквизиты магазина
	cfg.FreeKassa.TestMode = false
	err = validateConfig(cfg)
	assert.Error(t, err)
}
