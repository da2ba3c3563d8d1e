package main

import (
	"flag"
	"log"

	"stars-exchange/internal/config"
	"stars-exchange/internal/migrations"

	"go.uber.org/zap"
)

func main() {
	var (
		statusOnly = flag.Bool("status", false, "Показать статус миграций без их применения")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	if *statusOnly {
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	}

	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("Ошибка применения миграций", zap.Error(err))
	}

	logger.Info("Миграции применены успешно")
}
