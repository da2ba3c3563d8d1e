package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stars-exchange/internal/admin"
	"stars-exchange/internal/config"
	"stars-exchange/internal/metrics"
	"stars-exchange/internal/migrations"
	"stars-exchange/internal/notify"
	"stars-exchange/internal/payment"
	"stars-exchange/internal/pricing"
	"stars-exchange/internal/purchase"
	"stars-exchange/internal/referral"
	"stars-exchange/internal/router"
	"stars-exchange/internal/scheduler"
	"stars-exchange/internal/store"
	"stars-exchange/internal/task"
	"stars-exchange/internal/tonprice"
	"stars-exchange/internal/user"

	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск магазина Stars и TON",
		zap.String("env", cfg.App.Env),
		zap.Bool("freekassa_test_mode", cfg.FreeKassa.TestMode))

	// Инициализация базы данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer db.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация метрик
	metricsSystem := metrics.New(logger)

	// Инициализация клиента FreeKassa
	gateway := payment.NewFreeKassaClient(cfg.FreeKassa, logger)
	logger.Info("FreeKassa клиент инициализирован",
		zap.String("shop_id", cfg.FreeKassa.ShopID),
		zap.Bool("test_mode", cfg.FreeKassa.TestMode))

	// Уведомления пользователям через Telegram бота
	notifier := notify.NewTelegramNotifier(cfg.Telegram.BotToken, logger)

	// Инициализация сервисов
	calculator := pricing.NewCalculator(db.Setting(), logger)
	userService := user.NewService(db.User(), logger)
	purchaseService := purchase.NewService(
		db.User(), db.Transaction(), db.Setting(), calculator, gateway,
		notifier, metricsSystem,
		purchase.Config{
			PollInterval: cfg.Settlement.PollInterval,
			MaxAttempts:  cfg.Settlement.MaxAttempts,
		},
		logger,
	)
	taskService := task.NewService(db.User(), db.Task(), db.UserTask(), notifier, metricsSystem, logger)
	referralService := referral.NewService(db.User(), logger)
	adminService := admin.NewService(db.User(), db.Transaction(), db.Setting(), db.Task(), logger)
	tonPriceService := tonprice.NewService(db.Setting(), cfg.TonPrice, logger)

	// Контекст приложения для фоновых воркеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	purchaseService.Start(ctx)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewReconcilePendingJob(purchaseService, db.Task(), cfg.Settlement.PollInterval*2, logger))
	taskScheduler.AddJob(scheduler.NewDailyResetJob(db.User(), db.Setting(), logger))
	go taskScheduler.Start(ctx, time.Minute)

	// Инициализация HTTP роутера
	httpRouter := router.CreateRouter(router.Services{
		Users:     userService,
		Purchases: purchaseService,
		Tasks:     taskService,
		Referrals: referralService,
		Admin:     adminService,
		TonPrice:  tonPriceService,
	}, cfg, metricsSystem, logger)

	go func() {
		if err := httpRouter.Run(); err != nil {
			logger.Fatal("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)))

	// Ожидание сигнала завершения
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	if err := httpRouter.Close(); err != nil {
		logger.Error("ошибка остановки HTTP сервера", zap.Error(err))
	}

	// Останавливаем фоновые опросы платежей и дожидаемся их завершения.
	// Недосчитанные покупки доведет до конца джоба сверки после рестарта.
	cancel()
	purchaseService.Wait()

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер с уровнем из конфигурации
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.App.IsProduction() {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = cfg.App.GetLogLevel()

	return zapConfig.Build()
}
