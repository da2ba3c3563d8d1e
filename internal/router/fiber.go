package router

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"stars-exchange/internal/admin"
	"stars-exchange/internal/config"
	"stars-exchange/internal/metrics"
	"stars-exchange/internal/pricing"
	"stars-exchange/internal/purchase"
	"stars-exchange/internal/referral"
	"stars-exchange/internal/store"
	"stars-exchange/internal/task"
	"stars-exchange/internal/telegram"
	"stars-exchange/internal/tonprice"
	"stars-exchange/internal/user"
	"stars-exchange/pkg/models"
)

const internalServerErrorMessage = "Произошла ошибка на сервере"
const badRequestMessage = "Неправильный формат данных или в них есть ошибка"

// Services собирает сервисы, обслуживаемые HTTP роутером
type Services struct {
	Users     *user.Service
	Purchases *purchase.Service
	Tasks     *task.Service
	Referrals *referral.Service
	Admin     *admin.Service
	TonPrice  *tonprice.Service
}

// HttpRouter обслуживает HTTP API магазина Stars и TON
type HttpRouter struct {
	*fiber.App
	services  Services
	cfg       *config.Config
	auth      *telegram.Authenticator
	metrics   *metrics.Metrics
	appLogger *zap.Logger
}

// Run запускает HTTP сервер на порту из конфигурации
func (r *HttpRouter) Run() error {
	return r.App.Listen(":" + strconv.Itoa(r.cfg.App.Port))
}

// Close останавливает HTTP сервер
func (r *HttpRouter) Close() error {
	return r.App.Shutdown()
}

// Authenticate проверяет подпись initData из Telegram Mini App и кладет
// данные пользователя Telegram в контекст запроса. В режиме разработки
// без токена бота идентификация идет по заголовку X-Telegram-Id.
func (r *HttpRouter) Authenticate(ctx *fiber.Ctx) error {
	if r.auth == nil {
		id, err := strconv.ParseInt(ctx.Get("X-Telegram-Id"), 10, 64)
		if err != nil || id == 0 {
			ctx.Status(http.StatusUnauthorized)
			return ctx.JSON(fiber.Map{"status": "error", "message": "Необходима авторизация"})
		}
		ctx.Locals("telegram_user", &telegram.WebAppUser{ID: id})
		return ctx.Next()
	}

	tgUser, err := r.auth.Validate(ctx.Get("X-Telegram-Init-Data"))
	if err != nil {
		r.appLogger.Warn("auth.Validate failed: ", zap.Error(err))
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Необходима авторизация"})
	}
	ctx.Locals("telegram_user", tgUser)
	return ctx.Next()
}

// ResolveUser загружает пользователя магазина по данным Telegram
func (r *HttpRouter) ResolveUser(ctx *fiber.Ctx) error {
	tgUser := ctx.Locals("telegram_user").(*telegram.WebAppUser)

	u, err := r.services.Users.GetByTelegramID(ctx.Context(), tgUser.ID)
	if errors.Is(err, store.ErrUserNotFound) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Пользователь не зарегистрирован"})
	}
	if err != nil {
		r.appLogger.Error("users.GetByTelegramID failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Locals("user", u)
	return ctx.Next()
}

// AdminOnly пропускает только запросы с корректным админским токеном
func (r *HttpRouter) AdminOnly(ctx *fiber.Ctx) error {
	if r.cfg.App.AdminToken == "" || ctx.Get("X-Admin-Token") != r.cfg.App.AdminToken {
		ctx.Status(http.StatusForbidden)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Доступ запрещен"})
	}
	return ctx.Next()
}

func currentUser(ctx *fiber.Ctx) *models.User {
	return ctx.Locals("user").(*models.User)
}

// RegisterUser регистрирует пользователя или возвращает существующего
func (r *HttpRouter) RegisterUser(ctx *fiber.Ctx) error {
	tgUser := ctx.Locals("telegram_user").(*telegram.WebAppUser)

	request := &models.CreateUserRequest{}
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(request); err != nil {
			ctx.Status(http.StatusBadRequest)
			return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
		}
	}

	// идентичность всегда берется из подписанных данных Telegram
	request.TelegramID = tgUser.ID
	if tgUser.Username != "" {
		request.Username = tgUser.Username
	}
	if tgUser.FirstName != "" {
		request.FirstName = tgUser.FirstName
	}
	if tgUser.LastName != "" {
		request.LastName = tgUser.LastName
	}

	u, err := r.services.Users.GetOrCreate(ctx.Context(), request)
	if err != nil {
		r.appLogger.Error("users.GetOrCreate failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(u)
}

// GetMe возвращает профиль текущего пользователя
func (r *HttpRouter) GetMe(ctx *fiber.Ctx) error {
	return ctx.JSON(currentUser(ctx))
}

// UpdateMe обновляет профиль текущего пользователя
func (r *HttpRouter) UpdateMe(ctx *fiber.Ctx) error {
	request := &models.UpdateUserRequest{}
	if err := ctx.BodyParser(request); err != nil {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	u, err := r.services.Users.UpdateProfile(ctx.Context(), currentUser(ctx).ID, request)
	if err != nil {
		r.appLogger.Error("users.UpdateProfile failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(u)
}

// CalculatePurchase возвращает расчет стоимости покупки без ее создания
func (r *HttpRouter) CalculatePurchase(ctx *fiber.Ctx) error {
	request := &models.CreatePurchaseRequest{}
	if err := ctx.BodyParser(request); err != nil {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	quote, err := r.services.Purchases.Quote(ctx.Context(), request.Currency, request.Amount)
	if errors.Is(err, pricing.ErrUnknownCurrency) || errors.Is(err, pricing.ErrInvalidAmount) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if err != nil {
		r.appLogger.Error("purchases.Quote failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(quote)
}

// SubmitPurchase создает покупку и возвращает ссылку на оплату
func (r *HttpRouter) SubmitPurchase(ctx *fiber.Ctx) error {
	request := &models.CreatePurchaseRequest{}
	if err := ctx.BodyParser(request); err != nil {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	trx, err := r.services.Purchases.Submit(ctx.Context(), currentUser(ctx).ID, request)
	if errors.Is(err, pricing.ErrUnknownCurrency) || errors.Is(err, pricing.ErrInvalidAmount) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if errors.Is(err, purchase.ErrAmountMismatch) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Сумма покупки устарела, обновите расчет"})
	}
	if err != nil {
		r.appLogger.Error("purchases.Submit failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}

	ctx.Status(http.StatusCreated)
	return ctx.JSON(fiber.Map{
		"transaction": trx,
		"status":      "processing",
		"payment_url": trx.PaymentURL,
	})
}

// PaymentStatus возвращает актуальный статус покупки
func (r *HttpRouter) PaymentStatus(ctx *fiber.Ctx) error {
	transactionID := ctx.Params("transactionId")
	if transactionID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	trx, err := r.services.Purchases.Status(ctx.Context(), currentUser(ctx).ID, transactionID)
	if errors.Is(err, store.ErrTransactionNotFound) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Транзакция не найдена"})
	}
	if errors.Is(err, purchase.ErrNotOwner) {
		ctx.Status(http.StatusForbidden)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Доступ запрещен"})
	}
	if err != nil {
		r.appLogger.Error("purchases.Status failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(trx)
}

// TransactionHistory возвращает историю транзакций пользователя
func (r *HttpRouter) TransactionHistory(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	history, err := r.services.Purchases.History(ctx.Context(), currentUser(ctx).ID, limit)
	if err != nil {
		r.appLogger.Error("purchases.History failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(history)
}

// FreeKassaWebhook обрабатывает уведомление об оплате от FreeKassa.
// FreeKassa ожидает в ответе строку YES, иначе повторяет уведомление.
func (r *HttpRouter) FreeKassaWebhook(ctx *fiber.Ctx) error {
	if !r.cfg.FreeKassa.TestMode && !r.cfg.FreeKassa.IsAllowedIP(ctx.IP()) {
		r.appLogger.Warn("вебхук с недоверенного адреса", zap.String("ip", ctx.IP()))
		r.metrics.RecordWebhook(false)
		ctx.Status(http.StatusForbidden)
		return ctx.SendString("NO")
	}

	merchantID := ctx.FormValue("MERCHANT_ID")
	amount := ctx.FormValue("AMOUNT")
	orderID := ctx.FormValue("MERCHANT_ORDER_ID")
	sign := ctx.FormValue("SIGN")
	raw := string(ctx.Body())

	err := r.services.Purchases.HandleWebhook(ctx.Context(), merchantID, amount, orderID, sign, raw)
	if errors.Is(err, purchase.ErrInvalidWebhook) {
		ctx.Status(http.StatusBadRequest)
		return ctx.SendString("NO")
	}
	if errors.Is(err, store.ErrTransactionNotFound) {
		ctx.Status(http.StatusNotFound)
		return ctx.SendString("NO")
	}
	if err != nil {
		r.appLogger.Error("purchases.HandleWebhook failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.SendString("NO")
	}
	return ctx.SendString("YES")
}

// TonPrice возвращает текущий курс TON в рублях
func (r *HttpRouter) TonPrice(ctx *fiber.Ctx) error {
	price := r.services.TonPrice.CurrentPriceRub(ctx.Context())
	return ctx.JSON(fiber.Map{"price_rub": price})
}

// ListTasks возвращает активные задания со статусом выполнения
func (r *HttpRouter) ListTasks(ctx *fiber.Ctx) error {
	tasks, err := r.services.Tasks.ListForUser(ctx.Context(), currentUser(ctx).ID)
	if err != nil {
		r.appLogger.Error("tasks.ListForUser failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(tasks)
}

// CompleteTask отмечает задание выполненным и начисляет награду
func (r *HttpRouter) CompleteTask(ctx *fiber.Ctx) error {
	taskID := ctx.Params("taskId")
	if taskID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	reward, err := r.services.Tasks.Complete(ctx.Context(), currentUser(ctx).ID, taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Задание не найдено"})
	}
	if errors.Is(err, task.ErrTaskUnavailable) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Задание недоступно"})
	}
	if errors.Is(err, store.ErrTaskAlreadyCompleted) {
		ctx.Status(http.StatusConflict)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Задание уже выполнено"})
	}
	if err != nil {
		r.appLogger.Error("tasks.Complete failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(fiber.Map{"status": "success", "reward": reward})
}

// ReferralStats возвращает реферальную статистику пользователя
func (r *HttpRouter) ReferralStats(ctx *fiber.Ctx) error {
	stats, err := r.services.Referrals.Stats(ctx.Context(), currentUser(ctx).ID)
	if err != nil {
		r.appLogger.Error("referrals.Stats failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(stats)
}

// AdminStats возвращает сводную статистику магазина
func (r *HttpRouter) AdminStats(ctx *fiber.Ctx) error {
	stats, err := r.services.Admin.Stats(ctx.Context())
	if err != nil {
		r.appLogger.Error("admin.Stats failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(stats)
}

// AdminSettings возвращает текущие настройки ценообразования
func (r *HttpRouter) AdminSettings(ctx *fiber.Ctx) error {
	settings, err := r.services.Admin.Settings(ctx.Context())
	if err != nil {
		r.appLogger.Error("admin.Settings failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(settings)
}

// UpdateAdminSettings изменяет настройки ценообразования
func (r *HttpRouter) UpdateAdminSettings(ctx *fiber.Ctx) error {
	values := map[string]string{}
	if err := ctx.BodyParser(&values); err != nil {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	err := r.services.Admin.UpdateSettings(ctx.Context(), values)
	if errors.Is(err, admin.ErrUnknownSettingKey) || errors.Is(err, admin.ErrInvalidSettingValue) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if err != nil {
		r.appLogger.Error("admin.UpdateSettings failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(fiber.Map{"status": "success"})
}

// AdminTasks возвращает все задания, включая неактивные
func (r *HttpRouter) AdminTasks(ctx *fiber.Ctx) error {
	tasks, err := r.services.Admin.Tasks(ctx.Context())
	if err != nil {
		r.appLogger.Error("admin.Tasks failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(tasks)
}

// AdminCreateTask создает новое задание
func (r *HttpRouter) AdminCreateTask(ctx *fiber.Ctx) error {
	request := &models.CreateTaskRequest{}
	if err := ctx.BodyParser(request); err != nil {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	created, err := r.services.Admin.CreateTask(ctx.Context(), request)
	if errors.Is(err, admin.ErrInvalidTask) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if err != nil {
		r.appLogger.Error("admin.CreateTask failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(created)
}

// AdminUpdateTask изменяет текст, награду или активность задания
func (r *HttpRouter) AdminUpdateTask(ctx *fiber.Ctx) error {
	taskID := ctx.Params("taskId")
	if taskID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	request := &models.UpdateTaskRequest{}
	if err := ctx.BodyParser(request); err != nil {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}

	updated, err := r.services.Admin.UpdateTask(ctx.Context(), taskID, request)
	if errors.Is(err, store.ErrTaskNotFound) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Задание не найдено"})
	}
	if errors.Is(err, admin.ErrInvalidTask) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if err != nil {
		r.appLogger.Error("admin.UpdateTask failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(updated)
}

// Health отвечает на проверку живости сервиса
func (r *HttpRouter) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"status": "ok"})
}

// CreateRouter собирает HTTP роутер со всеми публичными и админскими маршрутами
func CreateRouter(services Services, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *HttpRouter {
	appLogger := logger.Named("app")
	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.App.IsProduction(),
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	var auth *telegram.Authenticator
	if cfg.Telegram.BotToken != "" {
		auth = telegram.NewAuthenticator(cfg.Telegram.BotToken)
	} else {
		appLogger.Warn("токен бота не задан, включена авторизация по заголовку X-Telegram-Id")
	}

	r := &HttpRouter{
		App:       app,
		services:  services,
		cfg:       cfg,
		auth:      auth,
		metrics:   m,
		appLogger: appLogger,
	}

	app.Get("/health", r.Health)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	api := app.Group("/api")
	api.Post("/payment/webhook/freekassa", r.FreeKassaWebhook)
	api.Get("/ton-price", r.TonPrice)

	api.Post("/users", r.Authenticate, r.RegisterUser)

	me := api.Group("/users/me", r.Authenticate, r.ResolveUser)
	me.Get("/", r.GetMe)
	me.Put("/", r.UpdateMe)

	purchases := api.Group("/purchase", r.Authenticate, r.ResolveUser)
	purchases.Post("/calculate", r.CalculatePurchase)
	purchases.Post("/", r.SubmitPurchase)

	tasks := api.Group("/tasks", r.Authenticate, r.ResolveUser)
	tasks.Get("/", r.ListTasks)
	tasks.Post("/:taskId/complete", r.CompleteTask)

	api.Get("/referrals/stats", r.Authenticate, r.ResolveUser, r.ReferralStats)
	api.Get("/transactions/history", r.Authenticate, r.ResolveUser, r.TransactionHistory)
	api.Get("/payment/status/:transactionId", r.Authenticate, r.ResolveUser, r.PaymentStatus)

	adminGroup := api.Group("/admin", r.AdminOnly)
	adminGroup.Get("/stats", r.AdminStats)
	adminGroup.Get("/settings", r.AdminSettings)
	adminGroup.Put("/settings", r.UpdateAdminSettings)
	adminGroup.Get("/tasks", r.AdminTasks)
	adminGroup.Post("/tasks", r.AdminCreateTask)
	adminGroup.Put("/tasks/:taskId", r.AdminUpdateTask)

	return r
}
