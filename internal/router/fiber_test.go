package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stars-exchange/internal/admin"
	"stars-exchange/internal/config"
	"stars-exchange/internal/metrics"
	"stars-exchange/internal/payment"
	"stars-exchange/internal/pricing"
	"stars-exchange/internal/purchase"
	"stars-exchange/internal/referral"
	"stars-exchange/internal/store"
	"stars-exchange/internal/user"
	"stars-exchange/pkg/models"
)

// роутеру в тестах общий экземпляр метрик, повторная регистрация
// в prometheus приводит к панике
var testMetrics = metrics.New(zap.NewNop())

type fakeUserRepo struct {
	store.UserRepository
	users map[int64]*models.User
}

func (f *fakeUserRepo) Create(_ context.Context, u *models.User) error {
	u.ID = "u-1"
	u.CreatedAt = time.Now()
	f.users[u.TelegramID] = u
	return nil
}

func (f *fakeUserRepo) GetByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	u, ok := f.users[telegramID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByReferralCode(_ context.Context, _ string) (*models.User, error) {
	return nil, store.ErrUserNotFound
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (f *fakeUserRepo) GetReferrals(_ context.Context, _ string) ([]*models.User, error) {
	return nil, nil
}

type fakeAdminStore struct {
	tasks map[string]*models.Task
}

func (*fakeAdminStore) CountUsers(_ context.Context) (int, error)    { return 7, nil }
func (*fakeAdminStore) CountReferred(_ context.Context) (int, error) { return 2, nil }
func (*fakeAdminStore) SumCompletedRubSince(_ context.Context, _ time.Time) (float64, error) {
	return 1500.50, nil
}
func (*fakeAdminStore) GetRecent(_ context.Context, _ int) ([]*store.TransactionWithUser, error) {
	return nil, nil
}
func (*fakeAdminStore) Upsert(_ context.Context, _, _ string) error { return nil }
func (*fakeAdminStore) List(_ context.Context) ([]*models.Setting, error) {
	return []*models.Setting{{Key: models.SettingStarsPrice, Value: "2.30"}}, nil
}

type fakeAdminTaskRepo struct{ *fakeAdminStore }

func (f fakeAdminTaskRepo) Create(_ context.Context, task *models.Task) error {
	task.ID = "task-1"
	f.tasks[task.ID] = task
	return nil
}

func (f fakeAdminTaskRepo) GetByID(_ context.Context, id string) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (f fakeAdminTaskRepo) Update(_ context.Context, task *models.Task) error {
	if _, ok := f.tasks[task.ID]; !ok {
		return store.ErrTaskNotFound
	}
	f.tasks[task.ID] = task
	return nil
}

func (f fakeAdminTaskRepo) List(_ context.Context) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

type fakeTrxRepo struct {
	trxs map[string]*models.Transaction
}

func (f *fakeTrxRepo) Create(_ context.Context, trx *models.Transaction) error {
	trx.ID = "trx-1"
	trx.CreatedAt = time.Now()
	f.trxs[trx.ID] = trx
	return nil
}

func (f *fakeTrxRepo) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	trx, ok := f.trxs[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return trx, nil
}

func (f *fakeTrxRepo) GetByInvoiceID(_ context.Context, invoiceID string) (*models.Transaction, error) {
	for _, trx := range f.trxs {
		if trx.InvoiceID != nil && *trx.InvoiceID == invoiceID {
			return trx, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (f *fakeTrxRepo) GetByUserID(_ context.Context, userID string, _ int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, trx := range f.trxs {
		if trx.UserID == userID {
			out = append(out, trx)
		}
	}
	return out, nil
}

func (f *fakeTrxRepo) ListStalePending(_ context.Context, _ time.Duration, _ int) ([]*models.Transaction, error) {
	return nil, nil
}

func (f *fakeTrxRepo) SettlePurchase(_ context.Context, _ string, _ store.SettleParams) error {
	return nil
}

func (f *fakeTrxRepo) MarkFailed(_ context.Context, _, _ string) error { return nil }

// fakeSettings без значений: сервисы используют цены по умолчанию
type fakeSettings struct{}

func (fakeSettings) GetValue(_ context.Context, _ string) (string, error) {
	return "", store.ErrSettingNotFound
}

type fakeGateway struct{}

func (fakeGateway) CreatePaymentURL(_ context.Context, orderID string, _ float64, _ string) (string, error) {
	return "https://pay.fk.money/?o=" + orderID, nil
}

func (fakeGateway) CheckPaymentStatus(_ context.Context, _ string) (string, error) {
	return payment.StatusPending, nil
}

func (fakeGateway) VerifyWebhook(_, _, _, _ string) bool { return false }

func newTestRouter(t *testing.T) (*HttpRouter, *fakeUserRepo) {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.AdminToken = "admin-secret"
	cfg.FreeKassa.TestMode = true

	logger := zap.NewNop()
	repo := &fakeUserRepo{users: map[int64]*models.User{}}
	adminStore := &fakeAdminStore{tasks: map[string]*models.Task{}}
	calc := pricing.NewCalculator(fakeSettings{}, logger)

	services := Services{
		Users: user.NewService(repo, logger),
		Purchases: purchase.NewService(repo, &fakeTrxRepo{trxs: map[string]*models.Transaction{}},
			fakeSettings{}, calc, fakeGateway{}, nil, nil,
			purchase.Config{PollInterval: time.Hour, MaxAttempts: 1}, logger),
		Referrals: referral.NewService(repo, logger),
		Admin:     admin.NewService(adminStore, adminStore, adminStore, fakeAdminTaskRepo{adminStore}, logger),
	}

	return CreateRouter(services, cfg, testMetrics, logger), repo
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	resp, err := r.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticateDevMode(t *testing.T) {
	r, _ := newTestRouter(t)

	// без заголовка идентификации доступ закрыт
	resp, err := r.Test(httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAndGetMe(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"username":"ivan","first_name":"Иван"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Id", "42")

	resp, err := r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.User
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, int64(42), created.TelegramID)
	assert.NotEmpty(t, created.ReferralCode)

	meReq := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	meReq.Header.Set("X-Telegram-Id", "42")

	meResp, err := r.Test(meReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, meResp.StatusCode)
}

func TestGetMeUnknownUser(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("X-Telegram-Id", "99")

	resp, err := r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminGuard(t *testing.T) {
	r, _ := newTestRouter(t)

	resp, err := r.Test(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("X-Admin-Token", "admin-secret")
	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats admin.Stats
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 7, stats.TotalUsers)
	assert.Equal(t, 1500.50, stats.TodaySalesRub)
}

func TestSubmitPurchaseResponse(t *testing.T) {
	r, _ := newTestRouter(t)

	reg := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	reg.Header.Set("X-Telegram-Id", "42")
	regResp, err := r.Test(reg)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, regResp.StatusCode)

	// 100 звезд по 2.30 с наценкой 5% = 241.50
	req := httptest.NewRequest(http.MethodPost, "/api/purchase",
		strings.NewReader(`{"currency":"stars","amount":100,"rub_amount":241.50}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Id", "42")

	resp, err := r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Transaction models.Transaction `json:"transaction"`
		Status      string             `json:"status"`
		PaymentURL  string             `json:"payment_url"`
	}
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))

	assert.Equal(t, "processing", body.Status)
	assert.Contains(t, body.PaymentURL, "https://pay.fk.money/")
	assert.Equal(t, models.TransactionStatusPending, body.Transaction.Status)
}

func TestAdminTaskManagement(t *testing.T) {
	r, _ := newTestRouter(t)

	// Без токена задания недоступны
	resp, err := r.Test(httptest.NewRequest(http.MethodGet, "/api/admin/tasks", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/tasks",
		strings.NewReader(`{"title":"Подписаться на канал","reward":25,"type":"social"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")

	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Task
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, models.TaskStatusActive, created.Status)

	req = httptest.NewRequest(http.MethodPut, "/api/admin/tasks/"+created.ID,
		strings.NewReader(`{"reward":50,"is_active":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")

	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Task
	raw, _ = io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.Equal(t, 50, updated.Reward)
	assert.False(t, updated.IsActive)

	// Некорректная награда отклоняется
	req = httptest.NewRequest(http.MethodPut, "/api/admin/tasks/"+created.ID,
		strings.NewReader(`{"reward":-1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")

	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Неизвестное задание
	req = httptest.NewRequest(http.MethodPut, "/api/admin/tasks/missing",
		strings.NewReader(`{"reward":10}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")

	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminSettingsUpdate(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/settings", strings.NewReader(`{"unknown_key":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")

	resp, err := r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPut, "/api/admin/settings", strings.NewReader(`{"stars_price":"2.50"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")

	resp, err = r.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
