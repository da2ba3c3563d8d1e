package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger *zap.Logger

	// Счетчики
	purchases       *prometheus.CounterVec
	taskCompletions *prometheus.CounterVec
	referralBonuses prometheus.Counter
	webhooks        *prometheus.CounterVec

	// Гистограммы
	settlementTime     *prometheus.HistogramVec
	settlementAttempts prometheus.Histogram
	purchaseAmount     *prometheus.HistogramVec

	// Gauge метрики
	pendingPurchases prometheus.Gauge

	// Мьютекс для thread-safety
	mu sync.RWMutex
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		// Счетчики покупок
		purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchases_total",
				Help: "Общее количество покупок",
			},
			[]string{"currency", "status"}, // currency: stars, ton; status: completed, failed
		),

		// Счетчики выполнения заданий
		taskCompletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_completions_total",
				Help: "Общее количество выполнений заданий",
			},
			[]string{"type"}, // daily, social, referral, special
		),

		// Счетчик реферальных бонусов
		referralBonuses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_bonuses_total",
				Help: "Общее количество начисленных реферальных бонусов",
			},
		),

		// Счетчики уведомлений платежной системы
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhooks_total",
				Help: "Общее количество уведомлений платежной системы",
			},
			[]string{"status"}, // accepted, rejected
		),

		// Гистограмма времени завершения покупки
		settlementTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_time_seconds",
				Help:    "Время от создания покупки до конечного статуса в секундах",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
			},
			[]string{"status"}, // completed, failed
		),

		// Гистограмма числа опросов до завершения
		settlementAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settlement_attempts",
				Help:    "Число опросов платежной системы до конечного статуса",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 45, 90},
			},
		),

		// Гистограмма сумм покупок
		purchaseAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_amount_rub",
				Help:    "Сумма покупки в рублях",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"currency"},
		),

		// Gauge незавершенных покупок
		pendingPurchases: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_purchases",
				Help: "Количество покупок, ожидающих оплаты",
			},
		),
	}

	// Регистрируем все метрики
	prometheus.MustRegister(
		m.purchases,
		m.taskCompletions,
		m.referralBonuses,
		m.webhooks,
		m.settlementTime,
		m.settlementAttempts,
		m.purchaseAmount,
		m.pendingPurchases,
	)

	return m
}

// RecordPurchase записывает конечный статус покупки
func (m *Metrics) RecordPurchase(currency, status string, rubAmount float64, durationSeconds float64, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purchases.WithLabelValues(currency, status).Inc()
	m.settlementTime.WithLabelValues(status).Observe(durationSeconds)
	m.settlementAttempts.Observe(float64(attempts))
	if rubAmount > 0 {
		m.purchaseAmount.WithLabelValues(currency).Observe(rubAmount)
	}

	m.logger.Debug("метрика покупки записана",
		zap.String("currency", currency),
		zap.String("status", status))
}

// RecordTaskCompletion записывает выполнение задания
func (m *Metrics) RecordTaskCompletion(taskType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.taskCompletions.WithLabelValues(taskType).Inc()
}

// RecordReferralBonus записывает начисление реферального бонуса
func (m *Metrics) RecordReferralBonus() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.referralBonuses.Inc()
}

// RecordWebhook записывает уведомление платежной системы
func (m *Metrics) RecordWebhook(accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	m.webhooks.WithLabelValues(status).Inc()
}

// PendingPurchaseStarted увеличивает счетчик ожидающих покупок
func (m *Metrics) PendingPurchaseStarted() {
	m.pendingPurchases.Inc()
}

// PendingPurchaseFinished уменьшает счетчик ожидающих покупок
func (m *Metrics) PendingPurchaseFinished() {
	m.pendingPurchases.Dec()
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
