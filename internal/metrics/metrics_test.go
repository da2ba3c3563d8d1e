package metrics

import (
	"testing"

	"go.uber.org/zap"
)

func TestMetrics(t *testing.T) {
	logger := zap.NewNop()
	m := New(logger)

	// Методы записи не должны паниковать при любых значениях
	m.RecordPurchase("stars", "completed", 241.50, 12.3, 2)
	m.RecordPurchase("ton", "failed", 883.05, 900, 90)
	m.RecordTaskCompletion("daily")
	m.RecordReferralBonus()
	m.RecordWebhook(true)
	m.RecordWebhook(false)
	m.PendingPurchaseStarted()
	m.PendingPurchaseFinished()
}
