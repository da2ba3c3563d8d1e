package tonprice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stars-exchange/internal/config"
	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSettings map[string]string

func (f fakeSettings) GetValue(_ context.Context, key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", store.ErrSettingNotFound
	}
	return v, nil
}

func newTestService(t *testing.T, binance, rates http.HandlerFunc, settings fakeSettings) (*Service, func()) {
	t.Helper()

	binanceSrv := httptest.NewServer(binance)
	ratesSrv := httptest.NewServer(rates)

	cfg := config.TonPriceConfig{
		BinanceURL: binanceSrv.URL,
		RateURL:    ratesSrv.URL,
		Timeout:    2 * time.Second,
	}

	svc := NewService(settings, cfg, zap.NewNop())
	cleanup := func() {
		binanceSrv.Close()
		ratesSrv.Close()
	}
	return svc, cleanup
}

func TestCurrentPriceRub(t *testing.T) {
	binance := func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"symbol":"TONUSDT","price":"5.00"}`))
	}
	rates := func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"base":"USD","rates":{"RUB":80.0,"EUR":0.9}}`))
	}

	settings := fakeSettings{
		models.SettingMarkupPercentage: "5",
	}

	svc, cleanup := newTestService(t, binance, rates, settings)
	defer cleanup()

	// 5.00 * 80 = 400, плюс наценка 5% = 420
	price := svc.CurrentPriceRub(context.Background())
	assert.Equal(t, 420.0, price)
}

func TestCurrentPriceRubUsesCache(t *testing.T) {
	var binanceCalls int32
	binance := func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&binanceCalls, 1)
		w.Write([]byte(`{"price":"5.00"}`))
	}
	rates := func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"rates":{"RUB":80.0}}`))
	}

	svc, cleanup := newTestService(t, binance, rates, fakeSettings{})
	defer cleanup()

	first := svc.CurrentPriceRub(context.Background())
	second := svc.CurrentPriceRub(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&binanceCalls))
}

func TestCurrentPriceRubFallbackToCache(t *testing.T) {
	var fail atomic.Bool
	binance := func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"price":"5.00"}`))
	}
	rates := func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"rates":{"RUB":80.0}}`))
	}

	// нулевой TTL кэша заставляет обновляться на каждый вызов
	settings := fakeSettings{
		models.SettingTonCacheMinutes: "0",
	}

	svc, cleanup := newTestService(t, binance, rates, settings)
	defer cleanup()

	first := svc.CurrentPriceRub(context.Background())
	assert.Equal(t, 420.0, first)

	fail.Store(true)
	second := svc.CurrentPriceRub(context.Background())
	assert.Equal(t, first, second)
}

func TestCurrentPriceRubFallbackPrice(t *testing.T) {
	broken := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	settings := fakeSettings{
		models.SettingTonFallbackPrice: "415.50",
	}

	svc, cleanup := newTestService(t, broken, broken, settings)
	defer cleanup()

	price := svc.CurrentPriceRub(context.Background())
	assert.Equal(t, 415.5, price)
}

func TestCurrentPriceRubDefaultFallback(t *testing.T) {
	broken := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	svc, cleanup := newTestService(t, broken, broken, fakeSettings{})
	defer cleanup()

	price := svc.CurrentPriceRub(context.Background())
	assert.Equal(t, 420.0, price)
}

func TestCurrentPriceRubMissingRub(t *testing.T) {
	binance := func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"price":"5.00"}`))
	}
	rates := func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"rates":{"EUR":0.9}}`))
	}

	settings := fakeSettings{
		models.SettingTonFallbackPrice: "400",
	}

	svc, cleanup := newTestService(t, binance, rates, settings)
	defer cleanup()

	price := svc.CurrentPriceRub(context.Background())
	assert.Equal(t, 400.0, price)
}
