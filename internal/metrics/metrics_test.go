package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RecordTrade(models.FamilyDCA, "KRW-BTC", models.OrderSideBid, 100000)
	m.RecordTrade(models.FamilyDCA, "KRW-BTC", models.OrderSideBid, 150000)
	m.RecordTrade(models.FamilyDCA, "KRW-BTC", models.OrderSideAsk, 280000)
	m.RecordCycleClosed(models.FamilyDCA, "KRW-BTC", models.CycleCompleted)
	m.RecordTickError(models.FamilyInfinite, "KRW-ETH")
	m.LedgerInconsistency(models.FamilyInfinite, "KRW-ETH")
	m.LedgerInconsistency(models.FamilyInfinite, "KRW-ETH")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("dca", "KRW-BTC", "bid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("dca", "KRW-BTC", "ask")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesClosed.WithLabelValues("dca", "KRW-BTC", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TickErrors.WithLabelValues("infinite_buying", "KRW-ETH")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerErrors.WithLabelValues("infinite_buying", "KRW-ETH")))
}

func TestMetrics_ObserveState(t *testing.T) {
	m := New()
	state := models.NewCycleState("KRW-BTC")
	state.CurrentRound = 3
	state.TotalInvestment = decimal.RequireFromString("475000")

	m.ObserveState(models.FamilyDCA, state)
	m.ObserveTick(models.FamilyDCA, 120*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CurrentRound.WithLabelValues("dca", "KRW-BTC")))
	assert.Equal(t, 475000.0, testutil.ToFloat64(m.TotalInvestment.WithLabelValues("dca", "KRW-BTC")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordCycleClosed(models.FamilyDCA, "KRW-BTC", models.CycleForceStopped)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `dca_bot_cycles_closed_total{family="dca",market="KRW-BTC",status="force_stopped"} 1`))
}
