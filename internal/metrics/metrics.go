// Package metrics 提供交易机器人的 Prometheus 指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

const namespace = "dca_bot"

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	TradesTotal     *prometheus.CounterVec   // family, market, side
	TradeAmount     *prometheus.HistogramVec // family, market
	CyclesClosed    *prometheus.CounterVec   // family, market, status
	TickErrors      *prometheus.CounterVec   // family, market
	LedgerErrors    *prometheus.CounterVec   // family, market
	CurrentRound    *prometheus.GaugeVec     // family, market
	TotalInvestment *prometheus.GaugeVec     // family, market
	TickDuration    *prometheus.HistogramVec // family
}

// New 创建并注册指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Total number of filled orders",
		}, []string{"family", "market", "side"}),
		TradeAmount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_amount",
			Help:      "Distribution of trade amounts in quote currency",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
		}, []string{"family", "market"}),
		CyclesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_closed_total",
			Help:      "Closed cycles by final status",
		}, []string{"family", "market", "status"}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Market ticks that ended with an error",
		}, []string{"family", "market"}),
		LedgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_inconsistency_total",
			Help:      "States whose round counter disagreed with the round ledger",
		}, []string{"family", "market"}),
		CurrentRound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_round",
			Help:      "Buy rounds executed in the active cycle",
		}, []string{"family", "market"}),
		TotalInvestment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_investment",
			Help:      "Quote currency invested in the active cycle",
		}, []string{"family", "market"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduler pass over all markets",
			Buckets:   prometheus.DefBuckets,
		}, []string{"family"}),
	}
	m.registry.MustRegister(
		m.TradesTotal, m.TradeAmount, m.CyclesClosed, m.TickErrors,
		m.LedgerErrors, m.CurrentRound, m.TotalInvestment, m.TickDuration,
	)
	return m
}

// Registry 返回内部注册表
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTrade 记录一笔成交
func (m *Metrics) RecordTrade(family models.Family, market string, side models.OrderSide, amount float64) {
	m.TradesTotal.WithLabelValues(string(family), market, string(side)).Inc()
	m.TradeAmount.WithLabelValues(string(family), market).Observe(amount)
}

// RecordCycleClosed 记录一个结束的周期
func (m *Metrics) RecordCycleClosed(family models.Family, market string, status models.CycleStatus) {
	m.CyclesClosed.WithLabelValues(string(family), market, string(status)).Inc()
}

// RecordTickError 记录一次失败的 tick
func (m *Metrics) RecordTickError(family models.Family, market string) {
	m.TickErrors.WithLabelValues(string(family), market).Inc()
}

// ObserveState 更新周期状态相关的 gauge
func (m *Metrics) ObserveState(family models.Family, state models.CycleState) {
	inv, _ := state.TotalInvestment.Float64()
	m.CurrentRound.WithLabelValues(string(family), state.Market).Set(float64(state.CurrentRound))
	m.TotalInvestment.WithLabelValues(string(family), state.Market).Set(inv)
}

// ObserveTick 记录一次调度耗时
func (m *Metrics) ObserveTick(family models.Family, d time.Duration) {
	m.TickDuration.WithLabelValues(string(family)).Observe(d.Seconds())
}

// LedgerInconsistency implements strategy.Observer.
func (m *Metrics) LedgerInconsistency(family models.Family, market string) {
	m.LedgerErrors.WithLabelValues(string(family), market).Inc()
}

// Serve 在 addr 上提供 /metrics, 直到 ctx 结束
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
