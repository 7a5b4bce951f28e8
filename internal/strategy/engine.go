// Package strategy holds the staged-accumulation decision logic. Engines are
// pure: state goes in by value and comes back inside the result, and no
// engine call performs I/O.
package strategy

import (
	"crypto/rand"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/adaptive"
	"github.com/CasselKim/TTM-sub000/internal/models"
)

// Engine 是两种策略变体共享的契约
type Engine interface {
	Family() models.Family
	AnalyzeSignal(account models.Account, snap models.MarketSnapshot, cfg models.StrategyConfig, state models.CycleState) models.Signal
	CalculateBuyAmount(account models.Account, snap models.MarketSnapshot, signal models.Signal, cfg models.StrategyConfig, state models.CycleState, minOrder decimal.Decimal) decimal.Decimal
	CalculateSellAmount(account models.Account, snap models.MarketSnapshot, signal models.Signal, state models.CycleState) decimal.Decimal
	ExecuteBuy(snap models.MarketSnapshot, amount decimal.Decimal, cfg models.StrategyConfig, state models.CycleState, buyType models.BuyType, reason string) models.StrategyResult
	ExecuteSell(snap models.MarketSnapshot, volume decimal.Decimal, state models.CycleState) models.StrategyResult
	MarkSelling(state models.CycleState, trigger models.SellTrigger) models.CycleState
}

// Observer receives recoverable anomalies detected while sizing.
type Observer interface {
	LedgerInconsistency(family models.Family, market string)
}

// Option 配置引擎
type Option func(*core)

// WithLogger sets the logger used for warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *core) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIDGenerator replaces the cycle id generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *core) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// WithObserver registers an anomaly observer.
func WithObserver(o Observer) Option {
	return func(c *core) { c.observer = o }
}

// policy 是变体之间不同的部分
type policy interface {
	dropThreshold(cfg models.StrategyConfig, cond adaptive.Conditions, price decimal.Decimal) decimal.Decimal
	stopLoss(cfg models.StrategyConfig, cond adaptive.Conditions, price decimal.Decimal) decimal.Decimal
	nextAmount(cfg models.StrategyConfig, state models.CycleState, snap models.MarketSnapshot, cond adaptive.Conditions, previous decimal.Decimal) decimal.Decimal
	usesIndicators(cfg models.StrategyConfig) bool
}

// NewCycleID 生成 8 位 base62 周期ID
func NewCycleID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	id := base62.EncodeToString(b)
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// orderPrecision 是下单金额保留的小数位
const orderPrecision = 8
