package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/adaptive"
	"github.com/CasselKim/TTM-sub000/internal/models"
)

// InfiniteBuying 是开放式的无限买入策略: 阈值固定, 每回合金额在上一回合基础上
// 放大. 开启 EnableSmartDCA 且有K线时, 放大倍数由波动率和回撤决定.
type InfiniteBuying struct {
	core
}

var _ Engine = (*InfiniteBuying)(nil)

// NewInfiniteBuying 创建无限买入引擎
func NewInfiniteBuying(opts ...Option) *InfiniteBuying {
	e := &InfiniteBuying{}
	e.core = newCore(models.FamilyInfinite, infinitePolicy{}, opts)
	return e
}

type infinitePolicy struct{}

func (infinitePolicy) usesIndicators(cfg models.StrategyConfig) bool {
	return cfg.EnableSmartDCA
}

func (infinitePolicy) dropThreshold(cfg models.StrategyConfig, _ adaptive.Conditions, _ decimal.Decimal) decimal.Decimal {
	return cfg.PriceDropThreshold
}

func (infinitePolicy) stopLoss(cfg models.StrategyConfig, _ adaptive.Conditions, _ decimal.Decimal) decimal.Decimal {
	return cfg.ForceStopLossRate
}

func (infinitePolicy) nextAmount(cfg models.StrategyConfig, state models.CycleState, snap models.MarketSnapshot, cond adaptive.Conditions, previous decimal.Decimal) decimal.Decimal {
	multiplier := cfg.AddBuyMultiplier
	if cfg.EnableSmartDCA && cond.ATR != nil {
		multiplier = adaptive.SizeMultiplier(cond.Volatility, state.DrawdownRate(snap.Price), cfg.AddBuyMultiplier)
	}
	return previous.Mul(multiplier)
}
