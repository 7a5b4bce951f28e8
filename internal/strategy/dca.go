package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/adaptive"
	"github.com/CasselKim/TTM-sub000/internal/models"
)

// DCA 是固定回合的分批买入策略. 开启 EnableAdaptiveThresholds 后跌幅和止损
// 阈值随指标调整, 开启 EnableSmartDCA 后追加金额按价格比缩放.
type DCA struct {
	core
}

var _ Engine = (*DCA)(nil)

// NewDCA 创建固定回合 DCA 引擎
func NewDCA(opts ...Option) *DCA {
	e := &DCA{}
	e.core = newCore(models.FamilyDCA, dcaPolicy{}, opts)
	return e
}

type dcaPolicy struct{}

func (dcaPolicy) usesIndicators(cfg models.StrategyConfig) bool {
	return cfg.EnableAdaptiveThresholds
}

func (dcaPolicy) dropThreshold(cfg models.StrategyConfig, cond adaptive.Conditions, price decimal.Decimal) decimal.Decimal {
	if !cfg.EnableAdaptiveThresholds || !cond.Complete() {
		return cfg.PriceDropThreshold
	}
	return adaptive.DynamicDropThreshold(cfg.PriceDropThreshold, cond, price)
}

func (dcaPolicy) stopLoss(cfg models.StrategyConfig, cond adaptive.Conditions, price decimal.Decimal) decimal.Decimal {
	if !cfg.EnableAdaptiveThresholds || !cond.Complete() {
		return cfg.ForceStopLossRate
	}
	return adaptive.DynamicStopLoss(cfg.ForceStopLossRate, cond, price)
}

func (dcaPolicy) nextAmount(cfg models.StrategyConfig, state models.CycleState, snap models.MarketSnapshot, _ adaptive.Conditions, previous decimal.Decimal) decimal.Decimal {
	if cfg.EnableSmartDCA {
		m := adaptive.PriceRatioMultiplier(snap.Price, state.AveragePrice, cfg.SmartDCARho, cfg.SmartDCAMinMultiplier, cfg.SmartDCAMaxMultiplier)
		return cfg.InitialBuyAmount.Mul(m)
	}
	return previous.Mul(cfg.AddBuyMultiplier)
}
