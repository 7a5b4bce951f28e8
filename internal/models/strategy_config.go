package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid strategy config")

// ConfigError 描述了未通过校验的配置字段
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid strategy config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// StrategyConfig 是一个周期内不可变的策略参数集合
type StrategyConfig struct {
	InitialBuyAmount   decimal.Decimal `json:"initial_buy_amount" mapstructure:"initial_buy_amount"`     // 初始买入金额 (计价货币)
	AddBuyMultiplier   decimal.Decimal `json:"add_buy_multiplier" mapstructure:"add_buy_multiplier"`     // 追加买入倍数
	TargetProfitRate   decimal.Decimal `json:"target_profit_rate" mapstructure:"target_profit_rate"`     // 目标收益率, e.g. 0.10
	PriceDropThreshold decimal.Decimal `json:"price_drop_threshold" mapstructure:"price_drop_threshold"` // 追加买入触发跌幅, 负数
	ForceStopLossRate  decimal.Decimal `json:"force_stop_loss_rate" mapstructure:"force_stop_loss_rate"` // 强制止损率, 负数
	MaxInvestmentRatio decimal.Decimal `json:"max_investment_ratio" mapstructure:"max_investment_ratio"` // 占账户总值的最大投入比例
	MaxBuyRounds       int             `json:"max_buy_rounds" mapstructure:"max_buy_rounds"`             // 最大买入回合

	MinBuyInterval time.Duration `json:"min_buy_interval" mapstructure:"min_buy_interval"` // 两次买入的最小间隔
	MaxCycleAge    time.Duration `json:"max_cycle_age" mapstructure:"max_cycle_age"`       // 周期最长持续时间, 0 表示不限制

	EnableTimeBasedBuying bool          `json:"enable_time_based_buying" mapstructure:"enable_time_based_buying"` // 是否按时间追加买入
	TimeBasedBuyInterval  time.Duration `json:"time_based_buy_interval" mapstructure:"time_based_buy_interval"`   // 按时间追加买入的间隔

	EnableSmartDCA        bool            `json:"enable_smart_dca" mapstructure:"enable_smart_dca"`                 // 自适应加仓金额
	SmartDCARho           decimal.Decimal `json:"smart_dca_rho" mapstructure:"smart_dca_rho"`                       // 价格比指数 ρ
	SmartDCAMinMultiplier decimal.Decimal `json:"smart_dca_min_multiplier" mapstructure:"smart_dca_min_multiplier"` // 倍数下限
	SmartDCAMaxMultiplier decimal.Decimal `json:"smart_dca_max_multiplier" mapstructure:"smart_dca_max_multiplier"` // 倍数上限

	EnableAdaptiveThresholds bool            `json:"enable_adaptive_thresholds" mapstructure:"enable_adaptive_thresholds"` // 根据指标动态调整跌幅/止损阈值
	VAMonthlyGrowthRate      decimal.Decimal `json:"va_monthly_growth_rate" mapstructure:"va_monthly_growth_rate"`         // 价值平均目标的月增长率
}

// DefaultStrategyConfig returns the stock parameter set. InitialBuyAmount is
// left zero and must be supplied by the caller.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		AddBuyMultiplier:      decimal.RequireFromString("1.5"),
		TargetProfitRate:      decimal.RequireFromString("0.10"),
		PriceDropThreshold:    decimal.RequireFromString("-0.025"),
		ForceStopLossRate:     decimal.RequireFromString("-0.25"),
		MaxInvestmentRatio:    decimal.RequireFromString("0.30"),
		MaxBuyRounds:          8,
		MinBuyInterval:        30 * time.Minute,
		MaxCycleAge:           45 * 24 * time.Hour,
		EnableTimeBasedBuying: true,
		TimeBasedBuyInterval:  72 * time.Hour,
		SmartDCARho:           decimal.RequireFromString("1.5"),
		SmartDCAMinMultiplier: decimal.RequireFromString("0.1"),
		SmartDCAMaxMultiplier: decimal.RequireFromString("5.0"),
		VAMonthlyGrowthRate:   decimal.RequireFromString("0.01"),
	}
}

// NewStrategyConfig validates c and returns it. The returned error is a
// *ConfigError naming the first offending field.
func NewStrategyConfig(c StrategyConfig) (StrategyConfig, error) {
	if err := c.Validate(); err != nil {
		return StrategyConfig{}, err
	}
	return c, nil
}

// Validate checks every field invariant.
func (c StrategyConfig) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case !c.InitialBuyAmount.IsPositive():
		return &ConfigError{Field: "initial_buy_amount", Reason: "must be > 0"}
	case !c.AddBuyMultiplier.IsPositive():
		return &ConfigError{Field: "add_buy_multiplier", Reason: "must be > 0"}
	case !c.TargetProfitRate.IsPositive():
		return &ConfigError{Field: "target_profit_rate", Reason: "must be > 0"}
	case !c.PriceDropThreshold.IsNegative():
		return &ConfigError{Field: "price_drop_threshold", Reason: "must be < 0"}
	case !c.ForceStopLossRate.IsNegative():
		return &ConfigError{Field: "force_stop_loss_rate", Reason: "must be < 0"}
	case !c.MaxInvestmentRatio.IsPositive() || c.MaxInvestmentRatio.GreaterThan(one):
		return &ConfigError{Field: "max_investment_ratio", Reason: "must be in (0, 1]"}
	case c.MaxBuyRounds < 1:
		return &ConfigError{Field: "max_buy_rounds", Reason: "must be >= 1"}
	case c.MinBuyInterval < 0:
		return &ConfigError{Field: "min_buy_interval", Reason: "must not be negative"}
	case c.MaxCycleAge < 0:
		return &ConfigError{Field: "max_cycle_age", Reason: "must not be negative"}
	case c.EnableTimeBasedBuying && c.TimeBasedBuyInterval <= 0:
		return &ConfigError{Field: "time_based_buy_interval", Reason: "must be > 0 when time based buying is enabled"}
	case c.VAMonthlyGrowthRate.IsNegative():
		return &ConfigError{Field: "va_monthly_growth_rate", Reason: "must not be negative"}
	}

	if c.EnableSmartDCA {
		switch {
		case !c.SmartDCARho.IsPositive():
			return &ConfigError{Field: "smart_dca_rho", Reason: "must be > 0"}
		case !c.SmartDCAMinMultiplier.IsPositive():
			return &ConfigError{Field: "smart_dca_min_multiplier", Reason: "must be > 0"}
		case c.SmartDCAMaxMultiplier.LessThan(c.SmartDCAMinMultiplier):
			return &ConfigError{Field: "smart_dca_max_multiplier", Reason: "must be >= smart_dca_min_multiplier"}
		}
	}
	return nil
}

// TargetSellPrice 根据均价计算目标卖出价
func (c StrategyConfig) TargetSellPrice(averagePrice decimal.Decimal) decimal.Decimal {
	return averagePrice.Mul(decimal.NewFromInt(1).Add(c.TargetProfitRate))
}
