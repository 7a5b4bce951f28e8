package adaptive

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/indicators"
)

// MaxSizeMultiplier 是 SizeMultiplier 的上限
var MaxSizeMultiplier = decimal.NewFromInt(3)

// SizeMultiplier 根据波动率和回撤放大加仓倍数, 结果限制在 [base, 3.0]
func SizeMultiplier(volatility indicators.VolatilityLevel, dropRate, base decimal.Decimal) decimal.Decimal {
	m := base
	switch volatility {
	case indicators.VolatilityHigh:
		m = m.Mul(dec("1.5"))
	case indicators.VolatilityLow:
		m = m.Mul(dec("1.1"))
	}

	switch {
	case dropRate.GreaterThan(dec("0.1")):
		m = m.Mul(dec("1.3"))
	case dropRate.GreaterThan(dec("0.05")):
		m = m.Mul(dec("1.1"))
	}

	if m.GreaterThan(MaxSizeMultiplier) {
		m = MaxSizeMultiplier
	}
	if m.LessThan(base) {
		m = base
	}
	return m
}

// PriceRatioMultiplier = clamp((reference/current)^rho, lo, hi).
// Non-positive prices give clamp(1, lo, hi).
func PriceRatioMultiplier(current, reference, rho, lo, hi decimal.Decimal) decimal.Decimal {
	clamp := func(v decimal.Decimal) decimal.Decimal {
		if v.LessThan(lo) {
			v = lo
		}
		if v.GreaterThan(hi) {
			v = hi
		}
		return v
	}
	if !current.IsPositive() || !reference.IsPositive() {
		return clamp(decimal.NewFromInt(1))
	}

	ratio, _ := reference.Div(current).Float64()
	exp, _ := rho.Float64()
	// decimal 不支持小数次幂, 转 float64 计算
	v := math.Pow(ratio, exp)
	switch {
	case math.IsNaN(v):
		return clamp(decimal.NewFromInt(1))
	case math.IsInf(v, 1):
		return hi
	case math.IsInf(v, -1):
		return lo
	}
	return clamp(decimal.NewFromFloat(v))
}
