package indicators

import (
	"github.com/shopspring/decimal"
)

// DefaultVolatilityPeriod 是波动率分级使用的 ATR 历史长度
const DefaultVolatilityPeriod = 20

// VolatilityLevel 波动率分级
type VolatilityLevel string

const (
	VolatilityLow    VolatilityLevel = "LOW"
	VolatilityNormal VolatilityLevel = "NORMAL"
	VolatilityHigh   VolatilityLevel = "HIGH"
)

var (
	highVolatilityRatio = decimal.RequireFromString("1.5")
	lowVolatilityRatio  = decimal.RequireFromString("0.8")
)

// Volatility classifies currentATR against the mean of the last period ATR
// readings. Short history yields NORMAL.
func Volatility(currentATR decimal.Decimal, atrHistory []decimal.Decimal, period int) (VolatilityLevel, error) {
	if period <= 0 {
		return VolatilityNormal, ErrInvalidPeriod
	}
	if len(atrHistory) < period {
		return VolatilityNormal, nil
	}

	avg := mean(atrHistory[len(atrHistory)-period:])
	switch {
	case avg.IsZero():
		return VolatilityNormal, nil
	case currentATR.GreaterThan(avg.Mul(highVolatilityRatio)):
		return VolatilityHigh, nil
	case currentATR.LessThan(avg.Mul(lowVolatilityRatio)):
		return VolatilityLow, nil
	}
	return VolatilityNormal, nil
}
