package adaptive

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/indicators"
)

var (
	dropHighCap  = decimal.RequireFromString("0.12")
	dropLowFloor = decimal.RequireFromString("0.03")
	stopHighMin  = decimal.RequireFromString("0.15")
	stopLowCap   = decimal.RequireFromString("0.08")
	stopTightCap = decimal.RequireFromString("0.12")
	stopWideMin  = decimal.RequireFromString("0.15")

	rsiNeutral    = decimal.NewFromInt(40)
	rsiOverbought = decimal.NewFromInt(70)

	vaDropBand  = decimal.RequireFromString("0.1")
	vaStopBand  = decimal.RequireFromString("-0.2")
	vaStopAfter = 60 * 24 * time.Hour
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DynamicDropThreshold scales the configured drop threshold by the current
// conditions. The result is negative, like the input.
func DynamicDropThreshold(base decimal.Decimal, cond Conditions, price decimal.Decimal) decimal.Decimal {
	mag := base.Abs()

	switch cond.Volatility {
	case indicators.VolatilityHigh:
		mag = decimal.Min(mag.Mul(dec("2")), dropHighCap)
	case indicators.VolatilityLow:
		mag = decimal.Max(mag.Mul(dec("0.8")), dropLowFloor)
	}

	// 未超卖时要求更深的回撤
	if cond.RSI != nil && cond.RSI.GreaterThanOrEqual(rsiNeutral) {
		mag = mag.Mul(dec("1.2"))
	}
	if cond.Bands != nil && price.GreaterThanOrEqual(cond.Bands.Lower) {
		mag = mag.Mul(dec("1.1"))
	}
	if cond.VADeviation != nil {
		switch {
		case cond.VADeviation.LessThan(vaDropBand.Neg()):
			mag = mag.Mul(dec("0.8"))
		case cond.VADeviation.GreaterThan(vaDropBand):
			mag = mag.Mul(dec("1.3"))
		}
	}
	return mag.Neg()
}

// DynamicStopLoss scales the configured stop-loss rate. The result is negative.
func DynamicStopLoss(base decimal.Decimal, cond Conditions, price decimal.Decimal) decimal.Decimal {
	mag := base.Abs()

	switch cond.Volatility {
	case indicators.VolatilityHigh:
		mag = decimal.Max(mag.Mul(dec("0.8")), stopHighMin)
	case indicators.VolatilityLow:
		mag = decimal.Min(mag.Mul(dec("1.5")), stopLowCap)
	}

	if cond.RSI != nil && cond.Bands != nil &&
		cond.RSI.GreaterThan(rsiOverbought) && price.GreaterThan(cond.Bands.Upper) {
		mag = decimal.Min(mag, stopTightCap)
	}
	if cond.VADeviation != nil && cond.VADeviation.LessThan(vaStopBand) && cond.CycleAge > vaStopAfter {
		mag = decimal.Max(mag, stopWideMin)
	}
	return mag.Neg()
}
