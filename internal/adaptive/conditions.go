// Package adaptive derives dynamic thresholds and size multipliers from
// indicator readings. Nothing here mutates cycle state.
package adaptive

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/indicators"
	"github.com/CasselKim/TTM-sub000/internal/models"
)

// Conditions 是一次分析时可用的指标读数, 缺失的指标为 nil
type Conditions struct {
	Volatility  indicators.VolatilityLevel
	ATR         *decimal.Decimal
	RSI         *decimal.Decimal
	Bands       *indicators.Bands
	VATarget    *decimal.Decimal
	VADeviation *decimal.Decimal
	CycleAge    time.Duration
}

// Complete reports whether ATR, RSI and Bollinger readings are all present.
// Dynamic thresholds apply only then; the value-averaging reading alone is not enough.
func (c Conditions) Complete() bool {
	return c.ATR != nil && c.RSI != nil && c.Bands != nil
}

// Analyze computes the readings for snap against state. Indicators with too
// little history are left nil.
func Analyze(snap models.MarketSnapshot, state models.CycleState, cfg models.StrategyConfig) (Conditions, error) {
	cond := Conditions{
		Volatility: indicators.VolatilityNormal,
		CycleAge:   state.CycleAge(snap.Timestamp),
	}

	n := len(snap.Candles)
	highs := make([]decimal.Decimal, n)
	lows := make([]decimal.Decimal, n)
	closes := make([]decimal.Decimal, n)
	for i, c := range snap.Candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}

	atr, err := indicators.ATR(highs, lows, closes, indicators.DefaultATRPeriod)
	switch {
	case err == nil:
		cond.ATR = &atr
		history, herr := indicators.ATRHistory(highs, lows, closes, indicators.DefaultATRPeriod, indicators.DefaultVolatilityPeriod)
		if herr != nil && !errors.Is(herr, indicators.ErrInsufficientData) {
			return cond, herr
		}
		level, verr := indicators.Volatility(atr, history, indicators.DefaultVolatilityPeriod)
		if verr != nil {
			return cond, verr
		}
		cond.Volatility = level
	case !errors.Is(err, indicators.ErrInsufficientData):
		return cond, err
	}

	rsi, err := indicators.RSI(closes, indicators.DefaultRSIPeriod)
	switch {
	case err == nil:
		cond.RSI = &rsi
	case !errors.Is(err, indicators.ErrInsufficientData):
		return cond, err
	}

	bands, err := indicators.BollingerBands(closes, indicators.DefaultBollingerPeriod, decimal.NewFromFloat(indicators.DefaultBollingerK))
	switch {
	case err == nil:
		cond.Bands = &bands
	case !errors.Is(err, indicators.ErrInsufficientData):
		return cond, err
	}

	if state.TotalInvestment.IsPositive() && snap.Price.IsPositive() {
		months := indicators.MonthsElapsed(state.CycleStartTime, snap.Timestamp)
		target, err := indicators.ValueAveragingTarget(state.TotalInvestment, cfg.VAMonthlyGrowthRate, months)
		if err != nil {
			return cond, err
		}
		deviation := indicators.VADeviation(state.TotalVolume.Mul(snap.Price), target)
		cond.VATarget = &target
		cond.VADeviation = &deviation
	}
	return cond, nil
}
