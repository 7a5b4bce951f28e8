package indicators

import (
	"github.com/shopspring/decimal"
)

// DefaultATRPeriod 是 ATR 的默认周期
const DefaultATRPeriod = 14

// TrueRange 计算单根K线的真实波幅
func TrueRange(high, low, prevClose decimal.Decimal) decimal.Decimal {
	tr := high.Sub(low)
	if v := high.Sub(prevClose).Abs(); v.GreaterThan(tr) {
		tr = v
	}
	if v := low.Sub(prevClose).Abs(); v.GreaterThan(tr) {
		tr = v
	}
	return tr
}

// ATR 计算最近 period 根K线真实波幅的均值, 至少需要 period+1 根K线
func ATR(highs, lows, closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, ErrInvalidPeriod
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return decimal.Zero, ErrMismatchedSeries
	}
	n := len(closes)
	if n < period+1 {
		return decimal.Zero, ErrInsufficientData
	}

	sum := decimal.Zero
	for i := n - period; i < n; i++ {
		sum = sum.Add(TrueRange(highs[i], lows[i], closes[i-1]))
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

// ATRHistory returns one ATR per bar for the last window bars, each computed
// over the period+1 bars ending at that bar. Bars without enough lookback are
// skipped, so the result may be shorter than window.
func ATRHistory(highs, lows, closes []decimal.Decimal, period, window int) ([]decimal.Decimal, error) {
	if period <= 0 || window <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil, ErrMismatchedSeries
	}
	n := len(closes)
	first := n - window
	if first < period {
		first = period
	}

	history := make([]decimal.Decimal, 0, window)
	for end := first; end < n; end++ {
		lo := end - period
		atr, err := ATR(highs[lo:end+1], lows[lo:end+1], closes[lo:end+1], period)
		if err != nil {
			return nil, err
		}
		history = append(history, atr)
	}
	if len(history) == 0 {
		return nil, ErrInsufficientData
	}
	return history, nil
}
