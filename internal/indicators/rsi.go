package indicators

import (
	"github.com/shopspring/decimal"
)

// DefaultRSIPeriod 是 RSI 的默认周期
const DefaultRSIPeriod = 14

var hundred = decimal.NewFromInt(100)

// RSI 计算最近 period 个价格变化的相对强弱指数, 取值 [0, 100].
// 平均跌幅为 0 时返回 100.
func RSI(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, ErrInvalidPeriod
	}
	n := len(closes)
	if n < period+1 {
		return decimal.Zero, ErrInsufficientData
	}

	gains, losses := decimal.Zero, decimal.Zero
	for i := n - period; i < n; i++ {
		change := closes[i].Sub(closes[i-1])
		if change.IsPositive() {
			gains = gains.Add(change)
		} else {
			losses = losses.Add(change.Neg())
		}
	}

	p := decimal.NewFromInt(int64(period))
	avgGain := gains.Div(p)
	avgLoss := losses.Div(p)
	if avgLoss.IsZero() {
		return hundred, nil
	}

	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))), nil
}

// IsOversold 判断 RSI 是否处于超卖区 (< 30)
func IsOversold(rsi decimal.Decimal) bool {
	return rsi.LessThan(decimal.NewFromInt(30))
}

// IsOverbought 判断 RSI 是否处于超买区 (> 70)
func IsOverbought(rsi decimal.Decimal) bool {
	return rsi.GreaterThan(decimal.NewFromInt(70))
}
