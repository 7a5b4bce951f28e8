package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DefaultBollingerPeriod 布林带默认周期
	DefaultBollingerPeriod = 20
	// DefaultBollingerK 默认标准差倍数
	DefaultBollingerK = 2.0
)

// Bands 布林带计算结果
type Bands struct {
	Lower  decimal.Decimal // 下轨
	Middle decimal.Decimal // 中轨（移动平均线）
	Upper  decimal.Decimal // 上轨
}

// BollingerBands 计算最近 period 个收盘价的布林带, 使用总体标准差
func BollingerBands(closes []decimal.Decimal, period int, k decimal.Decimal) (Bands, error) {
	if period <= 0 {
		return Bands{}, ErrInvalidPeriod
	}
	if len(closes) < period {
		return Bands{}, ErrInsufficientData
	}

	recent := closes[len(closes)-period:]
	sma := mean(recent)
	std := stdDev(recent, sma)

	return Bands{
		Lower:  sma.Sub(k.Mul(std)),
		Middle: sma,
		Upper:  sma.Add(k.Mul(std)),
	}, nil
}

// Width 返回带宽 (upper-lower)/middle
func (b Bands) Width() decimal.Decimal {
	if b.Middle.IsZero() {
		return decimal.Zero
	}
	return b.Upper.Sub(b.Lower).Div(b.Middle)
}

// Position 返回价格在带内的位置, 0 为下轨, 1 为上轨
func (b Bands) Position(price decimal.Decimal) decimal.Decimal {
	width := b.Upper.Sub(b.Lower)
	if width.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	return price.Sub(b.Lower).Div(width)
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func stdDev(values []decimal.Decimal, m decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		diff := v.Sub(m)
		sum = sum.Add(diff.Mul(diff))
	}
	variance := sum.Div(decimal.NewFromInt(int64(len(values))))
	// decimal 没有 sqrt, 转 float64 计算后再转回
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}
