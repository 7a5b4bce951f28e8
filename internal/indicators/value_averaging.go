package indicators

import (
	"time"

	"github.com/shopspring/decimal"
)

// DaysPerMonth 是计算价值平均周期时使用的平均月长度
var DaysPerMonth = decimal.RequireFromString("30.44")

// ValueAveragingTarget = initialValue × (1+monthlyRate)^periodsElapsed
func ValueAveragingTarget(initialValue, monthlyRate decimal.Decimal, periodsElapsed int) (decimal.Decimal, error) {
	if periodsElapsed < 0 {
		return decimal.Zero, ErrInvalidPeriod
	}
	growth := decimal.NewFromInt(1).Add(monthlyRate).Pow(decimal.NewFromInt(int64(periodsElapsed)))
	return initialValue.Mul(growth), nil
}

// MonthsElapsed 返回 start 到 now 之间完整的平均月数
func MonthsElapsed(start, now time.Time) int {
	if start.IsZero() || !now.After(start) {
		return 0
	}
	days := decimal.NewFromInt(int64(now.Sub(start) / (24 * time.Hour)))
	return int(days.Div(DaysPerMonth).IntPart())
}

// VADeviation 返回当前价值相对目标的偏离 (current-target)/target
func VADeviation(currentValue, target decimal.Decimal) decimal.Decimal {
	if target.IsZero() {
		return decimal.Zero
	}
	return currentValue.Sub(target).Div(target)
}
