package indicators

import "errors"

var (
	// ErrInsufficientData 数据不足, 调用方应视为指标缺失
	ErrInsufficientData = errors.New("insufficient data for calculation")

	// ErrInvalidPeriod 周期必须大于 0
	ErrInvalidPeriod = errors.New("invalid period, must be greater than 0")

	// ErrMismatchedSeries high/low/close 长度不一致
	ErrMismatchedSeries = errors.New("high, low and close series differ in length")
)
