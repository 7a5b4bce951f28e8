package bot

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Start when the market already runs a cycle.
	ErrAlreadyActive = errors.New("cycle already active")
	// ErrNotActive is returned when a market has no running cycle.
	ErrNotActive = errors.New("no active cycle")
)

// TradeError 包装外部调用 (交易所/存储) 的失败
type TradeError struct {
	Op     string // e.g. "get_ticker", "place_order", "save_state"
	Market string
	Err    error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Market, e.Err)
}

func (e *TradeError) Unwrap() error { return e.Err }

func tradeErr(op, market string, err error) error {
	return &TradeError{Op: op, Market: market, Err: err}
}
