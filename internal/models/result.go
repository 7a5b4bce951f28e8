package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction 是策略分析得出的动作
type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalHold SignalAction = "HOLD"
)

// SellTrigger 标识卖出信号的来源
type SellTrigger string

const (
	SellTakeProfit SellTrigger = "take_profit"
	SellStopLoss   SellTrigger = "stop_loss"
	SellMaxRounds  SellTrigger = "max_rounds"
	SellMaxAge     SellTrigger = "max_age"
	SellManual     SellTrigger = "manual"
)

// IsForced reports whether the sell closes the cycle without reaching the target.
func (t SellTrigger) IsForced() bool {
	return t != "" && t != SellTakeProfit
}

// Signal 是一次分析的结果
type Signal struct {
	Action     SignalAction    `json:"action"`
	Reason     string          `json:"reason"`
	BuyType    BuyType         `json:"buy_type,omitempty"`
	Trigger    SellTrigger     `json:"trigger,omitempty"`
	Confidence decimal.Decimal `json:"confidence"`
}

// Action 是结果中记录的动作
type Action string

const (
	ActionStart   Action = "START"
	ActionStop    Action = "STOP"
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionHold    Action = "HOLD"
	ActionExecute Action = "EXECUTE"
)

// CycleStatus 是已结束周期的最终状态
type CycleStatus string

const (
	CycleCompleted    CycleStatus = "completed"
	CycleFailed       CycleStatus = "failed"
	CycleForceStopped CycleStatus = "force_stopped"
)

// StrategyResult 描述一次引擎调用或一次执行的结果
type StrategyResult struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	Message string `json:"message"`

	TradePrice  *decimal.Decimal `json:"trade_price,omitempty"`
	TradeAmount *decimal.Decimal `json:"trade_amount,omitempty"`
	TradeVolume *decimal.Decimal `json:"trade_volume,omitempty"`

	State      CycleState       `json:"state"`
	ProfitRate *decimal.Decimal `json:"profit_rate,omitempty"`
	ProfitLoss *decimal.Decimal `json:"profit_loss,omitempty"`
	Status     CycleStatus      `json:"status,omitempty"` // 仅卖出时设置
}

// CycleHistoryItem 是一个已结束周期的归档记录
type CycleHistoryItem struct {
	CycleID         string          `json:"cycle_id"`
	Market          string          `json:"market"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Status          CycleStatus     `json:"status"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	AveragePrice    decimal.Decimal `json:"average_price"`
	SellPrice       decimal.Decimal `json:"sell_price"`
	ProfitLoss      decimal.Decimal `json:"profit_loss"`
	ProfitRate      decimal.Decimal `json:"profit_rate"`
	RoundsExecuted  int             `json:"rounds_executed"`
}

// NewCycleHistoryItem archives closed, the state as it was right before the
// sell, together with the sell result.
func NewCycleHistoryItem(closed CycleState, result StrategyResult, end time.Time) CycleHistoryItem {
	item := CycleHistoryItem{
		CycleID:         closed.CycleID,
		Market:          closed.Market,
		StartTime:       closed.CycleStartTime,
		EndTime:         end,
		Status:          result.Status,
		TotalInvestment: closed.TotalInvestment,
		TotalVolume:     closed.TotalVolume,
		AveragePrice:    closed.AveragePrice,
		RoundsExecuted:  closed.CurrentRound,
	}
	if item.Status == "" {
		item.Status = CycleCompleted
		if !result.Success {
			item.Status = CycleFailed
		}
	}
	if result.TradePrice != nil {
		item.SellPrice = *result.TradePrice
	}
	if result.ProfitLoss != nil {
		item.ProfitLoss = *result.ProfitLoss
	}
	if result.ProfitRate != nil {
		item.ProfitRate = *result.ProfitRate
	}
	return item
}

// Succeeded reports whether the cycle closed normally.
func (h CycleHistoryItem) Succeeded() bool {
	return h.Status == CycleCompleted || h.Status == CycleForceStopped
}

// TradeStatistics 是一个市场所有已结束周期的累计统计
type TradeStatistics struct {
	TotalCycles       int             `json:"total_cycles"`
	SuccessCycles     int             `json:"success_cycles"`
	TotalProfit       decimal.Decimal `json:"total_profit"`        // 盈利周期的累计收益额
	TotalProfitRate   decimal.Decimal `json:"total_profit_rate"`   // 盈利周期的收益率之和
	AverageProfitRate decimal.Decimal `json:"average_profit_rate"` // total_profit_rate / total_cycles
	BestProfitRate    decimal.Decimal `json:"best_profit_rate"`
	WorstProfitRate   decimal.Decimal `json:"worst_profit_rate"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// Record folds one closed cycle into the statistics. TotalCycles always
// increments; the profit aggregates only move for profitable, successful cycles.
func (s TradeStatistics) Record(item CycleHistoryItem, now time.Time) TradeStatistics {
	s.TotalCycles++
	if item.Succeeded() && item.ProfitRate.IsPositive() {
		s.SuccessCycles++
		s.TotalProfit = s.TotalProfit.Add(item.ProfitLoss)
		s.TotalProfitRate = s.TotalProfitRate.Add(item.ProfitRate)
		if s.SuccessCycles == 1 || item.ProfitRate.GreaterThan(s.BestProfitRate) {
			s.BestProfitRate = item.ProfitRate
		}
		if s.SuccessCycles == 1 || item.ProfitRate.LessThan(s.WorstProfitRate) {
			s.WorstProfitRate = item.ProfitRate
		}
	}
	s.AverageProfitRate = s.TotalProfitRate.Div(decimal.NewFromInt(int64(s.TotalCycles)))
	s.LastUpdated = now
	return s
}

// SuccessRate 是成功周期占比
func (s TradeStatistics) SuccessRate() decimal.Decimal {
	if s.TotalCycles == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.SuccessCycles)).Div(decimal.NewFromInt(int64(s.TotalCycles)))
}

// Backup 是一个市场全部持久化数据的快照
type Backup struct {
	Family     string             `json:"family"`
	Market     string             `json:"market"`
	Config     *StrategyConfig    `json:"config,omitempty"`
	State      *CycleState        `json:"state,omitempty"`
	Rounds     []BuyRound         `json:"rounds"`
	Statistics *TradeStatistics   `json:"statistics,omitempty"`
	History    []CycleHistoryItem `json:"history"`
	BackupTime time.Time          `json:"backup_time"`
}
