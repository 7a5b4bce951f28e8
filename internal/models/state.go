package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase 是周期状态机的阶段
type Phase string

const (
	PhaseInactive     Phase = "INACTIVE"
	PhaseInitialBuy   Phase = "INITIAL_BUY"
	PhaseAccumulating Phase = "ACCUMULATING"
	PhaseProfitTaking Phase = "PROFIT_TAKING"
	PhaseForceSelling Phase = "FORCE_SELLING"
)

// BuyType 标识一次买入的触发原因
type BuyType string

const (
	BuyTypeInitial   BuyType = "INITIAL"
	BuyTypePriceDrop BuyType = "PRICE_DROP"
	BuyTypeTimeBased BuyType = "TIME_BASED"
)

// BuyRound 是一个周期内的一次买入, 记录后不可修改
type BuyRound struct {
	RoundNumber int             `json:"round_number"` // 从 1 开始
	BuyPrice    decimal.Decimal `json:"buy_price"`
	BuyAmount   decimal.Decimal `json:"buy_amount"` // 计价货币金额
	BuyVolume   decimal.Decimal `json:"buy_volume"` // 基础货币数量
	Timestamp   time.Time       `json:"timestamp"`
	Type        BuyType         `json:"type"`
	Reason      string          `json:"reason,omitempty"`
}

// UnitCost 返回该回合的单位成本
func (r BuyRound) UnitCost() decimal.Decimal {
	if r.BuyVolume.IsZero() {
		return decimal.Zero
	}
	return r.BuyAmount.Div(r.BuyVolume)
}

// CycleState 代表一个市场当前投资周期的完整状态
type CycleState struct {
	Market       string `json:"market"`   // 交易市场, e.g. "KRW-BTC"
	CycleID      string `json:"cycle_id"` // 周期ID
	Phase        Phase  `json:"phase"`
	CurrentRound int    `json:"current_round"` // 已执行的买入回合数

	TotalInvestment decimal.Decimal `json:"total_investment"`  // 总投入 (计价货币)
	TotalVolume     decimal.Decimal `json:"total_volume"`      // 总持仓数量
	AveragePrice    decimal.Decimal `json:"average_price"`     // 平均成本
	TargetSellPrice decimal.Decimal `json:"target_sell_price"` // 目标卖出价

	LastBuyPrice         decimal.Decimal `json:"last_buy_price"`
	LastBuyTime          time.Time       `json:"last_buy_time"`
	LastTimeBasedBuyTime time.Time       `json:"last_time_based_buy_time"`
	CycleStartTime       time.Time       `json:"cycle_start_time"`

	Rounds []BuyRound `json:"rounds"`
}

// NewCycleState 创建一个处于 INACTIVE 阶段的空状态
func NewCycleState(market string) CycleState {
	return CycleState{
		Market: market,
		Phase:  PhaseInactive,
		Rounds: []BuyRound{},
	}
}

// Clone returns a copy that shares no memory with s.
func (s CycleState) Clone() CycleState {
	c := s
	c.Rounds = make([]BuyRound, len(s.Rounds))
	copy(c.Rounds, s.Rounds)
	return c
}

// IsActive 判断周期是否在进行中
func (s CycleState) IsActive() bool {
	return s.Phase != "" && s.Phase != PhaseInactive
}

// StartCycle resets s into a fresh cycle in INITIAL_BUY.
func (s CycleState) StartCycle(cycleID string, now time.Time) CycleState {
	n := NewCycleState(s.Market)
	n.CycleID = cycleID
	n.Phase = PhaseInitialBuy
	n.CycleStartTime = now
	return n
}

// Reset 清空周期, 回到 INACTIVE
func (s CycleState) Reset() CycleState {
	return NewCycleState(s.Market)
}

// AddRound appends r as the next round and recomputes the aggregates.
// The round number is assigned here, so r.RoundNumber is ignored.
func (s CycleState) AddRound(r BuyRound, cfg StrategyConfig) CycleState {
	n := s.Clone()
	r.RoundNumber = len(n.Rounds) + 1
	n.Rounds = append(n.Rounds, r)
	n.CurrentRound = len(n.Rounds)

	n.TotalInvestment = n.TotalInvestment.Add(r.BuyAmount)
	n.TotalVolume = n.TotalVolume.Add(r.BuyVolume)
	if n.TotalVolume.IsPositive() {
		n.AveragePrice = n.TotalInvestment.Div(n.TotalVolume)
	} else {
		n.AveragePrice = decimal.Zero
	}
	n.TargetSellPrice = cfg.TargetSellPrice(n.AveragePrice)

	n.LastBuyPrice = r.BuyPrice
	n.LastBuyTime = r.Timestamp
	if r.Type == BuyTypeTimeBased {
		n.LastTimeBasedBuyTime = r.Timestamp
	}
	// 买入成交后总是回到累积阶段, 包括卖单被拒之后
	n.Phase = PhaseAccumulating
	return n
}

// ProfitRate 计算当前价格相对均价的收益率, 均价为 0 时返回 0
func (s CycleState) ProfitRate(price decimal.Decimal) decimal.Decimal {
	if s.AveragePrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(s.AveragePrice).Div(s.AveragePrice)
}

// DrawdownRate 返回当前价格低于均价的幅度, 价格高于均价时为负
func (s CycleState) DrawdownRate(price decimal.Decimal) decimal.Decimal {
	return s.ProfitRate(price).Neg()
}

// MaxLossRate 是最低买入价相对首次买入价的变化
func (s CycleState) MaxLossRate() decimal.Decimal {
	if len(s.Rounds) == 0 || s.Rounds[0].BuyPrice.IsZero() {
		return decimal.Zero
	}
	first := s.Rounds[0].BuyPrice
	lowest := first
	for _, r := range s.Rounds[1:] {
		if r.BuyPrice.LessThan(lowest) {
			lowest = r.BuyPrice
		}
	}
	return lowest.Sub(first).Div(first)
}

// CycleAge returns how long the cycle has been running at now.
func (s CycleState) CycleAge(now time.Time) time.Duration {
	if s.CycleStartTime.IsZero() {
		return 0
	}
	return now.Sub(s.CycleStartTime)
}

// LastRound 返回最后一个回合, 账本为空时 ok 为 false
func (s CycleState) LastRound() (BuyRound, bool) {
	if len(s.Rounds) == 0 {
		return BuyRound{}, false
	}
	return s.Rounds[len(s.Rounds)-1], true
}

// Consistent reports whether CurrentRound matches the round ledger.
func (s CycleState) Consistent() bool {
	if s.CurrentRound != len(s.Rounds) {
		return false
	}
	for i, r := range s.Rounds {
		if r.RoundNumber != i+1 {
			return false
		}
	}
	return true
}
