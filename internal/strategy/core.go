package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/adaptive"
	"github.com/CasselKim/TTM-sub000/internal/indicators"
	"github.com/CasselKim/TTM-sub000/internal/models"
)

type core struct {
	family   models.Family
	policy   policy
	logger   *zap.Logger
	newID    func() string
	observer Observer
}

func newCore(family models.Family, p policy, opts []Option) core {
	c := core{
		family: family,
		policy: p,
		logger: zap.NewNop(),
		newID:  NewCycleID,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Family 返回策略家族
func (c *core) Family() models.Family { return c.family }

func hold(reason string) models.Signal {
	return models.Signal{Action: models.SignalHold, Reason: reason, Confidence: decimal.Zero}
}

func buy(t models.BuyType, reason string, confidence decimal.Decimal) models.Signal {
	return models.Signal{Action: models.SignalBuy, BuyType: t, Reason: reason, Confidence: confidence}
}

func sell(trigger models.SellTrigger, reason string) models.Signal {
	return models.Signal{Action: models.SignalSell, Trigger: trigger, Reason: reason, Confidence: decimal.NewFromInt(1)}
}

func marketOf(snap models.MarketSnapshot, state models.CycleState) string {
	if state.Market != "" {
		return state.Market
	}
	return snap.Market
}

func (c *core) conditions(snap models.MarketSnapshot, state models.CycleState, cfg models.StrategyConfig) adaptive.Conditions {
	if !c.policy.usesIndicators(cfg) {
		return adaptive.Conditions{Volatility: indicators.VolatilityNormal}
	}
	cond, err := adaptive.Analyze(snap, state, cfg)
	if err != nil {
		c.logger.Warn("indicator analysis failed, using static thresholds",
			zap.String("market", marketOf(snap, state)), zap.Error(err))
		return adaptive.Conditions{Volatility: indicators.VolatilityNormal}
	}
	return cond
}

// AnalyzeSignal decides BUY, SELL or HOLD. The checks run in a fixed order:
// initial buy, forced sell, take profit, additional buy, hold.
func (c *core) AnalyzeSignal(account models.Account, snap models.MarketSnapshot, cfg models.StrategyConfig, state models.CycleState) models.Signal {
	quote, _, err := models.ParseMarket(marketOf(snap, state))
	if err != nil {
		return hold(err.Error())
	}
	price := snap.Price
	if !price.IsPositive() {
		return hold("no market price")
	}
	funds := account.Available(quote)

	if !state.IsActive() || state.CurrentRound == 0 {
		if funds.LessThan(cfg.InitialBuyAmount) {
			return hold(fmt.Sprintf("insufficient funds: %s < %s", funds, cfg.InitialBuyAmount))
		}
		return buy(models.BuyTypeInitial, "initial buy", decimal.NewFromInt(1))
	}

	cond := c.conditions(snap, state, cfg)
	rate := state.ProfitRate(price)

	if state.CurrentRound >= cfg.MaxBuyRounds {
		return sell(models.SellMaxRounds,
			fmt.Sprintf("force stop: max buy rounds reached (%d/%d), profit rate %s", state.CurrentRound, cfg.MaxBuyRounds, rate.StringFixed(4)))
	}
	if stop := c.policy.stopLoss(cfg, cond, price); rate.LessThanOrEqual(stop) {
		return sell(models.SellStopLoss,
			fmt.Sprintf("force stop: profit rate %s <= stop loss %s", rate.StringFixed(4), stop.StringFixed(4)))
	}
	if cfg.MaxCycleAge > 0 && state.CycleAge(snap.Timestamp) > cfg.MaxCycleAge {
		return sell(models.SellMaxAge,
			fmt.Sprintf("force stop: cycle age %s exceeds %s", state.CycleAge(snap.Timestamp).Round(time.Second), cfg.MaxCycleAge))
	}
	if rate.GreaterThanOrEqual(cfg.TargetProfitRate) {
		return sell(models.SellTakeProfit,
			fmt.Sprintf("take profit: profit rate %s >= target %s", rate.StringFixed(4), cfg.TargetProfitRate.StringFixed(4)))
	}

	if funds.LessThan(cfg.InitialBuyAmount) {
		return hold(fmt.Sprintf("insufficient funds for additional buy: %s < %s", funds, cfg.InitialBuyAmount))
	}

	since := snap.Timestamp.Sub(state.LastBuyTime)
	if !state.LastBuyTime.IsZero() && since < cfg.MinBuyInterval {
		return hold(fmt.Sprintf("waiting: min buy interval (%s left)", (cfg.MinBuyInterval - since).Round(time.Second)))
	}
	if cfg.EnableTimeBasedBuying && !state.LastBuyTime.IsZero() && since >= cfg.TimeBasedBuyInterval {
		return buy(models.BuyTypeTimeBased,
			fmt.Sprintf("time based buy: %s since last round", since.Round(time.Second)), decimal.RequireFromString("0.6"))
	}

	threshold := c.policy.dropThreshold(cfg, cond, price)
	drawdown := state.DrawdownRate(price)
	if drawdown.GreaterThanOrEqual(threshold.Abs()) {
		return buy(models.BuyTypePriceDrop,
			fmt.Sprintf("price drop buy: drawdown %s >= %s", drawdown.StringFixed(4), threshold.Abs().StringFixed(4)),
			decimal.RequireFromString("0.8"))
	}

	return hold(fmt.Sprintf("waiting: profit rate %s", rate.StringFixed(4)))
}

// CalculateBuyAmount sizes a BUY signal. Zero means skip.
func (c *core) CalculateBuyAmount(account models.Account, snap models.MarketSnapshot, signal models.Signal, cfg models.StrategyConfig, state models.CycleState, minOrder decimal.Decimal) decimal.Decimal {
	if signal.Action != models.SignalBuy {
		return decimal.Zero
	}
	market := marketOf(snap, state)
	quote, _, err := models.ParseMarket(market)
	if err != nil {
		return decimal.Zero
	}
	funds := account.Available(quote)

	if !state.IsActive() || state.CurrentRound == 0 {
		amount := decimal.Min(cfg.InitialBuyAmount, funds).Truncate(orderPrecision)
		if amount.LessThan(minOrder) {
			return decimal.Zero
		}
		return amount
	}

	var amount decimal.Decimal
	last, ok := state.LastRound()
	if !ok {
		c.logger.Warn("round ledger empty while current round > 0, falling back to initial amount",
			zap.String("family", string(c.family)), zap.String("market", market), zap.Int("current_round", state.CurrentRound))
		if c.observer != nil {
			c.observer.LedgerInconsistency(c.family, market)
		}
		amount = cfg.InitialBuyAmount
	} else {
		cond := c.conditions(snap, state, cfg)
		amount = c.policy.nextAmount(cfg, state, snap, cond, last.BuyAmount)
	}

	amount = decimal.Min(amount, funds).Truncate(orderPrecision)
	if amount.LessThan(minOrder) {
		return decimal.Zero
	}

	// 总投入不超过账户价值 × max_investment_ratio
	accountValue := account.Total(quote).Add(state.TotalInvestment)
	headroom := accountValue.Mul(cfg.MaxInvestmentRatio).Sub(state.TotalInvestment)
	if !headroom.IsPositive() {
		return decimal.Zero
	}
	if amount.GreaterThan(headroom) {
		amount = headroom.Truncate(orderPrecision)
		if amount.LessThan(minOrder) {
			return decimal.Zero
		}
	}
	return amount
}

// CalculateSellAmount returns the whole available base position for a SELL.
func (c *core) CalculateSellAmount(account models.Account, snap models.MarketSnapshot, signal models.Signal, state models.CycleState) decimal.Decimal {
	if signal.Action != models.SignalSell {
		return decimal.Zero
	}
	_, base, err := models.ParseMarket(marketOf(snap, state))
	if err != nil {
		return decimal.Zero
	}
	return account.Available(base)
}

// ExecuteBuy records a filled buy as the next round.
func (c *core) ExecuteBuy(snap models.MarketSnapshot, amount decimal.Decimal, cfg models.StrategyConfig, state models.CycleState, buyType models.BuyType, reason string) models.StrategyResult {
	if !amount.IsPositive() || !snap.Price.IsPositive() {
		return models.StrategyResult{
			Success: false,
			Action:  models.ActionBuy,
			Message: fmt.Sprintf("invalid buy: amount %s at price %s", amount, snap.Price),
			State:   state.Clone(),
		}
	}

	next := state.Clone()
	if next.Market == "" {
		next.Market = snap.Market
	}
	if !next.IsActive() {
		next = next.StartCycle(c.newID(), snap.Timestamp)
	}
	if buyType == "" {
		buyType = models.BuyTypePriceDrop
		if next.CurrentRound == 0 {
			buyType = models.BuyTypeInitial
		}
	}

	price := snap.Price
	volume := amount.Div(price)
	next = next.AddRound(models.BuyRound{
		BuyPrice:  price,
		BuyAmount: amount,
		BuyVolume: volume,
		Timestamp: snap.Timestamp,
		Type:      buyType,
		Reason:    reason,
	}, cfg)

	return models.StrategyResult{
		Success:     true,
		Action:      models.ActionBuy,
		Message:     fmt.Sprintf("round %d %s buy: %s at %s", next.CurrentRound, buyType, amount, price),
		TradePrice:  &price,
		TradeAmount: &amount,
		TradeVolume: &volume,
		State:       next,
	}
}

// ExecuteSell closes the cycle at the snapshot price and resets the state.
func (c *core) ExecuteSell(snap models.MarketSnapshot, volume decimal.Decimal, state models.CycleState) models.StrategyResult {
	if !volume.IsPositive() || !snap.Price.IsPositive() {
		return models.StrategyResult{
			Success: false,
			Action:  models.ActionSell,
			Message: fmt.Sprintf("invalid sell: volume %s at price %s", volume, snap.Price),
			State:   state.Clone(),
		}
	}

	price := snap.Price
	proceeds := volume.Mul(price)
	profitLoss := proceeds.Sub(state.TotalInvestment)
	rate := decimal.Zero
	if state.TotalInvestment.IsPositive() {
		rate = profitLoss.Div(state.TotalInvestment)
	}

	status := models.CycleCompleted
	if state.Phase == models.PhaseForceSelling {
		status = models.CycleForceStopped
	}

	next := state.Reset()
	if next.Market == "" {
		next.Market = snap.Market
	}
	return models.StrategyResult{
		Success:     true,
		Action:      models.ActionSell,
		Message:     fmt.Sprintf("sold %s at %s, profit %s (%s%%)", volume, price, profitLoss.StringFixed(2), rate.Mul(decimal.NewFromInt(100)).StringFixed(2)),
		TradePrice:  &price,
		TradeAmount: &proceeds,
		TradeVolume: &volume,
		State:       next,
		ProfitRate:  &rate,
		ProfitLoss:  &profitLoss,
		Status:      status,
	}
}

// MarkSelling moves an active cycle into PROFIT_TAKING or FORCE_SELLING
// before the sell order goes out.
func (c *core) MarkSelling(state models.CycleState, trigger models.SellTrigger) models.CycleState {
	next := state.Clone()
	if !next.IsActive() {
		return next
	}
	if trigger.IsForced() {
		next.Phase = models.PhaseForceSelling
	} else {
		next.Phase = models.PhaseProfitTaking
	}
	return next
}
