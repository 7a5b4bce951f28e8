// Package bot wires the strategy engine to an exchange and a repository.
// A Trader runs one strategy family; every call handles exactly one market
// and must not overlap with another call for the same market.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/exchange"
	"github.com/CasselKim/TTM-sub000/internal/models"
	"github.com/CasselKim/TTM-sub000/internal/notifier"
	"github.com/CasselKim/TTM-sub000/internal/persistence"
	"github.com/CasselKim/TTM-sub000/internal/strategy"
)

var defaultMinOrderAmount = decimal.NewFromInt(5000)

const (
	defaultCandleInterval = "1d"
	defaultCandleLimit    = 60
)

// Recorder 接收交易相关的指标
type Recorder interface {
	RecordTrade(family models.Family, market string, side models.OrderSide, amount float64)
	RecordCycleClosed(family models.Family, market string, status models.CycleStatus)
	ObserveState(family models.Family, state models.CycleState)
}

type nopRecorder struct{}

func (nopRecorder) RecordTrade(models.Family, string, models.OrderSide, float64)  {}
func (nopRecorder) RecordCycleClosed(models.Family, string, models.CycleStatus) {}
func (nopRecorder) ObserveState(models.Family, models.CycleState)              {}

// Trader 是一个策略家族的交易用例
type Trader struct {
	engine   strategy.Engine
	repo     persistence.Repository
	exchange exchange.Exchange
	notifier notifier.Notifier
	recorder Recorder
	family   models.FamilyConfig
	logger   *zap.Logger
	now      func() time.Time
}

// Option 配置 Trader
type Option func(*Trader)

func WithNotifier(n notifier.Notifier) Option {
	return func(t *Trader) {
		if n != nil {
			t.notifier = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(t *Trader) {
		if r != nil {
			t.recorder = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Trader) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithFamilyConfig sets the minimum order amount and candle parameters.
func WithFamilyConfig(cfg models.FamilyConfig) Option {
	return func(t *Trader) { t.family = cfg }
}

// WithClock replaces time.Now; the clock value is the analysis time of every snapshot.
func WithClock(now func() time.Time) Option {
	return func(t *Trader) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrader creates a trader for engine's family.
func NewTrader(engine strategy.Engine, repo persistence.Repository, ex exchange.Exchange, opts ...Option) *Trader {
	t := &Trader{
		engine:   engine,
		repo:     repo,
		exchange: ex,
		notifier: notifier.Nop{},
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("family", string(engine.Family())))
	return t
}

// Family 返回策略家族
func (t *Trader) Family() models.Family { return t.engine.Family() }

func (t *Trader) minOrder() decimal.Decimal {
	if t.family.MinOrderAmount.IsPositive() {
		return t.family.MinOrderAmount
	}
	return defaultMinOrderAmount
}

// ActiveMarkets 返回有进行中周期的市场
func (t *Trader) ActiveMarkets(ctx context.Context) ([]string, error) {
	markets, err := t.repo.ActiveMarkets(ctx)
	if err != nil {
		return nil, tradeErr("active_markets", "", err)
	}
	return markets, nil
}

func (t *Trader) load(ctx context.Context, market string) (*models.StrategyConfig, *models.CycleState, error) {
	cfg, err := t.repo.GetConfig(ctx, market)
	if err != nil {
		return nil, nil, tradeErr("get_config", market, err)
	}
	state, err := t.repo.GetState(ctx, market)
	if err != nil {
		return nil, nil, tradeErr("get_state", market, err)
	}
	return cfg, state, nil
}

func (t *Trader) snapshot(ctx context.Context, market string, cfg models.StrategyConfig) (models.MarketSnapshot, error) {
	ticker, err := t.exchange.GetTicker(ctx, market)
	if err != nil {
		return models.MarketSnapshot{}, tradeErr("get_ticker", market, err)
	}

	var candles []models.Candle
	if cfg.EnableAdaptiveThresholds || cfg.EnableSmartDCA {
		interval, limit := t.family.CandleInterval, t.family.CandleLimit
		if interval == "" {
			interval = defaultCandleInterval
		}
		if limit <= 0 {
			limit = defaultCandleLimit
		}
		c, err := t.exchange.GetCandles(ctx, market, interval, limit)
		if err != nil {
			// 没有K线时指标缺失, 使用静态阈值
			t.logger.Warn("获取K线失败", zap.String("market", market), zap.Error(err))
		} else {
			candles = c
		}
	}

	snap := models.SnapshotFromTicker(*ticker, candles)
	snap.Market = market
	snap.Timestamp = t.now()
	return snap, nil
}

func (t *Trader) account(ctx context.Context, market string) (models.Account, error) {
	acc, err := t.exchange.GetAccount(ctx)
	if err != nil {
		return models.Account{}, tradeErr("get_account", market, err)
	}
	return *acc, nil
}

// settle refreshes an order that was not reported as done yet.
func (t *Trader) settle(ctx context.Context, market string, order *models.Order) *models.Order {
	if order == nil || order.State != "wait" {
		return order
	}
	refreshed, err := t.exchange.GetOrder(ctx, market, order.ID)
	if err != nil {
		t.logger.Warn("查询订单状态失败", zap.String("market", market), zap.String("order_id", order.ID), zap.Error(err))
		return order
	}
	return refreshed
}

// filledBuy prices the buy by what was actually paid per unit received.
func filledBuy(snap models.MarketSnapshot, order *models.Order, requested decimal.Decimal) (models.MarketSnapshot, decimal.Decimal) {
	if order == nil || !order.ExecutedVolume.IsPositive() {
		return snap, requested
	}
	amount := order.ExecutedFunds.Add(order.PaidFee)
	if !amount.IsPositive() {
		amount = requested
	}
	snap.Price = amount.Div(order.ExecutedVolume)
	return snap, amount
}

func filledSell(snap models.MarketSnapshot, order *models.Order, requested decimal.Decimal) (models.MarketSnapshot, decimal.Decimal) {
	if order == nil || !order.ExecutedVolume.IsPositive() {
		return snap, requested
	}
	if price, err := exchange.FillPrice(order); err == nil && price.IsPositive() {
		snap.Price = price
	}
	return snap, order.ExecutedVolume
}

func hold(state models.CycleState, msg string) models.StrategyResult {
	return models.StrategyResult{Success: true, Action: models.ActionHold, Message: msg, State: state}
}

func failed(action models.Action, state models.CycleState, msg string) models.StrategyResult {
	return models.StrategyResult{Success: false, Action: action, Message: msg, State: state}
}

// Start validates and stores cfg, opens a new cycle and places the initial
// buy. When the buy cannot be placed the market data is cleared again.
func (t *Trader) Start(ctx context.Context, market string, cfg models.StrategyConfig) (models.StrategyResult, error) {
	cfg, err := models.NewStrategyConfig(cfg)
	if err != nil {
		return failed(models.ActionStart, models.NewCycleState(market), err.Error()), err
	}
	if _, _, err := models.ParseMarket(market); err != nil {
		return failed(models.ActionStart, models.NewCycleState(market), err.Error()), err
	}

	existing, err := t.repo.GetState(ctx, market)
	if err != nil {
		return failed(models.ActionStart, models.NewCycleState(market), err.Error()), tradeErr("get_state", market, err)
	}
	if existing != nil && existing.IsActive() {
		return failed(models.ActionStart, *existing, fmt.Sprintf("%s 已在运行", market)),
			fmt.Errorf("%w: %s", ErrAlreadyActive, market)
	}

	if err := t.repo.SaveConfig(ctx, market, cfg); err != nil {
		return failed(models.ActionStart, models.NewCycleState(market), err.Error()), tradeErr("save_config", market, err)
	}
	if err := t.repo.ClearRounds(ctx, market); err != nil {
		return failed(models.ActionStart, models.NewCycleState(market), err.Error()), tradeErr("clear_rounds", market, err)
	}

	state := models.NewCycleState(market)
	result, err := t.startBuy(ctx, market, cfg, state)
	if err != nil || !result.Success {
		if cerr := t.repo.ClearMarket(ctx, market); cerr != nil {
			t.logger.Error("清理市场数据失败", zap.String("market", market), zap.Error(cerr))
		}
		result.Action = models.ActionStart
		return result, err
	}

	result.Action = models.ActionStart
	quote, _, _ := models.ParseMarket(market)
	t.notifyInfo(ctx, "DCA 启动", fmt.Sprintf("**%s** 已启动并完成首次买入", market),
		notifier.Field{Name: "首次买入金额", Value: result.TradeAmount.StringFixed(0) + " " + quote, Inline: true},
		notifier.Field{Name: "目标收益率", Value: pct(cfg.TargetProfitRate), Inline: true},
		notifier.Field{Name: "买入价", Value: result.TradePrice.StringFixed(2) + " " + quote, Inline: true},
	)
	return result, nil
}

func (t *Trader) startBuy(ctx context.Context, market string, cfg models.StrategyConfig, state models.CycleState) (models.StrategyResult, error) {
	account, err := t.account(ctx, market)
	if err != nil {
		return failed(models.ActionStart, state, err.Error()), err
	}
	snap, err := t.snapshot(ctx, market, cfg)
	if err != nil {
		return failed(models.ActionStart, state, err.Error()), err
	}

	signal := t.engine.AnalyzeSignal(account, snap, cfg, state)
	if signal.Action != models.SignalBuy {
		return failed(models.ActionStart, state, "首次买入失败: "+signal.Reason), nil
	}
	result, err := t.buy(ctx, market, cfg, state, account, snap, signal)
	if err == nil && result.Action != models.ActionBuy {
		result.Success = false
	}
	return result, err
}

// RunCycle performs one engine cycle for market: analyze, trade, persist.
func (t *Trader) RunCycle(ctx context.Context, market string) (models.StrategyResult, error) {
	cfg, state, err := t.load(ctx, market)
	if err != nil {
		return failed(models.ActionExecute, models.NewCycleState(market), err.Error()), err
	}
	if cfg == nil || state == nil || !state.IsActive() {
		current := models.NewCycleState(market)
		if state != nil {
			current = *state
		}
		return failed(models.ActionExecute, current, fmt.Sprintf("%s 未在运行", market)),
			fmt.Errorf("%w: %s", ErrNotActive, market)
	}

	account, err := t.account(ctx, market)
	if err != nil {
		return failed(models.ActionExecute, *state, err.Error()), err
	}
	snap, err := t.snapshot(ctx, market, *cfg)
	if err != nil {
		return failed(models.ActionExecute, *state, err.Error()), err
	}

	signal := t.engine.AnalyzeSignal(account, snap, *cfg, *state)
	switch signal.Action {
	case models.SignalBuy:
		return t.buy(ctx, market, *cfg, *state, account, snap, signal)
	case models.SignalSell:
		return t.sell(ctx, market, *state, account, snap, signal)
	}

	// 重新保存以刷新状态的过期时间
	if err := t.repo.SaveState(ctx, *state); err != nil {
		return failed(models.ActionHold, *state, err.Error()), tradeErr("save_state", market, err)
	}
	t.recorder.ObserveState(t.Family(), *state)
	t.logger.Debug("hold", zap.String("market", market), zap.String("reason", signal.Reason))
	return hold(*state, signal.Reason), nil
}

func (t *Trader) buy(ctx context.Context, market string, cfg models.StrategyConfig, state models.CycleState, account models.Account, snap models.MarketSnapshot, signal models.Signal) (models.StrategyResult, error) {
	amount := t.engine.CalculateBuyAmount(account, snap, signal, cfg, state, t.minOrder())
	if !amount.IsPositive() {
		if err := t.repo.SaveState(ctx, state); err != nil {
			return failed(models.ActionHold, state, err.Error()), tradeErr("save_state", market, err)
		}
		return hold(state, "买入条件不满足: 金额低于最小下单额或已达投资上限"), nil
	}

	res, err := t.exchange.PlaceOrder(ctx, models.MarketBuy(market, amount))
	if err != nil {
		return failed(models.ActionBuy, state, err.Error()), tradeErr("place_order", market, err)
	}
	if !res.Success {
		t.logger.Error("买入订单被拒绝", zap.String("market", market), zap.String("amount", amount.String()), zap.String("error", res.ErrorMessage))
		return failed(models.ActionHold, state, "买入订单失败: "+res.ErrorMessage), nil
	}

	order := t.settle(ctx, market, res.Order)
	fillSnap, filled := filledBuy(snap, order, amount)
	result := t.engine.ExecuteBuy(fillSnap, filled, cfg, state, signal.BuyType, signal.Reason)
	if !result.Success {
		return result, nil
	}
	if err := t.recordRound(ctx, market, state, result.State); err != nil {
		return result, err
	}

	f, _ := filled.Float64()
	t.recorder.RecordTrade(t.Family(), market, models.OrderSideBid, f)
	t.recorder.ObserveState(t.Family(), result.State)
	t.logger.Info("买入成交",
		zap.String("market", market),
		zap.Int("round", result.State.CurrentRound),
		zap.String("type", string(signal.BuyType)),
		zap.String("amount", filled.String()),
		zap.String("price", fillSnap.Price.String()),
		zap.String("average_price", result.State.AveragePrice.String()))
	return result, nil
}

// recordRound persists the round added between before and after, then the state.
func (t *Trader) recordRound(ctx context.Context, market string, before, after models.CycleState) error {
	if !before.IsActive() || before.CurrentRound == 0 {
		if err := t.repo.ClearRounds(ctx, market); err != nil {
			return tradeErr("clear_rounds", market, err)
		}
	}
	last, ok := after.LastRound()
	if ok {
		err := t.repo.AppendRound(ctx, market, last)
		if errors.Is(err, persistence.ErrDuplicateRound) || errors.Is(err, persistence.ErrRoundOutOfOrder) {
			t.logger.Warn("回合账本与状态不一致, 按状态重建账本", zap.String("market", market), zap.Error(err))
			err = t.rebuildLedger(ctx, market, after.Rounds)
		}
		if err != nil {
			return tradeErr("append_round", market, err)
		}
	}
	if err := t.repo.SaveState(ctx, after); err != nil {
		return tradeErr("save_state", market, err)
	}
	return nil
}

func (t *Trader) rebuildLedger(ctx context.Context, market string, rounds []models.BuyRound) error {
	if err := t.repo.ClearRounds(ctx, market); err != nil {
		return err
	}
	for _, r := range rounds {
		if err := t.repo.AppendRound(ctx, market, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trader) sell(ctx context.Context, market string, state models.CycleState, account models.Account, snap models.MarketSnapshot, signal models.Signal) (models.StrategyResult, error) {
	volume := t.engine.CalculateSellAmount(account, snap, signal, state)
	if !volume.IsPositive() {
		t.logger.Warn("卖出信号但没有可用持仓", zap.String("market", market), zap.String("reason", signal.Reason))
		if err := t.repo.SaveState(ctx, state); err != nil {
			return failed(models.ActionHold, state, err.Error()), tradeErr("save_state", market, err)
		}
		return hold(state, "没有可卖出的持仓"), nil
	}

	marked := t.engine.MarkSelling(state, signal.Trigger)
	if err := t.repo.SaveState(ctx, marked); err != nil {
		return failed(models.ActionSell, state, err.Error()), tradeErr("save_state", market, err)
	}

	res, err := t.exchange.PlaceOrder(ctx, models.MarketSell(market, volume))
	if err != nil {
		return failed(models.ActionSell, marked, err.Error()), tradeErr("place_order", market, err)
	}
	if !res.Success {
		t.logger.Error("卖出订单被拒绝", zap.String("market", market), zap.String("volume", volume.String()), zap.String("error", res.ErrorMessage))
		return failed(models.ActionHold, marked, "卖出订单失败: "+res.ErrorMessage), nil
	}

	order := t.settle(ctx, market, res.Order)
	fillSnap, filled := filledSell(snap, order, volume)
	result := t.engine.ExecuteSell(fillSnap, filled, marked)
	if !result.Success {
		return result, nil
	}
	if err := t.closeCycle(ctx, market, marked, result); err != nil {
		return result, err
	}

	quote, _, _ := models.ParseMarket(market)
	fields := []notifier.Field{
		{Name: "卖出价", Value: result.TradePrice.StringFixed(2) + " " + quote, Inline: true},
		{Name: "卖出数量", Value: result.TradeVolume.String(), Inline: true},
		{Name: "实现盈亏", Value: result.ProfitLoss.StringFixed(0) + " " + quote, Inline: true},
		{Name: "收益率", Value: pct(*result.ProfitRate), Inline: true},
	}
	switch {
	case signal.Trigger.IsForced():
		t.notifyError(ctx, "DCA 强制结束", fmt.Sprintf("**%s** %s", market, signal.Reason), fields...)
	case result.ProfitRate.IsPositive():
		t.notifyInfo(ctx, "🎉 DCA 止盈", fmt.Sprintf("**%s** 收益率 %s", market, pct(*result.ProfitRate)), fields...)
	}
	return result, nil
}

// closeCycle persists the reset state, archives the closed cycle and clears
// its round ledger.
func (t *Trader) closeCycle(ctx context.Context, market string, closed models.CycleState, result models.StrategyResult) error {
	if err := t.repo.SaveState(ctx, result.State); err != nil {
		return tradeErr("save_state", market, err)
	}

	item := models.NewCycleHistoryItem(closed, result, t.now())
	stats, err := t.repo.ArchiveCycle(ctx, item)
	switch {
	case errors.Is(err, persistence.ErrCycleArchived):
		t.logger.Warn("周期已归档, 跳过统计更新", zap.String("market", market), zap.String("cycle_id", item.CycleID))
	case err != nil:
		return tradeErr("archive_cycle", market, err)
	}
	if err := t.repo.ClearRounds(ctx, market); err != nil {
		return tradeErr("clear_rounds", market, err)
	}

	if result.TradeAmount != nil {
		f, _ := result.TradeAmount.Float64()
		t.recorder.RecordTrade(t.Family(), market, models.OrderSideAsk, f)
	}
	t.recorder.RecordCycleClosed(t.Family(), market, item.Status)
	t.recorder.ObserveState(t.Family(), result.State)

	fields := []zap.Field{
		zap.String("market", market),
		zap.String("cycle_id", item.CycleID),
		zap.String("status", string(item.Status)),
		zap.String("profit_rate", item.ProfitRate.StringFixed(4)),
		zap.String("profit_loss", item.ProfitLoss.String()),
		zap.Int("rounds", item.RoundsExecuted),
	}
	if stats != nil {
		fields = append(fields, zap.Int("total_cycles", stats.TotalCycles), zap.String("total_profit", stats.TotalProfit.String()))
	}
	t.logger.Info("周期结束", fields...)
	return nil
}

// Stop liquidates the available position of market, archives the cycle as
// force stopped and removes the market's config, state and rounds.
func (t *Trader) Stop(ctx context.Context, market string) (models.StrategyResult, error) {
	cfg, state, err := t.load(ctx, market)
	if err != nil {
		return failed(models.ActionStop, models.NewCycleState(market), err.Error()), err
	}
	if cfg == nil || state == nil || !state.IsActive() {
		return failed(models.ActionStop, models.NewCycleState(market), fmt.Sprintf("%s 未在运行", market)),
			fmt.Errorf("%w: %s", ErrNotActive, market)
	}

	account, err := t.account(ctx, market)
	if err != nil {
		return failed(models.ActionStop, *state, err.Error()), err
	}
	snap, err := t.snapshot(ctx, market, *cfg)
	if err != nil {
		return failed(models.ActionStop, *state, err.Error()), err
	}

	result := models.StrategyResult{Success: true, Action: models.ActionStop, State: state.Reset(), Message: fmt.Sprintf("%s 已停止", market)}
	volume := t.engine.CalculateSellAmount(account, snap, models.Signal{Action: models.SignalSell, Trigger: models.SellManual}, *state)
	if volume.IsPositive() {
		marked := t.engine.MarkSelling(*state, models.SellManual)
		res, err := t.exchange.PlaceOrder(ctx, models.MarketSell(market, volume))
		if err != nil {
			return failed(models.ActionStop, *state, err.Error()), tradeErr("place_order", market, err)
		}
		if !res.Success {
			t.logger.Warn("停止时卖出失败", zap.String("market", market), zap.String("error", res.ErrorMessage))
			result.Message += ", 卖出失败: " + res.ErrorMessage
		} else {
			order := t.settle(ctx, market, res.Order)
			fillSnap, filled := filledSell(snap, order, volume)
			sold := t.engine.ExecuteSell(fillSnap, filled, marked)
			if sold.Success {
				result.TradePrice, result.TradeAmount, result.TradeVolume = sold.TradePrice, sold.TradeAmount, sold.TradeVolume
				result.ProfitRate, result.ProfitLoss, result.Status = sold.ProfitRate, sold.ProfitLoss, sold.Status
				if err := t.closeCycle(ctx, market, marked, sold); err != nil {
					return result, err
				}
				quote, _, _ := models.ParseMarket(market)
				t.notifyInfo(ctx, "DCA 停止", fmt.Sprintf("**%s** 已停止并卖出持仓", market),
					notifier.Field{Name: "卖出数量", Value: filled.String(), Inline: true},
					notifier.Field{Name: "卖出价", Value: fillSnap.Price.StringFixed(2) + " " + quote, Inline: true},
					notifier.Field{Name: "收益率", Value: pct(*sold.ProfitRate), Inline: true},
					notifier.Field{Name: "盈亏", Value: sold.ProfitLoss.StringFixed(0) + " " + quote, Inline: true},
				)
			}
		}
	}

	if err := t.repo.ClearMarket(ctx, market); err != nil {
		return result, tradeErr("clear_market", market, err)
	}
	t.logger.Info("市场已停止", zap.String("market", market))
	return result, nil
}

// MarketStatus 是一个市场的状态视图
type MarketStatus struct {
	Family        models.Family
	Market        string
	Config        *models.StrategyConfig
	State         models.CycleState
	CurrentPrice  decimal.Decimal
	ProfitRate    decimal.Decimal
	CurrentValue  decimal.Decimal
	ProfitLoss    decimal.Decimal
	Statistics    *models.TradeStatistics
	RecentHistory []models.CycleHistoryItem
}

// Status collects the stored data of market. The price is looked up only
// for active cycles; a failed lookup leaves the price fields zero.
func (t *Trader) Status(ctx context.Context, market string, historyLimit int) (*MarketStatus, error) {
	cfg, state, err := t.load(ctx, market)
	if err != nil {
		return nil, err
	}
	st := &MarketStatus{Family: t.Family(), Market: market, Config: cfg, State: models.NewCycleState(market)}
	if state != nil {
		st.State = *state
	}
	if st.Statistics, err = t.repo.GetStatistics(ctx, market); err != nil {
		return nil, tradeErr("get_statistics", market, err)
	}
	if st.RecentHistory, err = t.repo.GetCycleHistory(ctx, market, historyLimit); err != nil {
		return nil, tradeErr("get_cycle_history", market, err)
	}

	if st.State.IsActive() {
		ticker, err := t.exchange.GetTicker(ctx, market)
		if err != nil {
			t.logger.Warn("获取价格失败", zap.String("market", market), zap.Error(err))
			return st, nil
		}
		st.CurrentPrice = ticker.Price
		st.ProfitRate = st.State.ProfitRate(ticker.Price)
		st.CurrentValue = st.State.TotalVolume.Mul(ticker.Price)
		st.ProfitLoss = st.CurrentValue.Sub(st.State.TotalInvestment)
	}
	return st, nil
}

func pct(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func (t *Trader) notifyInfo(ctx context.Context, title, msg string, fields ...notifier.Field) {
	if err := t.notifier.Info(ctx, title, msg, fields...); err != nil {
		t.logger.Warn("发送通知失败", zap.String("title", title), zap.Error(err))
	}
}

func (t *Trader) notifyError(ctx context.Context, title, msg string, fields ...notifier.Field) {
	if err := t.notifier.Error(ctx, title, msg, fields...); err != nil {
		t.logger.Warn("发送通知失败", zap.String("title", title), zap.Error(err))
	}
}
