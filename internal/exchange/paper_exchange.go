package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

// PaperExchange 实现了 Exchange 接口，在内存中模拟撮合。
// 市价单按当前价格立即成交, 限价单挂起直到价格穿越。
type PaperExchange struct {
	mu       sync.Mutex
	balances map[string]*models.Balance
	tickers  map[string]models.Ticker
	candles  map[string][]models.Candle
	orders   map[string]*models.Order
	nextID   int64
	feeRate  decimal.Decimal // 吃单手续费率
	source   MarketData      // 可选, 提供真实行情
	now      func() time.Time

	TotalFees decimal.Decimal // 累积手续费 (计价货币)
}

var _ Exchange = (*PaperExchange)(nil)

// PaperOption 配置模拟盘
type PaperOption func(*PaperExchange)

// WithMarketData makes the paper exchange follow a real price source.
func WithMarketData(src MarketData) PaperOption {
	return func(e *PaperExchange) { e.source = src }
}

// WithClock replaces the clock used for order and ticker timestamps.
func WithClock(now func() time.Time) PaperOption {
	return func(e *PaperExchange) {
		if now != nil {
			e.now = now
		}
	}
}

// NewPaperExchange 创建一个模拟交易所, balances 为各币种初始余额
func NewPaperExchange(balances map[string]decimal.Decimal, feeRate decimal.Decimal, opts ...PaperOption) *PaperExchange {
	e := &PaperExchange{
		balances: make(map[string]*models.Balance),
		tickers:  make(map[string]models.Ticker),
		candles:  make(map[string][]models.Candle),
		orders:   make(map[string]*models.Order),
		nextID:   1,
		feeRate:  feeRate,
		now:      time.Now,
	}
	for currency, amount := range balances {
		e.balances[strings.ToUpper(currency)] = &models.Balance{Currency: strings.ToUpper(currency), Balance: amount}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPrice moves the market price and fills any resting limit orders it crosses.
func (e *PaperExchange) SetPrice(market string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tickers[market]
	t.Market = market
	t.Price = price
	t.Timestamp = e.now()
	e.tickers[market] = t
	e.matchLimitOrders(market, price)
}

// SetTicker replaces the full ticker of a market.
func (e *PaperExchange) SetTicker(t models.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[t.Market] = t
	e.matchLimitOrders(t.Market, t.Price)
}

// SetCandles 设置市场的K线, 供指标计算
func (e *PaperExchange) SetCandles(market string, candles []models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[market] = append([]models.Candle(nil), candles...)
}

// SetBalance 直接设置某币种余额
func (e *PaperExchange) SetBalance(currency string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance(currency).Balance = amount
}

func (e *PaperExchange) balance(currency string) *models.Balance {
	currency = strings.ToUpper(currency)
	b, ok := e.balances[currency]
	if !ok {
		b = &models.Balance{Currency: currency}
		e.balances[currency] = b
	}
	return b
}

func (e *PaperExchange) refreshTicker(ctx context.Context, market string) error {
	if e.source == nil {
		return nil
	}
	t, err := e.source.GetTicker(ctx, market)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[market] = *t
	e.matchLimitOrders(market, t.Price)
	return nil
}

func (e *PaperExchange) GetTicker(ctx context.Context, market string) (*models.Ticker, error) {
	if err := e.refreshTicker(ctx, market); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tickers[market]
	if !ok || !t.Price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, market)
	}
	return &t, nil
}

func (e *PaperExchange) GetCandles(ctx context.Context, market, interval string, limit int) ([]models.Candle, error) {
	if e.source != nil {
		return e.source.GetCandles(ctx, market, interval, limit)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.candles[market]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]models.Candle(nil), c...), nil
}

func (e *PaperExchange) GetAccount(_ context.Context) (*models.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc := &models.Account{Balances: make([]models.Balance, 0, len(e.balances))}
	for _, b := range e.balances {
		acc.Balances = append(acc.Balances, *b)
	}
	sort.Slice(acc.Balances, func(i, j int) bool { return acc.Balances[i].Currency < acc.Balances[j].Currency })
	return acc, nil
}

func rejected(format string, args ...interface{}) *models.OrderResult {
	return &models.OrderResult{Success: false, ErrorMessage: fmt.Sprintf(format, args...)}
}

// PlaceOrder 模拟下单
func (e *PaperExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if req.OrdType != models.OrderTypeLimit {
		if err := e.refreshTicker(ctx, req.Market); err != nil {
			return nil, err
		}
	}
	quote, base, err := models.ParseMarket(req.Market)
	if err != nil {
		return rejected("%v", err), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price := e.tickers[req.Market].Price
	order := &models.Order{
		ID:        strconv.FormatInt(e.nextID, 10),
		Market:    req.Market,
		Side:      req.Side,
		OrdType:   req.OrdType,
		State:     "wait",
		Price:     req.Price,
		Volume:    req.Volume,
		CreatedAt: e.now(),
	}

	switch {
	case req.OrdType == models.OrderTypeMarketBuy && req.Side == models.OrderSideBid:
		if !price.IsPositive() {
			return rejected("%s: %s", ErrNoPrice, req.Market), nil
		}
		amount := req.Price
		if !amount.IsPositive() {
			return rejected("invalid buy amount %s", amount), nil
		}
		qb := e.balance(quote)
		if qb.Available().LessThan(amount) {
			return rejected("insufficient %s balance: %s < %s", quote, qb.Available(), amount), nil
		}
		fee := amount.Mul(e.feeRate)
		funds := amount.Sub(fee)
		volume := funds.Div(price)
		qb.Balance = qb.Balance.Sub(amount)
		e.balance(base).Balance = e.balance(base).Balance.Add(volume)
		e.fill(order, volume, funds, fee)

	case req.OrdType == models.OrderTypeMarket && req.Side == models.OrderSideAsk:
		if !price.IsPositive() {
			return rejected("%s: %s", ErrNoPrice, req.Market), nil
		}
		volume := req.Volume
		if !volume.IsPositive() {
			return rejected("invalid sell volume %s", volume), nil
		}
		bb := e.balance(base)
		if bb.Available().LessThan(volume) {
			return rejected("insufficient %s balance: %s < %s", base, bb.Available(), volume), nil
		}
		funds := volume.Mul(price)
		fee := funds.Mul(e.feeRate)
		bb.Balance = bb.Balance.Sub(volume)
		e.balance(quote).Balance = e.balance(quote).Balance.Add(funds.Sub(fee))
		e.fill(order, volume, funds, fee)

	case req.OrdType == models.OrderTypeLimit:
		if !req.Price.IsPositive() || !req.Volume.IsPositive() {
			return rejected("invalid limit order %s x %s", req.Price, req.Volume), nil
		}
		// 挂单冻结资金
		if req.Side == models.OrderSideBid {
			need := req.Price.Mul(req.Volume)
			qb := e.balance(quote)
			if qb.Available().LessThan(need) {
				return rejected("insufficient %s balance: %s < %s", quote, qb.Available(), need), nil
			}
			qb.Locked = qb.Locked.Add(need)
		} else {
			bb := e.balance(base)
			if bb.Available().LessThan(req.Volume) {
				return rejected("insufficient %s balance: %s < %s", base, bb.Available(), req.Volume), nil
			}
			bb.Locked = bb.Locked.Add(req.Volume)
		}

	default:
		return rejected("unsupported order %s/%s", req.Side, req.OrdType), nil
	}

	e.orders[order.ID] = order
	e.nextID++
	if order.State == "wait" && price.IsPositive() {
		e.matchLimitOrders(req.Market, price)
	}
	o := *order
	return &models.OrderResult{Success: true, Order: &o}, nil
}

func (e *PaperExchange) fill(o *models.Order, volume, funds, fee decimal.Decimal) {
	o.State = "done"
	o.ExecutedVolume = volume
	o.ExecutedFunds = funds
	o.PaidFee = fee
	e.TotalFees = e.TotalFees.Add(fee)
}

// matchLimitOrders 撮合被价格穿越的限价单, 按下单顺序
func (e *PaperExchange) matchLimitOrders(market string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	quote, base, err := models.ParseMarket(market)
	if err != nil {
		return
	}
	ids := make([]string, 0)
	for id, o := range e.orders {
		if o.Market == market && o.State == "wait" && o.OrdType == models.OrderTypeLimit {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseInt(ids[i], 10, 64)
		b, _ := strconv.ParseInt(ids[j], 10, 64)
		return a < b
	})

	for _, id := range ids {
		o := e.orders[id]
		funds := o.Price.Mul(o.Volume)
		switch {
		case o.Side == models.OrderSideBid && price.LessThanOrEqual(o.Price):
			fee := funds.Mul(e.feeRate)
			qb := e.balance(quote)
			qb.Locked = qb.Locked.Sub(funds)
			qb.Balance = qb.Balance.Sub(funds)
			e.balance(base).Balance = e.balance(base).Balance.Add(o.Volume.Sub(fee.Div(o.Price)))
			e.fill(o, o.Volume.Sub(fee.Div(o.Price)), funds.Sub(fee), fee)
		case o.Side == models.OrderSideAsk && price.GreaterThanOrEqual(o.Price):
			fee := funds.Mul(e.feeRate)
			bb := e.balance(base)
			bb.Locked = bb.Locked.Sub(o.Volume)
			bb.Balance = bb.Balance.Sub(o.Volume)
			e.balance(quote).Balance = e.balance(quote).Balance.Add(funds.Sub(fee))
			e.fill(o, o.Volume, funds, fee)
		}
	}
}

func (e *PaperExchange) GetOrder(_ context.Context, market, orderID string) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.Market != market {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	c := *o
	return &c, nil
}

// CancelOrder cancels a resting order and releases its locked funds.
// Cancelling a finished order returns it unchanged.
func (e *PaperExchange) CancelOrder(_ context.Context, market, orderID string) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.Market != market {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.State == "wait" {
		quote, base, _ := models.ParseMarket(market)
		if o.Side == models.OrderSideBid {
			qb := e.balance(quote)
			qb.Locked = qb.Locked.Sub(o.Price.Mul(o.Volume))
		} else {
			bb := e.balance(base)
			bb.Locked = bb.Locked.Sub(o.Volume)
		}
		o.State = "cancel"
	}
	c := *o
	return &c, nil
}
