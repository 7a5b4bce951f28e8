package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseMarket splits a "QUOTE-BASE" market code such as "KRW-BTC".
func ParseMarket(market string) (quote, base string, err error) {
	parts := strings.Split(market, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid market %q, expected QUOTE-BASE", market)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// Candle 是一根K线
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Ticker 是市场的最新成交信息
type Ticker struct {
	Market        string          `json:"market"`
	Price         decimal.Decimal `json:"price"`
	Volume24h     decimal.Decimal `json:"volume_24h"`
	ChangeRate24h decimal.Decimal `json:"change_rate_24h"`
	Timestamp     time.Time       `json:"timestamp"`
}

// MarketSnapshot 是一次分析所用的市场视图, Timestamp 即分析时刻
type MarketSnapshot struct {
	Market        string          `json:"market"`
	Price         decimal.Decimal `json:"price"`
	Volume24h     decimal.Decimal `json:"volume_24h"`
	ChangeRate24h decimal.Decimal `json:"change_rate_24h"`
	Timestamp     time.Time       `json:"timestamp"`
	Candles       []Candle        `json:"candles,omitempty"` // 可选, 供自适应层使用
}

// SnapshotFromTicker 由 ticker 构造快照
func SnapshotFromTicker(t Ticker, candles []Candle) MarketSnapshot {
	return MarketSnapshot{
		Market:        t.Market,
		Price:         t.Price,
		Volume24h:     t.Volume24h,
		ChangeRate24h: t.ChangeRate24h,
		Timestamp:     t.Timestamp,
		Candles:       candles,
	}
}

// Balance 是单一币种的余额
type Balance struct {
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Locked      decimal.Decimal `json:"locked"` // 挂单冻结部分
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

// Available 返回可用余额 (balance - locked), 不小于 0
func (b Balance) Available() decimal.Decimal {
	v := b.Balance.Sub(b.Locked)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Account 是账户的余额快照
type Account struct {
	Balances []Balance `json:"balances"`
}

// Balance 按币种查找余额, 不存在时返回零值
func (a Account) Balance(currency string) Balance {
	for _, b := range a.Balances {
		if strings.EqualFold(b.Currency, currency) {
			return b
		}
	}
	return Balance{Currency: strings.ToUpper(currency)}
}

// Available 返回某币种的可用余额
func (a Account) Available(currency string) decimal.Decimal {
	return a.Balance(currency).Available()
}

// Total 返回某币种的总余额 (含冻结)
func (a Account) Total(currency string) decimal.Decimal {
	return a.Balance(currency).Balance
}

// OrderSide 是订单方向
type OrderSide string

const (
	OrderSideBid OrderSide = "bid" // 买
	OrderSideAsk OrderSide = "ask" // 卖
)

// OrderType 是订单类型
type OrderType string

const (
	OrderTypeLimit     OrderType = "limit"  // 限价
	OrderTypeMarketBuy OrderType = "price"  // 市价买入, 按金额
	OrderTypeMarket    OrderType = "market" // 市价卖出, 按数量
)

// OrderRequest 是下单请求. 市价买入只使用 Price (金额), 市价卖出只使用 Volume.
type OrderRequest struct {
	Market  string          `json:"market"`
	Side    OrderSide       `json:"side"`
	OrdType OrderType       `json:"ord_type"`
	Volume  decimal.Decimal `json:"volume"`
	Price   decimal.Decimal `json:"price"`
}

// MarketBuy 构造按金额市价买入的请求
func MarketBuy(market string, amount decimal.Decimal) OrderRequest {
	return OrderRequest{Market: market, Side: OrderSideBid, OrdType: OrderTypeMarketBuy, Price: amount}
}

// MarketSell 构造按数量市价卖出的请求
func MarketSell(market string, volume decimal.Decimal) OrderRequest {
	return OrderRequest{Market: market, Side: OrderSideAsk, OrdType: OrderTypeMarket, Volume: volume}
}

// Order 是交易所返回的订单
type Order struct {
	ID             string          `json:"id"`
	Market         string          `json:"market"`
	Side           OrderSide       `json:"side"`
	OrdType        OrderType       `json:"ord_type"`
	State          string          `json:"state"` // wait, done, cancel
	Price          decimal.Decimal `json:"price"`
	Volume         decimal.Decimal `json:"volume"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	ExecutedFunds  decimal.Decimal `json:"executed_funds"`
	PaidFee        decimal.Decimal `json:"paid_fee"`
	CreatedAt      time.Time       `json:"created_at"`
}

// OrderResult 是下单结果
type OrderResult struct {
	Success      bool   `json:"success"`
	Order        *Order `json:"order,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
