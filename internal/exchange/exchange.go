package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

var (
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNoPrice is returned when a market has no known price yet.
	ErrNoPrice = errors.New("no price for market")
)

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得交易机器人可以在真实交易和模拟盘之间轻松切换。
type Exchange interface {
	// PlaceOrder submits req. A rejected order is reported through
	// OrderResult.Success; the error is reserved for transport failures.
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
	GetOrder(ctx context.Context, market, orderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, market, orderID string) (*models.Order, error)
	GetTicker(ctx context.Context, market string) (*models.Ticker, error)
	GetAccount(ctx context.Context) (*models.Account, error)
	GetCandles(ctx context.Context, market, interval string, limit int) ([]models.Candle, error)
}

// MarketData 是只读行情来源
type MarketData interface {
	GetTicker(ctx context.Context, market string) (*models.Ticker, error)
	GetCandles(ctx context.Context, market, interval string, limit int) ([]models.Candle, error)
}

// Symbol converts a "QUOTE-BASE" market into the exchange symbol "BASEQUOTE".
func Symbol(market string) (string, error) {
	quote, base, err := models.ParseMarket(market)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

// MarketFromSymbol 在已知市场中反查交易对
func MarketFromSymbol(symbol string, markets []string) (string, bool) {
	for _, m := range markets {
		s, err := Symbol(m)
		if err == nil && strings.EqualFold(s, symbol) {
			return m, true
		}
	}
	return "", false
}

// FillPrice returns the effective unit price of a filled order including the
// quote-currency fee: what was paid per unit on a buy, what was received per
// unit on a sell. ExecutedFunds is the gross value of the fill.
func FillPrice(o *models.Order) (decimal.Decimal, error) {
	if o == nil || !o.ExecutedVolume.IsPositive() {
		return decimal.Zero, fmt.Errorf("order %s has no executed volume", orderID(o))
	}
	funds := o.ExecutedFunds
	if o.Side == models.OrderSideAsk {
		funds = funds.Sub(o.PaidFee)
	} else {
		funds = funds.Add(o.PaidFee)
	}
	return funds.Div(o.ExecutedVolume), nil
}

func orderID(o *models.Order) string {
	if o == nil {
		return "<nil>"
	}
	return o.ID
}
