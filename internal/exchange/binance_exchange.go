package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

// BinanceExchange 实现了 Exchange 接口，用于与真实的币安现货交易所进行交互。
type BinanceExchange struct {
	client *binance.Client
	logger *zap.Logger
}

var _ Exchange = (*BinanceExchange)(nil)

// NewBinanceExchange 创建一个新的 BinanceExchange 实例。baseURL 为空时使用默认地址。
func NewBinanceExchange(apiKey, secretKey, baseURL string, testnet bool, logger *zap.Logger) *BinanceExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceExchange{client: client, logger: logger}
}

// SyncTime 与币安服务器同步时间
func (e *BinanceExchange) SyncTime(ctx context.Context) error {
	offset, err := e.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("与币安服务器同步时间失败: %w", err)
	}
	e.logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", offset))
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orderState(s binance.OrderStatusType) string {
	switch s {
	case binance.OrderStatusTypeFilled:
		return "done"
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled, binance.OrderStatusTypePendingCancel:
		return "wait"
	default:
		return "cancel"
	}
}

func orderSide(s binance.SideType) models.OrderSide {
	if s == binance.SideTypeSell {
		return models.OrderSideAsk
	}
	return models.OrderSideBid
}

func (e *BinanceExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	symbol, err := Symbol(req.Market)
	if err != nil {
		return rejected("%v", err), nil
	}
	quote, _, _ := models.ParseMarket(req.Market)

	service := e.client.NewCreateOrderService().Symbol(symbol)
	switch req.OrdType {
	case models.OrderTypeMarketBuy:
		service = service.Side(binance.SideTypeBuy).
			Type(binance.OrderTypeMarket).
			QuoteOrderQty(req.Price.String())
	case models.OrderTypeMarket:
		service = service.Side(binance.SideTypeSell).
			Type(binance.OrderTypeMarket).
			Quantity(req.Volume.String())
	case models.OrderTypeLimit:
		side := binance.SideTypeBuy
		if req.Side == models.OrderSideAsk {
			side = binance.SideTypeSell
		}
		service = service.Side(side).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(req.Volume.String()).
			Price(req.Price.String())
	default:
		return rejected("unsupported order type %s", req.OrdType), nil
	}

	res, err := service.Do(ctx)
	if err != nil {
		// 只有交易所明确返回的错误才算拒单, 网络错误时订单状态未知
		if common.IsAPIError(err) {
			e.logger.Error("下单请求失败，交易所返回错误", zap.String("symbol", symbol), zap.Error(err))
			return rejected("%v", err), nil
		}
		return nil, fmt.Errorf("place order: %w", err)
	}

	fee := decimal.Zero
	for _, f := range res.Fills {
		fee = fee.Add(quoteFee(f.CommissionAsset, f.Commission, quote))
	}
	order := &models.Order{
		ID:             strconv.FormatInt(res.OrderID, 10),
		Market:         req.Market,
		Side:           orderSide(res.Side),
		OrdType:        req.OrdType,
		State:          orderState(res.Status),
		Price:          parseDecimal(res.Price),
		Volume:         parseDecimal(res.OrigQuantity),
		ExecutedVolume: parseDecimal(res.ExecutedQuantity),
		ExecutedFunds:  parseDecimal(res.CummulativeQuoteQuantity),
		PaidFee:        fee,
		CreatedAt:      time.UnixMilli(res.TransactTime),
	}
	return &models.OrderResult{Success: true, Order: order}, nil
}

// quoteFee 只统计以计价货币支付的手续费
func quoteFee(asset, commission, quote string) decimal.Decimal {
	if asset != quote {
		return decimal.Zero
	}
	return parseDecimal(commission)
}

func parseOrderID(orderID string) (int64, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}
	return id, nil
}

func (e *BinanceExchange) GetOrder(ctx context.Context, market, orderID string) (*models.Order, error) {
	symbol, err := Symbol(market)
	if err != nil {
		return nil, err
	}
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	o, err := e.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	ordType := models.OrderTypeLimit
	if o.Type == binance.OrderTypeMarket {
		ordType = models.OrderTypeMarket
		if o.Side == binance.SideTypeBuy {
			ordType = models.OrderTypeMarketBuy
		}
	}
	order := &models.Order{
		ID:             orderID,
		Market:         market,
		Side:           orderSide(o.Side),
		OrdType:        ordType,
		State:          orderState(o.Status),
		Price:          parseDecimal(o.Price),
		Volume:         parseDecimal(o.OrigQuantity),
		ExecutedVolume: parseDecimal(o.ExecutedQuantity),
		ExecutedFunds:  parseDecimal(o.CummulativeQuoteQuantity),
		CreatedAt:      time.UnixMilli(o.Time),
	}
	if order.ExecutedVolume.IsPositive() {
		fee, err := e.orderFee(ctx, symbol, market, id)
		if err != nil {
			e.logger.Warn("获取成交手续费失败, 按 0 计算", zap.String("market", market), zap.String("order_id", orderID), zap.Error(err))
		}
		order.PaidFee = fee
	}
	return order, nil
}

// orderFee 汇总订单各笔成交中以计价货币支付的手续费
func (e *BinanceExchange) orderFee(ctx context.Context, symbol, market string, id int64) (decimal.Decimal, error) {
	quote, _, err := models.ParseMarket(market)
	if err != nil {
		return decimal.Zero, err
	}
	trades, err := e.client.NewListTradesService().Symbol(symbol).OrderId(id).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list trades: %w", err)
	}
	fee := decimal.Zero
	for _, t := range trades {
		fee = fee.Add(quoteFee(t.CommissionAsset, t.Commission, quote))
	}
	return fee, nil
}

func (e *BinanceExchange) CancelOrder(ctx context.Context, market, orderID string) (*models.Order, error) {
	symbol, err := Symbol(market)
	if err != nil {
		return nil, err
	}
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	o, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	return &models.Order{
		ID:             orderID,
		Market:         market,
		Side:           orderSide(o.Side),
		OrdType:        models.OrderTypeLimit,
		State:          orderState(o.Status),
		Price:          parseDecimal(o.Price),
		Volume:         parseDecimal(o.OrigQuantity),
		ExecutedVolume: parseDecimal(o.ExecutedQuantity),
		ExecutedFunds:  parseDecimal(o.CummulativeQuoteQuantity),
		CreatedAt:      time.UnixMilli(o.TransactTime),
	}, nil
}

// GetTicker 获取最新价和24小时统计
func (e *BinanceExchange) GetTicker(ctx context.Context, market string) (*models.Ticker, error) {
	symbol, err := Symbol(market)
	if err != nil {
		return nil, err
	}
	stats, err := e.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, market)
	}
	s := stats[0]
	return &models.Ticker{
		Market:        market,
		Price:         parseDecimal(s.LastPrice),
		Volume24h:     parseDecimal(s.QuoteVolume),
		ChangeRate24h: parseDecimal(s.PriceChangePercent).Div(decimal.NewFromInt(100)),
		Timestamp:     time.UnixMilli(s.CloseTime),
	}, nil
}

func (e *BinanceExchange) GetAccount(ctx context.Context) (*models.Account, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balances: %w", err)
	}
	acc := &models.Account{Balances: make([]models.Balance, 0, len(account.Balances))}
	for _, b := range account.Balances {
		free := parseDecimal(b.Free)
		locked := parseDecimal(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		acc.Balances = append(acc.Balances, models.Balance{
			Currency: b.Asset,
			Balance:  free.Add(locked),
			Locked:   locked,
		})
	}
	return acc, nil
}

func (e *BinanceExchange) GetCandles(ctx context.Context, market, interval string, limit int) ([]models.Candle, error) {
	symbol, err := Symbol(market)
	if err != nil {
		return nil, err
	}
	service := e.client.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		service = service.Limit(limit)
	}
	klines, err := service.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		candles[i] = models.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     parseDecimal(k.Open),
			High:     parseDecimal(k.High),
			Low:      parseDecimal(k.Low),
			Close:    parseDecimal(k.Close),
			Volume:   parseDecimal(k.Volume),
		}
	}
	return candles, nil
}
