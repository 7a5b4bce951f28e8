package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) (*BinanceExchange, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBinanceExchange("key", "secret", srv.URL, false, nil), srv
}

func TestBinanceExchange_PlaceOrderFill(t *testing.T) {
	ex, _ := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"transactTime":1700000000000,
			"price":"0","origQty":"0.002","executedQty":"0.002","cummulativeQuoteQty":"99.9",
			"status":"FILLED","type":"MARKET","side":"BUY",
			"fills":[{"price":"49950","qty":"0.002","commission":"0.1","commissionAsset":"USDT"},
			         {"price":"49950","qty":"0","commission":"0.00001","commissionAsset":"BNB"}]}`))
	})

	res, err := ex.PlaceOrder(context.Background(), models.MarketBuy("USDT-BTC", decimal.NewFromInt(100)))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "42", res.Order.ID)
	assert.Equal(t, "done", res.Order.State)
	assert.True(t, res.Order.PaidFee.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, res.Order.ExecutedFunds.Equal(decimal.RequireFromString("99.9")))
}

func TestBinanceExchange_PlaceOrderAPIErrorIsRejection(t *testing.T) {
	ex, _ := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	res, err := ex.PlaceOrder(context.Background(), models.MarketBuy("USDT-BTC", decimal.NewFromInt(100)))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "insufficient balance")
}

func TestBinanceExchange_PlaceOrderTransportErrorIsError(t *testing.T) {
	ex, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	res, err := ex.PlaceOrder(context.Background(), models.MarketSell("USDT-BTC", decimal.RequireFromString("0.01")))
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestBinanceExchange_GetOrderIncludesQuoteFee(t *testing.T) {
	ex, _ := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/order":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":7,"price":"0","origQty":"0.002",
				"executedQty":"0.002","cummulativeQuoteQty":"100","status":"FILLED",
				"type":"MARKET","side":"SELL","time":1700000000000}`))
		case "/api/v3/myTrades":
			assert.Equal(t, "7", r.URL.Query().Get("orderId"))
			_, _ = w.Write([]byte(`[{"id":1,"symbol":"BTCUSDT","orderId":7,"commission":"0.06","commissionAsset":"USDT"},
				{"id":2,"symbol":"BTCUSDT","orderId":7,"commission":"0.04","commissionAsset":"USDT"},
				{"id":3,"symbol":"BTCUSDT","orderId":7,"commission":"0.001","commissionAsset":"BNB"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	o, err := ex.GetOrder(context.Background(), "USDT-BTC", "7")
	require.NoError(t, err)
	assert.Equal(t, models.OrderSideAsk, o.Side)
	assert.True(t, o.PaidFee.Equal(decimal.RequireFromString("0.1")))

	price, err := FillPrice(o)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("49950")))
}
