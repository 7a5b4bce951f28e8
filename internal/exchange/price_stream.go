package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	reconnectDelay = 5 * time.Second
)

type streamPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceStream 订阅 aggTrade 流并缓存每个市场的最新成交价
type PriceStream struct {
	wsBaseURL string
	markets   []string
	logger    *zap.Logger
	retry     time.Duration

	mu     sync.RWMutex
	prices map[string]streamPrice
}

// NewPriceStream creates a stream for markets on the websocket endpoint
// wsBaseURL, e.g. "wss://stream.binance.com:9443".
func NewPriceStream(wsBaseURL string, markets []string, logger *zap.Logger) *PriceStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceStream{
		wsBaseURL: strings.TrimRight(wsBaseURL, "/"),
		markets:   append([]string(nil), markets...),
		logger:    logger,
		retry:     reconnectDelay,
		prices:    make(map[string]streamPrice),
	}
}

// Price 返回缓存的价格及其时间
func (s *PriceStream) Price(market string) (decimal.Decimal, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[market]
	return p.price, p.at, ok
}

func (s *PriceStream) url() (string, error) {
	streams := make([]string, 0, len(s.markets))
	for _, m := range s.markets {
		sym, err := Symbol(m)
		if err != nil {
			return "", err
		}
		streams = append(streams, strings.ToLower(sym)+"@aggTrade")
	}
	if len(streams) == 0 {
		return "", fmt.Errorf("no markets to stream")
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.wsBaseURL, strings.Join(streams, "/")), nil
}

// Run 维持连接并在断开后重连, 直到 ctx 结束
func (s *PriceStream) Run(ctx context.Context) error {
	wsURL, err := s.url()
	if err != nil {
		return err
	}
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			s.logger.Warn("WebSocket连接失败, 稍后重试", zap.Error(err), zap.Duration("retry", s.retry))
		} else {
			s.logger.Info("WebSocket连接成功", zap.Int("markets", len(s.markets)))
			if err := s.handle(ctx, conn); err != nil {
				s.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}
	}
}

// handle 为一个已建立的连接处理消息，并实现心跳机制
func (s *PriceStream) handle(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-ctx.Done():
				// 优雅关闭, 同时打断阻塞中的读取
				writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				conn.SetReadDeadline(time.Now())
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}
		s.onMessage(message)
	}
}

type aggTrade struct {
	Symbol string      `json:"s"`
	Price  json.Number `json:"p"`
	Time   int64       `json:"T"`
}

func (s *PriceStream) onMessage(message []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	payload := message
	if err := json.Unmarshal(message, &envelope); err == nil && len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	var trade aggTrade
	if err := json.Unmarshal(payload, &trade); err != nil {
		s.logger.Debug("解析价格信息失败", zap.Error(err))
		return
	}
	market, ok := MarketFromSymbol(trade.Symbol, s.markets)
	if !ok {
		return
	}
	price, err := decimal.NewFromString(trade.Price.String())
	if err != nil || !price.IsPositive() {
		return
	}
	at := time.Now()
	if trade.Time > 0 {
		at = time.UnixMilli(trade.Time)
	}

	s.mu.Lock()
	s.prices[market] = streamPrice{price: price, at: at}
	s.mu.Unlock()
}

// StreamedExchange serves GetTicker from a PriceStream while its cached
// price is fresh and falls back to the wrapped Exchange otherwise.
type StreamedExchange struct {
	Exchange
	stream *PriceStream
	maxAge time.Duration
	now    func() time.Time
}

// WithPriceStream wraps ex so that tickers prefer the stream price.
func WithPriceStream(ex Exchange, stream *PriceStream, maxAge time.Duration) *StreamedExchange {
	return &StreamedExchange{Exchange: ex, stream: stream, maxAge: maxAge, now: time.Now}
}

func (e *StreamedExchange) GetTicker(ctx context.Context, market string) (*models.Ticker, error) {
	price, at, ok := e.stream.Price(market)
	if !ok || e.now().Sub(at) > e.maxAge {
		return e.Exchange.GetTicker(ctx, market)
	}
	return &models.Ticker{Market: market, Price: price, Timestamp: at}, nil
}
