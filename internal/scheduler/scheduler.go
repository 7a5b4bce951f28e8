// Package scheduler drives the periodic execution of one strategy family.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/bot"
	"github.com/CasselKim/TTM-sub000/internal/models"
	"github.com/CasselKim/TTM-sub000/internal/notifier"
)

const DefaultInterval = 30 * time.Second

// Runner 是调度器驱动的交易用例
type Runner interface {
	Family() models.Family
	ActiveMarkets(ctx context.Context) ([]string, error)
	RunCycle(ctx context.Context, market string) (models.StrategyResult, error)
}

// TickObserver 接收每轮调度的耗时和失败
type TickObserver interface {
	ObserveTick(family models.Family, d time.Duration)
	RecordTickError(family models.Family, market string)
}

// Summary 是一轮调度的结果
type Summary struct {
	Markets int
	Trades  int
	Failed  int
}

// Scheduler runs RunCycle for every active market of one family, one market
// after another, every interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	observer TickObserver
	notifier notifier.Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr map[string]string // 每个市场最近一次通知过的错误
}

// Option 配置调度器
type Option func(*Scheduler)

func WithObserver(o TickObserver) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scheduler. A non-positive interval uses DefaultInterval.
func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		notifier: notifier.Nop{},
		logger:   zap.NewNop(),
		lastErr:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("family", string(runner.Family())))
	return s
}

// Start launches the loop. It returns false when the loop is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Warn("调度器已在运行")
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("调度器已启动", zap.Duration("interval", s.interval))
	return true
}

// Stop cancels the loop and waits for the running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("调度器已停止")
}

// Running 报告调度循环是否在运行
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes one pass over the active markets. A failing market does
// not stop the pass.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer.ObserveTick(s.runner.Family(), time.Since(start))
		}
	}()

	var sum Summary
	markets, err := s.runner.ActiveMarkets(ctx)
	if err != nil {
		s.logger.Error("获取活跃市场失败", zap.Error(err))
		sum.Failed++
		return sum
	}
	sum.Markets = len(markets)

	for _, market := range markets {
		if ctx.Err() != nil {
			break
		}
		res, err := s.runMarket(ctx, market)
		switch {
		case errors.Is(err, bot.ErrNotActive):
			s.logger.Debug("市场已不在运行", zap.String("market", market))
		case err != nil:
			sum.Failed++
			s.fail(ctx, market, err)
		case !res.Success:
			sum.Failed++
			s.logger.Error("执行失败", zap.String("market", market), zap.String("action", string(res.Action)), zap.String("message", res.Message))
		case res.Action == models.ActionHold:
			s.clear(market)
			s.logger.Debug("hold", zap.String("market", market), zap.String("message", res.Message))
		default:
			s.clear(market)
			sum.Trades++
			s.logger.Info("执行完成", zap.String("market", market), zap.String("action", string(res.Action)), zap.String("message", res.Message))
		}
	}
	return sum
}

func (s *Scheduler) runMarket(ctx context.Context, market string) (res models.StrategyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.RunCycle(ctx, market)
}

func (s *Scheduler) fail(ctx context.Context, market string, err error) {
	s.logger.Error("执行出错", zap.String("market", market), zap.Error(err))
	if s.observer != nil {
		s.observer.RecordTickError(s.runner.Family(), market)
	}

	// 同一错误只通知一次, 直到该市场恢复
	s.mu.Lock()
	repeated := s.lastErr[market] == err.Error()
	s.lastErr[market] = err.Error()
	s.mu.Unlock()
	if repeated {
		return
	}
	title := fmt.Sprintf("%s 执行出错", s.runner.Family())
	if nerr := s.notifier.Error(ctx, title, fmt.Sprintf("**%s**: %v", market, err)); nerr != nil {
		s.logger.Warn("发送通知失败", zap.Error(nerr))
	}
}

func (s *Scheduler) clear(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastErr, market)
}
