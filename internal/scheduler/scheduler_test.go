package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/bot"
	"github.com/CasselKim/TTM-sub000/internal/models"
	"github.com/CasselKim/TTM-sub000/internal/notifier"
)

// mockRunner 按市场返回预设结果
type mockRunner struct {
	sync.Mutex
	markets    []string
	marketsErr error
	results    map[string]models.StrategyResult
	errs       map[string]error
	panics     map[string]bool
	calls      []string
	ran        chan string
}

func newMockRunner(markets ...string) *mockRunner {
	return &mockRunner{
		markets: markets,
		results: make(map[string]models.StrategyResult),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
		ran:     make(chan string, 64),
	}
}

func (m *mockRunner) Family() models.Family { return models.FamilyDCA }

func (m *mockRunner) ActiveMarkets(context.Context) ([]string, error) {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.markets...), m.marketsErr
}

func (m *mockRunner) RunCycle(_ context.Context, market string) (models.StrategyResult, error) {
	m.Lock()
	m.calls = append(m.calls, market)
	res, err, p := m.results[market], m.errs[market], m.panics[market]
	m.Unlock()
	select {
	case m.ran <- market:
	default:
	}
	if p {
		panic("boom")
	}
	if res.Action == "" {
		res = models.StrategyResult{Success: true, Action: models.ActionHold}
	}
	return res, err
}

func (m *mockRunner) getCalls() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.calls...)
}

type mockObserver struct {
	sync.Mutex
	ticks  int
	errors []string
}

func (m *mockObserver) ObserveTick(models.Family, time.Duration) {
	m.Lock()
	defer m.Unlock()
	m.ticks++
}

func (m *mockObserver) RecordTickError(_ models.Family, market string) {
	m.Lock()
	defer m.Unlock()
	m.errors = append(m.errors, market)
}

type mockNotifier struct {
	sync.Mutex
	errors []string
}

func (m *mockNotifier) Info(context.Context, string, string, ...notifier.Field) error { return nil }

func (m *mockNotifier) Error(_ context.Context, _, message string, _ ...notifier.Field) error {
	m.Lock()
	defer m.Unlock()
	m.errors = append(m.errors, message)
	return nil
}

func (m *mockNotifier) count() int {
	m.Lock()
	defer m.Unlock()
	return len(m.errors)
}

func TestRunOnce_IsolatesFailures(t *testing.T) {
	runner := newMockRunner("KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL")
	runner.errs["KRW-BTC"] = errors.New("exchange down")
	runner.panics["KRW-ETH"] = true
	runner.results["KRW-XRP"] = models.StrategyResult{Success: true, Action: models.ActionBuy}

	obs := &mockObserver{}
	notes := &mockNotifier{}
	s := New(runner, time.Minute, WithObserver(obs), WithNotifier(notes), WithLogger(zap.NewNop()))

	sum := s.RunOnce(context.Background())
	assert.Equal(t, Summary{Markets: 4, Trades: 1, Failed: 2}, sum)
	assert.Equal(t, []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL"}, runner.getCalls())
	assert.Equal(t, 1, obs.ticks)
	assert.Equal(t, []string{"KRW-BTC", "KRW-ETH"}, obs.errors)
	assert.Equal(t, 2, notes.count())
}

func TestRunOnce_NotifiesRepeatedErrorOnce(t *testing.T) {
	runner := newMockRunner("KRW-BTC")
	runner.errs["KRW-BTC"] = errors.New("exchange down")
	notes := &mockNotifier{}
	s := New(runner, time.Minute, WithNotifier(notes))

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	assert.Equal(t, 1, notes.count())

	// 恢复后再次出错需要重新通知
	runner.Lock()
	delete(runner.errs, "KRW-BTC")
	runner.Unlock()
	s.RunOnce(context.Background())

	runner.Lock()
	runner.errs["KRW-BTC"] = errors.New("exchange down")
	runner.Unlock()
	s.RunOnce(context.Background())
	assert.Equal(t, 2, notes.count())
}

func TestRunOnce_InactiveMarketIsNotAFailure(t *testing.T) {
	runner := newMockRunner("KRW-BTC")
	runner.errs["KRW-BTC"] = bot.ErrNotActive
	obs := &mockObserver{}
	s := New(runner, time.Minute, WithObserver(obs))

	sum := s.RunOnce(context.Background())
	assert.Equal(t, 0, sum.Failed)
	assert.Empty(t, obs.errors)
}

func TestRunOnce_ActiveMarketsError(t *testing.T) {
	runner := newMockRunner()
	runner.marketsErr = errors.New("store closed")
	s := New(runner, time.Minute)

	sum := s.RunOnce(context.Background())
	assert.Equal(t, 1, sum.Failed)
	assert.Empty(t, runner.getCalls())
}

func TestScheduler_StartStop(t *testing.T) {
	runner := newMockRunner("KRW-BTC")
	s := New(runner, 10*time.Millisecond)

	require.True(t, s.Start(context.Background()))
	assert.False(t, s.Start(context.Background()), "second start is ignored")
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return len(runner.getCalls()) >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	n := len(runner.getCalls())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(runner.getCalls()), "no ticks after stop")

	// 可以重复停止
	s.Stop()
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	runner := newMockRunner("KRW-BTC")
	s := New(runner, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, s.Start(ctx))
	<-runner.ran
	cancel()
	s.Stop()
	assert.False(t, s.Running())
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(newMockRunner(), 0)
	assert.Equal(t, DefaultInterval, s.interval)
}
