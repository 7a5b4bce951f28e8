package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/exchange"
	"github.com/CasselKim/TTM-sub000/internal/models"
	"github.com/CasselKim/TTM-sub000/internal/notifier"
	"github.com/CasselKim/TTM-sub000/internal/persistence"
	"github.com/CasselKim/TTM-sub000/internal/strategy"
)

const market = "KRW-BTC"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func near(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Sub(d(want)).Abs().LessThan(d("0.01")), "want %s, got %s", want, got)
}

// --- Mocks ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockNotifier struct {
	mu     sync.Mutex
	infos  []string
	errors []string
	fail   bool
}

func (m *mockNotifier) Info(_ context.Context, title, _ string, _ ...notifier.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, title)
	if m.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (m *mockNotifier) Error(_ context.Context, title, _ string, _ ...notifier.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, title)
	return nil
}

type mockRecorder struct {
	mu     sync.Mutex
	trades map[models.OrderSide]int
	closed []models.CycleStatus
}

func (m *mockRecorder) RecordTrade(_ models.Family, _ string, side models.OrderSide, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trades == nil {
		m.trades = make(map[models.OrderSide]int)
	}
	m.trades[side]++
}

func (m *mockRecorder) RecordCycleClosed(_ models.Family, _ string, status models.CycleStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, status)
}

func (m *mockRecorder) ObserveState(models.Family, models.CycleState) {}

// faultyExchange 可以让下单被拒绝或返回传输错误
type faultyExchange struct {
	*exchange.PaperExchange
	mu        sync.Mutex
	rejectAll bool
	placeErr  error
}

func (f *faultyExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	f.mu.Lock()
	reject, err := f.rejectAll, f.placeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if reject {
		return &models.OrderResult{Success: false, ErrorMessage: "market closed"}, nil
	}
	return f.PaperExchange.PlaceOrder(ctx, req)
}

func (f *faultyExchange) set(reject bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectAll, f.placeErr = reject, err
}

// --- Harness ---

type harness struct {
	trader   *Trader
	repo     *persistence.KVRepository
	paper    *exchange.PaperExchange
	ex       *faultyExchange
	notes    *mockNotifier
	recorder *mockRecorder
	clock    *fakeClock
}

func newHarness(t *testing.T, krw string, fee string) *harness {
	t.Helper()
	store, err := persistence.NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	paper := exchange.NewPaperExchange(map[string]decimal.Decimal{"KRW": d(krw)}, d(fee), exchange.WithClock(clock.Now))
	paper.SetPrice(market, d("50000000"))

	h := &harness{
		repo:     persistence.NewRepository(store, models.FamilyDCA, persistence.Options{}, zap.NewNop()),
		paper:    paper,
		ex:       &faultyExchange{PaperExchange: paper},
		notes:    &mockNotifier{},
		recorder: &mockRecorder{},
		clock:    clock,
	}
	engine := strategy.NewDCA(strategy.WithIDGenerator(func() string { return "cycle001" }))
	h.trader = NewTrader(engine, h.repo, h.ex,
		WithNotifier(h.notes),
		WithRecorder(h.recorder),
		WithClock(clock.Now),
		WithFamilyConfig(models.FamilyConfig{MinOrderAmount: d("5000")}),
	)
	return h
}

func testConfig() models.StrategyConfig {
	cfg := models.DefaultStrategyConfig()
	cfg.InitialBuyAmount = d("100000")
	cfg.PriceDropThreshold = d("-0.05")
	cfg.MaxBuyRounds = 5
	cfg.EnableTimeBasedBuying = false
	return cfg
}

func (h *harness) tick(t *testing.T, price string) models.StrategyResult {
	t.Helper()
	h.clock.Advance(time.Hour)
	h.paper.SetPrice(market, d(price))
	res, err := h.trader.RunCycle(context.Background(), market)
	require.NoError(t, err)
	return res
}

// --- Tests ---

func TestTrader_FullCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")

	res, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, models.ActionStart, res.Action)
	assert.Equal(t, 1, res.State.CurrentRound)
	assert.Equal(t, "cycle001", res.State.CycleID)

	acc, err := h.paper.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.Total("KRW").Equal(d("9900000")))
	assert.True(t, acc.Total("BTC").Equal(d("0.002")))

	rounds, err := h.repo.GetRounds(ctx, market)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)

	// 跌幅不足, 保持
	res = h.tick(t, "49000000")
	assert.Equal(t, models.ActionHold, res.Action)
	assert.True(t, res.Success)

	// 跌 5%, 追加买入 1.5 倍
	res = h.tick(t, "47500000")
	require.Equal(t, models.ActionBuy, res.Action, res.Message)
	assert.Equal(t, 2, res.State.CurrentRound)
	assert.True(t, res.TradeAmount.Equal(d("150000")))

	rounds, err = h.repo.GetRounds(ctx, market)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 2, rounds[1].RoundNumber)

	stored, err := h.repo.GetState(ctx, market)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.TotalInvestment.Equal(d("250000")))
	assert.True(t, stored.Consistent())

	// 达到目标收益率, 卖出
	res = h.tick(t, "54000000")
	require.Equal(t, models.ActionSell, res.Action, res.Message)
	assert.True(t, res.Success)
	assert.Equal(t, models.CycleCompleted, res.Status)
	assert.False(t, res.State.IsActive())
	assert.True(t, res.ProfitRate.GreaterThanOrEqual(d("0.10")))
	near(t, "28526.32", *res.ProfitLoss)

	stored, err = h.repo.GetState(ctx, market)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.IsActive())

	rounds, err = h.repo.GetRounds(ctx, market)
	require.NoError(t, err)
	assert.Empty(t, rounds)

	history, err := h.repo.GetCycleHistory(ctx, market, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "cycle001", history[0].CycleID)
	assert.Equal(t, 2, history[0].RoundsExecuted)

	stats, err := h.repo.GetStatistics(ctx, market)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalCycles)
	assert.Equal(t, 1, stats.SuccessCycles)

	markets, err := h.trader.ActiveMarkets(ctx)
	require.NoError(t, err)
	assert.Empty(t, markets)

	assert.Len(t, h.notes.infos, 2)
	assert.Equal(t, 2, h.recorder.trades[models.OrderSideBid])
	assert.Equal(t, 1, h.recorder.trades[models.OrderSideAsk])
	assert.Equal(t, []models.CycleStatus{models.CycleCompleted}, h.recorder.closed)

	// 周期结束后不再运行
	res, err = h.trader.RunCycle(ctx, market)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.False(t, res.Success)
	assert.Equal(t, models.ActionExecute, res.Action)
}

func TestTrader_StartRejectsSecondStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")

	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	res, err := h.trader.Start(ctx, market, testConfig())
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.State.CurrentRound)
}

func TestTrader_StartInvalidConfig(t *testing.T) {
	h := newHarness(t, "10000000", "0")
	cfg := testConfig()
	cfg.MaxInvestmentRatio = d("1.5")

	res, err := h.trader.Start(context.Background(), market, cfg)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
	assert.False(t, res.Success)

	stored, err := h.repo.GetConfig(context.Background(), market)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestTrader_StartInsufficientFundsClearsMarket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "50000", "0")

	res, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ActionStart, res.Action)
	assert.Contains(t, res.Message, "insufficient funds")

	cfg, err := h.repo.GetConfig(ctx, market)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	state, err := h.repo.GetState(ctx, market)
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Empty(t, h.notes.infos)
}

func TestTrader_StartRejectedOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	h.ex.set(true, nil)

	res, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "market closed")

	cfg, err := h.repo.GetConfig(ctx, market)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestTrader_RejectedBuyHolds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	h.ex.set(true, nil)
	res := h.tick(t, "47500000")
	assert.False(t, res.Success)
	assert.Equal(t, models.ActionHold, res.Action)
	assert.Contains(t, res.Message, "market closed")

	stored, err := h.repo.GetState(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentRound)
}

func TestTrader_TransportErrorIsTradeError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	boom := errors.New("connection reset")
	h.ex.set(false, boom)
	h.clock.Advance(time.Hour)
	h.paper.SetPrice(market, d("47500000"))

	res, err := h.trader.RunCycle(ctx, market)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var terr *TradeError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "place_order", terr.Op)
	assert.Equal(t, market, terr.Market)
	assert.False(t, res.Success)
}

func TestTrader_StopLossNotifiesError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	res := h.tick(t, "37000000")
	require.Equal(t, models.ActionSell, res.Action, res.Message)
	assert.Equal(t, models.CycleForceStopped, res.Status)
	assert.True(t, res.ProfitRate.IsNegative())
	assert.Len(t, h.notes.errors, 1)

	history, err := h.repo.GetCycleHistory(ctx, market, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.CycleForceStopped, history[0].Status)

	stats, err := h.repo.GetStatistics(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCycles)
	assert.Equal(t, 0, stats.SuccessCycles)
}

func TestTrader_Stop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	h.paper.SetPrice(market, d("51000000"))
	res, err := h.trader.Stop(ctx, market)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ActionStop, res.Action)
	assert.Equal(t, models.CycleForceStopped, res.Status)
	near(t, "2000", *res.ProfitLoss)

	acc, err := h.paper.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, acc.Total("BTC").IsZero())
	assert.True(t, acc.Total("KRW").Equal(d("10002000")))

	cfg, err := h.repo.GetConfig(ctx, market)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	state, err := h.repo.GetState(ctx, market)
	require.NoError(t, err)
	assert.Nil(t, state)

	history, err := h.repo.GetCycleHistory(ctx, market, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.CycleForceStopped, history[0].Status)

	_, err = h.trader.Stop(ctx, market)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestTrader_StopWithRejectedSellStillClears(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	h.ex.set(true, nil)
	res, err := h.trader.Stop(ctx, market)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "market closed")

	state, err := h.repo.GetState(ctx, market)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestTrader_FeesAreInCost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0.0005")

	res, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	// 成本包含手续费, 持仓数量等于实际到账数量
	acc, err := h.paper.GetAccount(ctx)
	require.NoError(t, err)
	assert.True(t, res.State.TotalInvestment.Equal(d("100000")))
	assert.True(t, res.State.TotalVolume.Sub(acc.Total("BTC")).Abs().LessThan(d("0.00000001")))
	assert.True(t, res.State.AveragePrice.GreaterThan(d("50000000")))
}

func TestTrader_RebuildsInconsistentLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")
	_, err := h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)

	// 账本比状态多一个回合
	extra := models.BuyRound{RoundNumber: 2, BuyPrice: d("1"), BuyAmount: d("1"), BuyVolume: d("1"), Type: models.BuyTypePriceDrop}
	require.NoError(t, h.repo.AppendRound(ctx, market, extra))

	res := h.tick(t, "47500000")
	require.Equal(t, models.ActionBuy, res.Action, res.Message)

	rounds, err := h.repo.GetRounds(ctx, market)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.True(t, rounds[1].BuyAmount.Equal(d("150000")))
}

func TestTrader_NotifierFailureDoesNotFailStart(t *testing.T) {
	h := newHarness(t, "10000000", "0")
	h.notes.fail = true

	res, err := h.trader.Start(context.Background(), market, testConfig())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestTrader_Status(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10000000", "0")

	st, err := h.trader.Status(ctx, market, 5)
	require.NoError(t, err)
	assert.False(t, st.State.IsActive())
	assert.Nil(t, st.Config)
	assert.True(t, st.CurrentPrice.IsZero())

	_, err = h.trader.Start(ctx, market, testConfig())
	require.NoError(t, err)
	h.paper.SetPrice(market, d("55000000"))

	st, err = h.trader.Status(ctx, market, 5)
	require.NoError(t, err)
	assert.Equal(t, models.FamilyDCA, st.Family)
	require.NotNil(t, st.Config)
	assert.True(t, st.CurrentPrice.Equal(d("55000000")))
	assert.True(t, st.ProfitRate.Equal(d("0.1")))
	assert.True(t, st.CurrentValue.Equal(d("110000")))
	assert.True(t, st.ProfitLoss.Equal(d("10000")))
}
