package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func validConfig() StrategyConfig {
	cfg := DefaultStrategyConfig()
	cfg.InitialBuyAmount = d("100000")
	return cfg
}

func TestNewStrategyConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StrategyConfig)
		field  string
	}{
		{"valid defaults", func(c *StrategyConfig) {}, ""},
		{"zero initial amount", func(c *StrategyConfig) { c.InitialBuyAmount = decimal.Zero }, "initial_buy_amount"},
		{"negative multiplier", func(c *StrategyConfig) { c.AddBuyMultiplier = d("-1") }, "add_buy_multiplier"},
		{"zero target", func(c *StrategyConfig) { c.TargetProfitRate = decimal.Zero }, "target_profit_rate"},
		{"positive drop threshold", func(c *StrategyConfig) { c.PriceDropThreshold = d("0.05") }, "price_drop_threshold"},
		{"zero stop loss", func(c *StrategyConfig) { c.ForceStopLossRate = decimal.Zero }, "force_stop_loss_rate"},
		{"ratio above one", func(c *StrategyConfig) { c.MaxInvestmentRatio = d("1.01") }, "max_investment_ratio"},
		{"ratio zero", func(c *StrategyConfig) { c.MaxInvestmentRatio = decimal.Zero }, "max_investment_ratio"},
		{"ratio exactly one", func(c *StrategyConfig) { c.MaxInvestmentRatio = d("1") }, ""},
		{"no rounds", func(c *StrategyConfig) { c.MaxBuyRounds = 0 }, "max_buy_rounds"},
		{"negative interval", func(c *StrategyConfig) { c.MinBuyInterval = -time.Second }, "min_buy_interval"},
		{"negative age", func(c *StrategyConfig) { c.MaxCycleAge = -time.Hour }, "max_cycle_age"},
		{"time based without interval", func(c *StrategyConfig) { c.TimeBasedBuyInterval = 0 }, "time_based_buy_interval"},
		{"time based disabled without interval", func(c *StrategyConfig) {
			c.EnableTimeBasedBuying = false
			c.TimeBasedBuyInterval = 0
		}, ""},
		{"smart with inverted clamp", func(c *StrategyConfig) {
			c.EnableSmartDCA = true
			c.SmartDCAMaxMultiplier = d("0.05")
		}, "smart_dca_max_multiplier"},
		{"smart with zero rho", func(c *StrategyConfig) {
			c.EnableSmartDCA = true
			c.SmartDCARho = decimal.Zero
		}, "smart_dca_rho"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			got, err := NewStrategyConfig(cfg)
			if tt.field == "" {
				require.NoError(t, err)
				assert.True(t, got.InitialBuyAmount.Equal(cfg.InitialBuyAmount))
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestCycleStateAddRound(t *testing.T) {
	cfg := validConfig()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewCycleState("KRW-BTC").StartCycle("abc12345", start)
	require.Equal(t, PhaseInitialBuy, s.Phase)

	prices := []string{"50000000", "47500000", "45000000"}
	amounts := []string{"100000", "150000", "225000"}
	for i := range prices {
		p, a := d(prices[i]), d(amounts[i])
		s = s.AddRound(BuyRound{
			BuyPrice:  p,
			BuyAmount: a,
			BuyVolume: a.Div(p),
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Type:      BuyTypePriceDrop,
		}, cfg)
	}

	assert.Equal(t, PhaseAccumulating, s.Phase)
	assert.Equal(t, 3, s.CurrentRound)
	assert.Len(t, s.Rounds, 3)
	assert.True(t, s.Consistent())
	for i, r := range s.Rounds {
		assert.Equal(t, i+1, r.RoundNumber)
	}
	assert.True(t, s.TotalInvestment.Equal(d("475000")))

	tolerance := d("0.0001")
	avg := s.TotalInvestment.Div(s.TotalVolume)
	assert.True(t, s.AveragePrice.Sub(avg).Abs().LessThan(tolerance))
	target := s.AveragePrice.Mul(d("1.10"))
	assert.True(t, s.TargetSellPrice.Sub(target).Abs().LessThan(tolerance))
	assert.True(t, s.MaxLossRate().Equal(d("-0.1")))
	assert.Equal(t, start.Add(2*time.Hour), s.LastBuyTime)
}

func TestCycleStateAddRoundAfterRejectedSell(t *testing.T) {
	cfg := validConfig()
	s := NewCycleState("KRW-BTC").StartCycle("abc12345", time.Now())
	s = s.AddRound(BuyRound{BuyPrice: d("100"), BuyAmount: d("1000"), BuyVolume: d("10")}, cfg)

	for _, phase := range []Phase{PhaseProfitTaking, PhaseForceSelling} {
		marked := s.Clone()
		marked.Phase = phase
		next := marked.AddRound(BuyRound{BuyPrice: d("90"), BuyAmount: d("1500"), BuyVolume: d("1500").Div(d("90"))}, cfg)
		assert.Equal(t, PhaseAccumulating, next.Phase, string(phase))
		assert.Equal(t, 2, next.CurrentRound)
	}
}

func TestCycleStateCloneIsIndependent(t *testing.T) {
	cfg := validConfig()
	s := NewCycleState("KRW-BTC").StartCycle("id", time.Now())
	s = s.AddRound(BuyRound{BuyPrice: d("100"), BuyAmount: d("1000"), BuyVolume: d("10")}, cfg)

	c := s.Clone()
	c.Rounds[0].BuyPrice = d("1")
	assert.True(t, s.Rounds[0].BuyPrice.Equal(d("100")))

	next := s.AddRound(BuyRound{BuyPrice: d("90"), BuyAmount: d("900"), BuyVolume: d("10")}, cfg)
	assert.Len(t, s.Rounds, 1)
	assert.Len(t, next.Rounds, 2)
}

func TestCycleStateProfitRate(t *testing.T) {
	s := NewCycleState("KRW-BTC")
	assert.True(t, s.ProfitRate(d("100")).IsZero())

	s.AveragePrice = d("100")
	assert.True(t, s.ProfitRate(d("110")).Equal(d("0.1")))
	assert.True(t, s.DrawdownRate(d("95")).Equal(d("0.05")))
}

func TestTradeStatisticsRecord(t *testing.T) {
	now := time.Now()
	var stats TradeStatistics

	stats = stats.Record(CycleHistoryItem{Status: CycleCompleted, ProfitRate: d("0.10"), ProfitLoss: d("10000")}, now)
	stats = stats.Record(CycleHistoryItem{Status: CycleForceStopped, ProfitRate: d("-0.20"), ProfitLoss: d("-20000")}, now)
	stats = stats.Record(CycleHistoryItem{Status: CycleCompleted, ProfitRate: d("0.04"), ProfitLoss: d("4000")}, now)
	stats = stats.Record(CycleHistoryItem{Status: CycleFailed, ProfitRate: d("0.50"), ProfitLoss: d("1")}, now)

	assert.Equal(t, 4, stats.TotalCycles)
	assert.Equal(t, 2, stats.SuccessCycles)
	assert.True(t, stats.TotalProfit.Equal(d("14000")))
	assert.True(t, stats.TotalProfitRate.Equal(d("0.14")))
	assert.True(t, stats.AverageProfitRate.Equal(d("0.035")))
	assert.True(t, stats.BestProfitRate.Equal(d("0.10")))
	assert.True(t, stats.WorstProfitRate.Equal(d("0.04")))
	assert.True(t, stats.SuccessRate().Equal(d("0.5")))
}

func TestParseMarket(t *testing.T) {
	quote, base, err := ParseMarket("krw-btc")
	require.NoError(t, err)
	assert.Equal(t, "KRW", quote)
	assert.Equal(t, "BTC", base)

	_, _, err = ParseMarket("BTCUSDT")
	assert.Error(t, err)
}

func TestBalanceAvailable(t *testing.T) {
	acc := Account{Balances: []Balance{{Currency: "BTC", Balance: d("0.5"), Locked: d("0.2")}}}
	assert.True(t, acc.Available("btc").Equal(d("0.3")))
	assert.True(t, acc.Available("ETH").IsZero())

	over := Balance{Balance: d("0.1"), Locked: d("0.2")}
	assert.True(t, over.Available().IsZero())
}
