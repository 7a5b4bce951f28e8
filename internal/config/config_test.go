package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {"backend": "badger", "db_path": "/tmp/dca"},
		"exchange": {"name": "paper", "paper_balances": {"KRW": "10000000"}, "paper_fee_rate": 0.0005},
		"dca": {"interval": "1m", "min_order_amount": 5000},
		"markets": [
			{"market": "krw-btc", "family": "dca", "strategy": {
				"initial_buy_amount": "100000",
				"target_profit_rate": 0.05,
				"min_buy_interval": "10m"
			}},
			{"market": "KRW-ETH", "family": "infinite_buying", "strategy": {"initial_buy_amount": 50000}}
		]
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/dca", cfg.Storage.DBPath)
	assert.Equal(t, 24*time.Hour, cfg.Storage.StateTTL)
	assert.Equal(t, 1000, cfg.Storage.HistoryLimit)
	assert.True(t, cfg.Exchange.PaperFeeRate.Equal(decimal.RequireFromString("0.0005")))
	assert.True(t, cfg.Exchange.PaperBalances["krw"].Equal(decimal.NewFromInt(10000000)))

	assert.Equal(t, time.Minute, cfg.DCA.Interval)
	assert.True(t, cfg.DCA.MinOrderAmount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, 30*time.Second, cfg.Infinite.Interval)
	assert.Equal(t, 60, cfg.Infinite.CandleLimit)

	require.Len(t, cfg.Markets, 2)
	btc := cfg.Markets[0]
	assert.Equal(t, "KRW-BTC", btc.Market)
	assert.True(t, btc.Strategy.InitialBuyAmount.Equal(decimal.NewFromInt(100000)))
	assert.True(t, btc.Strategy.TargetProfitRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 10*time.Minute, btc.Strategy.MinBuyInterval)

	// 未给出的字段保留默认值
	def := models.DefaultStrategyConfig()
	assert.True(t, btc.Strategy.AddBuyMultiplier.Equal(def.AddBuyMultiplier))
	assert.Equal(t, def.MaxBuyRounds, btc.Strategy.MaxBuyRounds)
	assert.Equal(t, def.TimeBasedBuyInterval, btc.Strategy.TimeBasedBuyInterval)

	assert.Equal(t, "infinite_buying", cfg.Markets[1].Family)
	assert.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `{"exchange": {"name": "binance"}}`)
	t.Setenv("DCA_STORAGE_BACKEND", "redis")
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("DCA_EXCHANGE_SECRET_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
	assert.Equal(t, "secret", cfg.Exchange.SecretKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", `{"storage": {"backend": "sqlite"}}`},
		{"binance without keys", `{"exchange": {"name": "binance"}}`},
		{"bad market", `{"markets": [{"market": "BTCKRW", "strategy": {"initial_buy_amount": 1}}]}`},
		{"unknown family", `{"markets": [{"market": "KRW-BTC", "family": "grid", "strategy": {"initial_buy_amount": 1}}]}`},
		{"missing initial amount", `{"markets": [{"market": "KRW-BTC"}]}`},
		{"duplicate market", `{"markets": [
			{"market": "KRW-BTC", "strategy": {"initial_buy_amount": 1}},
			{"market": "krw-btc", "strategy": {"initial_buy_amount": 1}}
		]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
