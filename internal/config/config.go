package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

// EnvPrefix 是覆盖配置项的环境变量前缀, e.g. DCA_STORAGE_BACKEND
const EnvPrefix = "DCA"

// LoadConfig 从指定路径加载配置文件, 环境变量可以覆盖其中任意一项.
// markets 中每个策略从 DefaultStrategyConfig 起始, 只覆盖文件中给出的字段.
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容常用的币安环境变量名
	_ = v.BindEnv("exchange.api_key", EnvPrefix+"_EXCHANGE_API_KEY", "BINANCE_API_KEY")
	_ = v.BindEnv("exchange.secret_key", EnvPrefix+"_EXCHANGE_SECRET_KEY", "BINANCE_SECRET_KEY")

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	markets, err := decodeMarkets(v.Get("markets"))
	if err != nil {
		return nil, err
	}
	cfg.Markets = markets

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.db_path", "data/state")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.state_ttl", "24h")
	v.SetDefault("storage.history_ttl", "720h")
	v.SetDefault("storage.history_limit", 1000)

	v.SetDefault("exchange.name", "paper")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.secret_key", "")
	v.SetDefault("exchange.is_testnet", false)
	v.SetDefault("exchange.base_url", "")
	v.SetDefault("exchange.ws_base_url", "")
	v.SetDefault("exchange.paper_fee_rate", "0.0005")

	for _, family := range []string{"dca", "infinite_buying"} {
		v.SetDefault(family+".enabled", true)
		v.SetDefault(family+".interval", "30s")
		v.SetDefault(family+".min_order_amount", "5000")
		v.SetDefault(family+".candle_interval", "1d")
		v.SetDefault(family+".candle_limit", 60)
	}

	v.SetDefault("notifier.webhook_url", "")
	v.SetDefault("notifier.username", "dca-bot")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "logs/bot.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDecimalHook(),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHook 把字符串和数字解码为 decimal.Decimal
func stringToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch x := data.(type) {
		case string:
			if x == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(x)
		case float64:
			return decimal.NewFromFloat(x), nil
		case float32:
			return decimal.NewFromFloat32(x), nil
		case int:
			return decimal.NewFromInt(int64(x)), nil
		case int64:
			return decimal.NewFromInt(x), nil
		}
		return data, nil
	}
}

func decodeMarkets(raw interface{}) ([]models.MarketConfig, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("markets must be a list, got %T", raw)
	}

	markets := make([]models.MarketConfig, 0, len(items))
	for i, item := range items {
		mc := models.MarketConfig{Family: string(models.FamilyDCA), Strategy: models.DefaultStrategyConfig()}
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       decodeHook(),
			Result:           &mc,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(item); err != nil {
			return nil, fmt.Errorf("markets[%d]: %w", i, err)
		}
		mc.Market = strings.ToUpper(mc.Market)
		markets = append(markets, mc)
	}
	return markets, nil
}

// Validate 检查配置的有效性
func Validate(cfg *models.Config) error {
	switch cfg.Storage.Backend {
	case "badger", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	switch cfg.Exchange.Name {
	case "paper":
	case "binance":
		if cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "" {
			return fmt.Errorf("binance exchange needs api_key and secret_key")
		}
	default:
		return fmt.Errorf("unknown exchange %q", cfg.Exchange.Name)
	}
	if cfg.Exchange.PaperFeeRate.IsNegative() {
		return fmt.Errorf("paper_fee_rate must not be negative")
	}

	seen := make(map[string]bool)
	for i, mc := range cfg.Markets {
		if _, _, err := models.ParseMarket(mc.Market); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
		family := models.Family(mc.Family)
		if family != models.FamilyDCA && family != models.FamilyInfinite {
			return fmt.Errorf("markets[%d]: unknown family %q", i, mc.Family)
		}
		key := mc.Family + "/" + mc.Market
		if seen[key] {
			return fmt.Errorf("markets[%d]: %s listed twice", i, key)
		}
		seen[key] = true
		if _, err := models.NewStrategyConfig(mc.Strategy); err != nil {
			return fmt.Errorf("markets[%d] %s: %w", i, mc.Market, err)
		}
	}
	return nil
}

// Interval 返回家族的轮询间隔, 未配置时使用 fallback
func Interval(fc models.FamilyConfig, fallback time.Duration) time.Duration {
	if fc.Interval > 0 {
		return fc.Interval
	}
	return fallback
}
