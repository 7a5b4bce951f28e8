package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Storage     StorageConfig  `json:"storage" mapstructure:"storage"`                 // 持久化配置
	Exchange    ExchangeConfig `json:"exchange" mapstructure:"exchange"`               // 交易所配置
	DCA         FamilyConfig   `json:"dca" mapstructure:"dca"`                         // 固定回合 DCA 策略
	Infinite    FamilyConfig   `json:"infinite_buying" mapstructure:"infinite_buying"` // 无限买入策略
	Markets     []MarketConfig `json:"markets" mapstructure:"markets"`                 // 启动时自动开启的市场
	Notifier    NotifierConfig `json:"notifier" mapstructure:"notifier"`               // 通知配置
	MetricsAddr string         `json:"metrics_addr" mapstructure:"metrics_addr"`       // Prometheus 监听地址, 为空则不启动
	LogConfig   LogConfig      `json:"log" mapstructure:"log"`                         // 日志配置
}

// StorageConfig 定义了状态存储后端
type StorageConfig struct {
	Backend       string        `json:"backend" mapstructure:"backend"`               // "badger" 或 "redis"
	DBPath        string        `json:"db_path" mapstructure:"db_path"`               // badger 数据目录
	RedisAddr     string        `json:"redis_addr" mapstructure:"redis_addr"`         // redis 地址, e.g. "localhost:6379"
	RedisPassword string        `json:"redis_password" mapstructure:"redis_password"` // redis 密码
	RedisDB       int           `json:"redis_db" mapstructure:"redis_db"`             // redis 库编号
	StateTTL      time.Duration `json:"state_ttl" mapstructure:"state_ttl"`           // 周期状态过期时间
	HistoryTTL    time.Duration `json:"history_ttl" mapstructure:"history_ttl"`       // 历史记录过期时间
	HistoryLimit  int           `json:"history_limit" mapstructure:"history_limit"`   // 历史索引最大条数
}

// ExchangeConfig 定义了交易所连接参数
type ExchangeConfig struct {
	Name      string `json:"name" mapstructure:"name"`               // "paper" 或 "binance"
	APIKey    string `json:"-" mapstructure:"api_key"`               // 从环境变量读取
	SecretKey string `json:"-" mapstructure:"secret_key"`            // 从环境变量读取
	IsTestnet bool   `json:"is_testnet" mapstructure:"is_testnet"`   // 是否使用测试网
	BaseURL   string `json:"base_url" mapstructure:"base_url"`       // REST API基础地址, 为空使用默认值
	WSBaseURL string `json:"ws_base_url" mapstructure:"ws_base_url"` // WebSocket基础地址, 为空则不订阅价格流

	// 模拟盘配置
	PaperBalances map[string]decimal.Decimal `json:"paper_balances" mapstructure:"paper_balances"` // 初始余额, 按币种
	PaperFeeRate  decimal.Decimal            `json:"paper_fee_rate" mapstructure:"paper_fee_rate"` // 手续费率
}

// FamilyConfig 定义了一个策略家族的调度参数
type FamilyConfig struct {
	Enabled        bool            `json:"enabled" mapstructure:"enabled"`
	Interval       time.Duration   `json:"interval" mapstructure:"interval"`                 // 轮询间隔
	MinOrderAmount decimal.Decimal `json:"min_order_amount" mapstructure:"min_order_amount"` // 交易所最小下单金额 (计价货币)
	CandleInterval string          `json:"candle_interval" mapstructure:"candle_interval"`   // 指标使用的K线周期, e.g. "1d"
	CandleLimit    int             `json:"candle_limit" mapstructure:"candle_limit"`         // 每次拉取的K线数量
}

// MarketConfig 是一个自动启动的市场及其策略参数
type MarketConfig struct {
	Market   string         `json:"market" mapstructure:"market"` // e.g. "KRW-BTC"
	Family   string         `json:"family" mapstructure:"family"` // "dca" 或 "infinite_buying"
	Strategy StrategyConfig `json:"strategy" mapstructure:"strategy"`
}

// NotifierConfig 定义了外部通知
type NotifierConfig struct {
	WebhookURL string `json:"webhook_url" mapstructure:"webhook_url"` // Discord webhook, 为空则不通知
	Username   string `json:"username" mapstructure:"username"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" mapstructure:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" mapstructure:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" mapstructure:"compress"`       // 是否压缩旧日志文件
}

// Family 标识一个策略家族, 同时作为存储键的前缀
type Family string

const (
	FamilyDCA      Family = "dca"
	FamilyInfinite Family = "infinite_buying"
)
