package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/bot"
	"github.com/CasselKim/TTM-sub000/internal/config"
	"github.com/CasselKim/TTM-sub000/internal/exchange"
	"github.com/CasselKim/TTM-sub000/internal/logger"
	"github.com/CasselKim/TTM-sub000/internal/metrics"
	"github.com/CasselKim/TTM-sub000/internal/models"
	"github.com/CasselKim/TTM-sub000/internal/notifier"
	"github.com/CasselKim/TTM-sub000/internal/persistence"
	"github.com/CasselKim/TTM-sub000/internal/reporter"
	"github.com/CasselKim/TTM-sub000/internal/scheduler"
	"github.com/CasselKim/TTM-sub000/internal/strategy"
)

// streamMaxAge 是价格流数据的最长有效时间, 超过则回退到 REST
const streamMaxAge = 10 * time.Second

// app 持有所有已初始化的组件
type app struct {
	cfg      *models.Config
	log      *zap.Logger
	store    persistence.Store
	exchange exchange.Exchange
	stream   *exchange.PriceStream
	metrics  *metrics.Metrics
	notifier notifier.Notifier
	repos    map[models.Family]*persistence.KVRepository
	traders  map[models.Family]*bot.Trader
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live, status, export, backup, restore or stop")
	market := flag.String("market", "", "market code, e.g. KRW-BTC")
	family := flag.String("family", "", "strategy family: dca or infinite_buying (default: all)")
	file := flag.String("file", "", "output file for export/backup, input file for restore")
	flag.Parse()

	// 在加载配置前先使用默认logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	log := logger.InitLogger(cfg.LogConfig)
	defer log.Sync() // 确保在main函数退出时刷新所有缓冲的日志

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, *mode == "live")
	if err != nil {
		log.Fatal("初始化失败", zap.Error(err))
	}
	defer a.store.Close()

	switch *mode {
	case "live":
		err = a.runLive(ctx)
	case "status":
		err = a.runStatus(ctx, *family, *market)
	case "export":
		err = a.runExport(ctx, *family, *market, *file)
	case "backup":
		err = a.runBackup(ctx, *family, *market, *file)
	case "restore":
		err = a.runRestore(ctx, *file)
	case "stop":
		err = a.runStop(ctx, *family, *market)
	default:
		err = fmt.Errorf("未知的运行模式: %s", *mode)
	}
	if err != nil {
		log.Error("运行失败", zap.String("mode", *mode), zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg models.StorageConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case "redis":
		return persistence.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return persistence.NewBadgerStore(cfg.DBPath)
	}
}

func newApp(ctx context.Context, cfg *models.Config, log *zap.Logger, live bool) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		metrics:  metrics.New(),
		notifier: notifier.Nop{},
		repos:    make(map[models.Family]*persistence.KVRepository),
		traders:  make(map[models.Family]*bot.Trader),
	}
	if cfg.Notifier.WebhookURL != "" {
		a.notifier = notifier.NewDiscord(cfg.Notifier.WebhookURL, cfg.Notifier.Username)
	}

	ex := cfg.Exchange
	var market exchange.Exchange
	if ex.Name == "binance" {
		be := exchange.NewBinanceExchange(ex.APIKey, ex.SecretKey, ex.BaseURL, ex.IsTestnet, log)
		if live {
			if err := be.SyncTime(ctx); err != nil {
				log.Warn("时间同步失败", zap.Error(err))
			}
		}
		market = be
	} else {
		// 模拟盘使用公开行情, 不需要 API Key
		market = exchange.NewBinanceExchange("", "", ex.BaseURL, ex.IsTestnet, log)
	}

	if live && ex.WSBaseURL != "" {
		a.stream = exchange.NewPriceStream(ex.WSBaseURL, configuredMarkets(cfg), log)
		market = exchange.WithPriceStream(market, a.stream, streamMaxAge)
	}

	if ex.Name == "binance" {
		a.exchange = market
	} else {
		a.exchange = exchange.NewPaperExchange(ex.PaperBalances, ex.PaperFeeRate, exchange.WithMarketData(market))
		log.Info("使用模拟盘", zap.String("fee_rate", ex.PaperFeeRate.String()))
	}

	opts := persistence.Options{
		StateTTL:     cfg.Storage.StateTTL,
		HistoryTTL:   cfg.Storage.HistoryTTL,
		HistoryLimit: cfg.Storage.HistoryLimit,
	}
	families := map[models.Family]models.FamilyConfig{
		models.FamilyDCA:      cfg.DCA,
		models.FamilyInfinite: cfg.Infinite,
	}
	for family, fc := range families {
		if !fc.Enabled {
			continue
		}
		engineOpts := []strategy.Option{strategy.WithLogger(log), strategy.WithObserver(a.metrics)}
		var engine strategy.Engine
		if family == models.FamilyDCA {
			engine = strategy.NewDCA(engineOpts...)
		} else {
			engine = strategy.NewInfiniteBuying(engineOpts...)
		}
		repo := persistence.NewRepository(store, family, opts, log)
		a.repos[family] = repo
		a.traders[family] = bot.NewTrader(engine, repo, a.exchange,
			bot.WithNotifier(a.notifier),
			bot.WithRecorder(a.metrics),
			bot.WithLogger(log),
			bot.WithFamilyConfig(fc),
		)
	}
	return a, nil
}

func configuredMarkets(cfg *models.Config) []string {
	seen := make(map[string]bool)
	var markets []string
	for _, mc := range cfg.Markets {
		if !seen[mc.Market] {
			seen[mc.Market] = true
			markets = append(markets, mc.Market)
		}
	}
	return markets
}

func (a *app) families(filter string) ([]models.Family, error) {
	var out []models.Family
	for f := range a.traders {
		if filter == "" || string(f) == filter {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("策略家族 %q 未启用", filter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (a *app) trader(family, market string) (*bot.Trader, error) {
	if family == "" || market == "" {
		return nil, errors.New("需要 -family 和 -market 参数")
	}
	t, ok := a.traders[models.Family(family)]
	if !ok {
		return nil, fmt.Errorf("策略家族 %q 未启用", family)
	}
	return t, nil
}

// runLive 启动配置中的市场和调度器, 直到收到退出信号
func (a *app) runLive(ctx context.Context) error {
	a.log.Info("--- 启动实时交易模式 ---", zap.String("exchange", a.cfg.Exchange.Name))

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr, a.log); err != nil {
				a.log.Error("metrics 服务退出", zap.Error(err))
			}
		}()
	}
	if a.stream != nil {
		go func() {
			if err := a.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("价格流退出", zap.Error(err))
			}
		}()
	}

	for _, mc := range a.cfg.Markets {
		t, ok := a.traders[models.Family(mc.Family)]
		if !ok {
			a.log.Warn("策略家族未启用, 跳过市场", zap.String("family", mc.Family), zap.String("market", mc.Market))
			continue
		}
		res, err := t.Start(ctx, mc.Market, mc.Strategy)
		switch {
		case errors.Is(err, bot.ErrAlreadyActive):
			a.log.Info("恢复进行中的周期", zap.String("family", mc.Family), zap.String("market", mc.Market))
		case err != nil:
			a.log.Error("启动市场失败", zap.String("market", mc.Market), zap.Error(err))
		case !res.Success:
			a.log.Warn("启动市场失败", zap.String("market", mc.Market), zap.String("message", res.Message))
		default:
			a.log.Info("市场已启动", zap.String("family", mc.Family), zap.String("market", mc.Market))
		}
	}

	var schedulers []*scheduler.Scheduler
	for family, t := range a.traders {
		fc := a.cfg.DCA
		if family == models.FamilyInfinite {
			fc = a.cfg.Infinite
		}
		s := scheduler.New(t, config.Interval(fc, scheduler.DefaultInterval),
			scheduler.WithObserver(a.metrics),
			scheduler.WithNotifier(a.notifier),
			scheduler.WithLogger(a.log),
		)
		s.Start(ctx)
		schedulers = append(schedulers, s)
	}

	<-ctx.Done()
	a.log.Info("收到退出信号, 正在停止...")
	for _, s := range schedulers {
		s.Stop()
	}
	a.log.Info("机器人已停止。")
	return nil
}

func (a *app) statuses(ctx context.Context, familyFilter, market string) ([]*bot.MarketStatus, error) {
	families, err := a.families(familyFilter)
	if err != nil {
		return nil, err
	}

	var out []*bot.MarketStatus
	for _, family := range families {
		t := a.traders[family]
		markets := []string{strings.ToUpper(market)}
		if market == "" {
			if markets, err = t.ActiveMarkets(ctx); err != nil {
				return nil, err
			}
			for _, mc := range a.cfg.Markets {
				if models.Family(mc.Family) == family && !contains(markets, mc.Market) {
					markets = append(markets, mc.Market)
				}
			}
		}
		for _, m := range markets {
			st, err := t.Status(ctx, m, 20)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (a *app) runStatus(ctx context.Context, family, market string) error {
	statuses, err := a.statuses(ctx, family, market)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("没有运行中的市场")
	}
	for _, st := range statuses {
		reporter.PrintStatus(os.Stdout, st)
	}
	return nil
}

func (a *app) runExport(ctx context.Context, family, market, file string) error {
	if file == "" {
		file = fmt.Sprintf("dca_report_%s.xlsx", time.Now().Format("20060102_150405"))
	}
	statuses, err := a.statuses(ctx, family, market)
	if err != nil {
		return err
	}
	if err := reporter.ExportXLSX(file, statuses); err != nil {
		return fmt.Errorf("导出失败: %w", err)
	}
	a.log.Info("报告已导出", zap.String("file", file), zap.Int("markets", len(statuses)))
	return nil
}

func (a *app) runBackup(ctx context.Context, family, market, file string) error {
	if _, err := a.trader(family, market); err != nil {
		return err
	}
	backup, err := a.repos[models.Family(family)].Backup(ctx, strings.ToUpper(market))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return err
	}
	if file == "" {
		_, err = fmt.Println(string(data))
		return err
	}
	if err := os.WriteFile(file, data, 0o600); err != nil {
		return err
	}
	a.log.Info("备份完成", zap.String("file", file))
	return nil
}

func (a *app) runRestore(ctx context.Context, file string) error {
	if file == "" {
		return errors.New("需要 -file 参数")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	var backup models.Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return fmt.Errorf("无法解析备份文件: %w", err)
	}
	repo, ok := a.repos[models.Family(backup.Family)]
	if !ok {
		return fmt.Errorf("策略家族 %q 未启用", backup.Family)
	}
	if err := repo.Restore(ctx, backup); err != nil {
		return err
	}
	a.log.Info("恢复完成", zap.String("family", backup.Family), zap.String("market", backup.Market))
	return nil
}

func (a *app) runStop(ctx context.Context, family, market string) error {
	t, err := a.trader(family, market)
	if err != nil {
		return err
	}
	res, err := t.Stop(ctx, strings.ToUpper(market))
	if err != nil {
		return err
	}
	a.log.Info(res.Message, zap.String("family", family))
	return nil
}
