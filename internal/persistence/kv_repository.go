package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

// KVRepository implements Repository on top of any Store.
type KVRepository struct {
	store  Store
	keys   keyspace
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

var _ Repository = (*KVRepository)(nil)

// NewRepository creates the repository of one strategy family. Several
// families may share a Store; their keys never overlap.
func NewRepository(store Store, family models.Family, opts Options, logger *zap.Logger) *KVRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KVRepository{
		store:  store,
		keys:   keyspace{family: family},
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Family 返回仓库所属的策略家族
func (r *KVRepository) Family() models.Family { return r.keys.family }

func (r *KVRepository) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取 %s 失败: %w", key, err)
	}
	if len(data) == 0 {
		return false, fmt.Errorf("value of %s is empty in database", key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	return true, nil
}

func (r *KVRepository) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	return nil
}

func txGetJSON(tx Tx, key string, v interface{}) (bool, error) {
	data, err := tx.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

func txSetJSON(tx Tx, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Set(key, data, ttl)
}

// SaveConfig refuses invalid configs.
func (r *KVRepository) SaveConfig(ctx context.Context, market string, cfg models.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return r.setJSON(ctx, r.keys.config(market), cfg, 0)
}

// GetConfig re-validates what it loads.
func (r *KVRepository) GetConfig(ctx context.Context, market string) (*models.StrategyConfig, error) {
	var cfg models.StrategyConfig
	ok, err := r.getJSON(ctx, r.keys.config(market), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stored config for %s: %w", market, err)
	}
	return &cfg, nil
}

func (r *KVRepository) SaveState(ctx context.Context, state models.CycleState) error {
	if state.Market == "" {
		return errors.New("state has no market")
	}
	return r.setJSON(ctx, r.keys.state(state.Market), state, r.opts.StateTTL)
}

func (r *KVRepository) GetState(ctx context.Context, market string) (*models.CycleState, error) {
	var state models.CycleState
	ok, err := r.getJSON(ctx, r.keys.state(market), &state)
	if err != nil || !ok {
		return nil, err
	}
	if state.Rounds == nil {
		state.Rounds = []models.BuyRound{}
	}
	return &state, nil
}

// AppendRound 在事务内校验回合号后追加
func (r *KVRepository) AppendRound(ctx context.Context, market string, round models.BuyRound) error {
	if !round.BuyPrice.IsPositive() || !round.BuyAmount.IsPositive() || !round.BuyVolume.IsPositive() {
		return ErrInvalidRound
	}
	key := r.keys.rounds(market)
	return r.store.Update(ctx, []string{key}, func(tx Tx) error {
		var ledger []models.BuyRound
		if _, err := txGetJSON(tx, key, &ledger); err != nil {
			return err
		}
		for _, existing := range ledger {
			if existing.RoundNumber == round.RoundNumber {
				return fmt.Errorf("%w: %s round %d", ErrDuplicateRound, market, round.RoundNumber)
			}
		}
		if round.RoundNumber != len(ledger)+1 {
			return fmt.Errorf("%w: %s got %d, want %d", ErrRoundOutOfOrder, market, round.RoundNumber, len(ledger)+1)
		}
		return txSetJSON(tx, key, append(ledger, round), r.opts.HistoryTTL)
	})
}

func (r *KVRepository) GetRounds(ctx context.Context, market string) ([]models.BuyRound, error) {
	ledger := []models.BuyRound{}
	if _, err := r.getJSON(ctx, r.keys.rounds(market), &ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

func (r *KVRepository) ClearRounds(ctx context.Context, market string) error {
	return r.store.Delete(ctx, r.keys.rounds(market))
}

func (r *KVRepository) ArchiveCycle(ctx context.Context, item models.CycleHistoryItem) (*models.TradeStatistics, error) {
	if item.CycleID == "" || item.Market == "" {
		return nil, errors.New("history item needs cycle id and market")
	}
	itemKey := r.keys.cycle(item.Market, item.CycleID)
	indexKey := r.keys.cycleIndex(item.Market)
	statsKey := r.keys.stats(item.Market)

	var updated models.TradeStatistics
	err := r.store.Update(ctx, []string{itemKey, indexKey, statsKey}, func(tx Tx) error {
		if _, err := tx.Get(itemKey); err == nil {
			return fmt.Errorf("%w: %s", ErrCycleArchived, item.CycleID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		var index []string
		if _, err := txGetJSON(tx, indexKey, &index); err != nil {
			return err
		}
		index = append([]string{item.CycleID}, index...)
		if len(index) > r.opts.HistoryLimit {
			for _, id := range index[r.opts.HistoryLimit:] {
				if err := tx.Delete(r.keys.cycle(item.Market, id)); err != nil {
					return err
				}
			}
			index = index[:r.opts.HistoryLimit]
		}

		var stats models.TradeStatistics
		if _, err := txGetJSON(tx, statsKey, &stats); err != nil {
			return err
		}
		updated = stats.Record(item, r.now())

		if err := txSetJSON(tx, itemKey, item, r.opts.HistoryTTL); err != nil {
			return err
		}
		if err := txSetJSON(tx, indexKey, index, r.opts.HistoryTTL); err != nil {
			return err
		}
		return txSetJSON(tx, statsKey, updated, 0)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetCycleHistory returns up to limit items, most recent first. Expired
// items are skipped.
func (r *KVRepository) GetCycleHistory(ctx context.Context, market string, limit int) ([]models.CycleHistoryItem, error) {
	var index []string
	if _, err := r.getJSON(ctx, r.keys.cycleIndex(market), &index); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(index) {
		limit = len(index)
	}

	items := make([]models.CycleHistoryItem, 0, limit)
	for _, id := range index {
		if len(items) == limit {
			break
		}
		var item models.CycleHistoryItem
		ok, err := r.getJSON(ctx, r.keys.cycle(market, id), &item)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *KVRepository) GetStatistics(ctx context.Context, market string) (*models.TradeStatistics, error) {
	var stats models.TradeStatistics
	ok, err := r.getJSON(ctx, r.keys.stats(market), &stats)
	if err != nil || !ok {
		return nil, err
	}
	return &stats, nil
}

func (r *KVRepository) Backup(ctx context.Context, market string) (*models.Backup, error) {
	cfg, err := r.GetConfig(ctx, market)
	if err != nil {
		return nil, err
	}
	state, err := r.GetState(ctx, market)
	if err != nil {
		return nil, err
	}
	rounds, err := r.GetRounds(ctx, market)
	if err != nil {
		return nil, err
	}
	stats, err := r.GetStatistics(ctx, market)
	if err != nil {
		return nil, err
	}
	history, err := r.GetCycleHistory(ctx, market, 0)
	if err != nil {
		return nil, err
	}
	return &models.Backup{
		Family:     string(r.keys.family),
		Market:     market,
		Config:     cfg,
		State:      state,
		Rounds:     rounds,
		Statistics: stats,
		History:    history,
		BackupTime: r.now(),
	}, nil
}

// Restore writes every part of backup back under its market. History is
// restored in its original most-recent-first order.
func (r *KVRepository) Restore(ctx context.Context, backup models.Backup) error {
	if backup.Market == "" {
		return errors.New("backup has no market")
	}
	if backup.Family != "" && backup.Family != string(r.keys.family) {
		return fmt.Errorf("backup belongs to family %s, not %s", backup.Family, r.keys.family)
	}
	market := backup.Market
	if backup.Config != nil {
		if err := r.SaveConfig(ctx, market, *backup.Config); err != nil {
			return err
		}
	}
	if backup.State != nil {
		state := backup.State.Clone()
		state.Market = market
		if err := r.SaveState(ctx, state); err != nil {
			return err
		}
	}

	rounds := append([]models.BuyRound(nil), backup.Rounds...)
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber < rounds[j].RoundNumber })
	for i, round := range rounds {
		if round.RoundNumber != i+1 {
			return fmt.Errorf("%w: backup round %d at position %d", ErrRoundOutOfOrder, round.RoundNumber, i+1)
		}
	}
	if err := r.setJSON(ctx, r.keys.rounds(market), rounds, r.opts.HistoryTTL); err != nil {
		return err
	}

	index := make([]string, 0, len(backup.History))
	for _, item := range backup.History {
		if len(index) == r.opts.HistoryLimit {
			break
		}
		if err := r.setJSON(ctx, r.keys.cycle(market, item.CycleID), item, r.opts.HistoryTTL); err != nil {
			return err
		}
		index = append(index, item.CycleID)
	}
	if err := r.setJSON(ctx, r.keys.cycleIndex(market), index, r.opts.HistoryTTL); err != nil {
		return err
	}

	if backup.Statistics != nil {
		if err := r.setJSON(ctx, r.keys.stats(market), backup.Statistics, 0); err != nil {
			return err
		}
	}
	r.logger.Info("market restored from backup",
		zap.String("family", string(r.keys.family)), zap.String("market", market),
		zap.Int("rounds", len(rounds)), zap.Int("history", len(index)))
	return nil
}

func (r *KVRepository) ClearMarket(ctx context.Context, market string) error {
	return r.store.Delete(ctx, r.keys.config(market), r.keys.state(market), r.keys.rounds(market))
}

func (r *KVRepository) ActiveMarkets(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, r.keys.prefix())
	if err != nil {
		return nil, err
	}

	var markets []string
	for _, key := range keys {
		market, ok := r.keys.marketFromStateKey(key)
		if !ok {
			continue
		}
		state, err := r.GetState(ctx, market)
		if err != nil {
			r.logger.Warn("skipping unreadable state", zap.String("key", key), zap.Error(err))
			continue
		}
		if state != nil && state.IsActive() {
			markets = append(markets, market)
		}
	}
	sort.Strings(markets)
	return markets, nil
}
