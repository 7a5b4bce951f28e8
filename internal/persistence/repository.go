package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/CasselKim/TTM-sub000/internal/models"
)

var (
	// ErrDuplicateRound is returned when a round number is already in the ledger.
	ErrDuplicateRound = errors.New("round number already recorded")
	// ErrRoundOutOfOrder is returned when a round does not extend the ledger by one.
	ErrRoundOutOfOrder = errors.New("round number does not follow the ledger")
	// ErrInvalidRound is returned for rounds with non-positive price, amount or volume.
	ErrInvalidRound = errors.New("invalid buy round")
	// ErrCycleArchived is returned when a cycle id was already archived.
	ErrCycleArchived = errors.New("cycle already archived")
)

const (
	DefaultStateTTL     = 24 * time.Hour
	DefaultHistoryTTL   = 30 * 24 * time.Hour
	DefaultHistoryLimit = 1000
)

// Repository defines the persistence contract for one strategy family.
// Missing records are reported as (nil, nil).
type Repository interface {
	// SaveConfig stores a validated config without expiry.
	SaveConfig(ctx context.Context, market string, cfg models.StrategyConfig) error
	GetConfig(ctx context.Context, market string) (*models.StrategyConfig, error)

	// SaveState stores the cycle state with the state TTL.
	SaveState(ctx context.Context, state models.CycleState) error
	GetState(ctx context.Context, market string) (*models.CycleState, error)

	// AppendRound adds round to the append-only ledger. Duplicate or
	// non-contiguous round numbers are rejected and the ledger is left unchanged.
	AppendRound(ctx context.Context, market string, round models.BuyRound) error
	GetRounds(ctx context.Context, market string) ([]models.BuyRound, error)
	ClearRounds(ctx context.Context, market string) error

	// ArchiveCycle stores item in the capped, most-recent-first history and
	// folds it into the statistics in one transaction. Archiving the same
	// cycle id twice returns ErrCycleArchived and changes nothing.
	ArchiveCycle(ctx context.Context, item models.CycleHistoryItem) (*models.TradeStatistics, error)
	GetCycleHistory(ctx context.Context, market string, limit int) ([]models.CycleHistoryItem, error)
	GetStatistics(ctx context.Context, market string) (*models.TradeStatistics, error)

	Backup(ctx context.Context, market string) (*models.Backup, error)
	Restore(ctx context.Context, backup models.Backup) error

	// ClearMarket removes config, state and rounds. History and statistics are kept.
	ClearMarket(ctx context.Context, market string) error
	// ActiveMarkets lists markets whose stored state is active.
	ActiveMarkets(ctx context.Context) ([]string, error)
}

// Options 控制过期时间和历史容量, 零值使用默认值
type Options struct {
	StateTTL     time.Duration
	HistoryTTL   time.Duration
	HistoryLimit int
}

func (o Options) withDefaults() Options {
	if o.StateTTL <= 0 {
		o.StateTTL = DefaultStateTTL
	}
	if o.HistoryTTL <= 0 {
		o.HistoryTTL = DefaultHistoryTTL
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	return o
}
