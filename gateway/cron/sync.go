package cron

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pushchain/interaction-gateway/gateway/cache"
	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/ledger"
	"github.com/pushchain/interaction-gateway/gateway/locks"
	"github.com/pushchain/interaction-gateway/gateway/metrics"
	"github.com/pushchain/interaction-gateway/gateway/sequencer"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// TaskSync names the ledger sync job.
const TaskSync = "sync"

// Loader fetches settled interactions in a block range.
type Loader interface {
	Load(ctx context.Context, filters []ledger.TagFilter, from, to int64) ([]ledger.Transaction, error)
}

// HeadSource provides the current chain head.
type HeadSource interface {
	Get() (cache.ChainHead, bool)
}

// Registrar admits a settled ledger record.
type Registrar interface {
	RegisterSettled(ctx context.Context, tx ledger.Transaction) (*store.Interaction, error)
}

type SyncConfig struct {
	Filters       []ledger.TagFilter
	MaxBlockRange int64
	StartHeight   int64
}

// SyncResult describes one sync cycle.
type SyncResult struct {
	From, To  int64
	Loaded    int
	Admitted  int
	Skipped   int
	Completed bool
}

// SyncJob walks the ledger forward from the last synced height and registers
// every interaction it finds.
type SyncJob struct {
	db        *gorm.DB
	loader    Loader
	registrar Registrar
	locker    GlobalLocker
	heads     HeadSource
	cfg       SyncConfig
	metrics   metrics.GatewayMetrics
	logger    zerolog.Logger
}

func NewSyncJob(db *gorm.DB, loader Loader, registrar Registrar, locker GlobalLocker, heads HeadSource, cfg SyncConfig, m metrics.GatewayMetrics, logger zerolog.Logger) *SyncJob {
	if m == nil {
		m = metrics.Noop()
	}
	if cfg.MaxBlockRange <= 0 {
		cfg.MaxBlockRange = 100
	}
	return &SyncJob{
		db:        db,
		loader:    loader,
		registrar: registrar,
		locker:    locker,
		heads:     heads,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With().Str("component", "sync_cron").Logger(),
	}
}

func (j *SyncJob) Task(interval, timeout time.Duration) Task {
	return Task{Name: TaskSync, Interval: interval, Timeout: timeout, Run: func(ctx context.Context) error {
		_, err := j.Run(ctx)
		return err
	}}
}

// Run performs one sync cycle.
func (j *SyncJob) Run(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	head, ok := j.heads.Get()
	if !ok {
		j.logger.Debug().Msg("chain head unknown, skipping sync")
		return result, nil
	}

	held, err := withGlobalLock(ctx, j.db, j.locker, locks.GlobalLockSync, func(gdb *gorm.DB) error {
		var err error
		result, err = j.syncRange(ctx, gdb, head.Height)
		return err
	})
	if !held && err == nil {
		j.logger.Debug().Msg("sync running on another gateway")
	}
	return result, err
}

func (j *SyncJob) syncRange(ctx context.Context, gdb *gorm.DB, headHeight int64) (SyncResult, error) {
	var state store.SyncState
	if err := gdb.Where("id = ?", store.SingletonID).Limit(1).Find(&state).Error; err != nil {
		return SyncResult{}, gwerrors.NewDatabaseError("failed to read sync state", err)
	}

	from := state.LastSyncedHeight + 1
	if state.LastSyncedHeight == 0 && j.cfg.StartHeight > 0 {
		from = j.cfg.StartHeight
	}
	to := min(headHeight, from+j.cfg.MaxBlockRange-1)
	result := SyncResult{From: from, To: to}
	if from > to {
		result.Completed = true
		return result, nil
	}

	txs, err := j.loader.Load(ctx, j.cfg.Filters, from, to)
	if err != nil {
		return result, err
	}
	result.Loaded = len(txs)

	for _, ltx := range txs {
		_, err := j.registrar.RegisterSettled(ctx, ltx)
		switch {
		case err == nil:
			result.Admitted++
		case sequencer.IsDuplicate(err):
			result.Skipped++
		case sequencer.IsNonMonotonic(err):
			result.Skipped++
			j.logger.Warn().
				Str("interaction_id", ltx.ID).
				Int64("block_height", ltx.Block.Height).
				Msg("skipping interaction older than its contract's last sort key")
		case gwerrors.HasCode(err, gwerrors.ErrCodeValidation):
			result.Skipped++
			j.logger.Warn().Err(err).Str("interaction_id", ltx.ID).Msg("skipping malformed interaction")
		default:
			j.logger.Error().Err(err).
				Str("interaction_id", ltx.ID).
				Int64("from", from).
				Int64("to", to).
				Msg("sync cycle aborted, height not advanced")
			return result, err
		}
	}

	err = gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_synced_height", "updated_at"}),
	}).Create(&store.SyncState{ID: store.SingletonID, LastSyncedHeight: to}).Error
	if err != nil {
		return result, gwerrors.NewDatabaseError("failed to store sync state", err)
	}

	result.Completed = true
	j.metrics.SetSyncedHeight(to)
	j.logger.Info().
		Int64("from", from).
		Int64("to", to).
		Int("loaded", result.Loaded).
		Int("admitted", result.Admitted).
		Int("skipped", result.Skipped).
		Msg("sync cycle completed")
	return result, nil
}
