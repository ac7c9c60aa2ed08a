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
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// TaskNetworkInfo names the chain-head job.
const TaskNetworkInfo = "network-info"

// NodeSource is the part of the ledger node the chain-head job reads.
type NodeSource interface {
	NetworkInfo(ctx context.Context) (ledger.NetworkInfo, error)
	Block(ctx context.Context, id string) (ledger.BlockInfo, error)
}

// NetworkInfoJob keeps the NetworkState row and the in-process chain head
// current. Only the gateway holding the global lock queries the node; every
// gateway refreshes its cache from the row.
type NetworkInfoJob struct {
	db      *gorm.DB
	node    NodeSource
	locker  GlobalLocker
	heads   *cache.ChainHeadCache
	metrics metrics.GatewayMetrics
	logger  zerolog.Logger

	// OnAdvance is called after the cached head moved to a higher block.
	OnAdvance func(head cache.ChainHead)
}

func NewNetworkInfoJob(db *gorm.DB, node NodeSource, locker GlobalLocker, heads *cache.ChainHeadCache, m metrics.GatewayMetrics, logger zerolog.Logger) *NetworkInfoJob {
	if m == nil {
		m = metrics.Noop()
	}
	return &NetworkInfoJob{
		db:      db,
		node:    node,
		locker:  locker,
		heads:   heads,
		metrics: m,
		logger:  logger.With().Str("component", "network_info_cron").Logger(),
	}
}

// Task returns the job as a schedulable task.
func (j *NetworkInfoJob) Task(interval, timeout time.Duration) Task {
	return Task{Name: TaskNetworkInfo, Interval: interval, Timeout: timeout, Run: j.Run}
}

func (j *NetworkInfoJob) Run(ctx context.Context) error {
	held, err := withGlobalLock(ctx, j.db, j.locker, locks.GlobalLockNetworkInfo, func(gdb *gorm.DB) error {
		return j.refresh(ctx, gdb)
	})
	if err != nil {
		return err
	}
	if !held {
		j.logger.Debug().Msg("network info refreshed by another gateway")
	}
	return j.reload(ctx)
}

func (j *NetworkInfoJob) refresh(ctx context.Context, gdb *gorm.DB) error {
	info, err := j.node.NetworkInfo(ctx)
	if err != nil {
		return err
	}
	block, err := j.node.Block(ctx, info.Current)
	if err != nil {
		return err
	}

	state := store.NetworkState{
		ID:             store.SingletonID,
		Height:         info.Height,
		CurrentBlockID: info.Current,
		BlockTimestamp: block.Timestamp,
	}
	err = gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"height", "current_block_id", "block_timestamp", "updated_at"}),
	}).Create(&state).Error
	if err != nil {
		return gwerrors.NewDatabaseError("failed to store network state", err)
	}
	return nil
}

// reload copies the stored chain head into the cache.
func (j *NetworkInfoJob) reload(ctx context.Context) error {
	var state store.NetworkState
	res := j.db.WithContext(ctx).Where("id = ?", store.SingletonID).Limit(1).Find(&state)
	if res.Error != nil {
		return gwerrors.NewDatabaseError("failed to read network state", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	head := cache.ChainHead{
		Height:         state.Height,
		BlockID:        state.CurrentBlockID,
		BlockTimestamp: state.BlockTimestamp,
		UpdatedAt:      state.UpdatedAt,
	}
	prev, known := j.heads.Get()
	if !j.heads.Update(head) {
		return nil
	}
	j.metrics.SetChainHeight(head.Height)
	if known && head.Height == prev.Height {
		return nil
	}
	j.logger.Debug().Int64("height", head.Height).Str("block_id", head.BlockID).Msg("chain head advanced")
	if j.OnAdvance != nil {
		j.OnAdvance(head)
	}
	return nil
}
