package peers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/metrics"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// Lister returns the live peer set of the ledger network.
type Lister interface {
	Peers(ctx context.Context) ([]string, error)
}

// Config tunes a ranking cycle.
type Config struct {
	StatusTimeout time.Duration
	Concurrency   int
	BatchSize     int
}

// Summary describes one ranking cycle.
type Summary struct {
	Live        int
	Removed     int64
	Active      int
	Blacklisted int
}

// Ranker surveys peers and persists their ranking.
type Ranker struct {
	db      *gorm.DB
	lister  Lister
	client  Client
	cfg     Config
	metrics metrics.GatewayMetrics
	logger  zerolog.Logger
}

// NewRanker creates a ranker.
func NewRanker(db *gorm.DB, lister Lister, client Client, cfg Config, m metrics.GatewayMetrics, logger zerolog.Logger) *Ranker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 2 * time.Second
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Ranker{
		db:      db,
		lister:  lister,
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "peer_ranking").Logger(),
	}
}

// Rank runs one cycle: drop peers that left the network, survey the live
// ones and store the results. A failing peer is blacklisted, never fatal.
func (r *Ranker) Rank(ctx context.Context) (Summary, error) {
	live, err := r.lister.Peers(ctx)
	if err != nil {
		return Summary{}, gwerrors.WrapGatewayError(err, gwerrors.ErrCodeNetwork, "failed to list peers")
	}
	live = unique(live)

	removed, err := r.removeStale(ctx, live)
	if err != nil {
		return Summary{}, err
	}

	records := make([]store.Peer, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, addr := range live {
		g.Go(func() error {
			records[i] = r.survey(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Live: len(live), Removed: removed}
	for _, rec := range records {
		if rec.Blacklisted {
			summary.Blacklisted++
		} else {
			summary.Active++
		}
	}

	if len(records) > 0 {
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}},
				DoUpdates: clause.AssignmentColumns([]string{"blocks_stored", "reported_height", "response_time_ms", "blacklisted", "updated_at"}),
			}).
			CreateInBatches(&records, r.cfg.BatchSize).Error
		if err != nil {
			return Summary{}, gwerrors.NewDatabaseError("failed to store peer ranking", err)
		}
	}

	r.metrics.SetRankedPeers(summary.Active, summary.Blacklisted)
	r.logger.Info().
		Int("live", summary.Live).
		Int64("removed", summary.Removed).
		Int("active", summary.Active).
		Int("blacklisted", summary.Blacklisted).
		Msg("peer ranking cycle completed")
	return summary, nil
}

func (r *Ranker) survey(ctx context.Context, addr string) store.Peer {
	checkCtx, cancel := context.WithTimeout(ctx, r.cfg.StatusTimeout)
	defer cancel()

	start := time.Now()
	info, err := r.client.Info(checkCtx, addr)
	latency := time.Since(start)
	if err != nil {
		r.logger.Debug().Str("peer", addr).Err(err).Msg("peer survey failed, blacklisting")
		return store.Peer{Address: addr, Blacklisted: true}
	}

	return store.Peer{
		Address:        addr,
		BlocksStored:   info.Blocks,
		ReportedHeight: info.Height,
		ResponseTimeMs: latency.Milliseconds(),
		Blacklisted:    false,
	}
}

func (r *Ranker) removeStale(ctx context.Context, live []string) (int64, error) {
	q := r.db.WithContext(ctx)
	if len(live) == 0 {
		q = q.Session(&gorm.Session{AllowGlobalUpdate: true})
	} else {
		q = q.Where("address NOT IN ?", live)
	}
	res := q.Delete(&store.Peer{})
	if res.Error != nil {
		return 0, gwerrors.NewDatabaseError("failed to remove stale peers", res.Error)
	}
	return res.RowsAffected, nil
}

// Ranked returns up to limit usable peers, most complete and fastest first.
func Ranked(ctx context.Context, db *gorm.DB, limit int) ([]store.Peer, error) {
	var peers []store.Peer
	q := db.WithContext(ctx).
		Where("blacklisted = ?", false).
		Order("(reported_height - blocks_stored) ASC").
		Order("response_time_ms ASC").
		Order("address ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&peers).Error; err != nil {
		return nil, gwerrors.NewDatabaseError("failed to load ranked peers", err)
	}
	return peers, nil
}

func unique(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
