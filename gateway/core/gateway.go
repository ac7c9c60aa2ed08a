// Package core wires the gateway's components into one process.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/pushchain/interaction-gateway/gateway/api"
	"github.com/pushchain/interaction-gateway/gateway/cache"
	"github.com/pushchain/interaction-gateway/gateway/config"
	"github.com/pushchain/interaction-gateway/gateway/cron"
	"github.com/pushchain/interaction-gateway/gateway/db"
	"github.com/pushchain/interaction-gateway/gateway/ledger"
	"github.com/pushchain/interaction-gateway/gateway/locks"
	"github.com/pushchain/interaction-gateway/gateway/metrics"
	"github.com/pushchain/interaction-gateway/gateway/peers"
	"github.com/pushchain/interaction-gateway/gateway/replica"
	"github.com/pushchain/interaction-gateway/gateway/sequencer"
	"github.com/pushchain/interaction-gateway/gateway/store"
	"github.com/pushchain/interaction-gateway/gateway/verifier"
)

// Names of the scheduled tasks besides the cron package's own jobs.
const (
	TaskPeerRanking  = "peer-ranking"
	TaskVerification = "verification"
	TaskOrphanSweep  = "orphan-sweep"
)

// Gateway owns every long-lived component of a gateway process.
type Gateway struct {
	cfg config.Config
	log zerolog.Logger

	db          *db.DB
	secondaries []*db.DB

	registry *prometheus.Registry
	metrics  metrics.GatewayMetrics

	ledger    *ledger.Client
	heads     *cache.ChainHeadCache
	replicas  *replica.Queue
	sequencer *sequencer.Sequencer
	ranker    *peers.Ranker
	verifier  *verifier.Verifier
	network   *cron.NetworkInfoJob
	sync      *cron.SyncJob
	scheduler *cron.Scheduler
	server    *api.Server

	stopOnce sync.Once
}

// New opens the stores and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Gateway, error) {
	g := &Gateway{
		cfg:      cfg,
		log:      log.With().Str("component", "gateway").Logger(),
		registry: prometheus.NewRegistry(),
		heads:    cache.NewChainHeadCache(),
	}
	g.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	g.metrics = metrics.InitMetrics(ctx, g.registry)

	primary, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary database: %w", err)
	}
	g.db = primary

	secondaries, err := g.openReplicas()
	if err != nil {
		g.closeStores()
		return nil, err
	}

	secret := cfg.ProcessSecret
	if secret == "" {
		secret = uuid.NewString()
	}

	g.ledger = ledger.NewClient(ledger.Config{
		NodeURL:          cfg.LedgerNodeURL,
		GraphQLURL:       cfg.LedgerGraphQLURL,
		PageSize:         cfg.LedgerPageSize,
		RateLimitBackoff: cfg.RateLimitBackoff(),
		Timeout:          cfg.LedgerTimeout(),
	}, log)
	g.ledger.OnRateLimited(g.metrics.IncRateLimitedQueries)

	gdb := primary.Client()
	locker := locks.NewAdvisoryLocker(cfg.AdvisoryLockTimeout(), log)
	writer := replica.New(gdb, secondaries, replica.Config{
		MaxAttempts: cfg.Replicas.MaxAttempts,
		RetryDelay:  cfg.Replicas.RetryDelay(),
	}, nil, g.metrics, log)
	g.replicas = replica.NewQueue(writer, replica.QueueConfig{
		Size:    cfg.Replicas.QueueSize,
		Workers: cfg.Replicas.Workers,
	}, log)

	g.sequencer = sequencer.New(gdb, locks.NewContractMutexRegistry(), locker, cache.NewLastSortKeys(log), secret, log,
		sequencer.WithMetrics(g.metrics), sequencer.WithReplicas(g.replicas))

	peerClient := peers.NewHTTPClient(cfg.PeerStatusTimeout())
	g.ranker = peers.NewRanker(gdb, g.ledger, peerClient, peers.Config{
		StatusTimeout: cfg.PeerStatusTimeout(),
		Concurrency:   cfg.PeerRankingConcurrency,
		BatchSize:     cfg.MaxBatchSize,
	}, g.metrics, log)

	g.verifier = verifier.New(gdb, peerClient, g.heads, verifier.Config{
		MinConfirmations:         cfg.Verifier.MinConfirmations,
		RequiredSuccessfulRounds: cfg.Verifier.RequiredSuccessfulRounds,
		MaxRounds:                cfg.Verifier.MaxRounds,
		RoundTimeout:             cfg.Verifier.RoundTimeout(),
		PeerSampleSize:           cfg.Verifier.PeerSampleSize,
		BatchSize:                cfg.Verifier.BatchSize,
		OrphanSweepBatchSize:     cfg.Verifier.OrphanSweepBatchSize,
		ForeignContracts:         cfg.Verifier.ForeignContracts,
	}, g.metrics, log)

	g.network = cron.NewNetworkInfoJob(gdb, g.ledger, locker, g.heads, g.metrics, log)
	g.sync = cron.NewSyncJob(gdb, g.ledger, g.sequencer, locker, g.heads, cron.SyncConfig{
		Filters:       []ledger.TagFilter{{Name: cfg.InteractionTagName, Values: []string{cfg.InteractionTagValue}}},
		MaxBlockRange: cfg.SyncMaxBlockRange,
		StartHeight:   cfg.SyncStartHeight,
	}, g.metrics, log)

	if err := g.buildScheduler(log); err != nil {
		g.replicas.Stop()
		g.closeStores()
		return nil, err
	}

	if cfg.QueryServerPort > 0 {
		g.server = api.NewServer(g, g.registry, log, cfg.QueryServerPort)
	}
	return g, nil
}

func (g *Gateway) openReplicas() ([]replica.Secondary, error) {
	rc := g.cfg.Replicas
	if len(rc.Drivers) != len(rc.DSNs) {
		return nil, fmt.Errorf("replica drivers (%d) and dsns (%d) must pair up", len(rc.Drivers), len(rc.DSNs))
	}
	secondaries := make([]replica.Secondary, 0, len(rc.DSNs))
	for i, dsn := range rc.DSNs {
		d, err := db.Open(config.DatabaseConfig{Driver: rc.Drivers[i], DSN: dsn, MigrateOnStart: true})
		if err != nil {
			return nil, fmt.Errorf("failed to open replica %d: %w", i, err)
		}
		g.secondaries = append(g.secondaries, d)
		secondaries = append(secondaries, replica.Secondary{Name: fmt.Sprintf("replica-%d", i), DB: d.Client()})
	}
	return secondaries, nil
}

func (g *Gateway) buildScheduler(log zerolog.Logger) error {
	g.scheduler = cron.NewScheduler(log)
	g.network.OnAdvance = func(cache.ChainHead) { g.scheduler.Trigger(cron.TaskSync) }

	verifyTimeout := time.Duration(g.cfg.Verifier.MaxRounds+1) * g.cfg.Verifier.RoundTimeout()
	tasks := []cron.Task{
		g.network.Task(g.cfg.NetworkInfoInterval(), g.cfg.LedgerTimeout()*2),
		g.sync.Task(g.cfg.SyncInterval(), g.cfg.SyncTimeout()),
		{Name: TaskPeerRanking, Interval: g.cfg.PeerRankingInterval(), Run: func(ctx context.Context) error {
			_, err := g.ranker.Rank(ctx)
			return err
		}},
		{Name: TaskVerification, Interval: g.cfg.Verifier.Interval(), Timeout: verifyTimeout, Run: func(ctx context.Context) error {
			_, err := g.verifier.Verify(ctx)
			return err
		}},
		{Name: TaskOrphanSweep, Interval: g.cfg.Verifier.OrphanSweepInterval(), Run: func(ctx context.Context) error {
			_, err := g.verifier.SweepOrphans(ctx)
			return err
		}},
	}
	for _, task := range tasks {
		if err := g.scheduler.Add(task); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the periodic jobs and the query server.
func (g *Gateway) Start(ctx context.Context) error {
	g.log.Info().Str("driver", g.db.Driver()).Int("replicas", len(g.secondaries)).Msg("🚀 Starting interaction gateway...")
	if g.server != nil {
		if err := g.server.Start(); err != nil {
			return err
		}
	}
	g.scheduler.Start(ctx)
	g.log.Info().Msg("✅ Initialization complete")
	return nil
}

// Run starts the gateway and blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		g.Stop()
		return err
	}
	<-ctx.Done()
	g.log.Info().Msg("🛑 Shutting down interaction gateway...")
	return g.Stop()
}

// Stop halts jobs and closes the stores. Safe to call more than once.
func (g *Gateway) Stop() error {
	var err error
	g.stopOnce.Do(func() {
		if g.server != nil {
			if serr := g.server.Stop(); serr != nil {
				g.log.Warn().Err(serr).Msg("failed to stop query server")
			}
		}
		g.scheduler.Stop()
		g.replicas.Stop()
		err = g.closeStores()
	})
	return err
}

func (g *Gateway) closeStores() error {
	var firstErr error
	for _, d := range append([]*db.DB{g.db}, g.secondaries...) {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AcceptIncoming admits a transaction submitted to the gateway.
func (g *Gateway) AcceptIncoming(ctx context.Context, in sequencer.IncomingTransaction) (*store.Interaction, error) {
	return g.sequencer.AcceptIncoming(ctx, in)
}

// LastSortKey returns a contract's newest sort key.
func (g *Gateway) LastSortKey(ctx context.Context, contractID string) (*string, error) {
	return g.sequencer.LastSortKey(ctx, contractID)
}

// RankedPeers returns the best peers from the last ranking cycle.
func (g *Gateway) RankedPeers(ctx context.Context, limit int) ([]store.Peer, error) {
	return peers.Ranked(ctx, g.db.Client(), limit)
}

// ChainHead returns the cached chain head.
func (g *Gateway) ChainHead() (cache.ChainHead, bool) {
	return g.heads.Get()
}

// RankPeers runs one ranking cycle outside the scheduler.
func (g *Gateway) RankPeers(ctx context.Context) (peers.Summary, error) {
	return g.ranker.Rank(ctx)
}

// RefreshChainHead runs the network-info job once.
func (g *Gateway) RefreshChainHead(ctx context.Context) error {
	return g.network.Run(ctx)
}

// SyncOnce runs one sync cycle outside the scheduler.
func (g *Gateway) SyncOnce(ctx context.Context) (cron.SyncResult, error) {
	return g.sync.Run(ctx)
}

// Registry exposes the process metrics registry.
func (g *Gateway) Registry() *prometheus.Registry {
	return g.registry
}
