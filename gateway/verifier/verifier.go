// Package verifier decides whether admitted interactions are durably on the
// ledger by polling independent peers over several rounds, and returns
// prematurely orphaned interactions to the verification cycle.
package verifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/interaction-gateway/gateway/cache"
	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/metrics"
	"github.com/pushchain/interaction-gateway/gateway/peers"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// HeadSource provides the current chain head.
type HeadSource interface {
	Get() (cache.ChainHead, bool)
}

// Config holds the verification constants.
type Config struct {
	MinConfirmations         int64
	RequiredSuccessfulRounds int
	MaxRounds                int
	RoundTimeout             time.Duration
	PeerSampleSize           int
	BatchSize                int
	OrphanSweepBatchSize     int
	ForeignContracts         []string
}

// Report summarizes one verification pass.
type Report struct {
	Selected        int
	RoundsCompleted int
	RoundsAbandoned int
	Finalized       map[string]int // status -> count
}

// Verifier is safe for use by one periodic task at a time.
type Verifier struct {
	db      *gorm.DB
	client  peers.Client
	heads   HeadSource
	cfg     Config
	pick    func(n int) int
	metrics metrics.GatewayMetrics
	logger  zerolog.Logger
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithPicker replaces the random peer choice; pick(n) returns an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(v *Verifier) { v.pick = pick }
}

// New creates a verifier.
func New(db *gorm.DB, client peers.Client, heads HeadSource, cfg Config, m metrics.GatewayMetrics, logger zerolog.Logger, opts ...Option) *Verifier {
	if m == nil {
		m = metrics.Noop()
	}
	v := &Verifier{
		db:      db,
		client:  client,
		heads:   heads,
		cfg:     cfg,
		pick:    rand.IntN,
		metrics: m,
		logger:  logger.With().Str("component", "verifier").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs one pass over the oldest eligible not_processed interactions.
func (v *Verifier) Verify(ctx context.Context) (Report, error) {
	report := Report{Finalized: make(map[string]int)}

	head, ok := v.heads.Get()
	if !ok {
		v.logger.Debug().Msg("chain head unknown, skipping verification")
		return report, nil
	}

	pending, err := v.selectPending(ctx, head.Height)
	if err != nil {
		return report, err
	}
	report.Selected = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	ranked, err := peers.Ranked(ctx, v.db, v.cfg.PeerSampleSize)
	if err != nil {
		return report, err
	}
	if len(ranked) < v.cfg.RequiredSuccessfulRounds {
		v.logger.Warn().
			Int("peers", len(ranked)).
			Int("required", v.cfg.RequiredSuccessfulRounds).
			Msg("not enough ranked peers to verify")
		return report, nil
	}
	addrs := make([]string, len(ranked))
	for i, p := range ranked {
		addrs[i] = p.Address
	}

	used := make(map[string]map[string]bool, len(pending))
	ids := make([]string, len(pending))
	for i, in := range pending {
		ids[i] = in.InteractionID
		used[in.InteractionID] = make(map[string]bool)
	}

	var rounds []Round
	for r := 0; r < v.cfg.MaxRounds && len(rounds) < v.cfg.RequiredSuccessfulRounds; r++ {
		round, completed := v.runRound(ctx, r, ids, addrs, used)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !completed {
			report.RoundsAbandoned++
			v.metrics.IncRoundsAbandoned()
			v.logger.Warn().Int("round", r).Dur("timeout", v.cfg.RoundTimeout).Msg("verification round abandoned")
			continue
		}
		report.RoundsCompleted++
		v.metrics.IncRoundsCompleted()
		rounds = append(rounds, round)
	}

	if len(rounds) < v.cfg.RequiredSuccessfulRounds {
		v.logger.Warn().
			Int("completed", len(rounds)).
			Int("required", v.cfg.RequiredSuccessfulRounds).
			Int("interactions", len(pending)).
			Msg("too few successful rounds, batch left unchanged")
		return report, nil
	}

	decisions := Finalize(ids, rounds, v.cfg.RequiredSuccessfulRounds)
	for _, in := range pending {
		d, ok := decisions[in.InteractionID]
		if !ok {
			continue
		}
		updated, err := v.persist(ctx, in.ID, d)
		if err != nil {
			return report, err
		}
		if updated {
			report.Finalized[d.Status]++
		}
	}

	for status, n := range report.Finalized {
		v.metrics.AddVerificationOutcomes(status, n)
	}
	v.logger.Info().
		Int("selected", report.Selected).
		Int("rounds_completed", report.RoundsCompleted).
		Int("rounds_abandoned", report.RoundsAbandoned).
		Interface("finalized", report.Finalized).
		Msg("verification pass completed")
	return report, nil
}

func (v *Verifier) selectPending(ctx context.Context, headHeight int64) ([]store.Interaction, error) {
	var pending []store.Interaction
	q := v.db.WithContext(ctx).
		Where("confirmation_status = ?", store.StatusNotProcessed).
		Where("block_height < ?", headHeight-v.cfg.MinConfirmations)
	if len(v.cfg.ForeignContracts) > 0 {
		q = q.Where("contract_id NOT IN ?", v.cfg.ForeignContracts)
	}
	err := q.Order("block_height ASC").Order("id ASC").Limit(v.cfg.BatchSize).Find(&pending).Error
	if err != nil {
		return nil, gwerrors.NewDatabaseError("failed to select pending interactions", err)
	}
	return pending, nil
}

type peerReply struct {
	id  string
	obs Observation
}

// runRound asks a fresh peer about every interaction. An interaction that has
// already been put to every ranked peer sits the round out. If the round
// timeout elapses first the round is abandoned; requests still in flight
// finish on their own and their replies are dropped.
func (v *Verifier) runRound(ctx context.Context, round int, ids []string, addrs []string, used map[string]map[string]bool) (Round, bool) {
	replies := make(chan peerReply, len(ids))
	result := make(Round, len(ids))
	waiting := 0

	requestCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		peer, ok := v.pickPeer(addrs, used[id])
		if !ok {
			continue
		}
		used[id][peer] = true
		waiting++
		go func(id, peer string) {
			replies <- peerReply{id: id, obs: v.observe(requestCtx, peer, id)}
		}(id, peer)
	}

	if waiting == 0 {
		v.logger.Debug().Int("round", round).Msg("no unused peers left for this round")
		return nil, false
	}

	timer := time.NewTimer(v.cfg.RoundTimeout)
	defer timer.Stop()
	for waiting > 0 {
		select {
		case reply := <-replies:
			result[reply.id] = reply.obs
			waiting--
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}

	v.logger.Debug().Int("round", round).Int("interactions", len(ids)).Msg("verification round completed")
	return result, true
}

func (v *Verifier) observe(ctx context.Context, peer, txID string) Observation {
	status, err := v.client.TxStatus(ctx, peer, txID)
	switch {
	case err == nil:
		return Observation{Peer: peer, Result: ResultConfirmed, Confirmations: status.NumberOfConfirmations}
	case errors.Is(err, peers.ErrTxNotFound):
		return Observation{Peer: peer, Result: ResultOrphaned}
	default:
		v.logger.Debug().Err(err).Str("peer", peer).Str("interaction_id", txID).Msg("peer status query failed")
		return Observation{Peer: peer, Result: ResultError}
	}
}

// pickPeer chooses a random peer not yet asked about this interaction.
func (v *Verifier) pickPeer(addrs []string, used map[string]bool) (string, bool) {
	candidates := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !used[a] {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[v.pick(len(candidates))], true
}

// persist writes a decision unless another pass got there first.
func (v *Verifier) persist(ctx context.Context, id uint, d Decision) (bool, error) {
	res := v.db.WithContext(ctx).
		Model(&store.Interaction{}).
		Where("id = ? AND confirmation_status = ?", id, store.StatusNotProcessed).
		Select("confirmation_status", "confirming_peers", "confirmations").
		Updates(&store.Interaction{
			ConfirmationStatus: d.Status,
			ConfirmingPeers:    d.Peers,
			Confirmations:      d.Confirmations,
		})
	if res.Error != nil {
		return false, gwerrors.NewDatabaseError("failed to persist confirmation status", res.Error).WithContext("id", id)
	}
	return res.RowsAffected == 1, nil
}
