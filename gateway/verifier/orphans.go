package verifier

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/peers"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

const orphanSweepConcurrency = 10

// SweepOrphans re-checks orphaned interactions with a peer that did not take
// part in the orphan decision. Those now reported with enough confirmations
// go back to not_processed. Returns the number reclassified.
func (v *Verifier) SweepOrphans(ctx context.Context) (int, error) {
	var orphans []store.Interaction
	err := v.db.WithContext(ctx).
		Where("confirmation_status = ?", store.StatusOrphaned).
		Order("id ASC").
		Limit(v.cfg.OrphanSweepBatchSize).
		Find(&orphans).Error
	if err != nil {
		return 0, gwerrors.NewDatabaseError("failed to select orphaned interactions", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	ranked, err := peers.Ranked(ctx, v.db, v.cfg.PeerSampleSize)
	if err != nil {
		return 0, err
	}
	addrs := make([]string, len(ranked))
	for i, p := range ranked {
		addrs[i] = p.Address
	}

	// The peer picker is not safe for concurrent use.
	assigned := make([]string, len(orphans))
	for i, in := range orphans {
		excluded := make(map[string]bool, len(in.ConfirmingPeers))
		for _, p := range in.ConfirmingPeers {
			excluded[p] = true
		}
		if peer, ok := v.pickPeer(addrs, excluded); ok {
			assigned[i] = peer
		}
	}

	var reclassified int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orphanSweepConcurrency)
	for i, in := range orphans {
		peer := assigned[i]
		if peer == "" {
			continue
		}
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, v.cfg.RoundTimeout)
			defer cancel()

			status, err := v.client.TxStatus(reqCtx, peer, in.InteractionID)
			if err != nil || status.NumberOfConfirmations < v.cfg.MinConfirmations {
				return nil
			}

			res := v.db.WithContext(gctx).
				Model(&store.Interaction{}).
				Where("id = ? AND confirmation_status = ?", in.ID, store.StatusOrphaned).
				Select("confirmation_status", "confirming_peers", "confirmations").
				Updates(&store.Interaction{
					ConfirmationStatus: store.StatusNotProcessed,
					ConfirmingPeers:    []string{},
					Confirmations:      []int64{},
				})
			if res.Error != nil {
				return gwerrors.NewDatabaseError("failed to reclassify orphan", res.Error).WithContext("id", in.ID)
			}
			if res.RowsAffected == 1 {
				atomic.AddInt64(&reclassified, 1)
				v.logger.Info().
					Str("interaction_id", in.InteractionID).
					Str("peer", peer).
					Int64("confirmations", status.NumberOfConfirmations).
					Msg("orphaned interaction returned to verification")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(reclassified), err
	}

	v.metrics.AddOrphansReclassified(int(reclassified))
	return int(reclassified), nil
}
