package api

import (
	"context"

	"github.com/pushchain/interaction-gateway/gateway/cache"
	"github.com/pushchain/interaction-gateway/gateway/sequencer"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// GatewayInterface defines the methods needed by the API server
type GatewayInterface interface {
	AcceptIncoming(ctx context.Context, in sequencer.IncomingTransaction) (*store.Interaction, error)
	LastSortKey(ctx context.Context, contractID string) (*string, error)
	RankedPeers(ctx context.Context, limit int) ([]store.Peer, error)
	ChainHead() (cache.ChainHead, bool)
}
