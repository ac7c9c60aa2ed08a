package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/interaction-gateway/gateway/config"
	"github.com/pushchain/interaction-gateway/gateway/ledger"
	"github.com/pushchain/interaction-gateway/gateway/sequencer"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ledgerNode serves the endpoints of a single ledger node that is also its
// own only peer.
func ledgerNode(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ledger.NetworkInfo{Network: "test", Height: 100, Current: "blk-100", Blocks: 101})
	})
	mux.HandleFunc("/block/hash/blk-100", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ledger.BlockInfo{IndepHash: "blk-100", Height: 100, Timestamp: 1700000100})
	})
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []string{strings.TrimPrefix(srv.URL, "http://")})
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": map[string]any{
				"transactions": map[string]any{
					"pageInfo": map[string]any{"hasNextPage": false},
					"edges": []map[string]any{{
						"cursor": "c-1",
						"node": map[string]any{
							"id":    "settled-1",
							"owner": map[string]any{"address": "alice"},
							"tags": []map[string]any{
								{"name": "App-Name", "value": "SmartWeaveAction"},
								{"name": "Contract", "value": "contract-1"},
								{"name": "Input", "value": `{"function":"transfer"}`},
							},
							"block": map[string]any{"height": 90, "id": "blk-90", "timestamp": 1700000090},
						},
					}},
				},
			},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, nodeURL string) config.Config {
	loaded, err := config.LoadDefaultConfig()
	require.NoError(t, err)
	cfg := *loaded
	cfg.Database = config.DatabaseConfig{Driver: config.DriverSQLite, DSN: ":memory:", MigrateOnStart: true}
	cfg.LedgerNodeURL = nodeURL
	cfg.LedgerGraphQLURL = nodeURL + "/graphql"
	cfg.QueryServerPort = 0
	cfg.ProcessSecret = ""
	return cfg
}

func TestGateway_EndToEnd(t *testing.T) {
	node := ledgerNode(t)
	ctx := context.Background()

	g, err := New(ctx, testConfig(t, node.URL), zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	defer g.Stop()

	_, ok := g.ChainHead()
	assert.False(t, ok)

	_, err = g.AcceptIncoming(ctx, sequencer.IncomingTransaction{
		ID:   "incoming-0",
		Tags: []ledger.Tag{{Name: sequencer.TagContract, Value: "contract-1"}},
	})
	require.Error(t, err, "incoming transactions need a chain head")

	require.NoError(t, g.RefreshChainHead(ctx))
	head, ok := g.ChainHead()
	require.True(t, ok)
	assert.Equal(t, int64(100), head.Height)
	assert.Equal(t, "blk-100", head.BlockID)

	result, err := g.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Admitted)
	assert.Equal(t, int64(100), result.To)

	created, err := g.AcceptIncoming(ctx, sequencer.IncomingTransaction{
		ID:    "incoming-1",
		Owner: "bob",
		Tags: []ledger.Tag{
			{Name: sequencer.TagContract, Value: "contract-1"},
			{Name: sequencer.TagInput, Value: `{"function":"mint"}`},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), created.BlockHeight)
	assert.Equal(t, store.SourceGateway, created.Source)
	require.NotNil(t, created.PreviousSortKey)

	last, err := g.LastSortKey(ctx, "contract-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, created.SortKey, *last)

	summary, err := g.RankPeers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Active)
	ranked, err := g.RankedPeers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(101), ranked[0].BlocksStored)
}

func TestGateway_StartStop(t *testing.T) {
	node := ledgerNode(t)
	g, err := New(context.Background(), testConfig(t, node.URL), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, ok := g.ChainHead()
		return ok
	}, 5*time.Second, 10*time.Millisecond, "network-info runs on start")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.NoError(t, g.Stop(), "second stop is a no-op")
}

func TestGateway_ReplicaConfigMismatch(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Replicas.Drivers = []string{config.DriverSQLite}
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "must pair up")
}

func TestGateway_WithReplica(t *testing.T) {
	node := ledgerNode(t)
	cfg := testConfig(t, node.URL)
	cfg.Replicas.Drivers = []string{config.DriverSQLite}
	cfg.Replicas.DSNs = []string{":memory:"}
	ctx := context.Background()

	g, err := New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer g.Stop()
	require.Len(t, g.secondaries, 1)

	require.NoError(t, g.RefreshChainHead(ctx))
	_, err = g.AcceptIncoming(ctx, sequencer.IncomingTransaction{
		ID:   "incoming-1",
		Tags: []ledger.Tag{{Name: sequencer.TagContract, Value: "contract-1"}},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var count int64
		require.NoError(t, g.secondaries[0].Client().Model(&store.Interaction{}).Count(&count).Error)
		return count == 1
	}, 2*time.Second, 10*time.Millisecond, "replica holds a copy")
}
