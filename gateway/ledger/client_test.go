package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
)

type edge struct {
	Cursor string      `json:"cursor"`
	Node   Transaction `json:"node"`
}

func pageBody(hasNext bool, edges ...edge) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"transactions": map[string]any{
				"pageInfo": map[string]any{"hasNextPage": hasNext},
				"edges":    edges,
			},
		},
	}
}

func tx(id string, height int64, owner string) edge {
	return edge{
		Cursor: "cursor-" + id,
		Node: Transaction{
			ID:    id,
			Owner: Owner{Address: owner},
			Tags:  []Tag{{Name: "App-Name", Value: "SmartWeaveAction"}, {Name: "Contract", Value: "c1"}},
			Block: Block{Height: height, ID: "block", Timestamp: 1700000000},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		NodeURL:          url,
		GraphQLURL:       url + "/graphql",
		PageSize:         2,
		RateLimitBackoff: 10 * time.Millisecond,
		Timeout:          time.Second,
	}, zerolog.Nop())
}

var filters = []TagFilter{{Name: "App-Name", Values: []string{"SmartWeaveAction"}}}

func TestLoad_RateLimitRetriesSamePage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, pageBody(false, tx("a", 1, "o1"), tx("b", 2, "o2")))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	var retries int32
	client.OnRateLimited(func() { atomic.AddInt32(&retries, 1) })

	txs, err := client.Load(context.Background(), filters, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&retries))
	require.Len(t, txs, 2)
	assert.Equal(t, "a", txs[0].ID)
	assert.Equal(t, "b", txs[1].ID)
}

func TestLoad_PaginationDedupKeepsFirst(t *testing.T) {
	var afters []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		afters = append(afters, req.Variables["after"])

		if req.Variables["after"] == nil {
			writeJSON(w, http.StatusOK, pageBody(true, tx("a", 1, "first-owner"), tx("x", 2, "o")))
			return
		}
		writeJSON(w, http.StatusOK, pageBody(false, tx("a", 3, "second-owner"), tx("c", 4, "o")))
	}))
	defer srv.Close()

	txs, err := newTestClient(srv.URL).Load(context.Background(), filters, 1, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"a", "x", "c"}, ids)
	assert.Equal(t, "first-owner", txs[0].Owner.Address)
	assert.Equal(t, int64(1), txs[0].Block.Height)
	assert.Equal(t, []any{nil, "cursor-x"}, afters)
}

func TestLoad_SkipsNestedTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bundled := tx("bundled", 1, "o")
		bundled.Node.BundledIn = &Ref{ID: "bundle"}
		child := tx("child", 1, "o")
		child.Node.Parent = &Ref{ID: "parent"}
		writeJSON(w, http.StatusOK, pageBody(false, bundled, child, tx("top", 1, "o")))
	}))
	defer srv.Close()

	txs, err := newTestClient(srv.URL).Load(context.Background(), filters, 1, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "top", txs[0].ID)
}

func TestLoad_Failures(t *testing.T) {
	t.Run("non success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Load(context.Background(), filters, 1, 1)
		require.Error(t, err)
		assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeUpstream))
	})

	t.Run("payload errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]string{{"message": "bad query"}}})
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Load(context.Background(), filters, 1, 1)
		require.ErrorContains(t, err, "bad query")
	})

	t.Run("rate limited until cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := newTestClient(srv.URL).Load(ctx, filters, 1, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNodeEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, NetworkInfo{Network: "test.N.1", Height: 1500, Current: "blk-1500", Blocks: 1501})
	})
	mux.HandleFunc("/block/hash/blk-1500", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, BlockInfo{IndepHash: "blk-1500", Height: 1500, Timestamp: 1700000123})
	})
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{"1.1.1.1:1984", "2.2.2.2:1984"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	info, err := client.NetworkInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), info.Height)
	assert.Equal(t, "blk-1500", info.Current)

	block, err := client.Block(ctx, info.Current)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000123), block.Timestamp)

	peers, err := client.Peers(ctx)
	require.NoError(t, err)
	assert.Len(t, peers, 2)

	_, err = client.Block(ctx, "missing")
	assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeUpstream))
}

func TestNodeURL(t *testing.T) {
	assert.Equal(t, "http://1.2.3.4:1984", NodeURL("1.2.3.4:1984"))
	assert.Equal(t, "https://node.example", NodeURL("https://node.example/"))
}
