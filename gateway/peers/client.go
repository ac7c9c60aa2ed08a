// Package peers ranks ledger network peers and queries them for
// transaction status.
package peers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/ledger"
)

// ErrTxNotFound is returned when a peer does not know a transaction.
var ErrTxNotFound = errors.New("transaction not found on peer")

// TxStatus is a peer's /tx/{id}/status response.
type TxStatus struct {
	BlockHeight           int64  `json:"block_height"`
	BlockIndepHash        string `json:"block_indep_hash"`
	NumberOfConfirmations int64  `json:"number_of_confirmations"`
}

// Client queries individual peers.
type Client interface {
	Info(ctx context.Context, addr string) (ledger.NetworkInfo, error)
	TxStatus(ctx context.Context, addr, txID string) (TxStatus, error)
}

// HTTPClient is the resty-backed Client.
type HTTPClient struct {
	http *resty.Client
}

// NewHTTPClient creates a peer client; timeout bounds every request.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	c := resty.New().SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPClient{http: c}
}

func (c *HTTPClient) Info(ctx context.Context, addr string) (ledger.NetworkInfo, error) {
	var info ledger.NetworkInfo
	res, err := c.http.R().SetContext(ctx).SetResult(&info).Get(ledger.NodeURL(addr) + "/info")
	if err != nil {
		return ledger.NetworkInfo{}, gwerrors.NewNetworkError("peer info request failed", err).WithContext("peer", addr)
	}
	if !res.IsSuccess() {
		return ledger.NetworkInfo{}, gwerrors.NewUpstreamError(fmt.Sprintf("peer info returned status %d", res.StatusCode())).
			WithContext("peer", addr)
	}
	return info, nil
}

func (c *HTTPClient) TxStatus(ctx context.Context, addr, txID string) (TxStatus, error) {
	var status TxStatus
	res, err := c.http.R().SetContext(ctx).SetResult(&status).Get(ledger.NodeURL(addr) + "/tx/" + txID + "/status")
	if err != nil {
		return TxStatus{}, gwerrors.NewNetworkError("peer status request failed", err).WithContext("peer", addr)
	}
	switch {
	case res.StatusCode() == http.StatusNotFound:
		return TxStatus{}, ErrTxNotFound
	case res.StatusCode() != http.StatusOK:
		return TxStatus{}, gwerrors.NewUpstreamError(fmt.Sprintf("peer status returned status %d", res.StatusCode())).
			WithContext("peer", addr)
	}
	return status, nil
}
