// Package ledger talks to the upstream ledger node: the paginated GraphQL
// transaction query used by sync, the node's /info and block endpoints, and
// its peer list.
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
)

// Config for the ledger client.
type Config struct {
	NodeURL          string
	GraphQLURL       string
	PageSize         int
	RateLimitBackoff time.Duration
	Timeout          time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	http    *resty.Client
	cfg     Config
	logger  zerolog.Logger
	onRetry func()
}

// NewClient creates a ledger client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = strings.TrimRight(cfg.NodeURL, "/") + "/graphql"
	}
	httpClient := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}
	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger.With().Str("component", "ledger_client").Logger(),
	}
}

// OnRateLimited registers a hook called before each rate-limited retry.
func (c *Client) OnRateLimited(fn func()) {
	c.onRetry = fn
}

// Load returns all top-level transactions matching filters with block height
// in [from, to], in the order the endpoint returned them. A 403 response is
// retried for the same page after the configured backoff, without limit. Any
// other failure aborts the whole load. Transactions seen twice keep their
// first occurrence.
func (c *Client) Load(ctx context.Context, filters []TagFilter, from, to int64) ([]Transaction, error) {
	var (
		result []Transaction
		seen   = make(map[string]struct{})
		cursor string
		page   int
	)

	for {
		page++
		resp, err := c.fetchPage(ctx, filters, from, to, cursor)
		if err != nil {
			return nil, err
		}

		edges := resp.Data.Transactions.Edges
		for _, edge := range edges {
			tx := edge.Node
			if !tx.TopLevel() {
				continue
			}
			if _, dup := seen[tx.ID]; dup {
				c.logger.Warn().
					Str("interaction_id", tx.ID).
					Int64("block_height", tx.Block.Height).
					Int("page", page).
					Msg("duplicate transaction in query result, keeping first occurrence")
				continue
			}
			seen[tx.ID] = struct{}{}
			result = append(result, tx)
		}

		if !resp.Data.Transactions.PageInfo.HasNextPage || len(edges) == 0 {
			break
		}
		cursor = edges[len(edges)-1].Cursor
	}

	c.logger.Debug().
		Int64("from", from).
		Int64("to", to).
		Int("pages", page).
		Int("transactions", len(result)).
		Msg("ledger range loaded")
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, filters []TagFilter, from, to int64, cursor string) (*transactionsPage, error) {
	vars := map[string]any{
		"tags":        filters,
		"blockFilter": map[string]int64{"min": from, "max": to},
		"first":       c.cfg.PageSize,
	}
	if cursor != "" {
		vars["after"] = cursor
	}
	body := graphqlRequest{Query: transactionsQuery, Variables: vars}

	for {
		var page transactionsPage
		res, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&page).
			Post(c.cfg.GraphQLURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, gwerrors.NewNetworkError("ledger query failed", err)
		}

		switch res.StatusCode() {
		case http.StatusOK:
		case http.StatusForbidden:
			c.logger.Warn().
				Dur("backoff", c.cfg.RateLimitBackoff).
				Str("cursor", cursor).
				Msg("ledger query rate limited, retrying page")
			if c.onRetry != nil {
				c.onRetry()
			}
			if err := sleep(ctx, c.cfg.RateLimitBackoff); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, gwerrors.NewUpstreamError(fmt.Sprintf("ledger query returned status %d", res.StatusCode())).
				WithContext("body", truncate(res.String(), 256))
		}

		if len(page.Errors) > 0 {
			return nil, gwerrors.NewUpstreamError("ledger query reported errors: " + page.Errors[0].Message).
				WithContext("errors", len(page.Errors))
		}
		return &page, nil
	}
}

// NetworkInfo fetches the node's /info.
func (c *Client) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var info NetworkInfo
	if err := c.getJSON(ctx, c.nodeURL("/info"), &info); err != nil {
		return NetworkInfo{}, err
	}
	return info, nil
}

// Block fetches a block by its independent hash.
func (c *Client) Block(ctx context.Context, id string) (BlockInfo, error) {
	var block BlockInfo
	if err := c.getJSON(ctx, c.nodeURL("/block/hash/"+id), &block); err != nil {
		return BlockInfo{}, err
	}
	return block, nil
}

// Peers returns the node's current peer list.
func (c *Client) Peers(ctx context.Context) ([]string, error) {
	var peers []string
	if err := c.getJSON(ctx, c.nodeURL("/peers"), &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	res, err := c.http.R().SetContext(ctx).SetResult(out).Get(url)
	if err != nil {
		return gwerrors.NewNetworkError("ledger node request failed", err).WithContext("url", url)
	}
	if res.StatusCode() == http.StatusForbidden || res.StatusCode() == http.StatusTooManyRequests {
		return gwerrors.New(gwerrors.ErrCodeRateLimited, "ledger node rate limited", nil).WithContext("url", url)
	}
	if !res.IsSuccess() {
		return gwerrors.NewUpstreamError(fmt.Sprintf("ledger node returned status %d", res.StatusCode())).WithContext("url", url)
	}
	return nil
}

func (c *Client) nodeURL(path string) string {
	return strings.TrimRight(c.cfg.NodeURL, "/") + path
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
