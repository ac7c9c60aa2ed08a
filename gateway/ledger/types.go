package ledger

import "strings"

// Tag is a name/value pair attached to a ledger transaction.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TagFilter matches transactions carrying tag Name with any of Values.
type TagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Block locates a transaction in the chain.
type Block struct {
	Height    int64  `json:"height"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Owner of a transaction.
type Owner struct {
	Address string `json:"address"`
	Key     string `json:"key,omitempty"`
}

// Ref points at another transaction.
type Ref struct {
	ID string `json:"id"`
}

// Transaction is one raw ledger record as returned by the query endpoint.
type Transaction struct {
	ID        string `json:"id"`
	Owner     Owner  `json:"owner"`
	Recipient string `json:"recipient"`
	Tags      []Tag  `json:"tags"`
	Block     Block  `json:"block"`
	Parent    *Ref   `json:"parent"`
	BundledIn *Ref   `json:"bundledIn"`
}

// TagValue returns the value of the first tag called name.
func (t Transaction) TagValue(name string) (string, bool) {
	for _, tag := range t.Tags {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// TopLevel reports whether the transaction is not wrapped inside another one.
func (t Transaction) TopLevel() bool {
	return (t.Parent == nil || t.Parent.ID == "") && (t.BundledIn == nil || t.BundledIn.ID == "")
}

// NetworkInfo is the subset of a node's /info response the gateway uses.
type NetworkInfo struct {
	Network string `json:"network"`
	Height  int64  `json:"height"`
	Current string `json:"current"`
	Blocks  int64  `json:"blocks"`
	Peers   int64  `json:"peers"`
}

// BlockInfo is a node's /block response.
type BlockInfo struct {
	IndepHash string `json:"indep_hash"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// NodeURL normalizes a peer address ("host:port") into a base URL.
func NodeURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type transactionsPage struct {
	Data struct {
		Transactions struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Edges []struct {
				Cursor string      `json:"cursor"`
				Node   Transaction `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

const transactionsQuery = `query Transactions($tags: [TagFilter!]!, $blockFilter: BlockFilter!, $first: Int!, $after: String) {
  transactions(tags: $tags, block: $blockFilter, first: $first, sort: HEIGHT_ASC, after: $after) {
    pageInfo { hasNextPage }
    edges {
      cursor
      node {
        id
        owner { address key }
        recipient
        tags { name value }
        block { height id timestamp }
        parent { id }
        bundledIn { id }
      }
    }
  }
}`
