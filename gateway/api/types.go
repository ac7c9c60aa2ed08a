package api

import "time"

// QueryResponse represents the standard query response format
type QueryResponse struct {
	Data        interface{} `json:"data"`
	LastFetched time.Time   `json:"last_fetched"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// InteractionResponse is returned for an accepted interaction.
type InteractionResponse struct {
	ID              string  `json:"id"`
	ContractID      string  `json:"contract_id"`
	SortKey         string  `json:"sort_key"`
	PreviousSortKey *string `json:"previous_sort_key"`
	BlockHeight     int64   `json:"block_height"`
	BlockID         string  `json:"block_id"`
}

// LastSortKeyResponse carries a contract's newest sort key, null if it has none.
type LastSortKeyResponse struct {
	ContractID  string  `json:"contract_id"`
	LastSortKey *string `json:"last_sort_key"`
}

type ChainHeadResponse struct {
	Height         int64     `json:"height"`
	BlockID        string    `json:"block_id"`
	BlockTimestamp int64     `json:"block_timestamp"`
	UpdatedAt      time.Time `json:"updated_at"`
}
