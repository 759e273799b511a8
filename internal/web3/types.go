package web3

import "context"

// ChainSnapshot represents summarized network metadata for status output.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	BlockTime   int64  `json:"block_time"`
	Notes       string `json:"notes,omitempty"`
}

// Client is the subset of chain access the market depends on.
type Client interface {
	// HeadTime returns the unix timestamp of the latest block.
	HeadTime(ctx context.Context) (int64, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
