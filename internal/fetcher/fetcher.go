package fetcher

import (
	"context"

	"oi-signals/internal/marketdata"
)

// OptionChainFetcher retrieves a full option chain snapshot for one symbol. It must
// fail with marketdata.ErrUpstreamUnavailable rather than return an empty chain
// when upstream cannot be reached.
type OptionChainFetcher interface {
	FetchOptionChain(ctx context.Context, symbol string) (marketdata.OptionChain, error)
}

// IndexFetcher retrieves constituent weights and live quotes for a broad index.
type IndexFetcher interface {
	FetchConstituents(ctx context.Context, index string) ([]marketdata.Constituent, error)
	FetchLivePrices(ctx context.Context, index string) ([]marketdata.LivePrice, error)
}
