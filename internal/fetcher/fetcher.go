package fetcher

import (
	"context"

	"price-oracle-feed/internal/quote"
)

// PricePoint is one provider's reading for a symbol: a fixed-point price at
// quote.DefaultDecimals and the unix second it was observed.
type PricePoint struct {
	Price     int64
	Timestamp int64
}

// PriceFetcher retrieves a batch of prices. Symbols the provider cannot
// resolve are absent from the result map; an error means the whole call
// failed. Partial failure is never an error. SourceAddress is the hex
// address of the provider's on-chain contract, or empty for off-chain
// providers.
type PriceFetcher interface {
	Source() quote.Source
	SourceAddress() string
	FetchPrices(ctx context.Context, symbols []string) (map[string]PricePoint, error)
}
