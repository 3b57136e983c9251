package aggregator

import (
	"context"

	"github.com/rs/zerolog"

	"price-oracle-feed/internal/fetcher"
	"price-oracle-feed/internal/quote"
)

// Aggregator merges the primary and secondary source clients into one
// canonical quote per symbol per cycle.
type Aggregator struct {
	primary   fetcher.PriceFetcher
	secondary fetcher.PriceFetcher
	logger    zerolog.Logger
}

// New constructs an Aggregator. secondary may be nil when no fallback
// source is configured.
func New(primary, secondary fetcher.PriceFetcher, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// Aggregate queries the primary source for all symbols in one batched call,
// then asks the secondary source only for symbols still missing. The
// primary always wins when both answer; a symbol neither source resolves is
// silently omitted.
func (a *Aggregator) Aggregate(ctx context.Context, symbols []string) map[string]quote.PriceQuote {
	out := make(map[string]quote.PriceQuote, len(symbols))

	primary, err := a.primary.FetchPrices(ctx, symbols)
	if err != nil {
		a.logger.Error().Err(err).Msg("primary source failed this cycle")
	}
	for symbol, point := range primary {
		out[symbol] = a.toQuote(symbol, point, a.primary)
	}

	missing := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if _, ok := out[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) == 0 || a.secondary == nil {
		return out
	}

	secondary, err := a.secondary.FetchPrices(ctx, missing)
	if err != nil {
		a.logger.Error().Err(err).Msg("secondary source failed this cycle")
		return out
	}
	for symbol, point := range secondary {
		out[symbol] = a.toQuote(symbol, point, a.secondary)
	}

	for _, symbol := range symbols {
		if _, ok := out[symbol]; !ok {
			a.logger.Debug().Str("symbol", symbol).Msg("no source resolved symbol this cycle")
		}
	}
	return out
}

func (a *Aggregator) toQuote(symbol string, point fetcher.PricePoint, source fetcher.PriceFetcher) quote.PriceQuote {
	return quote.PriceQuote{
		Symbol:        symbol,
		Price:         point.Price,
		Decimals:      quote.DefaultDecimals,
		Timestamp:     point.Timestamp,
		Source:        source.Source(),
		SourceAddress: source.SourceAddress(),
	}
}
