package quote

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the fixed-point scale used across the deployment.
const DefaultDecimals uint8 = 8

// Source identifies which upstream produced a quote.
type Source string

const (
	SourceCoinGecko Source = "coingecko"
	SourceOracle    Source = "oracle"
	SourceSimulated Source = "simulated"
)

// PriceQuote is the canonical reading for one symbol in one cycle.
// Immutable once produced; Price is a non-negative fixed-point integer.
// SourceAddress is the hex address of the upstream contract the reading
// came from; empty for off-chain sources, in which case the publisher
// records its own writer address.
type PriceQuote struct {
	Symbol        string
	Price         int64
	Decimals      uint8
	Timestamp     int64
	Source        Source
	SourceAddress string
}

// At returns the quote timestamp as a time.Time.
func (q PriceQuote) At() time.Time {
	return time.Unix(q.Timestamp, 0).UTC()
}

// Validate checks the invariants a quote must satisfy before publishing.
func (q PriceQuote) Validate() error {
	if q.Symbol == "" {
		return errors.New("quote symbol is empty")
	}
	if q.Price < 0 {
		return fmt.Errorf("quote price for %s is negative", q.Symbol)
	}
	if q.Timestamp <= 0 {
		return fmt.Errorf("quote timestamp for %s is not set", q.Symbol)
	}
	return nil
}

// Format renders a fixed-point integer price as a decimal string at the
// given scale. Format and Parse round-trip exactly.
func Format(price int64, decimals uint8) string {
	return decimal.New(price, -int32(decimals)).String()
}

// FormatDisplay renders a price truncated to two fractional digits for
// human-facing output. Lossy: sub-cent precision is dropped.
func FormatDisplay(price int64, decimals uint8) string {
	return decimal.New(price, -int32(decimals)).Truncate(2).StringFixed(2)
}

// Parse converts a decimal price string back into a fixed-point integer at
// the given scale. Fractional digits beyond the scale are an error.
func Parse(s string, decimals uint8) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("price %q exceeds %d decimal places", s, decimals)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %q overflows fixed-point range", s)
	}
	return shifted.IntPart(), nil
}
