package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-oracle-feed/internal/quote"
)

const simplePricePath = "/simple/price"

// CoinGeckoOptions parameterise the primary price source.
type CoinGeckoOptions struct {
	BaseURL    string
	APIKeys    []string
	IDBySymbol map[string]string
	Timeout    time.Duration
	UserAgent  string
}

// CoinGecko fetches spot prices from the CoinGecko simple/price endpoint,
// rotating API keys according to their credential health.
type CoinGecko struct {
	opts    CoinGeckoOptions
	keyring *Keyring
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs the primary source client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		keyring: NewKeyring(opts.APIKeys),
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Source reports the provider tag applied to quotes from this client.
func (c *CoinGecko) Source() quote.Source {
	return quote.SourceCoinGecko
}

// SourceAddress is empty: CoinGecko readings have no on-chain provenance.
func (c *CoinGecko) SourceAddress() string {
	return ""
}

// FetchPrices retrieves prices for all requested symbols in one batched
// call. Symbols without a configured CoinGecko ID, or absent from the
// response, are simply missing from the result map. A 429 response marks
// the credential rate limited and retries with the next eligible key; the
// final attempt goes against the unauthenticated public endpoint.
func (c *CoinGecko) FetchPrices(ctx context.Context, symbols []string) (map[string]PricePoint, error) {
	ids := make([]string, 0, len(symbols))
	symbolByID := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		id, ok := c.opts.IDBySymbol[symbol]
		if !ok {
			c.logger.Debug().Str("symbol", symbol).Msg("no coingecko id configured; skipping")
			continue
		}
		ids = append(ids, id)
		symbolByID[id] = symbol
	}
	if len(ids) == 0 {
		return map[string]PricePoint{}, nil
	}

	for attempt := 0; attempt < c.keyring.Len(); attempt++ {
		key, ok := c.keyring.Next()
		if !ok {
			break
		}
		out, rateLimited, err := c.fetchOnce(ctx, ids, symbolByID, key)
		if err != nil {
			return nil, err
		}
		if rateLimited {
			c.logger.Warn().Int("attempt", attempt+1).Msg("credential rate limited; rotating")
			continue
		}
		return out, nil
	}

	// Every key is exhausted or cooling down: one last try without auth.
	out, rateLimited, err := c.fetchOnce(ctx, ids, symbolByID, "")
	if err != nil {
		return nil, err
	}
	if rateLimited {
		return nil, errors.New("coingecko: rate limited on all credentials and public endpoint")
	}
	return out, nil
}

func (c *CoinGecko) fetchOnce(ctx context.Context, ids []string, symbolByID map[string]string, key string) (map[string]PricePoint, bool, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	if key != "" {
		query.Set("x_cg_demo_api_key", key)
	}

	endpoint := c.baseURL + simplePricePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "oraclefeed/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.markFailure(key)
		return nil, false, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if key != "" {
			c.keyring.MarkRateLimited(key)
		}
		return nil, true, nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.markFailure(key)
		return nil, false, fmt.Errorf("coingecko read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.markFailure(key)
		return nil, false, fmt.Errorf("coingecko api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(payload, &parsed); err != nil {
		c.markFailure(key)
		return nil, false, fmt.Errorf("coingecko decode: %w", err)
	}

	if key != "" {
		c.keyring.MarkSuccess(key)
	}

	now := time.Now().Unix()
	out := make(map[string]PricePoint, len(parsed))
	for id, prices := range parsed {
		symbol, ok := symbolByID[id]
		if !ok {
			continue
		}
		usd, ok := prices["usd"]
		if !ok {
			continue
		}
		raw := usd.Shift(int32(quote.DefaultDecimals)).IntPart()
		if raw < 0 {
			c.logger.Warn().Str("symbol", symbol).Str("price", usd.String()).Msg("negative price dropped")
			continue
		}
		out[symbol] = PricePoint{Price: raw, Timestamp: now}
	}
	return out, false, nil
}

func (c *CoinGecko) markFailure(key string) {
	if key != "" {
		c.keyring.MarkFailure(key)
	}
}

var _ PriceFetcher = (*CoinGecko)(nil)
