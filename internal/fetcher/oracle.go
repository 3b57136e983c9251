package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-oracle-feed/internal/quote"
)

const oracleABIJSON = `[{"inputs":[{"internalType":"string","name":"key","type":"string"}],"name":"getValue","outputs":[{"internalType":"uint128","name":"price","type":"uint128"},{"internalType":"uint128","name":"timestamp","type":"uint128"}],"stateMutability":"view","type":"function"}]`

var oracleABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		panic("failed to parse oracle ABI: " + err.Error())
	}
	oracleABI = parsed
}

// OracleOptions parameterise the secondary on-chain source.
type OracleOptions struct {
	Enabled         bool
	RPCURL          string
	ContractAddress string
	Timeout         time.Duration
	MaxInflight     int
}

// Oracle reads prices from a fixed on-chain key-value contract. The
// contract stores 8-decimal fixed-point values; a zero price means the
// symbol is unsupported or unset.
type Oracle struct {
	opts      OracleOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOracle builds the secondary source client.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	return &Oracle{opts: opts, logger: logger.With().Str("component", "oracle_fetcher").Logger()}
}

// Source reports the provider tag applied to quotes from this client.
func (o *Oracle) Source() quote.Source {
	return quote.SourceOracle
}

// SourceAddress reports the oracle contract the readings come from.
func (o *Oracle) SourceAddress() string {
	return o.opts.ContractAddress
}

// FetchPrices reads each symbol's value from the oracle contract. Disabled
// clients return an empty map; symbols with a zero stored price are omitted.
func (o *Oracle) FetchPrices(ctx context.Context, symbols []string) (map[string]PricePoint, error) {
	if !o.opts.Enabled {
		return map[string]PricePoint{}, nil
	}
	if o.opts.RPCURL == "" {
		return nil, errors.New("oracle rpc url not configured")
	}
	if o.opts.ContractAddress == "" {
		return nil, errors.New("oracle contract address not configured")
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(o.opts.ContractAddress)

	inflight := o.opts.MaxInflight
	if inflight <= 0 {
		inflight = 4
	}

	var mu sync.Mutex
	out := make(map[string]PricePoint, len(symbols))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(inflight)
	for _, symbol := range symbols {
		group.Go(func() error {
			point, ok, err := o.readValue(ctx, client, addr, symbol)
			if err != nil {
				// A single unreadable symbol is absence, not failure.
				o.logger.Warn().Err(err).Str("symbol", symbol).Msg("oracle read failed")
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			out[symbol] = point
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Oracle) readValue(ctx context.Context, client *ethclient.Client, addr common.Address, symbol string) (PricePoint, bool, error) {
	payload, err := oracleABI.Pack("getValue", symbol)
	if err != nil {
		return PricePoint{}, false, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return PricePoint{}, false, err
	}

	outputs, err := oracleABI.Unpack("getValue", res)
	if err != nil {
		return PricePoint{}, false, err
	}
	if len(outputs) != 2 {
		return PricePoint{}, false, errors.New("unexpected getValue response")
	}

	price, ok := outputs[0].(*big.Int)
	if !ok {
		return PricePoint{}, false, errors.New("failed to decode oracle price")
	}
	ts, ok := outputs[1].(*big.Int)
	if !ok {
		return PricePoint{}, false, errors.New("failed to decode oracle timestamp")
	}

	if price.Sign() == 0 {
		// Zero means unsupported/unset for this key.
		return PricePoint{}, false, nil
	}
	if !price.IsInt64() || !ts.IsInt64() {
		return PricePoint{}, false, errors.New("oracle value out of range")
	}

	return PricePoint{Price: price.Int64(), Timestamp: ts.Int64()}, true, nil
}

func (o *Oracle) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ PriceFetcher = (*Oracle)(nil)
