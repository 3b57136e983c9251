package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"price-oracle-feed/internal/quote"
)

const feedABIJSON = `[{"inputs":[{"internalType":"string","name":"symbol","type":"string"},{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint8","name":"decimals","type":"uint8"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"string","name":"source","type":"string"},{"internalType":"address","name":"sourceAddress","type":"address"}],"name":"setPrice","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"uint256","name":"alertId","type":"uint256"},{"internalType":"string","name":"symbol","type":"string"},{"internalType":"uint256","name":"price","type":"uint256"}],"name":"emitAlertTriggered","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var feedABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(feedABIJSON))
	if err != nil {
		panic("failed to parse feed ABI: " + err.Error())
	}
	feedABI = parsed
}

// Options parameterise the ledger write client.
type Options struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	GasLimit        uint64
	GasMultiplier   float64
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// WriteHandle identifies one submitted ledger write awaiting confirmation.
type WriteHandle struct {
	TxHash common.Hash
	Nonce  uint64
}

// Client signs and submits writes to the feed contract through the single
// writer identity.
type Client struct {
	opts       Options
	logger     zerolog.Logger
	privateKey *ecdsa.PrivateKey
	wallet     common.Address
	contract   common.Address
	chainID    *big.Int

	rpc    *ethclient.Client
	rpcMux sync.Mutex
}

// NewClient parses the writer's signing credential and prepares the client.
// A missing or malformed private key is a startup-fatal error.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}
	if opts.ContractAddress == "" {
		return nil, errors.New("ledger contract address not configured")
	}

	pkHex := strings.TrimPrefix(opts.PrivateKey, "0x")
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("parse writer private key: %w", err)
	}

	if opts.GasLimit == 0 {
		opts.GasLimit = 200_000
	}
	if opts.GasMultiplier <= 0 {
		opts.GasMultiplier = 1.1
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	return &Client{
		opts:       opts,
		logger:     logger.With().Str("component", "ledger_client").Logger(),
		privateKey: pk,
		wallet:     crypto.PubkeyToAddress(pk.PublicKey),
		contract:   common.HexToAddress(opts.ContractAddress),
		chainID:    big.NewInt(opts.ChainID),
	}, nil
}

// WalletAddress returns the writer identity's address.
func (c *Client) WalletAddress() common.Address {
	return c.wallet
}

// PublishPrice submits a setPrice write (stores the quote and emits an
// event) for one canonical quote.
func (c *Client) PublishPrice(ctx context.Context, q quote.PriceQuote) (*WriteHandle, error) {
	data, err := c.encodeSetPrice(q)
	if err != nil {
		return nil, err
	}
	return c.sendTx(ctx, data)
}

// encodeSetPrice packs the full quote provenance: a quote from an on-chain
// source carries that contract's address, everything else is attributed to
// the writer wallet.
func (c *Client) encodeSetPrice(q quote.PriceQuote) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("encode quote: %w", err)
	}
	sourceAddr := c.wallet
	if q.SourceAddress != "" {
		sourceAddr = common.HexToAddress(q.SourceAddress)
	}
	data, err := feedABI.Pack("setPrice",
		q.Symbol,
		big.NewInt(q.Price),
		q.Decimals,
		big.NewInt(q.Timestamp),
		string(q.Source),
		sourceAddr,
	)
	if err != nil {
		return nil, fmt.Errorf("pack setPrice: %w", err)
	}
	return data, nil
}

// EmitAlertTriggered submits an event-only write recording that an alert
// fired. Nothing is stored on chain beyond the emitted event.
func (c *Client) EmitAlertTriggered(ctx context.Context, alertID int64, symbol string, price int64) (*WriteHandle, error) {
	data, err := feedABI.Pack("emitAlertTriggered",
		big.NewInt(alertID),
		symbol,
		big.NewInt(price),
	)
	if err != nil {
		return nil, fmt.Errorf("pack emitAlertTriggered: %w", err)
	}
	return c.sendTx(ctx, data)
}

func (c *Client) sendTx(ctx context.Context, data []byte) (*WriteHandle, error) {
	rpc, err := c.getRPC(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := rpc.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	mul := new(big.Float).SetFloat64(c.opts.GasMultiplier)
	adjusted, _ := new(big.Float).Mul(new(big.Float).SetInt(gasPrice), mul).Int(nil)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      c.opts.GasLimit,
		GasPrice: adjusted,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	c.logger.Debug().Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Msg("write submitted")
	return &WriteHandle{TxHash: signed.Hash(), Nonce: nonce}, nil
}

// WaitConfirmed polls for the write's receipt until it is mined, reverted,
// or the confirmation window elapses.
func (c *Client) WaitConfirmed(ctx context.Context, handle *WriteHandle) error {
	rpc, err := c.getRPC(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := rpc.TransactionReceipt(ctx, handle.TxHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return fmt.Errorf("write %s reverted", handle.TxHash.Hex())
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("poll receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait for %s: %w", handle.TxHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) getRPC(ctx context.Context) (*ethclient.Client, error) {
	c.rpcMux.Lock()
	defer c.rpcMux.Unlock()

	if c.rpc != nil {
		return c.rpc, nil
	}

	rpc, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.rpc = rpc
	return rpc, nil
}
