package ledger

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"price-oracle-feed/internal/quote"
)

const testWriterKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Options{
		RPCURL:          "http://localhost:8545",
		ContractAddress: "0x00000000000000000000000000000000000000fe",
		PrivateKey:      testWriterKey,
		ChainID:         1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientRejectsBadKey(t *testing.T) {
	_, err := NewClient(Options{
		RPCURL:          "http://localhost:8545",
		ContractAddress: "0x00000000000000000000000000000000000000fe",
		PrivateKey:      "not-a-key",
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("malformed private key must be fatal at construction")
	}
}

func unpackSetPrice(t *testing.T, data []byte) []interface{} {
	t.Helper()
	method := feedABI.Methods["setPrice"]
	if !bytes.Equal(data[:4], method.ID) {
		t.Fatalf("payload does not target setPrice: %x", data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack setPrice: %v", err)
	}
	return args
}

func TestEncodeSetPriceCarriesOracleProvenance(t *testing.T) {
	c := newTestClient(t)
	oracleAddr := "0x00000000000000000000000000000000000000aa"

	data, err := c.encodeSetPrice(quote.PriceQuote{
		Symbol:        "BTC",
		Price:         31000_00000000,
		Decimals:      quote.DefaultDecimals,
		Timestamp:     1700000000,
		Source:        quote.SourceOracle,
		SourceAddress: oracleAddr,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	args := unpackSetPrice(t, data)
	if len(args) != 6 {
		t.Fatalf("setPrice must encode 6 fields, got %d", len(args))
	}
	if args[0].(string) != "BTC" {
		t.Fatalf("unexpected symbol: %v", args[0])
	}
	if args[1].(*big.Int).Int64() != 31000_00000000 {
		t.Fatalf("unexpected price: %v", args[1])
	}
	if args[2].(uint8) != quote.DefaultDecimals {
		t.Fatalf("unexpected decimals: %v", args[2])
	}
	if args[3].(*big.Int).Int64() != 1700000000 {
		t.Fatalf("unexpected timestamp: %v", args[3])
	}
	if args[4].(string) != string(quote.SourceOracle) {
		t.Fatalf("unexpected source: %v", args[4])
	}
	if args[5].(common.Address) != common.HexToAddress(oracleAddr) {
		t.Fatalf("oracle quotes must encode the contract address, got %v", args[5])
	}
}

func TestEncodeSetPriceDefaultsToWriterWallet(t *testing.T) {
	c := newTestClient(t)

	data, err := c.encodeSetPrice(quote.PriceQuote{
		Symbol:    "ETH",
		Price:     1500_00000000,
		Decimals:  quote.DefaultDecimals,
		Timestamp: 1700000000,
		Source:    quote.SourceCoinGecko,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	args := unpackSetPrice(t, data)
	if args[5].(common.Address) != c.WalletAddress() {
		t.Fatalf("off-chain quotes must be attributed to the writer wallet, got %v", args[5])
	}
}

func TestEncodeSetPriceRejectsInvalidQuote(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.encodeSetPrice(quote.PriceQuote{Symbol: "", Price: 1, Timestamp: 1}); err == nil {
		t.Fatal("invalid quote must not encode")
	}
}
