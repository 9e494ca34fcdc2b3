// Package core implements the x402 payment negotiation state machine: the
// client-side negotiator that turns a 402 response into a verified on-chain
// payment and a retried request, and the server-side verifier that validates
// an inbound authorization against the issued challenge and on-chain state.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raid-guild/x402-go/types"
)

// ChainClient is the capability interface through which the core consumes a
// blockchain. Implementations are backend adapters (Solana, EVM); they carry
// the payer's signing identity and own any account nonce state.
type ChainClient interface {
	// PayerAddress returns the address of the signing account.
	PayerAddress() string

	// Balance returns the payer's balance of the given asset in token units.
	Balance(ctx context.Context, account, asset string) (decimal.Decimal, error)

	// Transfer builds, signs, and broadcasts a transfer of amount token units
	// of asset to the given address, returning the transaction hash.
	Transfer(ctx context.Context, to, asset string, amount decimal.Decimal) (string, error)

	// Transaction looks up a broadcast transaction by hash.
	Transaction(ctx context.Context, hash string) (*TransactionStatus, error)
}

// TokenTransfer is a single token movement observed in a transaction.
type TokenTransfer struct {
	From   string
	To     string
	Asset  string
	Amount decimal.Decimal
}

// TransactionStatus is the on-chain view of a broadcast transaction.
type TransactionStatus struct {
	Hash      string
	Confirmed bool
	Transfers []TokenTransfer
}

// TransferTo reports whether the transaction contains a confirmed transfer of
// at least amount token units of asset to the given address.
func (ts *TransactionStatus) TransferTo(to, asset string, amount decimal.Decimal) bool {
	for _, tr := range ts.Transfers {
		if tr.To == to && tr.Asset == asset && tr.Amount.GreaterThanOrEqual(amount) {
			return true
		}
	}
	return false
}

// Config is the configuration shared by the negotiator and the verifier.
type Config struct {
	Network           types.Network
	RPCEndpoint       string
	MaxPaymentCeiling string        // decimal string; empty means no ceiling
	RetryCount        int           // bounded retries for transient failures
	RetryBackoff      time.Duration // backoff base between retries
}

const (
	defaultRetryCount   = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// withDefaults fills in the retry policy defaults.
func (c Config) withDefaults() Config {
	if c.RetryCount <= 0 {
		c.RetryCount = defaultRetryCount
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// ceiling parses the configured payment ceiling. The bool is false when no
// ceiling is configured.
func (c Config) ceiling() (decimal.Decimal, bool, error) {
	if c.MaxPaymentCeiling == "" {
		return decimal.Decimal{}, false, nil
	}
	d, err := decimal.NewFromString(c.MaxPaymentCeiling)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return d, true, nil
}
