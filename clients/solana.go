package clients

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/x402-go/core"
	"github.com/raid-guild/x402-go/types"
)

// SolanaRPCInterface defines the Solana RPC calls the adapter uses.
type SolanaRPCInterface interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// NewSolanaRPC creates a new Solana RPC client. This function can be overridden in tests.
var NewSolanaRPC = func(rpcURL string) SolanaRPCInterface {
	return rpc.New(rpcURL)
}

// SolanaConfig is the configuration for the SPL token chain adapter.
type SolanaConfig struct {
	Network       types.Network
	RPCURL        string // defaults to the network's public endpoint
	PrivateKey    string // base58-encoded wallet private key
	TokenDecimals int32  // defaults to 6 (USDC)
}

// SolanaClient is a core.ChainClient backed by a Solana network, moving
// value as SPL token transfers.
type SolanaClient struct {
	client   SolanaRPCInterface
	keypair  solana.PrivateKey
	payer    solana.PublicKey
	decimals int32
}

// NewSolanaClient parses the wallet key and connects to the RPC endpoint.
func NewSolanaClient(cfg SolanaConfig) (*SolanaClient, error) {
	keypair, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = types.DefaultRPCURL(cfg.Network)
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("no RPC URL for network %q", cfg.Network)
	}

	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}

	return &SolanaClient{
		client:   NewSolanaRPC(rpcURL),
		keypair:  keypair,
		payer:    keypair.PublicKey(),
		decimals: decimals,
	}, nil
}

// PayerAddress returns the wallet's public key in base58.
func (c *SolanaClient) PayerAddress() string {
	return c.payer.String()
}

// Balance returns the SPL token balance of the account's associated token
// account in token units. A missing token account reads as zero.
func (c *SolanaClient) Balance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	owner, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid account address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid asset address: %w", err)
	}

	tokenAccount, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to derive token account: %w", err)
	}

	result, err := c.client.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentFinalized)
	if err != nil || result == nil || result.Value == nil {
		return decimal.Zero, nil
	}

	balance, err := decimal.NewFromString(result.Value.Amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unparseable balance %q: %w", result.Value.Amount, err)
	}
	return balance.Shift(-int32(result.Value.Decimals)), nil
}

// Transfer broadcasts a TransferChecked of amount token units of asset to
// the given wallet, creating the recipient's associated token account when
// it does not exist, and returns the transaction signature.
func (c *SolanaClient) Transfer(ctx context.Context, to, asset string, amount decimal.Decimal) (string, error) {
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", types.NewInvalidPaymentRequestError("invalid payment address: " + err.Error())
	}
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return "", types.NewInvalidPaymentRequestError("invalid asset address: " + err.Error())
	}

	payerTokenAccount, _, err := solana.FindAssociatedTokenAddress(c.payer, mint)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to derive payer token account: " + err.Error())
	}
	recipientTokenAccount, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to derive recipient token account: " + err.Error())
	}

	blockhash, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to get latest blockhash: " + err.Error())
	}

	var instructions []solana.Instruction

	// Create the recipient's associated token account when missing.
	accountInfo, err := c.client.GetAccountInfo(ctx, recipientTokenAccount)
	if err != nil || accountInfo == nil || accountInfo.Value == nil {
		createIx := associatedtokenaccount.NewCreateInstruction(
			c.payer,
			recipient,
			mint,
		).Build()
		instructions = append(instructions, createIx)
	}

	shifted := amount.Shift(c.decimals)
	if !shifted.IsInteger() {
		return "", types.NewInvalidPaymentRequestError(fmt.Sprintf("amount %s is not representable in %d token decimals", amount, c.decimals))
	}
	baseUnits := shifted.BigInt()
	if !baseUnits.IsUint64() {
		return "", types.NewInvalidPaymentRequestError("amount out of range: " + amount.String())
	}

	transferIx := token.NewTransferCheckedInstruction(
		baseUnits.Uint64(),
		uint8(c.decimals),
		payerTokenAccount,
		mint,
		recipientTokenAccount,
		c.payer,
		[]solana.PublicKey{},
	).Build()
	instructions = append(instructions, transferIx)

	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(c.payer),
	)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to create transaction: " + err.Error())
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.payer) {
			return &c.keypair
		}
		return nil
	})
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to sign transaction: " + err.Error())
	}

	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to send transaction: " + err.Error())
	}

	return sig.String(), nil
}

// Transaction looks up a transaction by signature. Token transfers are
// reconstructed from the pre/post token balance deltas in the transaction
// meta, keyed by owner and mint.
func (c *SolanaClient) Transaction(ctx context.Context, hash string) (*core.TransactionStatus, error) {
	// Signatures are base58 of 64 bytes; reject malformed hashes before the
	// RPC round trip.
	raw, err := base58.Decode(hash)
	if err != nil || len(raw) != 64 {
		return nil, types.NewInvalidPaymentRequestError("invalid transaction signature: " + hash)
	}

	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("invalid transaction signature: " + err.Error())
	}

	tx, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, types.NewPaymentVerificationError("transaction not found: " + err.Error())
	}
	if tx == nil {
		return &core.TransactionStatus{Hash: hash, Confirmed: false}, nil
	}
	if tx.Meta == nil || tx.Meta.Err != nil {
		return &core.TransactionStatus{Hash: hash, Confirmed: false}, nil
	}

	status := &core.TransactionStatus{Hash: hash, Confirmed: true}

	// Pre-balance per (owner, mint); entries absent before the transaction
	// count as zero.
	pre := make(map[string]decimal.Decimal)
	for _, balance := range tx.Meta.PreTokenBalances {
		if balance.Owner == nil || balance.UiTokenAmount == nil {
			continue
		}
		amount, err := decimal.NewFromString(balance.UiTokenAmount.Amount)
		if err != nil {
			continue
		}
		key := balance.Owner.String() + "/" + balance.Mint.String()
		pre[key] = amount.Shift(-int32(balance.UiTokenAmount.Decimals))
	}

	for _, balance := range tx.Meta.PostTokenBalances {
		if balance.Owner == nil || balance.UiTokenAmount == nil {
			continue
		}
		amount, err := decimal.NewFromString(balance.UiTokenAmount.Amount)
		if err != nil {
			continue
		}
		post := amount.Shift(-int32(balance.UiTokenAmount.Decimals))
		key := balance.Owner.String() + "/" + balance.Mint.String()
		delta := post.Sub(pre[key])
		if delta.IsPositive() {
			status.Transfers = append(status.Transfers, core.TokenTransfer{
				To:     balance.Owner.String(),
				Asset:  balance.Mint.String(),
				Amount: delta,
			})
		}
	}

	return status, nil
}
