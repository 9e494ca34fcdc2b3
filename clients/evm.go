package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/x402-go/core"
	"github.com/raid-guild/x402-go/types"
)

// erc20ABIJSON covers the two ERC-20 entry points the adapter uses.
const erc20ABIJSON = `[
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [
			{"name": "account", "type": "address"}
		],
		"outputs": [
			{"name": "", "type": "uint256"}
		],
		"constant": true
	},
	{
		"type": "function",
		"name": "transfer",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"outputs": [
			{"name": "", "type": "bool"}
		],
		"constant": false
	}
]`

// transferEventSig is keccak256("Transfer(address,address,uint256)"), the
// first topic of every ERC-20 Transfer log.
var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMConfig is the configuration for the ERC-20 chain adapter.
type EVMConfig struct {
	ChainID       int64
	RPCURL        string
	PrivateKey    string // hex, with or without 0x prefix
	TokenDecimals int32  // defaults to 6 (USDC)
}

// EVMClient is a core.ChainClient backed by an EVM network, moving value as
// ERC-20 token transfers.
type EVMClient struct {
	cfg      EVMConfig
	client   EthClientInterface
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	payer    common.Address
	decimals int32
}

// NewEVMClient dials the RPC endpoint and prepares the signing identity.
func NewEVMClient(cfg EVMConfig) (*EVMClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	client, err := NewEthClient(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC client: %w", err)
	}

	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}

	return &EVMClient{
		cfg:      cfg,
		client:   client,
		abi:      parsedABI,
		key:      key,
		payer:    crypto.PubkeyToAddress(key.PublicKey),
		decimals: decimals,
	}, nil
}

// PayerAddress returns the signing account's address.
func (c *EVMClient) PayerAddress() string {
	return c.payer.Hex()
}

// Balance returns the ERC-20 token balance of the account in token units.
func (c *EVMClient) Balance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	if !common.IsHexAddress(account) {
		return decimal.Decimal{}, fmt.Errorf("invalid account address: %s", account)
	}
	if !common.IsHexAddress(asset) {
		return decimal.Decimal{}, fmt.Errorf("invalid asset address: %s", asset)
	}

	callData, err := c.abi.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to pack balanceOf call data: %w", err)
	}

	assetAddress := common.HexToAddress(asset)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &assetAddress,
		Data: callData,
	}, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to get token balance: %w", err)
	}
	if len(result) != 32 {
		return decimal.Decimal{}, fmt.Errorf("failed to get token balance: result is not 32 bytes")
	}

	balance := new(big.Int).SetBytes(result)
	return decimal.NewFromBigInt(balance, -c.decimals), nil
}

// Transfer broadcasts an ERC-20 transfer of amount token units of asset to
// the given address as an EIP-1559 transaction and returns its hash.
func (c *EVMClient) Transfer(ctx context.Context, to, asset string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(to) {
		return "", types.NewInvalidPaymentRequestError("invalid payment address: " + to)
	}
	if !common.IsHexAddress(asset) {
		return "", types.NewInvalidPaymentRequestError("invalid asset address: " + asset)
	}

	shifted := amount.Shift(c.decimals)
	if !shifted.IsInteger() {
		return "", types.NewInvalidPaymentRequestError(fmt.Sprintf("amount %s is not representable in %d token decimals", amount, c.decimals))
	}

	value := shifted.BigInt()
	txData, err := c.abi.Pack("transfer", common.HexToAddress(to), value)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to pack transfer call data: " + err.Error())
	}

	assetAddress := common.HexToAddress(asset)

	txNonce, err := c.client.PendingNonceAt(ctx, c.payer)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to get pending nonce: " + err.Error())
	}

	gasTipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to suggest gas tip cap: " + err.Error())
	}

	blockHeader, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to get block header: " + err.Error())
	}
	if blockHeader.BaseFee == nil {
		return "", types.NewTransactionBroadcastError("block header missing base fee: network may not support EIP-1559")
	}

	// Gas fee cap: 2x base fee plus the tip cap.
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(blockHeader.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.payer,
		To:   &assetAddress,
		Data: txData,
	})
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to estimate gas: " + err.Error())
	}

	// Add 20% buffer to the gas estimate for safety.
	gasLimit = gasLimit * 120 / 100

	chainID := big.NewInt(c.cfg.ChainID)
	transaction := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &assetAddress,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	signer := ethtypes.NewLondonSigner(chainID)
	signedTx, err := ethtypes.SignTx(transaction, signer, c.key)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to sign transaction: " + err.Error())
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", types.NewTransactionBroadcastError("failed to send transaction: " + err.Error())
	}

	return signedTx.Hash().Hex(), nil
}

// Transaction looks up a transaction receipt and extracts the ERC-20
// transfers it carries. A missing receipt yields an unconfirmed status.
func (c *EVMClient) Transaction(ctx context.Context, hash string) (*core.TransactionStatus, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, types.NewPaymentVerificationError("transaction not found: " + err.Error())
	}
	if receipt == nil {
		return &core.TransactionStatus{Hash: hash, Confirmed: false}, nil
	}

	status := &core.TransactionStatus{
		Hash:      hash,
		Confirmed: receipt.Status == ethtypes.ReceiptStatusSuccessful,
	}

	for _, log := range receipt.Logs {
		if len(log.Topics) != 3 || log.Topics[0] != transferEventSig {
			continue
		}
		value := new(big.Int).SetBytes(log.Data)
		status.Transfers = append(status.Transfers, core.TokenTransfer{
			From:   common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
			To:     common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
			Asset:  log.Address.Hex(),
			Amount: decimal.NewFromBigInt(value, -c.decimals),
		})
	}

	return status, nil
}
