package clients

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/x402-go/types"
)

const (
	testPrivateKey   = "4c0883a69102937d6231471b5dbb6204fe512961708279df95b4a2200cdc4d11"
	testTokenAddress = "0x0000000000000000000000000000000000000101"
	testPayToAddress = "0x0000000000000000000000000000000000000202"
)

type mockEthClient struct {
	callContract       func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	pendingNonceAt     func(ctx context.Context, account common.Address) (uint64, error)
	suggestGasTipCap   func(ctx context.Context) (*big.Int, error)
	headerByNumber     func(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	estimateGas        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	sendTransaction    func(ctx context.Context, tx *ethtypes.Transaction) error
	transactionReceipt func(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

func (m *mockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.callContract(ctx, msg, blockNumber)
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return m.pendingNonceAt(ctx, account)
}

func (m *mockEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return m.suggestGasTipCap(ctx)
}

func (m *mockEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return m.headerByNumber(ctx, number)
}

func (m *mockEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return m.estimateGas(ctx, msg)
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return m.sendTransaction(ctx, tx)
}

func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return m.transactionReceipt(ctx, txHash)
}

// setupMockEthClient installs a mock behind the NewEthClient constructor for
// the duration of the test.
func setupMockEthClient(t *testing.T, client *mockEthClient) {
	t.Helper()

	originalNewEthClient := NewEthClient
	t.Cleanup(func() {
		NewEthClient = originalNewEthClient
	})

	NewEthClient = func(rpcURL string) (EthClientInterface, error) {
		return client, nil
	}
}

func healthyMockEthClient() *mockEthClient {
	return &mockEthClient{
		callContract: func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
			// 1.5 tokens at 6 decimals.
			return common.LeftPadBytes(big.NewInt(1500000).Bytes(), 32), nil
		},
		pendingNonceAt: func(ctx context.Context, account common.Address) (uint64, error) {
			return 7, nil
		},
		suggestGasTipCap: func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(1000), nil
		},
		headerByNumber: func(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
			return &ethtypes.Header{BaseFee: big.NewInt(2000)}, nil
		},
		estimateGas: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
			return 50000, nil
		},
		sendTransaction: func(ctx context.Context, tx *ethtypes.Transaction) error {
			return nil
		},
	}
}

func newTestEVMClient(t *testing.T, mock *mockEthClient) *EVMClient {
	t.Helper()
	setupMockEthClient(t, mock)

	client, err := NewEVMClient(EVMConfig{
		ChainID:    11155111,
		RPCURL:     "http://localhost:8545",
		PrivateKey: testPrivateKey,
	})
	if err != nil {
		t.Fatalf("failed to create EVM client: %v", err)
	}
	return client
}

func TestNewEVMClient(t *testing.T) {
	t.Run("requires an RPC URL", func(t *testing.T) {
		if _, err := NewEVMClient(EVMConfig{PrivateKey: testPrivateKey}); err == nil {
			t.Fatal("expected an error for a missing RPC URL")
		}
	})

	t.Run("rejects a malformed private key", func(t *testing.T) {
		setupMockEthClient(t, healthyMockEthClient())
		if _, err := NewEVMClient(EVMConfig{RPCURL: "http://localhost:8545", PrivateKey: "zz"}); err == nil {
			t.Fatal("expected an error for a malformed private key")
		}
	})

	t.Run("accepts a 0x prefixed private key", func(t *testing.T) {
		setupMockEthClient(t, healthyMockEthClient())
		client, err := NewEVMClient(EVMConfig{RPCURL: "http://localhost:8545", PrivateKey: "0x" + testPrivateKey})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !common.IsHexAddress(client.PayerAddress()) {
			t.Errorf("expected a hex payer address, got %s", client.PayerAddress())
		}
	})
}

func TestEVMClientBalance(t *testing.T) {
	t.Run("converts the raw balance to token units", func(t *testing.T) {
		client := newTestEVMClient(t, healthyMockEthClient())

		balance, err := client.Balance(context.Background(), client.PayerAddress(), testTokenAddress)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !balance.Equal(decimal.RequireFromString("1.5")) {
			t.Errorf("expected balance 1.5, got %s", balance)
		}
	})

	t.Run("rejects a short call result", func(t *testing.T) {
		mock := healthyMockEthClient()
		mock.callContract = func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
			return []byte{0x01}, nil
		}
		client := newTestEVMClient(t, mock)

		if _, err := client.Balance(context.Background(), client.PayerAddress(), testTokenAddress); err == nil {
			t.Fatal("expected an error for a short call result")
		}
	})

	t.Run("rejects a non-hex asset address", func(t *testing.T) {
		client := newTestEVMClient(t, healthyMockEthClient())

		if _, err := client.Balance(context.Background(), client.PayerAddress(), "usdc-mint"); err == nil {
			t.Fatal("expected an error for a non-hex asset address")
		}
	})
}

func TestEVMClientTransfer(t *testing.T) {
	t.Run("signs and broadcasts an ERC-20 transfer", func(t *testing.T) {
		mock := healthyMockEthClient()
		var sent *ethtypes.Transaction
		mock.sendTransaction = func(ctx context.Context, tx *ethtypes.Transaction) error {
			sent = tx
			return nil
		}
		client := newTestEVMClient(t, mock)

		hash, err := client.Transfer(context.Background(), testPayToAddress, testTokenAddress, decimal.RequireFromString("0.10"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sent == nil {
			t.Fatal("expected a transaction to be sent")
		}
		if hash != sent.Hash().Hex() {
			t.Errorf("expected the sent transaction's hash, got %s", hash)
		}
		if sent.To().Hex() != common.HexToAddress(testTokenAddress).Hex() {
			t.Errorf("expected the transaction to target the token contract, got %s", sent.To().Hex())
		}
		if sent.Nonce() != 7 {
			t.Errorf("expected nonce 7, got %d", sent.Nonce())
		}
		if sent.Gas() != 60000 {
			t.Errorf("expected buffered gas limit 60000, got %d", sent.Gas())
		}

		// transfer(address,uint256) selector followed by recipient and a
		// 6-decimal value of 0.10.
		data := sent.Data()
		if len(data) != 4+32+32 {
			t.Fatalf("unexpected call data length %d", len(data))
		}
		wantSelector := []byte{0xa9, 0x05, 0x9c, 0xbb}
		for i, b := range wantSelector {
			if data[i] != b {
				t.Fatalf("expected the transfer selector, got %x", data[:4])
			}
		}
		value := new(big.Int).SetBytes(data[36:])
		if value.Cmp(big.NewInt(100000)) != 0 {
			t.Errorf("expected a raw value of 100000, got %s", value)
		}
	})

	t.Run("fails without EIP-1559 support", func(t *testing.T) {
		mock := healthyMockEthClient()
		mock.headerByNumber = func(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
			return &ethtypes.Header{}, nil
		}
		client := newTestEVMClient(t, mock)

		_, err := client.Transfer(context.Background(), testPayToAddress, testTokenAddress, decimal.RequireFromString("0.10"))
		var broadcast *types.TransactionBroadcastError
		if !errors.As(err, &broadcast) {
			t.Fatalf("expected TransactionBroadcastError, got %v", err)
		}
	})

	t.Run("wraps send failures", func(t *testing.T) {
		mock := healthyMockEthClient()
		mock.sendTransaction = func(ctx context.Context, tx *ethtypes.Transaction) error {
			return errors.New("nonce too low")
		}
		client := newTestEVMClient(t, mock)

		_, err := client.Transfer(context.Background(), testPayToAddress, testTokenAddress, decimal.RequireFromString("0.10"))
		var broadcast *types.TransactionBroadcastError
		if !errors.As(err, &broadcast) {
			t.Fatalf("expected TransactionBroadcastError, got %v", err)
		}
	})

	t.Run("rejects an amount finer than the token decimals", func(t *testing.T) {
		mock := healthyMockEthClient()
		var sent *ethtypes.Transaction
		mock.sendTransaction = func(ctx context.Context, tx *ethtypes.Transaction) error {
			sent = tx
			return nil
		}
		client := newTestEVMClient(t, mock)

		// 0.0000005 has no integer base-unit value at 6 decimals; silently
		// truncating it would broadcast a zero-value transfer whose hash
		// could never verify against the authorized amount.
		_, err := client.Transfer(context.Background(), testPayToAddress, testTokenAddress, decimal.RequireFromString("0.0000005"))
		var invalid *types.InvalidPaymentRequestError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidPaymentRequestError, got %v", err)
		}
		if sent != nil {
			t.Error("expected no transaction to be broadcast")
		}
	})

	t.Run("rejects a non-hex recipient", func(t *testing.T) {
		client := newTestEVMClient(t, healthyMockEthClient())

		_, err := client.Transfer(context.Background(), "merchant", testTokenAddress, decimal.RequireFromString("0.10"))
		var invalid *types.InvalidPaymentRequestError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidPaymentRequestError, got %v", err)
		}
	})
}

func TestEVMClientTransaction(t *testing.T) {
	txHash := common.HexToHash("0x01")

	t.Run("parses transfer logs from a successful receipt", func(t *testing.T) {
		mock := healthyMockEthClient()
		mock.transactionReceipt = func(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
			return &ethtypes.Receipt{
				Status: ethtypes.ReceiptStatusSuccessful,
				Logs: []*ethtypes.Log{{
					Address: common.HexToAddress(testTokenAddress),
					Topics: []common.Hash{
						transferEventSig,
						common.HexToHash("0x0000000000000000000000000000000000000303"),
						common.HexToHash(testPayToAddress),
					},
					Data: common.LeftPadBytes(big.NewInt(100000).Bytes(), 32),
				}},
			}, nil
		}
		client := newTestEVMClient(t, mock)

		status, err := client.Transaction(context.Background(), txHash.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.Confirmed {
			t.Error("expected a confirmed status")
		}
		if len(status.Transfers) != 1 {
			t.Fatalf("expected 1 transfer, got %d", len(status.Transfers))
		}
		tr := status.Transfers[0]
		if tr.To != common.HexToAddress(testPayToAddress).Hex() {
			t.Errorf("expected transfer to %s, got %s", testPayToAddress, tr.To)
		}
		if tr.Asset != common.HexToAddress(testTokenAddress).Hex() {
			t.Errorf("expected asset %s, got %s", testTokenAddress, tr.Asset)
		}
		if !tr.Amount.Equal(decimal.RequireFromString("0.10")) {
			t.Errorf("expected amount 0.10, got %s", tr.Amount)
		}
	})

	t.Run("reverted receipt is unconfirmed", func(t *testing.T) {
		mock := healthyMockEthClient()
		mock.transactionReceipt = func(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
			return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}, nil
		}
		client := newTestEVMClient(t, mock)

		status, err := client.Transaction(context.Background(), txHash.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Confirmed {
			t.Error("expected an unconfirmed status for a reverted transaction")
		}
	})

	t.Run("missing receipt maps to a verification error", func(t *testing.T) {
		mock := healthyMockEthClient()
		mock.transactionReceipt = func(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
			return nil, errors.New("not found")
		}
		client := newTestEVMClient(t, mock)

		_, err := client.Transaction(context.Background(), txHash.Hex())
		var verification *types.PaymentVerificationError
		if !errors.As(err, &verification) {
			t.Fatalf("expected PaymentVerificationError, got %v", err)
		}
	})
}
