package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x402.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Network != "solana-devnet" {
		t.Errorf("expected default network solana-devnet, got %s", cfg.Network)
	}
	if cfg.RPCEndpoint != "https://api.devnet.solana.com" {
		t.Errorf("expected the devnet default endpoint, got %s", cfg.RPCEndpoint)
	}
	if cfg.RetryCount != 3 {
		t.Errorf("expected default retry count 3, got %d", cfg.RetryCount)
	}
	if cfg.RetryBackoff != 500*time.Millisecond {
		t.Errorf("expected default retry backoff 500ms, got %v", cfg.RetryBackoff)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
network: solana-mainnet
rpc_endpoint: https://rpc.example.com
max_payment_ceiling: "1.00"
retry_count: 5
retry_backoff: 250ms
payment_address: merchant-address
asset_address: usdc-mint
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Network != "solana-mainnet" {
		t.Errorf("expected network solana-mainnet, got %s", cfg.Network)
	}
	if cfg.RPCEndpoint != "https://rpc.example.com" {
		t.Errorf("expected the file endpoint, got %s", cfg.RPCEndpoint)
	}
	if cfg.MaxPaymentCeiling != "1.00" {
		t.Errorf("expected ceiling 1.00, got %s", cfg.MaxPaymentCeiling)
	}
	if cfg.RetryCount != 5 {
		t.Errorf("expected retry count 5, got %d", cfg.RetryCount)
	}
	if cfg.RetryBackoff != 250*time.Millisecond {
		t.Errorf("expected retry backoff 250ms, got %v", cfg.RetryBackoff)
	}
	if cfg.PaymentAddress != "merchant-address" || cfg.AssetAddress != "usdc-mint" {
		t.Errorf("unexpected addresses: %s / %s", cfg.PaymentAddress, cfg.AssetAddress)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
network: solana-devnet
max_payment_ceiling: "1.00"
`)

	t.Setenv("X402_NETWORK", "solana-mainnet")
	t.Setenv("X402_RPC_ENDPOINT", "https://rpc.override.example.com")
	t.Setenv("X402_MAX_PAYMENT_CEILING", "0.50")
	t.Setenv("X402_RETRY_COUNT", "7")
	t.Setenv("X402_RETRY_BACKOFF", "1s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Network != "solana-mainnet" {
		t.Errorf("expected the env network, got %s", cfg.Network)
	}
	if cfg.RPCEndpoint != "https://rpc.override.example.com" {
		t.Errorf("expected the env endpoint, got %s", cfg.RPCEndpoint)
	}
	if cfg.MaxPaymentCeiling != "0.50" {
		t.Errorf("expected the env ceiling, got %s", cfg.MaxPaymentCeiling)
	}
	if cfg.RetryCount != 7 {
		t.Errorf("expected the env retry count, got %d", cfg.RetryCount)
	}
	if cfg.RetryBackoff != time.Second {
		t.Errorf("expected the env retry backoff, got %v", cfg.RetryBackoff)
	}
}

func TestLoadRequiresEndpointForUnknownNetwork(t *testing.T) {
	t.Setenv("X402_NETWORK", "sepolia")

	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for a network without a default endpoint")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestCoreConversion(t *testing.T) {
	cfg := &Config{
		Network:           "solana-devnet",
		RPCEndpoint:       "https://api.devnet.solana.com",
		MaxPaymentCeiling: "1.00",
		RetryCount:        3,
		RetryBackoff:      500 * time.Millisecond,
	}

	core := cfg.Core()
	if string(core.Network) != cfg.Network {
		t.Errorf("expected network %s, got %s", cfg.Network, core.Network)
	}
	if core.MaxPaymentCeiling != "1.00" {
		t.Errorf("expected ceiling 1.00, got %s", core.MaxPaymentCeiling)
	}
	if core.RetryCount != 3 || core.RetryBackoff != 500*time.Millisecond {
		t.Errorf("unexpected retry policy: %d / %v", core.RetryCount, core.RetryBackoff)
	}
}
