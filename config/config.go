// Package config loads negotiator and verifier configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raid-guild/x402-go/core"
	"github.com/raid-guild/x402-go/types"
)

// Config is the on-disk configuration.
type Config struct {
	Network           string        `yaml:"network"`
	RPCEndpoint       string        `yaml:"rpc_endpoint"`
	MaxPaymentCeiling string        `yaml:"max_payment_ceiling"`
	RetryCount        int           `yaml:"retry_count"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	PaymentAddress    string        `yaml:"payment_address"`
	AssetAddress      string        `yaml:"asset_address"`
}

// Load reads the YAML file at path, applies environment overrides, and fills
// defaults. An empty path loads from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc_endpoint is required for network %q", cfg.Network)
	}

	return cfg, nil
}

// applyEnvOverrides applies X402_* environment variables over the file
// values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("X402_NETWORK"); v != "" {
		c.Network = v
	}
	if v := os.Getenv("X402_RPC_ENDPOINT"); v != "" {
		c.RPCEndpoint = v
	}
	if v := os.Getenv("X402_MAX_PAYMENT_CEILING"); v != "" {
		c.MaxPaymentCeiling = v
	}
	if v := os.Getenv("X402_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryCount = n
		}
	}
	if v := os.Getenv("X402_RETRY_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryBackoff = d
		}
	}
	if v := os.Getenv("X402_PAYMENT_ADDRESS"); v != "" {
		c.PaymentAddress = v
	}
	if v := os.Getenv("X402_ASSET_ADDRESS"); v != "" {
		c.AssetAddress = v
	}
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = string(types.NetworkSolanaDevnet)
	}
	if c.RPCEndpoint == "" {
		c.RPCEndpoint = types.DefaultRPCURL(types.Network(c.Network))
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Core converts the configuration into the core package's form.
func (c *Config) Core() core.Config {
	return core.Config{
		Network:           types.Network(c.Network),
		RPCEndpoint:       c.RPCEndpoint,
		MaxPaymentCeiling: c.MaxPaymentCeiling,
		RetryCount:        c.RetryCount,
		RetryBackoff:      c.RetryBackoff,
	}
}
