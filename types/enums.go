package types

// AssetType is the asset type enum.
type AssetType string

const (
	AssetTypeSPL   AssetType = "SPL"
	AssetTypeERC20 AssetType = "ERC20"
)

// Network is the network enum.
type Network string

const (
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet"
	NetworkSolanaTestnet Network = "solana-testnet"
	NetworkSepolia       Network = "sepolia"
)

// DefaultRPCURL returns the default RPC endpoint for a network, or an empty
// string if the network has no well-known public endpoint.
func DefaultRPCURL(network Network) string {
	switch network {
	case NetworkSolanaMainnet:
		return "https://api.mainnet-beta.solana.com"
	case NetworkSolanaDevnet:
		return "https://api.devnet.solana.com"
	case NetworkSolanaTestnet:
		return "https://api.testnet.solana.com"
	}
	return ""
}
