// Package chains resolves human-readable chain and token names to canonical
// identifiers and decimal precision.
package chains

// Supported chain IDs
const (
	EthereumChainID  = 1
	OptimismChainID  = 10
	BSCChainID       = 56
	PolygonChainID   = 137
	ZetaChainChainID = 7000
	BaseChainID      = 8453
	ArbitrumChainID  = 42161
	AvalancheChainID = 43114
)

// NativeAssetAddress is the sentinel address routing backends use for a chain's native coin.
const NativeAssetAddress = "0x0000000000000000000000000000000000000000"

// ChainEntry maps a chain name to its numeric id.
type ChainEntry struct {
	Name    string `yaml:"name" json:"name"`
	ChainID int    `yaml:"chainId" json:"chainId"`
}

// TokenEntry describes a token deployment on one chain.
type TokenEntry struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Address  string `yaml:"address" json:"address"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// chainNames maps chain IDs to their canonical names
var chainNames = map[int]string{
	EthereumChainID:  "ethereum",
	OptimismChainID:  "optimism",
	BSCChainID:       "bsc",
	PolygonChainID:   "polygon",
	ZetaChainChainID: "zetachain",
	BaseChainID:      "base",
	ArbitrumChainID:  "arbitrum",
	AvalancheChainID: "avalanche",
}

// chainAliases maps alternative spellings to chain IDs
var chainAliases = map[string]int{
	"eth":          EthereumChainID,
	"mainnet":      EthereumChainID,
	"op":           OptimismChainID,
	"binance":      BSCChainID,
	"bnb":          BSCChainID,
	"matic":        PolygonChainID,
	"zeta":         ZetaChainChainID,
	"arb":          ArbitrumChainID,
	"arbitrum-one": ArbitrumChainID,
	"avax":         AvalancheChainID,
}

// defaultTokens maps chain IDs to token deployments keyed by upper-case symbol
var defaultTokens = map[int]map[string]TokenEntry{
	EthereumChainID: {
		"USDC": {Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		"ETH":  {Symbol: "ETH", Address: NativeAssetAddress, Decimals: 18},
	},
	OptimismChainID: {
		"USDC": {Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		"ETH":  {Symbol: "ETH", Address: NativeAssetAddress, Decimals: 18},
	},
	BSCChainID: {
		"USDC": {Symbol: "USDC", Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
		"USDT": {Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		"WETH": {Symbol: "WETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
	},
	PolygonChainID: {
		"USDC": {Symbol: "USDC", Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	ZetaChainChainID: {
		"USDC": {Symbol: "USDC", Address: "0x0cbe0dF132a6c6B4a2974Fa1b7Fb953CF0Cc798a", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0x7c8dDa80bbBE1254a7aACf3219EBe1481c6E01d7", Decimals: 6},
	},
	BaseChainID: {
		"USDC": {Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		"ETH":  {Symbol: "ETH", Address: NativeAssetAddress, Decimals: 18},
	},
	ArbitrumChainID: {
		"USDC": {Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		"ETH":  {Symbol: "ETH", Address: NativeAssetAddress, Decimals: 18},
	},
	AvalancheChainID: {
		"USDC": {Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
	},
}

// ChainList contains the list of supported chain IDs
var ChainList = []int{
	EthereumChainID,
	OptimismChainID,
	BSCChainID,
	PolygonChainID,
	ZetaChainChainID,
	BaseChainID,
	ArbitrumChainID,
	AvalancheChainID,
}

// GetChainName returns the canonical name of the chain for a given chain ID
func GetChainName(chainID int) string {
	return chainNames[chainID]
}
