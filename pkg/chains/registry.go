package chains

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// maxDecimals bounds token precision accepted from registry files
const maxDecimals = 36

// RegistryFile is the YAML overlay format loaded at startup.
//
//	chains:
//	  - name: sepolia
//	    chainId: 11155111
//	    aliases: [sep]
//	    tokens:
//	      - {symbol: USDC, address: "0x1c7D...", decimals: 6}
type RegistryFile struct {
	Chains []RegistryChain `yaml:"chains"`
}

// RegistryChain is one chain block of a registry file.
type RegistryChain struct {
	Name    string       `yaml:"name"`
	ChainID int          `yaml:"chainId"`
	Aliases []string     `yaml:"aliases"`
	Tokens  []TokenEntry `yaml:"tokens"`
}

// LoadRegistryFile returns a resolver over the built-in tables extended by the
// YAML file at path. Entries in the file override built-in tokens with the same symbol.
func LoadRegistryFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry is LoadRegistryFile over an in-memory document.
func ParseRegistry(data []byte) (*Resolver, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse token registry: %w", err)
	}

	r := NewResolver()
	for _, chain := range file.Chains {
		if strings.TrimSpace(chain.Name) == "" || chain.ChainID <= 0 {
			return nil, fmt.Errorf("registry chain entry needs a name and a positive chainId (got %q, %d)", chain.Name, chain.ChainID)
		}
		r.addChain(chain.Name, chain.ChainID)
		for _, alias := range chain.Aliases {
			r.chainsByName[strings.ToLower(strings.TrimSpace(alias))] = chain.ChainID
		}
		for _, token := range chain.Tokens {
			if !common.IsHexAddress(token.Address) {
				return nil, fmt.Errorf("invalid address %q for %s on chain %d", token.Address, token.Symbol, chain.ChainID)
			}
			if token.Decimals < 0 || token.Decimals > maxDecimals {
				return nil, fmt.Errorf("invalid decimals %d for %s on chain %d", token.Decimals, token.Symbol, chain.ChainID)
			}
			r.addToken(chain.ChainID, token)
		}
	}
	return r, nil
}
