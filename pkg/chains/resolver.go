package chains

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LookupError is returned when a chain or token is not known.
type LookupError struct {
	Reason string
}

func (e *LookupError) Error() string { return e.Reason }

// Resolver answers chain and token lookups. It is read-only after construction
// and safe for concurrent use.
type Resolver struct {
	chainsByName map[string]int
	names        map[int]string
	tokens       map[int]map[string]TokenEntry
}

// NewResolver returns a resolver over the built-in tables.
func NewResolver() *Resolver {
	r := &Resolver{
		chainsByName: make(map[string]int),
		names:        make(map[int]string),
		tokens:       make(map[int]map[string]TokenEntry),
	}
	for id, name := range chainNames {
		r.addChain(name, id)
	}
	for alias, id := range chainAliases {
		r.chainsByName[alias] = id
	}
	for id, tokens := range defaultTokens {
		for _, token := range tokens {
			r.addToken(id, token)
		}
	}
	return r
}

func (r *Resolver) addChain(name string, chainID int) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.chainsByName[key] = chainID
	if _, ok := r.names[chainID]; !ok {
		r.names[chainID] = key
	}
}

func (r *Resolver) addToken(chainID int, token TokenEntry) {
	if r.tokens[chainID] == nil {
		r.tokens[chainID] = make(map[string]TokenEntry)
	}
	token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
	r.tokens[chainID][token.Symbol] = token
}

// ResolveChain maps a chain name (any casing) or decimal chain id to its chain id.
func (r *Resolver) ResolveChain(name string) (int, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, &LookupError{Reason: "chain name is empty"}
	}
	if id, ok := r.chainsByName[key]; ok {
		return id, nil
	}
	if id, err := strconv.Atoi(key); err == nil {
		if _, ok := r.names[id]; ok {
			return id, nil
		}
	}
	return 0, &LookupError{Reason: fmt.Sprintf("unsupported chain %q", name)}
}

// ResolveToken maps a (chain id, symbol) pair to its deployment. Symbols are case-insensitive.
func (r *Resolver) ResolveToken(chainID int, symbol string) (TokenEntry, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return TokenEntry{}, &LookupError{Reason: "token symbol is empty"}
	}
	tokens, ok := r.tokens[chainID]
	if !ok {
		return TokenEntry{}, &LookupError{Reason: fmt.Sprintf("no tokens configured for chain %d", chainID)}
	}
	token, ok := tokens[key]
	if !ok {
		return TokenEntry{}, &LookupError{Reason: fmt.Sprintf("unsupported token %q on chain %d", symbol, chainID)}
	}
	return token, nil
}

// ChainName returns the canonical name for a chain id, or "" when unknown.
func (r *Resolver) ChainName(chainID int) string {
	return r.names[chainID]
}

// ChainIDs returns every known chain id in ascending order.
func (r *Resolver) ChainIDs() []int {
	ids := make([]int, 0, len(r.names))
	for id := range r.names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
