package models

import (
	"strings"
	"time"
)

// Intent is a user-signed request to move value from one chain/token to another.
// It is never mutated after signing.
type Intent struct {
	ID               string `json:"id"`
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`
	TokenIn          string `json:"tokenIn"`
	TokenOut         string `json:"tokenOut"`
	AmountIn         string `json:"amountIn"`
	MinAmountOut     string `json:"minAmountOut"`
	Deadline         int64  `json:"deadline"`
	Signature        string `json:"signature"`
	Signer           string `json:"signer,omitempty"`
}

// MissingFields returns the names of the routing fields that are blank.
func (i Intent) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("sourceChain", i.SourceChain)
	check("destinationChain", i.DestinationChain)
	check("tokenIn", i.TokenIn)
	check("tokenOut", i.TokenOut)
	check("amountIn", i.AmountIn)
	return missing
}

// Expired reports whether the deadline lies strictly before now.
func (i Intent) Expired(now time.Time) bool {
	return i.Deadline > 0 && now.Unix() > i.Deadline
}
