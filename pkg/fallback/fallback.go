// Package fallback produces deterministic synthetic quote, route and status
// payloads for when the live routing backend cannot be used.
package fallback

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-router/pkg/chains"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

const (
	// IDPrefix prefixes every synthetic route id
	IDPrefix = "JK-LIFI-"

	// DefaultAmountDecimals is the fixed precision of synthetic output amounts
	DefaultAmountDecimals = 6

	// Tool names the synthetic route step
	Tool = "fallback"

	// UnknownState is reported by synthetic status payloads
	UnknownState = "UNKNOWN"
)

// defaultRates maps "TOKENIN:TOKENOUT" to an indicative exchange rate
var defaultRates = map[string]string{
	"USDC:WETH": "0.0004",
	"USDT:WETH": "0.0004",
	"USDC:ETH":  "0.0004",
	"USDT:ETH":  "0.0004",
	"WETH:USDC": "2500",
	"WETH:USDT": "2500",
	"ETH:USDC":  "2500",
	"ETH:USDT":  "2500",
	"USDC:USDT": "1",
	"USDT:USDC": "1",
	"ETH:WETH":  "1",
	"WETH:ETH":  "1",
}

// DeterministicID hashes seed with DJB2 (xor variant) and renders it as an
// upper-case base-36 id. The same seed always yields the same id.
func DeterministicID(seed string) string {
	var hash uint32 = 5381
	for _, unit := range utf16.Encode([]rune(seed)) {
		hash = (hash * 33) ^ uint32(unit)
	}
	return IDPrefix + strings.ToUpper(strconv.FormatUint(uint64(hash), 36))
}

// Seed returns the stable seed of an intent's routing fields.
func Seed(intent models.Intent) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(intent.SourceChain)),
		strings.ToLower(strings.TrimSpace(intent.DestinationChain)),
		strings.ToUpper(strings.TrimSpace(intent.TokenIn)),
		strings.ToUpper(strings.TrimSpace(intent.TokenOut)),
		strings.TrimSpace(intent.AmountIn),
	}, ":")
}

// Engine builds fallback payloads. It never fails.
type Engine struct {
	resolver *chains.Resolver
	rates    map[string]decimal.Decimal
	places   int32
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRate overrides or adds the rate for a token pair.
func WithRate(tokenIn, tokenOut string, rate decimal.Decimal) Option {
	return func(e *Engine) {
		e.rates[pairKey(tokenIn, tokenOut)] = rate
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a fallback engine using the static rate table.
func NewEngine(resolver *chains.Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		rates:    make(map[string]decimal.Decimal, len(defaultRates)),
		places:   DefaultAmountDecimals,
		now:      time.Now,
	}
	for pair, rate := range defaultRates {
		e.rates[pair] = decimal.RequireFromString(rate)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func pairKey(tokenIn, tokenOut string) string {
	return strings.ToUpper(strings.TrimSpace(tokenIn)) + ":" + strings.ToUpper(strings.TrimSpace(tokenOut))
}

// Rate returns the static rate for a pair, or one when the pair is unknown.
func (e *Engine) Rate(tokenIn, tokenOut string) decimal.Decimal {
	if rate, ok := e.rates[pairKey(tokenIn, tokenOut)]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

// AmountOut applies the pair rate to amountIn and rounds to the fixed precision.
// Unparseable or negative inputs are treated as zero.
func (e *Engine) AmountOut(amountIn, tokenIn, tokenOut string) string {
	return e.amountIn(amountIn).Mul(e.Rate(tokenIn, tokenOut)).StringFixed(e.places)
}

func (e *Engine) amountIn(raw string) decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Quote builds a synthetic quote for intent.
func (e *Engine) Quote(intent models.Intent, cause models.ReasonedFallback) models.QuoteResult {
	fromID, toID, inAddr, outAddr := e.lookup(intent)
	amountOut := e.AmountOut(intent.AmountIn, intent.TokenIn, intent.TokenOut)
	quote := models.Quote{
		RouteID:         DeterministicID(Seed(intent)),
		FromChain:       intent.SourceChain,
		ToChain:         intent.DestinationChain,
		FromChainID:     fromID,
		ToChainID:       toID,
		TokenIn:         strings.ToUpper(intent.TokenIn),
		TokenOut:        strings.ToUpper(intent.TokenOut),
		TokenInAddress:  inAddr,
		TokenOutAddress: outAddr,
		AmountIn:        e.amountIn(intent.AmountIn).String(),
		AmountOut:       amountOut,
		AmountOutMin:    amountOut,
		Tool:            Tool,
	}
	return models.Fallback(quote, cause, e.now())
}

// Route builds a synthetic single-step route for intent.
func (e *Engine) Route(intent models.Intent, cause models.ReasonedFallback) models.RouteResult {
	fromID, toID, inAddr, outAddr := e.lookup(intent)
	amountOut := e.AmountOut(intent.AmountIn, intent.TokenIn, intent.TokenOut)
	route := models.Route{
		RouteID:     DeterministicID(Seed(intent)),
		FromChainID: fromID,
		ToChainID:   toID,
		TokenIn:     strings.ToUpper(intent.TokenIn),
		TokenOut:    strings.ToUpper(intent.TokenOut),
		AmountIn:    e.amountIn(intent.AmountIn).String(),
		AmountOut:   amountOut,
		Steps: []models.RouteStep{{
			Type:        "cross",
			Tool:        Tool,
			FromChainID: fromID,
			ToChainID:   toID,
			FromToken:   inAddr,
			ToToken:     outAddr,
			AmountOut:   amountOut,
		}},
	}
	return models.Fallback(route, cause, e.now())
}

// Status builds a synthetic status for txHash.
func (e *Engine) Status(txHash string, cause models.ReasonedFallback) models.StatusResult {
	status := models.TransferStatus{
		TxHash:    txHash,
		State:     UnknownState,
		Substatus: string(cause.ReasonCode),
		SendingTx: txHash,
	}
	return models.Fallback(status, cause, e.now())
}

// lookup resolves whatever it can; unknown parts stay zero valued.
func (e *Engine) lookup(intent models.Intent) (fromID, toID int, inAddr, outAddr string) {
	if e.resolver == nil {
		return
	}
	if id, err := e.resolver.ResolveChain(intent.SourceChain); err == nil {
		fromID = id
		if token, err := e.resolver.ResolveToken(id, intent.TokenIn); err == nil {
			inAddr = token.Address
		}
	}
	if id, err := e.resolver.ResolveChain(intent.DestinationChain); err == nil {
		toID = id
		if token, err := e.resolver.ResolveToken(id, intent.TokenOut); err == nil {
			outAddr = token.Address
		}
	}
	return
}
