package fallback

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-router/pkg/chains"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routeIDPattern = regexp.MustCompile(`^JK-LIFI-[A-Z0-9]+$`)

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func arbToOpIntent() models.Intent {
	return models.Intent{
		SourceChain:      "arbitrum",
		DestinationChain: "optimism",
		TokenIn:          "USDC",
		TokenOut:         "WETH",
		AmountIn:         "100",
	}
}

func TestDeterministicID(t *testing.T) {
	tests := []struct {
		seed     string
		expected string
	}{
		{"", "JK-LIFI-45H"},
		{"abc", "JK-LIFI-375FUT"},
		{"arbitrum:optimism:USDC:WETH:100", "JK-LIFI-1TZPGAT"},
	}
	for _, tt := range tests {
		t.Run(tt.seed, func(t *testing.T) {
			got := DeterministicID(tt.seed)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, DeterministicID(tt.seed))
			assert.Regexp(t, routeIDPattern, got)
		})
	}

	assert.NotEqual(t, DeterministicID("a"), DeterministicID("b"))
}

func TestSeedIsCaseInsensitive(t *testing.T) {
	upper := models.Intent{SourceChain: "ARBITRUM", DestinationChain: "Optimism", TokenIn: "usdc", TokenOut: "weth", AmountIn: "100"}
	assert.Equal(t, Seed(arbToOpIntent()), Seed(upper))
}

func TestAmountOut(t *testing.T) {
	e := NewEngine(chains.NewResolver())

	tests := []struct {
		name     string
		amountIn string
		tokenIn  string
		tokenOut string
		expected string
	}{
		{"usdc to weth", "100", "USDC", "WETH", "0.040000"},
		{"lower case pair", "100", "usdc", "weth", "0.040000"},
		{"weth to usdc", "1.5", "WETH", "USDC", "3750.000000"},
		{"unknown pair defaults to one", "12.3456789", "DAI", "FRAX", "12.345679"},
		{"invalid amount", "abc", "USDC", "WETH", "0.000000"},
		{"negative amount", "-5", "USDC", "USDT", "0.000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, e.AmountOut(tt.amountIn, tt.tokenIn, tt.tokenOut))
		})
	}
}

func TestWithRate(t *testing.T) {
	e := NewEngine(nil, WithRate("dai", "usdc", decimal.RequireFromString("0.999")))
	assert.Equal(t, "99.900000", e.AmountOut("100", "DAI", "USDC"))
}

func TestQuoteIsCompleteForAnyInput(t *testing.T) {
	e := NewEngine(chains.NewResolver(), WithClock(fixedClock))
	cause := models.NewReasonedFallback(models.ReasonMissingParams, "missing %s", "tokenIn")

	for _, intent := range []models.Intent{{}, arbToOpIntent(), {SourceChain: "mars", AmountIn: "x"}} {
		result := e.Quote(intent, cause)
		assert.Equal(t, models.ProviderFallback, result.Provider())
		assert.True(t, result.IsFallback())
		assert.False(t, result.Executable(false))
		assert.True(t, result.Executable(true))
		assert.Regexp(t, routeIDPattern, result.Value().RouteID)
		assert.NotEmpty(t, result.Value().AmountOut)
		require.NotNil(t, result.Cause())
		assert.Equal(t, models.ReasonMissingParams, result.Cause().ReasonCode)
	}
}

func TestRouteMatchesQuote(t *testing.T) {
	e := NewEngine(chains.NewResolver(), WithClock(fixedClock))
	cause := models.NewReasonedFallback(models.ReasonServerError, "upstream 503")

	quote := e.Quote(arbToOpIntent(), cause).Value()
	route := e.Route(arbToOpIntent(), cause).Value()

	assert.Equal(t, quote.RouteID, route.RouteID)
	assert.Equal(t, quote.AmountOut, route.AmountOut)
	require.Len(t, route.Steps, 1)
	assert.Equal(t, Tool, route.Steps[0].Tool)
	assert.Equal(t, chains.ArbitrumChainID, route.FromChainID)
	assert.Equal(t, chains.OptimismChainID, route.ToChainID)
}

func TestGoldenPayloads(t *testing.T) {
	e := NewEngine(chains.NewResolver(), WithClock(fixedClock))
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	quote := e.Quote(arbToOpIntent(), models.NewReasonedFallback(models.ReasonUnavailable, "routing backend unreachable"))
	data, err := json.MarshalIndent(quote, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "quote_arbitrum_optimism", data)

	status := e.Status("", models.NewReasonedFallback(models.ReasonMissingTxHash, "no transaction hash to track"))
	data, err = json.MarshalIndent(status, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "status_missing_tx", data)
}

func TestPayloadRoundTrip(t *testing.T) {
	e := NewEngine(chains.NewResolver(), WithClock(fixedClock))
	original := e.Route(arbToOpIntent(), models.NewReasonedFallback(models.ReasonRateLimited, "429"))

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded models.RouteResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Value(), decoded.Value())
	assert.Equal(t, original.Cause(), decoded.Cause())
	assert.Equal(t, original.Timestamp(), decoded.Timestamp())
}
