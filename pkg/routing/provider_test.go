package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/chains"
	"github.com/speedrun-hq/speedrun-router/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-router/pkg/fallback"
	"github.com/speedrun-hq/speedrun-router/pkg/lificlient"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routeIDPattern = regexp.MustCompile(`^JK-LIFI-[A-Z0-9]+$`)

// fakeBackend fails with the queued errors before answering.
type fakeBackend struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	quote    *lificlient.QuoteResponse
	routes   *lificlient.RoutesResponse
	status   *lificlient.StatusResponse
	onCall   func(call int)
	lastTxID string
}

func (f *fakeBackend) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall(f.calls)
	}
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) GetQuote(_ context.Context, _ lificlient.QuoteRequest) (*lificlient.QuoteResponse, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return f.quote, nil
}

func (f *fakeBackend) GetRoutes(_ context.Context, _ lificlient.RoutesRequest) (*lificlient.RoutesResponse, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return f.routes, nil
}

func (f *fakeBackend) GetStatus(_ context.Context, txHash string) (*lificlient.StatusResponse, error) {
	f.lastTxID = txHash
	if err := f.next(); err != nil {
		return nil, err
	}
	return f.status, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func validIntent() models.Intent {
	return models.Intent{
		SourceChain:      "arbitrum",
		DestinationChain: "optimism",
		TokenIn:          "USDC",
		TokenOut:         "WETH",
		AmountIn:         "100",
	}
}

func newTestProvider(backend Backend, maxRetries int, opts ...Option) (*Provider, *sleepRecorder) {
	rec := &sleepRecorder{}
	resolver := chains.NewResolver()
	cfg := Config{
		Retry:       &RetryPolicy{MaxRetries: maxRetries, InitialDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second},
		CallTimeout: time.Second,
	}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return NewProvider(backend, resolver, fallback.NewEngine(resolver), cfg, &logger.EmptyLogger{}, opts...), rec
}

func serverErr() error { return &lificlient.HTTPError{StatusCode: http.StatusServiceUnavailable} }

func liveQuote() *lificlient.QuoteResponse {
	return &lificlient.QuoteResponse{
		ID:   "live-quote",
		Tool: "across",
		Estimate: lificlient.Estimate{
			ToAmount:          "40100000000000000",
			ToAmountMin:       "40000000000000000",
			ExecutionDuration: 120,
		},
	}
}

func TestFetchQuoteValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(i *models.Intent)
		reason models.ReasonCode
	}{
		{"missing source chain", func(i *models.Intent) { i.SourceChain = "" }, models.ReasonMissingParams},
		{"missing token out", func(i *models.Intent) { i.TokenOut = " " }, models.ReasonMissingParams},
		{"missing amount", func(i *models.Intent) { i.AmountIn = "" }, models.ReasonMissingParams},
		{"non numeric amount", func(i *models.Intent) { i.AmountIn = "abc" }, models.ReasonInvalidAmount},
		{"zero amount", func(i *models.Intent) { i.AmountIn = "0.000" }, models.ReasonInvalidAmount},
		{"negative amount", func(i *models.Intent) { i.AmountIn = "-5" }, models.ReasonInvalidAmount},
		{"exponent amount", func(i *models.Intent) { i.AmountIn = "1e3" }, models.ReasonInvalidAmount},
		{"dust below precision", func(i *models.Intent) { i.AmountIn = "0.0000001" }, models.ReasonInvalidAmount},
		{"unknown source chain", func(i *models.Intent) { i.SourceChain = "solana" }, models.ReasonUnsupportedChain},
		{"unknown destination chain", func(i *models.Intent) { i.DestinationChain = "mars" }, models.ReasonUnsupportedChain},
		{"unknown token", func(i *models.Intent) { i.TokenIn = "DOGE" }, models.ReasonUnsupportedToken},
		{"token not on destination", func(i *models.Intent) { i.DestinationChain = "zetachain" }, models.ReasonUnsupportedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{quote: liveQuote()}
			p, _ := newTestProvider(backend, 3)
			intent := validIntent()
			tt.mutate(&intent)

			result := p.FetchQuote(context.Background(), intent)

			assert.Equal(t, models.ProviderFallback, result.Provider())
			require.NotNil(t, result.Cause())
			assert.Equal(t, tt.reason, result.Cause().ReasonCode)
			assert.Equal(t, 0, backend.callCount())
			assert.Greater(t, result.Timestamp(), int64(0))
			assert.Regexp(t, routeIDPattern, result.Value().RouteID)
		})
	}
}

func TestFetchQuoteLive(t *testing.T) {
	backend := &fakeBackend{quote: liveQuote()}
	p, _ := newTestProvider(backend, 3)

	result := p.FetchQuote(context.Background(), validIntent())

	require.False(t, result.IsFallback())
	assert.Equal(t, models.ProviderLive, result.Provider())
	quote := result.Value()
	assert.Equal(t, "live-quote", quote.RouteID)
	assert.Equal(t, "0.0401", quote.AmountOut)
	assert.Equal(t, "0.04", quote.AmountOutMin)
	assert.Equal(t, "100", quote.AmountIn)
	assert.Equal(t, chains.ArbitrumChainID, quote.FromChainID)
	assert.Equal(t, chains.OptimismChainID, quote.ToChainID)
	assert.Equal(t, int64(120), quote.EstimatedDuration)
	assert.Equal(t, 1, backend.callCount())
}

func TestExecuteWithRetrySucceedsAfterNFailures(t *testing.T) {
	const n = 3
	backend := &fakeBackend{quote: liveQuote(), errs: []error{serverErr(), serverErr(), serverErr()}}
	p, rec := newTestProvider(backend, n)

	result := p.FetchQuote(context.Background(), validIntent())

	assert.False(t, result.IsFallback())
	assert.Equal(t, n+1, backend.callCount())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

func TestExecuteWithRetryExhausts(t *testing.T) {
	const n = 3
	backend := &fakeBackend{quote: liveQuote(), errs: []error{serverErr(), serverErr(), serverErr()}}
	p, rec := newTestProvider(backend, n-1)

	result := p.FetchQuote(context.Background(), validIntent())

	require.True(t, result.IsFallback())
	assert.Equal(t, models.ReasonServerError, result.Cause().ReasonCode)
	assert.Equal(t, n, backend.callCount())
	assert.Len(t, rec.delays, n-1)
	assert.Equal(t, "0.040000", result.Value().AmountOut)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		reason   models.ReasonCode
		attempts int
	}{
		{"bad request is not retried", &lificlient.HTTPError{StatusCode: 400}, models.ReasonBadRequest, 1},
		{"unprocessable is not retried", &lificlient.HTTPError{StatusCode: 422}, models.ReasonBadRequest, 1},
		{"rate limited is retried", &lificlient.HTTPError{StatusCode: 429}, models.ReasonRateLimited, 3},
		{"server error is retried", &lificlient.HTTPError{StatusCode: 502}, models.ReasonServerError, 3},
		{"network error is retried", errors.New("dial tcp: connection refused"), models.ReasonUnavailable, 3},
		{"timeout is retried", context.DeadlineExceeded, models.ReasonUnavailable, 3},
		{"not found is unavailable", &lificlient.HTTPError{StatusCode: 404}, models.ReasonUnavailable, 1},
		{"empty body", lificlient.ErrEmptyResponse, models.ReasonEmptyResponse, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{errs: []error{tt.err, tt.err, tt.err}}
			p, _ := newTestProvider(backend, 2)

			result := p.FetchRoute(context.Background(), validIntent())

			require.True(t, result.IsFallback())
			assert.Equal(t, tt.reason, result.Cause().ReasonCode)
			assert.Equal(t, tt.attempts, backend.callCount())
		})
	}
}

func TestFetchRouteSelectsGreatestAmount(t *testing.T) {
	backend := &fakeBackend{routes: &lificlient.RoutesResponse{Routes: []lificlient.Route{
		{ID: "small", ToAmount: "40000000000000000"},
		{ID: "huge", ToAmount: "123456789012345678901234567890", Steps: []lificlient.Step{{
			Type: "cross", Tool: "stargate",
			Action:   lificlient.Action{FromChainID: 42161, ToChainID: 10},
			Estimate: lificlient.Estimate{ToAmount: "123456789012345678901234567890"},
		}}},
		{ID: "broken", ToAmount: "not-a-number"},
		{ID: "almost", ToAmount: "123456789012345678901234567889"},
	}}}
	p, _ := newTestProvider(backend, 0)

	result := p.FetchRoute(context.Background(), validIntent())

	require.False(t, result.IsFallback())
	route := result.Value()
	assert.Equal(t, "huge", route.RouteID)
	assert.Equal(t, "123456789012.34567890123456789", route.AmountOut)
	require.Len(t, route.Steps, 1)
	assert.Equal(t, "123456789012.34567890123456789", route.Steps[0].AmountOut)
}

func TestSelectBestRoute(t *testing.T) {
	_, ok := SelectBestRoute(nil)
	assert.False(t, ok)

	best, ok := SelectBestRoute([]lificlient.Route{{ID: "a", ToAmount: "9007199254740993"}, {ID: "b", ToAmount: "9007199254740992"}})
	require.True(t, ok)
	assert.Equal(t, "a", best.ID)
}

func TestFetchStatus(t *testing.T) {
	t.Run("missing tx hash makes no call", func(t *testing.T) {
		backend := &fakeBackend{}
		p, _ := newTestProvider(backend, 3)

		result := p.FetchStatus(context.Background(), "")

		require.True(t, result.IsFallback())
		assert.Equal(t, models.ReasonMissingTxHash, result.Cause().ReasonCode)
		assert.Equal(t, 0, backend.callCount())
	})

	t.Run("live", func(t *testing.T) {
		backend := &fakeBackend{status: &lificlient.StatusResponse{
			Status: "done", Substatus: "COMPLETED",
			Sending:   lificlient.TxInfo{TxHash: "0xsend"},
			Receiving: lificlient.TxInfo{TxHash: "0xrecv"},
		}}
		p, _ := newTestProvider(backend, 3)

		result := p.FetchStatus(context.Background(), "0xsend")

		require.False(t, result.IsFallback())
		assert.Equal(t, "DONE", result.Value().State)
		assert.Equal(t, "0xrecv", result.Value().ReceivingTx)
		assert.Equal(t, "0xsend", backend.lastTxID)
	})
}

func TestOpenBreakerSkipsBackend(t *testing.T) {
	cb := circuitbreaker.New("routing", circuitbreaker.Config{
		Enabled: true, Threshold: 1, WindowDuration: time.Minute, ResetTimeout: time.Hour,
	}, &logger.EmptyLogger{})
	backend := &fakeBackend{errs: []error{serverErr()}, quote: liveQuote()}
	p, _ := newTestProvider(backend, 0, WithCircuitBreaker(cb))

	first := p.FetchQuote(context.Background(), validIntent())
	require.True(t, first.IsFallback())
	assert.True(t, cb.IsOpen())

	second := p.FetchQuote(context.Background(), validIntent())
	require.True(t, second.IsFallback())
	assert.Equal(t, models.ReasonUnavailable, second.Cause().ReasonCode)
	assert.Equal(t, 1, backend.callCount())
}

func TestCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{errs: []error{serverErr(), serverErr(), serverErr(), serverErr()}}
	backend.onCall = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	p, _ := newTestProvider(backend, 3)

	result := p.FetchRoute(ctx, validIntent())

	require.True(t, result.IsFallback())
	assert.Equal(t, 2, backend.callCount())
}

func TestBackoffIsCapped(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
	assert.Equal(t, time.Second, policy.Backoff(0))
	assert.Equal(t, 2*time.Second, policy.Backoff(1))
	assert.Equal(t, 16*time.Second, policy.Backoff(4))
	assert.Equal(t, 30*time.Second, policy.Backoff(5))
	assert.Equal(t, 30*time.Second, policy.Backoff(40))
}

func TestZeroRetryPolicyIsHonored(t *testing.T) {
	resolver := chains.NewResolver()
	newProvider := func(retry *RetryPolicy, backend Backend, rec *sleepRecorder) *Provider {
		return NewProvider(backend, resolver, fallback.NewEngine(resolver), Config{Retry: retry},
			&logger.EmptyLogger{}, WithSleep(rec.sleep))
	}

	t.Run("explicit zero policy makes one attempt", func(t *testing.T) {
		backend := &fakeBackend{errs: []error{serverErr(), serverErr(), serverErr(), serverErr()}}
		rec := &sleepRecorder{}

		result := newProvider(&RetryPolicy{}, backend, rec).FetchQuote(context.Background(), validIntent())

		require.True(t, result.IsFallback())
		assert.Equal(t, 1, backend.callCount())
		assert.Empty(t, rec.delays)
	})

	t.Run("nil policy uses the defaults", func(t *testing.T) {
		backend := &fakeBackend{errs: []error{serverErr(), serverErr(), serverErr(), serverErr()}}
		rec := &sleepRecorder{}

		result := newProvider(nil, backend, rec).FetchQuote(context.Background(), validIntent())

		require.True(t, result.IsFallback())
		assert.Equal(t, DefaultRetryPolicy.MaxRetries+1, backend.callCount())
		assert.Len(t, rec.delays, DefaultRetryPolicy.MaxRetries)
	})
}

func TestFetchRouteNormalizesEveryStep(t *testing.T) {
	backend := &fakeBackend{routes: &lificlient.RoutesResponse{Routes: []lificlient.Route{{
		ID: "multi", ToAmount: "41000000000000000",
		Steps: []lificlient.Step{
			{
				Type: "swap", Tool: "uniswap",
				Action: lificlient.Action{FromChainID: 42161, ToChainID: 42161,
					ToToken: lificlient.Token{Symbol: "WETH"}},
				Estimate: lificlient.Estimate{ToAmount: "41500000000000000"},
			},
			{
				Type: "swap", Tool: "curve",
				Action: lificlient.Action{FromChainID: 42161, ToChainID: 42161,
					ToToken: lificlient.Token{Symbol: "USDC.e", Decimals: 6}},
				Estimate: lificlient.Estimate{ToAmount: "1500000"},
			},
			{
				Type: "cross", Tool: "stargate",
				Action:   lificlient.Action{FromChainID: 42161, ToChainID: 10},
				Estimate: lificlient.Estimate{ToAmount: "41000000000000000"},
			},
			{
				Type: "swap", Tool: "mystery",
				Action: lificlient.Action{FromChainID: 42161, ToChainID: 42161,
					ToToken: lificlient.Token{Symbol: "NOPE"}},
				Estimate: lificlient.Estimate{ToAmount: "777"},
			},
		},
	}}}}
	p, _ := newTestProvider(backend, 0)

	result := p.FetchRoute(context.Background(), validIntent())

	require.False(t, result.IsFallback())
	steps := result.Value().Steps
	require.Len(t, steps, 4)
	assert.Equal(t, "0.0415", steps[0].AmountOut)
	assert.Equal(t, "1.5", steps[1].AmountOut)
	assert.Equal(t, "0.041", steps[2].AmountOut)
	assert.Equal(t, "777", steps[3].AmountOut, "unknown tokens keep base units")
}

// The live backend is unreachable, so every stage falls back to synthetic data.
func TestUnreachableBackendEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	resolver := chains.NewResolver()
	client := lificlient.New(url, "", 500*time.Millisecond, &logger.EmptyLogger{})
	p := NewProvider(client, resolver, fallback.NewEngine(resolver), Config{
		Retry: &RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, &logger.EmptyLogger{})

	quote := p.FetchQuote(context.Background(), validIntent())

	require.Equal(t, models.ProviderFallback, quote.Provider())
	assert.Equal(t, "0.040000", quote.Value().AmountOut)
	assert.Regexp(t, routeIDPattern, quote.Value().RouteID)
	assert.Equal(t, models.ReasonUnavailable, quote.Cause().ReasonCode)
}
