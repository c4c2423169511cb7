// Package routing fetches quotes, routes and transfer status from the routing
// backend. Every operation is total: failures become tagged fallback payloads.
package routing

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-router/pkg/chains"
	"github.com/speedrun-hq/speedrun-router/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-router/pkg/fallback"
	"github.com/speedrun-hq/speedrun-router/pkg/lificlient"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/units"
)

// Stage names used in metrics, logs and fallback reasons
const (
	StageQuote  = "quote"
	StageRoute  = "route"
	StageStatus = "status"
)

// DefaultCallTimeout bounds a single backend call
const DefaultCallTimeout = 20 * time.Second

// Backend is the external quoting/routing/status service.
type Backend interface {
	GetQuote(ctx context.Context, req lificlient.QuoteRequest) (*lificlient.QuoteResponse, error)
	GetRoutes(ctx context.Context, req lificlient.RoutesRequest) (*lificlient.RoutesResponse, error)
	GetStatus(ctx context.Context, txHash string) (*lificlient.StatusResponse, error)
}

var _ Backend = (*lificlient.Client)(nil)

// Config holds provider settings. A nil Retry means DefaultRetryPolicy.
type Config struct {
	Retry       *RetryPolicy
	CallTimeout time.Duration
}

// Provider validates intents, calls the backend and normalizes its answers.
type Provider struct {
	backend     Backend
	resolver    *chains.Resolver
	fallback    *fallback.Engine
	breaker     *circuitbreaker.CircuitBreaker
	retry       RetryPolicy
	callTimeout time.Duration
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
	logger      logger.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithCircuitBreaker short-circuits to fallback while the breaker is open.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(p *Provider) { p.breaker = cb }
}

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Provider) { p.sleep = sleep }
}

// WithClock replaces time.Now for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a routing provider.
func NewProvider(backend Backend, resolver *chains.Resolver, fb *fallback.Engine, cfg Config, logger logger.Logger, opts ...Option) *Provider {
	retry := DefaultRetryPolicy
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	p := &Provider{
		backend:     backend,
		resolver:    resolver,
		fallback:    fb,
		retry:       retry,
		callTimeout: cfg.CallTimeout,
		sleep:       sleepContext,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// resolved carries the outcome of input validation and resolution.
type resolved struct {
	fromChainID int
	toChainID   int
	tokenIn     chains.TokenEntry
	tokenOut    chains.TokenEntry
	amountIn    *big.Int
}

// prepare runs validation and resolution. A non-nil fallback means stop here.
func (p *Provider) prepare(intent models.Intent) (*resolved, *models.ReasonedFallback) {
	if missing := intent.MissingFields(); len(missing) > 0 {
		fb := models.NewReasonedFallback(models.ReasonMissingParams, "missing required fields: %s", strings.Join(missing, ", "))
		return nil, &fb
	}

	if err := validateAmount(intent.AmountIn); err != nil {
		fb := models.NewReasonedFallback(models.ReasonInvalidAmount, "invalid amountIn %q: %v", intent.AmountIn, err)
		return nil, &fb
	}

	fromID, err := p.resolver.ResolveChain(intent.SourceChain)
	if err != nil {
		fb := models.NewReasonedFallback(models.ReasonUnsupportedChain, "source chain: %v", err)
		return nil, &fb
	}
	toID, err := p.resolver.ResolveChain(intent.DestinationChain)
	if err != nil {
		fb := models.NewReasonedFallback(models.ReasonUnsupportedChain, "destination chain: %v", err)
		return nil, &fb
	}

	tokenIn, err := p.resolver.ResolveToken(fromID, intent.TokenIn)
	if err != nil {
		fb := models.NewReasonedFallback(models.ReasonUnsupportedToken, "tokenIn: %v", err)
		return nil, &fb
	}
	tokenOut, err := p.resolver.ResolveToken(toID, intent.TokenOut)
	if err != nil {
		fb := models.NewReasonedFallback(models.ReasonUnsupportedToken, "tokenOut: %v", err)
		return nil, &fb
	}

	amountIn, err := units.ToBaseUnitsInt(intent.AmountIn, tokenIn.Decimals)
	if err != nil || amountIn.Sign() <= 0 {
		fb := models.NewReasonedFallback(models.ReasonInvalidAmount, "amountIn %q is below the precision of %s", intent.AmountIn, tokenIn.Symbol)
		return nil, &fb
	}

	return &resolved{
		fromChainID: fromID,
		toChainID:   toID,
		tokenIn:     tokenIn,
		tokenOut:    tokenOut,
		amountIn:    amountIn,
	}, nil
}

// validateAmount accepts plain positive decimal strings only.
func validateAmount(raw string) error {
	if _, _, err := units.ParseDecimal(raw); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

// breakerOpen reports an open circuit as a fallback cause.
func (p *Provider) breakerOpen() *models.ReasonedFallback {
	if p.breaker == nil || !p.breaker.IsOpen() {
		return nil
	}
	fb := models.NewReasonedFallback(models.ReasonUnavailable, "routing backend circuit is open")
	return &fb
}

// failure converts a backend error into a fallback cause and feeds the breaker.
func (p *Provider) failure(stage string, attempts int, err error) models.ReasonedFallback {
	_, reason := ClassifyError(err)
	if p.breaker != nil && reason != models.ReasonBadRequest && reason != models.ReasonEmptyResponse {
		p.breaker.RecordFailure()
	}
	p.logger.Notice("Routing %s failed after %d attempt(s), using fallback (%s): %v", stage, attempts, reason, err)
	return models.NewReasonedFallback(reason, "%s failed after %d attempt(s): %v", stage, attempts, err)
}

func (p *Provider) success() {
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
}

func observe[T models.Body](stage string, result models.Result[T]) models.Result[T] {
	metrics.ProviderResults.WithLabelValues(stage, string(result.Provider())).Inc()
	if cause := result.Cause(); cause != nil {
		metrics.FallbackReasons.WithLabelValues(stage, string(cause.ReasonCode)).Inc()
	}
	return result
}

// FetchQuote returns a live quote, or a fallback quote explaining why not.
func (p *Provider) FetchQuote(ctx context.Context, intent models.Intent) models.QuoteResult {
	r, cause := p.prepare(intent)
	if cause == nil {
		cause = p.breakerOpen()
	}
	if cause != nil {
		return observe(StageQuote, p.fallback.Quote(intent, *cause))
	}

	req := lificlient.QuoteRequest{
		FromChain:   r.fromChainID,
		ToChain:     r.toChainID,
		FromToken:   r.tokenIn.Address,
		ToToken:     r.tokenOut.Address,
		FromAmount:  r.amountIn.String(),
		FromAddress: intent.Signer,
	}
	resp, attempts, err := executeWithRetry(ctx, p, StageQuote, func(ctx context.Context) (*lificlient.QuoteResponse, error) {
		return p.backend.GetQuote(ctx, req)
	})
	if err != nil {
		return observe(StageQuote, p.fallback.Quote(intent, p.failure(StageQuote, attempts, err)))
	}

	amountOut, err := units.FromBaseUnits(resp.Estimate.ToAmount, r.tokenOut.Decimals)
	if err != nil {
		fb := models.NewReasonedFallback(models.ReasonEmptyResponse, "quote carried an unusable toAmount %q", resp.Estimate.ToAmount)
		return observe(StageQuote, p.fallback.Quote(intent, fb))
	}
	amountOutMin := amountOut
	if resp.Estimate.ToAmountMin != "" {
		if v, err := units.FromBaseUnits(resp.Estimate.ToAmountMin, r.tokenOut.Decimals); err == nil {
			amountOutMin = v
		}
	}
	p.success()

	routeID := resp.ID
	if routeID == "" {
		routeID = fallback.DeterministicID(fallback.Seed(intent))
	}
	quote := models.Quote{
		RouteID:           routeID,
		FromChain:         p.resolver.ChainName(r.fromChainID),
		ToChain:           p.resolver.ChainName(r.toChainID),
		FromChainID:       r.fromChainID,
		ToChainID:         r.toChainID,
		TokenIn:           r.tokenIn.Symbol,
		TokenOut:          r.tokenOut.Symbol,
		TokenInAddress:    r.tokenIn.Address,
		TokenOutAddress:   r.tokenOut.Address,
		AmountIn:          units.FormatBaseUnits(r.amountIn, r.tokenIn.Decimals),
		AmountOut:         amountOut,
		AmountOutMin:      amountOutMin,
		EstimatedDuration: resp.Estimate.ExecutionDuration,
		Tool:              resp.Tool,
	}
	return observe(StageQuote, models.Live(quote, p.now()))
}

// FetchRoute returns the live route with the greatest destination amount, or a fallback route.
func (p *Provider) FetchRoute(ctx context.Context, intent models.Intent) models.RouteResult {
	r, cause := p.prepare(intent)
	if cause == nil {
		cause = p.breakerOpen()
	}
	if cause != nil {
		return observe(StageRoute, p.fallback.Route(intent, *cause))
	}

	req := lificlient.RoutesRequest{
		FromChainID:      r.fromChainID,
		ToChainID:        r.toChainID,
		FromTokenAddress: r.tokenIn.Address,
		ToTokenAddress:   r.tokenOut.Address,
		FromAmount:       r.amountIn.String(),
		FromAddress:      intent.Signer,
	}
	resp, attempts, err := executeWithRetry(ctx, p, StageRoute, func(ctx context.Context) (*lificlient.RoutesResponse, error) {
		return p.backend.GetRoutes(ctx, req)
	})
	if err != nil {
		return observe(StageRoute, p.fallback.Route(intent, p.failure(StageRoute, attempts, err)))
	}

	best, ok := SelectBestRoute(resp.Routes)
	if !ok {
		fb := models.NewReasonedFallback(models.ReasonEmptyResponse, "no candidate route carried a usable toAmount")
		return observe(StageRoute, p.fallback.Route(intent, fb))
	}
	p.success()

	amountOut, _ := units.FromBaseUnits(best.ToAmount, r.tokenOut.Decimals)
	route := models.Route{
		RouteID:     best.ID,
		FromChainID: r.fromChainID,
		ToChainID:   r.toChainID,
		TokenIn:     r.tokenIn.Symbol,
		TokenOut:    r.tokenOut.Symbol,
		AmountIn:    units.FormatBaseUnits(r.amountIn, r.tokenIn.Decimals),
		AmountOut:   amountOut,
		Steps:       make([]models.RouteStep, 0, len(best.Steps)),
	}
	if route.RouteID == "" {
		route.RouteID = fallback.DeterministicID(fallback.Seed(intent))
	}
	for _, step := range best.Steps {
		stepOut := step.Estimate.ToAmount
		if decimals, ok := p.stepDecimals(step, r); ok {
			if v, err := units.FromBaseUnits(stepOut, decimals); err == nil {
				stepOut = v
			}
		} else {
			p.logger.Debug("Route %s step %s: no decimals known for %s on chain %d, keeping base units",
				route.RouteID, step.Tool, step.Action.ToToken.Symbol, step.Action.ToChainID)
		}
		route.Steps = append(route.Steps, models.RouteStep{
			Type:        step.Type,
			Tool:        step.Tool,
			FromChainID: step.Action.FromChainID,
			ToChainID:   step.Action.ToChainID,
			FromToken:   step.Action.FromToken.Address,
			ToToken:     step.Action.ToToken.Address,
			AmountOut:   stepOut,
		})
	}
	return observe(StageRoute, models.Live(route, p.now()))
}

// stepDecimals finds the decimals of the token a route step ends in: the
// backend's own figure first, then the intent's output token on the
// destination chain, then the chain registry by symbol.
func (p *Provider) stepDecimals(step lificlient.Step, r *resolved) (int, bool) {
	to := step.Action.ToToken
	if to.Decimals > 0 {
		return to.Decimals, true
	}
	if step.Action.ToChainID == r.toChainID && (to.Address == "" || strings.EqualFold(to.Address, r.tokenOut.Address)) {
		return r.tokenOut.Decimals, true
	}
	if to.Symbol != "" {
		if token, err := p.resolver.ResolveToken(step.Action.ToChainID, to.Symbol); err == nil {
			return token.Decimals, true
		}
	}
	return 0, false
}

// FetchStatus returns the live transfer status of txHash, or a fallback status.
func (p *Provider) FetchStatus(ctx context.Context, txHash string) models.StatusResult {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		fb := models.NewReasonedFallback(models.ReasonMissingTxHash, "no transaction hash to track")
		return observe(StageStatus, p.fallback.Status(txHash, fb))
	}
	if cause := p.breakerOpen(); cause != nil {
		return observe(StageStatus, p.fallback.Status(txHash, *cause))
	}

	resp, attempts, err := executeWithRetry(ctx, p, StageStatus, func(ctx context.Context) (*lificlient.StatusResponse, error) {
		return p.backend.GetStatus(ctx, txHash)
	})
	if err != nil {
		return observe(StageStatus, p.fallback.Status(txHash, p.failure(StageStatus, attempts, err)))
	}
	p.success()

	status := models.TransferStatus{
		TxHash:      txHash,
		State:       strings.ToUpper(resp.Status),
		Substatus:   resp.Substatus,
		SendingTx:   resp.Sending.TxHash,
		ReceivingTx: resp.Receiving.TxHash,
	}
	return observe(StageStatus, models.Live(status, p.now()))
}

// SelectBestRoute picks the route with the greatest destination amount,
// compared as integers. Routes with unparseable amounts are skipped.
func SelectBestRoute(routes []lificlient.Route) (lificlient.Route, bool) {
	var best lificlient.Route
	var bestAmount *big.Int
	for _, route := range routes {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(route.ToAmount), 10)
		if !ok || amount.Sign() < 0 {
			continue
		}
		if bestAmount == nil || amount.Cmp(bestAmount) > 0 {
			best = route
			bestAmount = amount
		}
	}
	return best, bestAmount != nil
}
