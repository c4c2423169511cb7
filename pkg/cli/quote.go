package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/speedrun-hq/speedrun-router/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-router/pkg/config"
	"github.com/speedrun-hq/speedrun-router/pkg/fallback"
	"github.com/speedrun-hq/speedrun-router/pkg/lificlient"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/routing"
	"github.com/speedrun-hq/speedrun-router/pkg/service"
)

// QuoteOptions holds flags for the quote command.
type QuoteOptions struct {
	*RootOptions
	Intent  intentFlags
	Offline bool
}

// NewQuoteCommand creates the quote command.
func NewQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QuoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch a quote for an intent",
		Long: `Fetch a quote the way the orchestrator does. Backend failures produce the
deterministic fallback quote, tagged with its reason.

Examples:
  speedrun-router quote --from base --to optimism --token-in USDC --token-out WETH --amount 100
  speedrun-router quote --from base --to optimism --token-in USDC --token-out WETH --amount 100 --offline --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(opts, cmd)
		},
	}

	opts.Intent.register(cmd)
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip the backend and print the fallback quote")

	return cmd
}

func runQuote(opts *QuoteOptions, cmd *cobra.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := newLogger(cfg)

	resolver, err := service.Resolver(cfg.TokenRegistryFile)
	if err != nil {
		return err
	}
	fb := fallback.NewEngine(resolver)
	intent := opts.Intent.intent()

	var result models.QuoteResult
	if opts.Offline {
		result = fb.Quote(intent, models.NewReasonedFallback(models.ReasonUnavailable, "offline quote requested"))
	} else {
		backend := lificlient.New(cfg.Routing.APIURL, cfg.Routing.APIKey, cfg.Routing.Timeout, log)
		breaker := circuitbreaker.New("lifi", circuitbreaker.Config{
			Enabled:        cfg.CircuitBreaker.Enabled,
			Threshold:      cfg.CircuitBreaker.Threshold,
			WindowDuration: cfg.CircuitBreaker.WindowDuration,
			ResetTimeout:   cfg.CircuitBreaker.ResetTimeout,
		}, log)
		provider := routing.NewProvider(backend, resolver, fb, routing.Config{
			Retry: &routing.RetryPolicy{
				MaxRetries:   cfg.Routing.MaxRetries,
				InitialDelay: cfg.Routing.RetryDelay,
				MaxDelay:     cfg.Routing.RetryMaxDelay,
			},
			CallTimeout: cfg.Routing.Timeout,
		}, log, routing.WithCircuitBreaker(breaker))
		result = provider.FetchQuote(cmd.Context(), intent)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, result)
	}

	q := result.Value()
	fmt.Fprintf(out, "provider:   %s\n", result.Provider())
	fmt.Fprintf(out, "route:      %s\n", q.RouteID)
	fmt.Fprintf(out, "path:       %s %s -> %s %s\n", q.FromChain, q.TokenIn, q.ToChain, q.TokenOut)
	fmt.Fprintf(out, "amount in:  %s\n", q.AmountIn)
	fmt.Fprintf(out, "amount out: %s (min %s)\n", q.AmountOut, q.AmountOutMin)
	fmt.Fprintf(out, "tool:       %s\n", q.Tool)
	fmt.Fprintf(out, "fetched at: %s\n", time.UnixMilli(result.Timestamp()).UTC().Format(time.RFC3339))
	if cause := result.Cause(); cause != nil {
		fmt.Fprintf(out, "fallback:   %s (%s)\n", cause.ReasonCode, cause.Message)
	}
	return nil
}
