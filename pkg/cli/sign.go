package cli

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/speedrun-hq/speedrun-router/pkg/config"
	"github.com/speedrun-hq/speedrun-router/pkg/settlement"
)

// SignOptions holds flags for the sign command.
type SignOptions struct {
	*RootOptions
	Intent intentFlags
	Key    string
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a test intent with a hex private key",
		Long: `Produce the EIP-712 signature the settlement validator expects. The signing
domain comes from DOMAIN_NAME, DOMAIN_VERSION, DOMAIN_CHAIN_ID and
DOMAIN_VERIFYING_CONTRACT. The output is an intent-creation request body.

Examples:
  speedrun-router sign --key 0x4c0883a6... --from base --to optimism --token-in USDC --token-out WETH --amount 100 --deadline 1900000000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(opts, cmd)
		},
	}

	opts.Intent.register(cmd)
	cmd.Flags().StringVar(&opts.Key, "key", "", "hex encoded secp256k1 private key (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

// signedIntent mirrors the intent-creation request body
type signedIntent struct {
	ID               string `json:"id"`
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`
	TokenIn          string `json:"tokenIn"`
	TokenOut         string `json:"tokenOut"`
	AmountIn         string `json:"amountIn"`
	MinAmountOut     string `json:"minAmountOut"`
	Deadline         int64  `json:"deadline"`
	Signature        string `json:"signature"`
	Signer           string `json:"signer"`
}

func signingDomain() (settlement.Domain, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return settlement.Domain{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return settlement.Domain{
		Name:              cfg.Settlement.DomainName,
		Version:           cfg.Settlement.DomainVersion,
		ChainID:           cfg.Settlement.DomainChainID,
		VerifyingContract: cfg.Settlement.VerifyingContract,
	}, nil
}

func runSign(opts *SignOptions, cmd *cobra.Command) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.Key, "0x"))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	domain, err := signingDomain()
	if err != nil {
		return err
	}

	intent := opts.Intent.intent()
	intent.Signer = crypto.PubkeyToAddress(key.PublicKey).Hex()
	intent.Signature, err = domain.Sign(intent, key)
	if err != nil {
		return fmt.Errorf("failed to sign intent: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, signedIntent{
			ID:               intent.ID,
			SourceChain:      intent.SourceChain,
			DestinationChain: intent.DestinationChain,
			TokenIn:          intent.TokenIn,
			TokenOut:         intent.TokenOut,
			AmountIn:         intent.AmountIn,
			MinAmountOut:     intent.MinAmountOut,
			Deadline:         intent.Deadline,
			Signature:        intent.Signature,
			Signer:           intent.Signer,
		})
	}
	fmt.Fprintf(out, "intent:    %s\n", intent.ID)
	fmt.Fprintf(out, "signer:    %s\n", intent.Signer)
	fmt.Fprintf(out, "signature: %s\n", intent.Signature)
	return nil
}
