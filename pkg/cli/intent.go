package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// intentFlags are the intent fields shared by quote and sign.
type intentFlags struct {
	ID           string
	From         string
	To           string
	TokenIn      string
	TokenOut     string
	Amount       string
	MinAmountOut string
	Deadline     int64
}

func (f *intentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ID, "id", "", "intent id (random when empty)")
	cmd.Flags().StringVar(&f.From, "from", "", "source chain (required)")
	cmd.Flags().StringVar(&f.To, "to", "", "destination chain (required)")
	cmd.Flags().StringVar(&f.TokenIn, "token-in", "", "input token symbol (required)")
	cmd.Flags().StringVar(&f.TokenOut, "token-out", "", "output token symbol (required)")
	cmd.Flags().StringVar(&f.Amount, "amount", "", "input amount in human units (required)")
	cmd.Flags().StringVar(&f.MinAmountOut, "min-out", "", "minimum acceptable output amount")
	cmd.Flags().Int64Var(&f.Deadline, "deadline", 0, "unix deadline in seconds (0 for none)")
	for _, name := range []string{"from", "to", "token-in", "token-out", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (f *intentFlags) intent() models.Intent {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	return models.Intent{
		ID:               id,
		SourceChain:      f.From,
		DestinationChain: f.To,
		TokenIn:          f.TokenIn,
		TokenOut:         f.TokenOut,
		AmountIn:         f.Amount,
		MinAmountOut:     f.MinAmountOut,
		Deadline:         f.Deadline,
	}
}
