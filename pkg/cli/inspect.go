package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/speedrun-hq/speedrun-router/pkg/config"
	"github.com/speedrun-hq/speedrun-router/pkg/service"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	ID string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a stored intent record",
		Long: `Print the record of one intent from the configured store: status, execution
steps, reasons and operator log.

Examples:
  STORE_DRIVER=sqlite STORE_DSN=./router.db speedrun-router inspect --id 6f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "intent id (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Store.Driver == config.StoreMemory {
		return errors.New("inspect needs a persistent store, set STORE_DRIVER")
	}

	st, err := service.OpenStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(cmd.Context(), opts.ID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("intent %s not found", opts.ID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, rec)
	}

	in := rec.Intent
	fmt.Fprintf(out, "intent:  %s\n", in.ID)
	fmt.Fprintf(out, "status:  %s (version %d)\n", rec.Status, rec.Version)
	fmt.Fprintf(out, "path:    %s %s %s -> %s %s\n", in.SourceChain, in.AmountIn, in.TokenIn, in.DestinationChain, in.TokenOut)
	if rec.SettlementTx != "" {
		fmt.Fprintf(out, "tx:      %s\n", rec.SettlementTx)
	}
	fmt.Fprintln(out, "steps:")
	for _, step := range rec.ExecutionSteps {
		fmt.Fprintf(out, "  %s  %-28s %s\n", stamp(step.Timestamp), step.Step, step.Status)
	}
	if len(rec.ReasonCodes) > 0 {
		fmt.Fprintln(out, "reasons:")
		for _, r := range rec.ReasonCodes {
			fmt.Fprintf(out, "  %s  %s (%s)\n", stamp(r.Timestamp), r.Code, r.Source)
		}
	}
	for _, line := range rec.OperatorLog {
		fmt.Fprintf(out, "operator: %s\n", line)
	}
	return nil
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
