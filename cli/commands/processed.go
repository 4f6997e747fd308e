package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-relay/adapters"
	"github.com/AshkanYarmoradi/go-relay/cli/styles"
)

// NewProcessedCommand creates the processed command
func NewProcessedCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processed",
		Short: "Maintain the processed-key store",
		Long: `Maintain the store that records delivered name:eventId keys.

Examples:
  relay processed sweep                    # Remove expired keys
  relay processed clear --yes              # Forget every key
  relay processed check OrderPlaced 42     # Was OrderPlaced:42 delivered?`,
	}

	cmd.AddCommand(newProcessedSweepCommand(opts))
	cmd.AddCommand(newProcessedClearCommand(opts))
	cmd.AddCommand(newProcessedCountCommand(opts))
	cmd.AddCommand(newProcessedCheckCommand(opts))

	return cmd
}

func withStore(cmd *cobra.Command, opts *globalOptions, fn func(rt *runtime) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	rt, err := newStoreRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func newProcessedSweepCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(rt *runtime) error {
				n, err := rt.store.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess(fmt.Sprintf("Removed %d expired keys", n)))
				return nil
			})
		},
	}
}

func newProcessedClearCommand(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every delivered key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clear allows every previously delivered event to be published again; pass --yes to confirm")
			}
			return withStore(cmd, opts, func(rt *runtime) error {
				if err := rt.store.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess("Cleared processed keys"))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm")
	return cmd
}

func newProcessedCountCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print how many keys are recorded",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(rt *runtime) error {
				counter, ok := rt.store.(adapters.Counter)
				if !ok {
					return fmt.Errorf("%s store cannot count keys", rt.cfg.Store.Kind)
				}
				n, err := counter.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatKeyValue("Processed keys", strconv.FormatInt(n, 10)))
				return nil
			})
		},
	}
}

func newProcessedCheckCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <name> <eventId>",
		Short: "Report whether name:eventId was delivered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(rt *runtime) error {
				key := args[0] + ":" + args[1]
				seen, err := rt.store.Seen(cmd.Context(), key)
				if err != nil {
					return err
				}
				status := "pending"
				if seen {
					status = "delivered"
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.StatusBadge(status)+" "+key)
				return nil
			})
		},
	}
}
