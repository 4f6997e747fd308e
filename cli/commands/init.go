package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-relay/cli/config"
	"github.com/AshkanYarmoradi/go-relay/cli/styles"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		service   string
		transport string
		store     string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a relay.yaml configuration file",
		Long: `Write a commented relay.yaml with the chosen transport and store.

Examples:
  relay init                                # Local transport, memory store
  relay init --transport kafka --store redis
  relay init services/orders --service orders`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			if config.Exists(absDir) && !force {
				fmt.Fprintln(out, styles.FormatWarning(config.ConfigFileName+" already exists in this directory"))
				return nil
			}

			cfg := config.DefaultConfig()
			if service == "" {
				service = filepath.Base(absDir)
			}
			cfg.Service = service
			cfg.Transport.Kind = strings.ToLower(transport)
			cfg.Store.Kind = strings.ToLower(store)

			if errs := cfg.Validate(); len(errs) > 0 {
				for _, e := range errs {
					if !strings.Contains(e, "is required") {
						return fmt.Errorf("invalid configuration: %s", e)
					}
				}
			}

			if err := os.MkdirAll(absDir, 0755); err != nil {
				return err
			}
			path := filepath.Join(absDir, config.ConfigFileName)
			if err := os.WriteFile(path, []byte(config.GenerateYAML(cfg)), 0644); err != nil {
				return err
			}

			fmt.Fprintln(out, styles.FormatSuccess("Created "+path))
			fmt.Fprintln(out, styles.FormatKeyValue("Service", cfg.Service))
			fmt.Fprintln(out, styles.FormatKeyValue("Transport", cfg.Transport.Kind))
			fmt.Fprintln(out, styles.FormatKeyValue("Store", cfg.Store.Kind))
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Service name (default: directory name)")
	cmd.Flags().StringVar(&transport, "transport", config.TransportLocal, "Transport: "+strings.Join(config.TransportKinds(), ", "))
	cmd.Flags().StringVar(&store, "store", config.StoreMemory, "Processed-key store: memory, redis or postgres")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing "+config.ConfigFileName)

	return cmd
}
