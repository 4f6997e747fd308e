// Package commands provides the CLI command implementations for relay.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-relay/cli/styles"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	noColor    bool
}

// NewRootCommand creates the root command for the relay CLI
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Mediator and integration event bus for Go",
		Long: styles.Banner() + `

relay publishes integration events through a broker transport with
at-most-once delivery per name:eventId, and consumes them back.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("relay init") + `                      Write relay.yaml
  ` + styles.Code.Render("relay publish OrderPlaced --data '{}'") + ` Publish one envelope
  ` + styles.Code.Render("relay consume OrderPlaced") + `       Print received envelopes
  ` + styles.Code.Render("relay processed sweep") + `           Remove expired keys`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to relay.yaml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewConfigCommand(opts))
	rootCmd.AddCommand(NewPublishCommand(opts))
	rootCmd.AddCommand(NewConsumeCommand(opts))
	rootCmd.AddCommand(NewProcessedCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
