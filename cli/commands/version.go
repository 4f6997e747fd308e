package commands

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-relay/cli/styles"
)

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.Banner())
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.Table([]string{"", ""}, [][]string{
				{"Version", version},
				{"Commit", commit},
				{"Built", date},
				{"Go", goruntime.Version()},
				{"OS/Arch", fmt.Sprintf("%s/%s", goruntime.GOOS, goruntime.GOARCH)},
			}))
			return nil
		},
	}
}
