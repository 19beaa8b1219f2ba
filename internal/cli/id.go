package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tandemlabs/tandem/internal/config"
)

// NewIDCommand creates the id command.
func NewIDCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Generate an instance identifier",
		Long: `Generate a fresh instance identifier.

Pin the result with serve --id or the instance_id config key so an
instance keeps its identity across restarts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := config.NewInstanceID()

			if rootOpts.Format == "json" {
				formatter := &OutputFormatter{
					Format: rootOpts.Format,
					Writer: cmd.OutOrStdout(),
				}
				return formatter.Success(map[string]string{"instance_id": id})
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	return cmd
}
