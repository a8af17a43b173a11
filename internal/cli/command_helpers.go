package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newGroupCommand builds a cobra.Command that only groups subcommands. Invoked
// on its own it prints help; unknown subcommands are reported as errors.
func newGroupCommand(use, short string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unknown %s subcommand %q", cmd.CommandPath(), args[0])
			}
			return cmd.Help()
		},
	}
	cmd.AddCommand(subcommands...)
	return cmd
}
