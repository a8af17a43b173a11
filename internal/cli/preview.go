package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/workspace"
)

// newPreviewCommand creates the "preview" subcommand that shows pending stack changes.
func newPreviewCommand(opts *Options) *cobra.Command {
	var only, skip string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview changes of the selected stacks without applying them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			plan, err := pc.plan(only, skip)
			if err != nil {
				return err
			}
			eng, err := pc.engine(logger)
			if err != nil {
				return err
			}

			ctx, cancel, err := operationContext(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			logger.Info("previewing stacks", "env", pc.envName, "stacks", plan.Names())
			changes, err := eng.Preview(ctx, plan)
			if err != nil {
				return err
			}
			for _, step := range plan.Steps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", step.StackName, workspace.FormatChanges(changes[step.StackName]))
			}
			return nil
		},
	}

	addStackFilterFlags(cmd, &only, &skip, "Preview")
	addTimeoutFlag(cmd)
	addVarsFlags(cmd)

	return cmd
}
