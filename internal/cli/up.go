package cli

import (
	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/ghoutput"
)

// newUpCommand creates the "up" subcommand that deploys the selected stacks in dependency order.
func newUpCommand(opts *Options) *cobra.Command {
	var only, skip string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Deploy the storage, development and inference stacks",
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

			logger.Info("deploying stacks", "env", pc.envName, "stacks", plan.Names())
			outputs, err := eng.Up(ctx, plan)
			if err != nil {
				return err
			}

			if publish, _ := cmd.Flags().GetBool("github-output"); publish {
				for _, step := range plan.Steps {
					if err := ghoutput.Write(ghoutput.StackKeys(step.StackName, stringOutputs(outputs[step.StackName]))); err != nil {
						return err
					}
				}
			}

			logger.Info("stacks deployed", "env", pc.envName, "stacks", plan.Names())
			return nil
		},
	}

	addStackFilterFlags(cmd, &only, &skip, "Deploy")
	addTimeoutFlag(cmd)
	cmd.Flags().Bool("github-output", false, "Publish stack outputs to $GITHUB_OUTPUT")
	addVarsFlags(cmd)

	return cmd
}
