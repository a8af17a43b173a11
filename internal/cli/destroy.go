package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDestroyCommand creates the "destroy" subcommand that deletes the selected stacks in reverse order.
func newDestroyCommand(opts *Options) *cobra.Command {
	var only, skip string

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource of the selected stacks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			if !confirmed(cmd) {
				return fmt.Errorf("destroy requires --yes (or MLOPSCTL_YES=true)")
			}

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

			logger.Info("destroying stacks", "env", pc.envName, "stacks", plan.Names())
			return eng.Destroy(ctx, plan)
		},
	}

	addStackFilterFlags(cmd, &only, &skip, "Destroy")
	addTimeoutFlag(cmd)
	cmd.Flags().Bool("yes", false, "Do not ask for confirmation")
	addVarsFlags(cmd)

	return cmd
}

// confirmed reports whether --yes was given or MLOPSCTL_YES is true.
func confirmed(cmd *cobra.Command) bool {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true
	}
	if !envPresent("MLOPSCTL_YES") {
		return false
	}
	var fromEnv stackEnv
	if err := parseEnv(&fromEnv); err != nil {
		return false
	}
	yes, ok := parseEnvBool(fromEnv.Yes)
	return ok && yes
}
