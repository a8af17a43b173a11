package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/engine"
)

// newRenderCommand creates the "render" subcommand that prints the resolved stack plan.
func newRenderCommand(opts *Options) *cobra.Command {
	var only, skip string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the resolved stack plan from platform.yaml",
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
			rendered, err := engine.RenderPlan(pc.cfg, pc.tctx, plan)
			if err != nil {
				return err
			}

			outputDir := cmd.Flag("output").Value.String()
			toStdout, _ := cmd.Flags().GetBool("stdout")

			if outputDir == "" || toStdout {
				_, writeErr := cmd.OutOrStdout().Write(rendered)
				return writeErr
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("create output directory %q: %w", outputDir, err)
			}

			outPath := filepath.Join(outputDir, "plan-"+pc.envName+".yaml")
			if err := os.WriteFile(outPath, rendered, 0o644); err != nil {
				return fmt.Errorf("write rendered plan to %q: %w", outPath, err)
			}

			logger.Info("rendered plan", "path", outPath, "stacks", plan.Names())
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output directory for the rendered plan (if empty, prints to stdout)")
	cmd.Flags().Bool("stdout", false, "Force output to stdout instead of files")
	addStackFilterFlags(cmd, &only, &skip, "Render")
	addVarsFlags(cmd)

	return cmd
}
