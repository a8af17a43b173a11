package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aast-innovation/mlopsctl/internal/ghoutput"
	"github.com/aast-innovation/mlopsctl/internal/workspace"
)

// newOutputsCommand creates the "outputs" subcommand that prints stack outputs.
func newOutputsCommand(opts *Options) *cobra.Command {
	var only, skip, format string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Show outputs of the deployed stacks",
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

			showSecrets, _ := cmd.Flags().GetBool("show-secrets")
			outputs, err := eng.Outputs(ctx, plan, showSecrets)
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

			return writeOutputs(cmd.OutOrStdout(), format, plan.Names(), outputs)
		},
	}

	addStackFilterFlags(cmd, &only, &skip, "Show")
	addTimeoutFlag(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, json, env)")
	cmd.Flags().Bool("show-secrets", false, "Print secret outputs in clear text")
	cmd.Flags().Bool("github-output", false, "Publish stack outputs to $GITHUB_OUTPUT")
	addVarsFlags(cmd)

	return cmd
}

// stringOutputs flattens outputs to text values.
func stringOutputs(out workspace.Outputs) map[string]string {
	values := make(map[string]string, len(out))
	for _, k := range out.Keys() {
		values[k] = out.String(k)
	}
	return values
}

// writeOutputs prints outputs of stacks in plan order.
func writeOutputs(w io.Writer, format string, stacks []string, outputs map[string]workspace.Outputs) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	case "env":
		for _, stack := range stacks {
			if err := ghoutput.Encode(w, ghoutput.StackKeys(stack, stringOutputs(outputs[stack]))); err != nil {
				return err
			}
		}
		return nil
	case "yaml", "":
		var doc yaml.Node
		doc.Kind = yaml.MappingNode
		for _, stack := range stacks {
			var value yaml.Node
			if err := value.Encode(map[string]any(outputs[stack])); err != nil {
				return fmt.Errorf("encode outputs of %s: %w", stack, err)
			}
			doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: stack}, &value)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml, json or env)", format)
	}
}
