package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/env"
	"github.com/aast-innovation/mlopsctl/internal/stacks"
	"github.com/aast-innovation/mlopsctl/internal/trigger"
	"github.com/aast-innovation/mlopsctl/internal/workspace"
)

// developmentOutputs reads the outputs of the development stack of the selected environment.
func (pc *platformContext) developmentOutputs(ctx context.Context, logger *slog.Logger) (workspace.Outputs, error) {
	spec, ok := pc.cfg.StackByKind(config.KindDevelopment)
	if !ok {
		return nil, fmt.Errorf("no %s stack declared in platform.yaml", config.KindDevelopment)
	}
	ws, err := pc.workspace(logger)
	if err != nil {
		return nil, err
	}
	return ws.Outputs(ctx, config.PulumiStackName(spec, pc.envName, pc.envCfg), false)
}

// triggerFunctionName is the name of the Lambda serving kind.
func triggerFunctionName(cfg *config.PlatformConfig, kind trigger.Kind) string {
	if kind.Name == trigger.Inference.Name {
		return cfg.Inference.Trigger.Name
	}
	return cfg.Development.Trigger.Name
}

// jobConfigFromOutputs maps development stack outputs onto the environment
// the deployed trigger function receives.
func jobConfigFromOutputs(pc *platformContext, kind trigger.Kind, dev workspace.Outputs) (trigger.JobConfig, error) {
	vars := env.Vars{
		"ECRRepositoryName": dev.String(stacks.OutECRRepositoryName),
		"ArtifactsBucket":   dev.String(stacks.OutArtifactsBucketName),
		"ImageUri":          dev.String(stacks.OutECRRepositoryURI),
		"SecurityGroupId":   dev.String(stacks.OutSecurityGroupID),
		"Subnet0":           dev.String(stacks.OutSubnet0),
		"Subnet1":           dev.String(stacks.OutSubnet1),
		"SagemakerRoleArn":  dev.String(stacks.OutSagemakerRoleArn),
		"EventRole":         dev.String(stacks.OutEventRoleArn),
		"Region":            pc.envCfg.Region,
		"AccountId":         pc.envCfg.AccountID,
		"SelfLambdaName":    triggerFunctionName(pc.cfg, kind),
		"Project":           pc.cfg.Project,
		"Owner":             pc.cfg.Owner,
	}
	for k, v := range vars {
		if strings.TrimSpace(v) == "" {
			delete(vars, k)
		}
	}
	cfg, err := env.Decode[trigger.JobConfig](vars)
	if err != nil {
		return trigger.JobConfig{}, fmt.Errorf("development stack outputs are incomplete (was it deployed?): %w", err)
	}
	return cfg, nil
}

// newJobTrigger builds a trigger for kind. The configuration comes from the
// process environment when fromEnv is set and from the development stack otherwise.
func newJobTrigger(ctx context.Context, pc *platformContext, logger *slog.Logger, kind trigger.Kind, fromEnv bool) (*trigger.JobTrigger, error) {
	var (
		jobCfg trigger.JobConfig
		err    error
	)
	if fromEnv {
		jobCfg, err = env.DecodeOS[trigger.JobConfig]()
	} else {
		var dev workspace.Outputs
		dev, err = pc.developmentOutputs(ctx, logger)
		if err == nil {
			jobCfg, err = jobConfigFromOutputs(pc, kind, dev)
		}
	}
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsutil.Load(ctx, awsutil.Options{Region: jobCfg.Region, Profile: pc.envCfg.Profile})
	if err != nil {
		return nil, err
	}
	return trigger.NewJobTrigger(awsCfg, kind, jobCfg, logger)
}

// parseJobParams merges a JSON params file with k=v pairs; pairs win.
func parseJobParams(file string, pairs []string) (map[string]any, error) {
	params := map[string]any{}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("params file %s must hold a JSON object: %w", file, err)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", pair)
		}
		params[k] = v
	}
	return params, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
