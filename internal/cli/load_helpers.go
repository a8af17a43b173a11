package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/engine"
	"github.com/aast-innovation/mlopsctl/internal/env"
	"github.com/aast-innovation/mlopsctl/internal/hooks"
	"github.com/aast-innovation/mlopsctl/internal/workspace"
)

// defaultEnv is used when neither --env nor MLOPSCTL_ENV is set.
const defaultEnv = "dev"

// platformContext is a loaded platform.yaml bound to one environment.
type platformContext struct {
	cfg     *config.PlatformConfig
	tctx    config.TemplateContext
	envName string
	envCfg  config.Environment
}

func parseInlineVarsAndFiles(cmd *cobra.Command) (env.Vars, []string, error) {
	var fromEnv varsEnv
	if err := parseEnv(&fromEnv); err != nil {
		return nil, nil, err
	}

	raw := cmd.Flag("vars").Value.String()
	if raw == "" {
		raw = fromEnv.Vars
	}
	inlineVars, err := env.ParseInlineVars(raw)
	if err != nil {
		return nil, nil, err
	}

	varFile := cmd.Flag("var-file").Value.String()
	if varFile == "" {
		varFile = fromEnv.VarFile
	}
	var varFiles []string
	if varFile != "" {
		varFiles = append(varFiles, varFile)
	}
	return inlineVars, varFiles, nil
}

func loadPlatformFromCmd(opts *Options, cmd *cobra.Command) (*platformContext, error) {
	inlineVars, varFiles, err := parseInlineVarsAndFiles(cmd)
	if err != nil {
		return nil, err
	}

	envName := strings.TrimSpace(opts.Env)
	if envName == "" {
		envName = defaultEnv
	}

	loadOpts := config.LoadOptions{
		Env:      envName,
		UserVars: inlineVars,
		VarFiles: varFiles,
	}

	cfg, tctx, err := config.LoadPlatformConfig(opts.ConfigPath, loadOpts)
	if err != nil {
		return nil, err
	}
	envCfg, err := config.ResolveEnvironment(cfg, envName)
	if err != nil {
		return nil, err
	}
	resolveArtifacts(&cfg.Lambdas, tctx.ProjectRoot)
	return &platformContext{cfg: cfg, tctx: tctx, envName: envName, envCfg: envCfg}, nil
}

// resolveArtifacts makes lambda archive paths absolute relative to the project root.
func resolveArtifacts(l *config.LambdaArtifacts, root string) {
	for _, p := range []*string{&l.ETLTrigger, &l.TrainingTrigger, &l.InferenceTrigger} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

func addVarsFlags(cmd *cobra.Command) {
	cmd.Flags().String("vars", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().String("var-file", "", "Path to YAML/ENV file with additional variables")
}

func addStackFilterFlags(cmd *cobra.Command, only, skip *string, action string) {
	cmd.Flags().StringVar(only, "only", "", fmt.Sprintf("%s only selected stacks (comma-separated names)", action))
	cmd.Flags().StringVar(skip, "skip", "", fmt.Sprintf("%s all stacks except the selected ones (comma-separated names)", action))
}

// planOptions builds stack filters from flags, falling back to MLOPSCTL_ONLY_STACKS
// and MLOPSCTL_SKIP_STACKS.
func planOptions(only, skip string) (engine.PlanOptions, error) {
	var fromEnv stackEnv
	if err := parseEnv(&fromEnv); err != nil {
		return engine.PlanOptions{}, err
	}
	if strings.TrimSpace(only) == "" {
		only = fromEnv.Only
	}
	if strings.TrimSpace(skip) == "" {
		skip = fromEnv.Skip
	}
	return engine.PlanOptions{Only: parseNameSet(only), Skip: parseNameSet(skip)}, nil
}

func (pc *platformContext) plan(only, skip string) (*engine.Plan, error) {
	planOpts, err := planOptions(only, skip)
	if err != nil {
		return nil, err
	}
	if err := checkStackNames(pc.cfg, planOpts.Only, planOpts.Skip); err != nil {
		return nil, err
	}
	plan, err := engine.ResolvePlan(pc.cfg, pc.tctx, planOpts)
	if err != nil {
		return nil, err
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("no stacks selected in environment %q", pc.envName)
	}
	return plan, nil
}

func (pc *platformContext) awsOptions() awsutil.Options {
	return awsutil.Options{Region: pc.envCfg.Region, Profile: pc.envCfg.Profile}
}

func (pc *platformContext) workspace(logger *slog.Logger) (*workspace.Workspace, error) {
	return workspace.New(workspace.Settings{
		Project:         pc.cfg.Pulumi.Project,
		Org:             pc.cfg.Pulumi.Org,
		BackendURL:      pc.cfg.Pulumi.BackendURL,
		SecretsProvider: pc.cfg.Pulumi.SecretsProvider,
		Region:          pc.envCfg.Region,
		Profile:         pc.envCfg.Profile,
	}, logger)
}

// engine wires the Pulumi workspace and the hook executor into an Engine.
func (pc *platformContext) engine(logger *slog.Logger) (*engine.Engine, error) {
	ws, err := pc.workspace(logger)
	if err != nil {
		return nil, err
	}
	hookExec := hooks.NewExecutor(logger, pc.tctx.ProjectRoot)
	return engine.NewEngine(pc.cfg, pc.tctx, ws, hookExec, logger), nil
}
