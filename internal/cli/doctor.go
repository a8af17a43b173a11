package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/config"
)

// newDoctorCommand creates the "doctor" subcommand that runs environment preflight checks.
func newDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run environment preflight checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			skipAWS, _ := cmd.Flags().GetBool("skip-aws")
			if err := runDoctorChecks(ctx, logger, pc, !skipAWS); err != nil {
				return err
			}

			logger.Info("doctor checks completed successfully", "env", pc.envName)
			return nil
		},
	}

	cmd.Flags().Bool("skip-aws", false, "Do not contact AWS to validate credentials")
	addVarsFlags(cmd)

	return cmd
}

func runDockerChecks(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run()
}

func runPulumiVersion(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "pulumi", "version")
	return cmd.Run()
}

func checkEnvironment(envName string, envCfg config.Environment) []error {
	var errs []error
	if envCfg.Region == "" {
		errs = append(errs, fmt.Errorf("environment %q: region is empty", envName))
	}
	if envCfg.AccountID == "" {
		errs = append(errs, fmt.Errorf("environment %q: accountId is empty", envName))
	}
	if envCfg.VpcName == "" {
		errs = append(errs, fmt.Errorf("environment %q: vpcName is empty", envName))
	}
	return errs
}

// checkArtifacts verifies the lambda archives needed by the selected stacks exist.
func checkArtifacts(cfg *config.PlatformConfig, kinds map[string]bool) []error {
	want := map[string]string{}
	if kinds[config.KindStorage] {
		want["etlTrigger"] = cfg.Lambdas.ETLTrigger
	}
	if kinds[config.KindDevelopment] {
		want["trainingTrigger"] = cfg.Lambdas.TrainingTrigger
	}
	if kinds[config.KindInference] {
		want["inferenceTrigger"] = cfg.Lambdas.InferenceTrigger
	}

	var errs []error
	for _, name := range sortedKeys(want) {
		path := want[name]
		if path == "" {
			errs = append(errs, fmt.Errorf("lambdas.%s is not set", name))
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("lambdas.%s: %w", name, err))
			continue
		}
		if info.IsDir() || info.Size() == 0 {
			errs = append(errs, fmt.Errorf("lambdas.%s: %s is not a zip archive", name, path))
		}
	}
	return errs
}

func runDoctorChecks(ctx context.Context, logger *slog.Logger, pc *platformContext, checkAWS bool) error {
	var fatalErrs []error
	fail := func(msg string, err error) {
		logger.Error(msg, "env", pc.envName, "error", err)
		fatalErrs = append(fatalErrs, err)
	}

	if err := checkTools(logger, pc.cfg, pc.envName); err != nil {
		fatalErrs = append(fatalErrs, err)
	}

	if err := runPulumiVersion(ctx); err != nil {
		fail("pulumi version check failed", err)
	} else {
		logger.Info("pulumi version check ok")
	}

	if len(pc.cfg.Images) > 0 {
		if err := runDockerChecks(ctx); err != nil {
			fail("docker checks failed", err)
		} else {
			logger.Info("docker checks ok")
		}
	}

	for _, err := range checkEnvironment(pc.envName, pc.envCfg) {
		fail("environment check failed", err)
	}

	plan, err := pc.plan("", "")
	if err != nil {
		fail("stack plan check failed", err)
	} else {
		kinds := map[string]bool{}
		for _, step := range plan.Steps {
			kinds[step.Spec.Kind] = true
		}
		for _, err := range checkArtifacts(pc.cfg, kinds) {
			fail("lambda artifact check failed", err)
		}
		logger.Info("stack plan ok", "stacks", plan.Names())
	}

	if checkAWS {
		awsCfg, err := awsutil.Load(ctx, pc.awsOptions())
		if err != nil {
			fail("aws config check failed", err)
		} else if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
			fail("aws credentials check failed", err)
		} else {
			logger.Info("aws credentials ok", "region", awsCfg.Region)
		}
	}

	if len(fatalErrs) > 0 {
		return fmt.Errorf("doctor found %d fatal issue(s); see log for details", len(fatalErrs))
	}

	return nil
}
