package cli

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/images"
	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// newImagesCommand creates the "images" subtree used to manage images declared in platform.yaml.
func newImagesCommand(opts *Options) *cobra.Command {
	return newGroupCommand("images", "Manage container images declared in platform.yaml",
		newImagesBuildCommand(opts),
		newImagesLatestCommand(opts),
	)
}

// newImagesBuildCommand creates the "images build" subcommand.
func newImagesBuildCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [name...]",
		Short: "Build (and optionally push) images declared in platform.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}

			push, _ := cmd.Flags().GetBool("push")
			builder := images.NewBuilder(logger, nil)
			if push {
				awsCfg, err := awsutil.Load(cmd.Context(), pc.awsOptions())
				if err != nil {
					return err
				}
				builder.Auth = ecr.NewFromConfig(awsCfg)
			}

			results, err := builder.BuildAll(cmd.Context(), pc.cfg, pc.tctx, args, push)
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), r.Ref)
			}
			if err != nil {
				return err
			}
			logger.Info("images ready", "count", len(results), "pushed", push)
			return nil
		},
	}

	cmd.Flags().Bool("push", false, "Push images after building, logging in to ECR when needed")
	addVarsFlags(cmd)

	return cmd
}

// newImagesLatestCommand creates the "images latest" subcommand.
func newImagesLatestCommand(opts *Options) *cobra.Command {
	var repository string

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the most recently pushed tag of the model repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pc, err := loadPlatformFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			repo := strings.TrimSpace(repository)
			if repo == "" {
				repo = pc.cfg.Development.ECRRepository
			}
			if repo == "" {
				return fmt.Errorf("repository is empty; pass --repository or set development.ecrRepository")
			}

			awsCfg, err := awsutil.Load(cmd.Context(), pc.awsOptions())
			if err != nil {
				return err
			}
			tag, err := trigger.LatestImageTag(cmd.Context(), ecr.NewFromConfig(awsCfg), repo)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tag)
			return nil
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "", "ECR repository name (defaults to development.ecrRepository)")
	addVarsFlags(cmd)

	return cmd
}
