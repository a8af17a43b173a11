package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/blob"
	"github.com/aast-innovation/mlopsctl/internal/env"
	"github.com/aast-innovation/mlopsctl/internal/etl"
)

type etlStep func(j *etl.Jobs, ctx context.Context, in etl.JobInput) (etl.WriteResult, error)

// newETLCommand creates the "etl" subtree run by the ETL state machine tasks.
// It reads its input from ETL_* variables and does not need platform.yaml.
func newETLCommand(_ *Options) *cobra.Command {
	return newGroupCommand("etl", "Run ETL steps on a landed CSV object",
		newETLStepCommand("convert", "Convert a landed CSV file into the raw parquet dataset", (*etl.Jobs).Convert),
		newETLStepCommand("transform", "Derive timestamp and RUL columns into the curated dataset", (*etl.Jobs).Transform),
	)
}

func newETLStepCommand(use, short string, step etlStep) *cobra.Command {
	var (
		bucket, key, database, region string
		poll                          time.Duration
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			overrides := env.Vars{}
			for name, v := range map[string]string{"ETL_BUCKET": bucket, "ETL_KEY": key, "ETL_DATABASE_NAME": database} {
				if v != "" {
					overrides[name] = v
				}
			}
			vars := env.Merge(env.FromOS(), overrides)
			in, err := env.Decode[etl.JobInput](vars)
			if err != nil {
				return fmt.Errorf("etl %s input: %w", use, err)
			}

			awsCfg, err := awsutil.Load(cmd.Context(), awsutil.Options{Region: region})
			if err != nil {
				return err
			}
			jobs := &etl.Jobs{
				Store:        blob.NewS3(s3.NewFromConfig(awsCfg), in.Bucket),
				Catalog:      etl.NewGlueCatalog(glue.NewFromConfig(awsCfg)),
				Logger:       logger,
				PollInterval: poll,
			}

			res, err := step(jobs, cmd.Context(), in)
			if err != nil {
				return err
			}
			logger.Info("etl step finished", "step", use, "key", in.Key, "part", res.PartKey, "file", res.FileKey, "rows", res.Rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "Storage bucket (overrides ETL_BUCKET)")
	cmd.Flags().StringVar(&key, "key", "", "Landing object key raw/<ingest>/csv/<file> (overrides ETL_KEY)")
	cmd.Flags().StringVar(&database, "database", "", "Glue database (overrides ETL_DATABASE_NAME)")
	cmd.Flags().StringVar(&region, "region", "", "AWS region (defaults to the SDK chain)")
	cmd.Flags().DurationVar(&poll, "poll-interval", etl.DefaultPollInterval, "How often transform checks for the converted file")

	return cmd
}
