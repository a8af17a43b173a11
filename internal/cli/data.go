package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/blob"
	"github.com/aast-innovation/mlopsctl/internal/etl"
	"github.com/aast-innovation/mlopsctl/internal/ingest"
)

// newDataCommand creates the "data" subtree that feeds the landing zone.
func newDataCommand(opts *Options) *cobra.Command {
	return newGroupCommand("data", "Upload sensor CSV files into the storage bucket",
		newDataUploadCommand(opts),
		newDataWatchCommand(opts),
	)
}

func addIngestFlags(cmd *cobra.Command, ingestType, bucket *string) {
	cmd.Flags().StringVar(ingestType, "ingest", etl.IngestTotal, "Ingest type (total, partitioned)")
	cmd.Flags().StringVar(bucket, "bucket", "", "Storage bucket (defaults to storage.bucketName)")
	addVarsFlags(cmd)
}

// newUploader resolves the storage bucket and returns an uploader writing to it.
func newUploader(opts *Options, cmd *cobra.Command, bucket string) (*ingest.Uploader, error) {
	logger := LoggerFromContext(cmd.Context())
	awsOpts := awsutil.Options{}
	if strings.TrimSpace(bucket) == "" {
		pc, err := loadPlatformFromCmd(opts, cmd)
		if err != nil {
			return nil, err
		}
		bucket = pc.cfg.Storage.BucketName
		awsOpts = pc.awsOptions()
	}
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is empty; pass --bucket")
	}
	awsCfg, err := awsutil.Load(cmd.Context(), awsOpts)
	if err != nil {
		return nil, err
	}
	return ingest.NewUploader(blob.NewS3(s3.NewFromConfig(awsCfg), bucket), logger), nil
}

func newDataUploadCommand(opts *Options) *cobra.Command {
	var ingestType, bucket string

	cmd := &cobra.Command{
		Use:   "upload <file.csv>...",
		Short: "Upload CSV files to raw/<ingest>/csv/, starting the ETL pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, file := range args {
				if _, err := ingest.LandingKey(ingestType, file); err != nil {
					return err
				}
			}
			up, err := newUploader(opts, cmd, bucket)
			if err != nil {
				return err
			}
			for _, file := range args {
				key, err := up.Upload(cmd.Context(), file, ingestType)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s\n", up.Store.Bucket(), key)
			}
			return nil
		},
	}

	addIngestFlags(cmd, &ingestType, &bucket)

	return cmd
}

func newDataWatchCommand(opts *Options) *cobra.Command {
	var (
		ingestType, bucket string
		settle             time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upload CSV files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, err := newUploader(opts, cmd, bucket)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &ingest.Watcher{
				Uploader: up,
				Dir:      args[0],
				Ingest:   ingestType,
				Settle:   settle,
				OnUpload: func(key string) {
					fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s\n", up.Store.Bucket(), key)
				},
			}
			return w.Run(ctx)
		},
	}

	addIngestFlags(cmd, &ingestType, &bucket)
	cmd.Flags().DurationVar(&settle, "settle", ingest.DefaultSettle, "How long a file must stay unchanged before upload")

	return cmd
}
