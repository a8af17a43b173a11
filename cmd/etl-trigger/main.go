// Command etl-trigger is the Lambda starting the ETL state machine for CSV
// files landing in the storage bucket.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/aast-innovation/mlopsctl/internal/awsutil"
	"github.com/aast-innovation/mlopsctl/internal/env"
	"github.com/aast-innovation/mlopsctl/internal/logging"
	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

func main() {
	logger := logging.FromEnv()

	cfg, err := env.DecodeOS[trigger.ETLConfig]()
	if err != nil {
		logger.Error("invalid function environment", "error", err)
		os.Exit(1)
	}
	awsCfg, err := awsutil.Load(context.Background(), awsutil.Options{})
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}

	lambda.Start(trigger.NewETLTrigger(awsCfg, cfg, logger).HandleS3)
}
