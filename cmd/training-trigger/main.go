// Command training-trigger is the Lambda behind the training API resources and the
// training schedule rule.
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

	cfg, err := env.DecodeOS[trigger.JobConfig]()
	if err != nil {
		logger.Error("invalid function environment", "error", err)
		os.Exit(1)
	}
	awsCfg, err := awsutil.Load(context.Background(), awsutil.Options{Region: cfg.Region})
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}
	t, err := trigger.NewJobTrigger(awsCfg, trigger.Training, cfg, logger)
	if err != nil {
		logger.Error("create trigger", "error", err)
		os.Exit(1)
	}

	lambda.Start(t.Handle)
}
