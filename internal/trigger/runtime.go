package trigger

import (
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/aast-innovation/mlopsctl/internal/blob"
	"github.com/aast-innovation/mlopsctl/internal/paramstore"
)

// NewJobTrigger wires the AWS clients of a job trigger for kind. Schedule
// parameters live under kind.ParamsKey in the artifacts bucket.
func NewJobTrigger(awsCfg aws.Config, kind Kind, cfg JobConfig, logger *slog.Logger) (*JobTrigger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	artifacts := blob.NewS3(s3.NewFromConfig(awsCfg), cfg.ArtifactsBucket)
	params, err := paramstore.New(artifacts, kind.ParamsKey, logger)
	if err != nil {
		return nil, err
	}
	return &JobTrigger{
		Kind:      kind,
		Config:    cfg,
		SageMaker: sagemaker.NewFromConfig(awsCfg),
		Images:    ecr.NewFromConfig(awsCfg),
		Events:    eventbridge.NewFromConfig(awsCfg),
		Params:    params,
		Logger:    logger.With("kind", kind.Name),
	}, nil
}

// NewETLTrigger wires the Step Functions client of the ETL trigger.
func NewETLTrigger(awsCfg aws.Config, cfg ETLConfig, logger *slog.Logger) *ETLTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ETLTrigger{Config: cfg, SFN: sfn.NewFromConfig(awsCfg), Logger: logger}
}
