// Package trigger holds the logic of the ETL, training and inference
// trigger functions.
package trigger

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// StepFunctionsAPI starts state machine executions.
type StepFunctionsAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// ImagesAPI lists repository images.
type ImagesAPI interface {
	ecr.DescribeImagesAPIClient
}

// EventsAPI manages schedule rules.
type EventsAPI interface {
	PutRule(ctx context.Context, in *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, in *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
	RemoveTargets(ctx context.Context, in *eventbridge.RemoveTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error)
	DeleteRule(ctx context.Context, in *eventbridge.DeleteRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error)
}

// ProcessingAPI starts SageMaker processing jobs.
type ProcessingAPI interface {
	CreateProcessingJob(ctx context.Context, in *sagemaker.CreateProcessingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateProcessingJobOutput, error)
}

var (
	_ StepFunctionsAPI = (*sfn.Client)(nil)
	_ ImagesAPI        = (*ecr.Client)(nil)
	_ EventsAPI        = (*eventbridge.Client)(nil)
	_ ProcessingAPI    = (*sagemaker.Client)(nil)
)

// timestampLayout renders yy-mm-dd-HH-MM-SS suffixes of execution and job names.
const timestampLayout = "06-01-02-15-04-05"
