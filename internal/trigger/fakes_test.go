package trigger

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/aast-innovation/mlopsctl/internal/blob"
	"github.com/aast-innovation/mlopsctl/internal/logging"
	"github.com/aast-innovation/mlopsctl/internal/paramstore"
)

type fakeSFN struct {
	mu    sync.Mutex
	calls []*sfn.StartExecutionInput
	err   error
	// failFor fails starts whose input mentions this object key.
	failFor string
	started map[string]bool
}

func (f *fakeSFN) StartExecution(_ context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.failFor != "" && strings.Contains(aws.ToString(in.Input), f.failFor) {
		return nil, errors.New("throttled")
	}
	name := aws.ToString(in.Name)
	if f.started[name] {
		return nil, &sfntypes.ExecutionAlreadyExists{Message: aws.String("Execution Already Exists: " + name)}
	}
	if f.started == nil {
		f.started = map[string]bool{}
	}
	f.started[name] = true
	f.calls = append(f.calls, in)
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:aws:states:::execution:" + aws.ToString(in.Name))}, nil
}

// fakeECR serves one image per page.
type fakeECR struct {
	images []ecrtypes.ImageDetail
}

func (f *fakeECR) DescribeImages(_ context.Context, in *ecr.DescribeImagesInput, _ ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	if in.Filter == nil || in.Filter.TagStatus != ecrtypes.TagStatusTagged {
		return nil, errors.New("expected tagged filter")
	}
	i := 0
	if in.NextToken != nil {
		i, _ = strconv.Atoi(*in.NextToken)
	}
	out := &ecr.DescribeImagesOutput{}
	if i < len(f.images) {
		out.ImageDetails = f.images[i : i+1]
	}
	if i+1 < len(f.images) {
		out.NextToken = aws.String(strconv.Itoa(i + 1))
	}
	return out, nil
}

func image(tag string, pushed time.Time) ecrtypes.ImageDetail {
	return ecrtypes.ImageDetail{ImageTags: []string{tag}, ImagePushedAt: aws.Time(pushed)}
}

type fakeEvents struct {
	putRule       []*eventbridge.PutRuleInput
	putTargets    []*eventbridge.PutTargetsInput
	removeTargets []*eventbridge.RemoveTargetsInput
	deleteRule    []*eventbridge.DeleteRuleInput
}

func (f *fakeEvents) PutRule(_ context.Context, in *eventbridge.PutRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	f.putRule = append(f.putRule, in)
	return &eventbridge.PutRuleOutput{RuleArn: aws.String("arn:aws:events:::rule/" + aws.ToString(in.Name))}, nil
}

func (f *fakeEvents) PutTargets(_ context.Context, in *eventbridge.PutTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	f.putTargets = append(f.putTargets, in)
	return &eventbridge.PutTargetsOutput{}, nil
}

func (f *fakeEvents) RemoveTargets(_ context.Context, in *eventbridge.RemoveTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error) {
	f.removeTargets = append(f.removeTargets, in)
	return &eventbridge.RemoveTargetsOutput{}, nil
}

func (f *fakeEvents) DeleteRule(_ context.Context, in *eventbridge.DeleteRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error) {
	f.deleteRule = append(f.deleteRule, in)
	return &eventbridge.DeleteRuleOutput{}, nil
}

type fakeSageMaker struct {
	jobs []*sagemaker.CreateProcessingJobInput
}

func (f *fakeSageMaker) CreateProcessingJob(_ context.Context, in *sagemaker.CreateProcessingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateProcessingJobOutput, error) {
	f.jobs = append(f.jobs, in)
	return &sagemaker.CreateProcessingJobOutput{ProcessingJobArn: aws.String("arn:aws:sagemaker:::processing-job/" + aws.ToString(in.ProcessingJobName))}, nil
}

var fixedNow = time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)

type harness struct {
	trigger   *JobTrigger
	objects   *blob.Memory
	events    *fakeEvents
	sagemaker *fakeSageMaker
}

func newHarness(t *testing.T, kind Kind) *harness {
	t.Helper()
	logger := logging.NewJSONLogger(io.Discard, logging.LevelError)
	objects := blob.NewMemory("mlops-artifacts-bucket")
	params, err := paramstore.New(objects, kind.ParamsKey, logger)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{objects: objects, events: &fakeEvents{}, sagemaker: &fakeSageMaker{}}
	h.trigger = &JobTrigger{
		Kind: kind,
		Config: JobConfig{
			ECRRepositoryName: "mlops-model-repository",
			ArtifactsBucket:   "mlops-artifacts-bucket",
			ImageURI:          "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-model-repository",
			SecurityGroupID:   "sg-1",
			Subnet0:           "subnet-a",
			Subnet1:           "subnet-b",
			SageMakerRoleARN:  "arn:aws:iam::123456789012:role/sagemaker",
			EventRoleARN:      "arn:aws:iam::123456789012:role/events",
			Region:            "us-east-1",
			AccountID:         "123456789012",
			SelfLambdaName:    "mlops-training-lambda",
			Project:           "mlops",
			Owner:             "aast-innovation",
		},
		SageMaker: h.sagemaker,
		Images: &fakeECR{images: []ecrtypes.ImageDetail{
			image("v1", fixedNow.Add(-3*time.Hour)),
			image("v3", fixedNow.Add(-time.Hour)),
			image("v2", fixedNow.Add(-2*time.Hour)),
		}},
		Events: h.events,
		Params: params,
		Logger: logger,
		Now:    func() time.Time { return fixedNow },
	}
	return h
}
