package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/aast-innovation/mlopsctl/internal/images"
)

// Processing job sizing shared by training and batch inference.
const (
	processingInstanceType = "ml.t3.medium"
	processingInstances    = 1
	processingVolumeGB     = 30
)

// JobInfo describes a started processing job.
type JobInfo struct {
	Name     string
	Arn      string
	ImageURI string
}

// jobEnvironment flattens request parameters into container environment
// variables. Strings are kept as they are, everything else is JSON encoded.
func jobEnvironment(params map[string]any) (map[string]string, error) {
	env := make(map[string]string, len(params))
	for k, v := range params {
		switch x := v.(type) {
		case string:
			env[k] = x
		case nil:
			env[k] = ""
		default:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", k, err)
			}
			env[k] = string(b)
		}
	}
	return env, nil
}

func (t *JobTrigger) startJob(ctx context.Context, tag string, params map[string]any) (JobInfo, error) {
	env, err := jobEnvironment(params)
	if err != nil {
		return JobInfo{}, &RequestError{Err: err}
	}
	uri, err := images.Tagged(t.Config.ImageURI, tag)
	if err != nil {
		return JobInfo{}, badRequest(err)
	}
	info := JobInfo{
		Name:     t.Kind.JobPrefix + "-" + t.now().Format(timestampLayout),
		ImageURI: uri,
	}
	out, err := t.SageMaker.CreateProcessingJob(ctx, &sagemaker.CreateProcessingJobInput{
		ProcessingJobName: aws.String(info.Name),
		ProcessingResources: &smtypes.ProcessingResources{
			ClusterConfig: &smtypes.ProcessingClusterConfig{
				InstanceCount:  aws.Int32(processingInstances),
				InstanceType:   smtypes.ProcessingInstanceType(processingInstanceType),
				VolumeSizeInGB: aws.Int32(processingVolumeGB),
			},
		},
		AppSpecification: &smtypes.AppSpecification{
			ImageUri:            aws.String(info.ImageURI),
			ContainerEntrypoint: t.Kind.Entrypoint,
		},
		NetworkConfig: &smtypes.NetworkConfig{
			VpcConfig: &smtypes.VpcConfig{
				SecurityGroupIds: []string{t.Config.SecurityGroupID},
				Subnets:          t.Config.Subnets(),
			},
		},
		RoleArn:     aws.String(t.Config.SageMakerRoleARN),
		Tags:        sagemakerTags(t.Config.Tags()),
		Environment: env,
	})
	if err != nil {
		return JobInfo{}, fmt.Errorf("create processing job %s: %w", info.Name, err)
	}
	info.Arn = aws.ToString(out.ProcessingJobArn)
	t.logger().Info("Started processing job", "kind", t.Kind.Name, "job", info.Name, "image", info.ImageURI)
	return info, nil
}

func sagemakerTags(tags map[string]string) []smtypes.Tag {
	out := make([]smtypes.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, smtypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *JobTrigger) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
