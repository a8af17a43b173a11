// Package stacks contains the Pulumi programs of the platform: the storage
// layer (data lake, catalog and ETL pipeline), the model-development layer
// (MLflow, artifacts, training API) and the inference layer (batch inference
// API and Grafana).
package stacks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

// Output names exported by the development stack and read by the others.
const (
	OutSecurityGroupID         = "SecurityGroupId"
	OutArtifactsBucketName     = "ArtifactsBucketName"
	OutKMSKeyARN               = "KMSKeyARN"
	OutFargateClusterARN       = "FargateClusterARN"
	OutFargateClusterName      = "FargateClusterName"
	OutFargateRoleARN          = "FargateRoleARN"
	OutFargateExecutionRoleARN = "FargateExecutionRoleARN"
	OutFargateSecurityGroupID  = "FargateSecurityGroupId"
	OutHostedZoneID            = "HostedZoneId"
	OutHostedZoneName          = "HostedZoneName"
	OutECRRepositoryArn        = "ECRRepositoryArn"
	OutECRRepositoryName       = "ECRRepositoryName"
	OutECRRepositoryURI        = "ECRRepositoryUri"
	OutSagemakerRoleArn        = "SagemakerRoleArn"
	OutEventRoleArn            = "EventRoleArn"
	OutAPIID                   = "APIid"
	OutAPIRoot                 = "APIRoot"
	OutAPIExecutionArn         = "APIExecutionArn"
	OutAPIURL                  = "APIUrl"
	OutMLflowURL               = "MLflowUrl"
	OutSubnet0                 = "Subnet0"
	OutSubnet1                 = "Subnet1"
	OutVpcID                   = "VpcId"
)

// Output names exported by the storage stack.
const (
	OutStorageBucketName = "StorageBucketName"
	OutGlueDatabaseName  = "GlueDatabaseName"
	OutStateMachineArn   = "StateMachineArn"
)

// Output names exported by the inference stack.
const (
	OutInferenceAPIURL = "InferenceAPIUrl"
	OutGrafanaURL      = "GrafanaUrl"
)

// Args carries everything a program needs besides the Pulumi context.
type Args struct {
	// Platform is the parsed platform.yaml with defaults applied.
	Platform *config.PlatformConfig
	// Env is the resolved target environment.
	Env config.Environment
	// Images maps image settings (e.g. "etl", "mlflow") to full references.
	Images map[string]string
	// DevelopmentStack is the fully-qualified name of the development stack,
	// read by the storage and inference programs.
	DevelopmentStack string
}

// Validate checks the fields every program relies on.
func (a Args) Validate(kind string) error {
	if a.Platform == nil {
		return fmt.Errorf("stack %s: platform config is nil", kind)
	}
	if strings.TrimSpace(a.Env.Region) == "" {
		return fmt.Errorf("stack %s: environment region is empty", kind)
	}
	if strings.TrimSpace(a.Env.AccountID) == "" {
		return fmt.Errorf("stack %s: environment accountId is empty", kind)
	}
	if strings.TrimSpace(a.Env.VpcName) == "" {
		return fmt.Errorf("stack %s: environment vpcName is empty", kind)
	}
	if kind != config.KindDevelopment && strings.TrimSpace(a.DevelopmentStack) == "" {
		return fmt.Errorf("stack %s: development stack reference is empty", kind)
	}
	return nil
}

// Program returns the Pulumi program for a stack kind.
func Program(kind string, args Args) (pulumi.RunFunc, error) {
	if err := args.Validate(kind); err != nil {
		return nil, err
	}
	switch kind {
	case config.KindStorage:
		return func(ctx *pulumi.Context) error { return storage(ctx, args) }, nil
	case config.KindDevelopment:
		return func(ctx *pulumi.Context) error { return development(ctx, args) }, nil
	case config.KindInference:
		return func(ctx *pulumi.Context) error { return inference(ctx, args) }, nil
	default:
		return nil, fmt.Errorf("unknown stack kind %q", kind)
	}
}

// image returns the resolved reference for an image setting.
func (a Args) image(setting string) (string, error) {
	if ref, ok := a.Images[setting]; ok && ref != "" {
		return ref, nil
	}
	return "", fmt.Errorf("image %q is not resolved", setting)
}

// tags returns the Project/Owner tags plus the environment tags.
func (a Args) tags() pulumi.StringMap {
	out := pulumi.StringMap{
		"Project": pulumi.String(a.Platform.Project),
		"Owner":   pulumi.String(a.Platform.Owner),
	}
	keys := make([]string, 0, len(a.Env.Tags))
	for k := range a.Env.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "Project" || k == "Owner" {
			continue
		}
		out[k] = pulumi.String(a.Env.Tags[k])
	}
	return out
}

// namedTags returns tags plus a Name tag.
func (a Args) namedTags(name string) pulumi.StringMap {
	out := a.tags()
	out["Name"] = pulumi.String(name)
	return out
}

// arn builds an ARN in the environment's partition, region and account.
func (a Args) arn(service, resource string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, a.Env.Region, a.Env.AccountID, resource)
}

// developmentRef reads outputs of the development stack.
type developmentRef struct {
	ref *pulumi.StackReference
}

func newDevelopmentRef(ctx *pulumi.Context, a Args) (developmentRef, error) {
	ref, err := pulumi.NewStackReference(ctx, a.DevelopmentStack, &pulumi.StackReferenceArgs{
		Name: pulumi.String(a.DevelopmentStack),
	})
	if err != nil {
		return developmentRef{}, fmt.Errorf("reference %s: %w", a.DevelopmentStack, err)
	}
	return developmentRef{ref: ref}, nil
}

func (d developmentRef) get(name string) pulumi.StringOutput {
	return d.ref.GetStringOutput(pulumi.String(name))
}
