package stacks

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// jobTriggerDeps are the development-stack resources a job trigger Lambda uses.
type jobTriggerDeps struct {
	RepositoryName   pulumi.StringInput
	RepositoryURI    pulumi.StringInput
	ArtifactsBucket  pulumi.StringInput
	SecurityGroup    pulumi.StringInput
	Subnets          []string
	SagemakerRoleArn pulumi.StringInput
	EventRoleArn     pulumi.StringInput
	API              restAPI
}

// newJobTrigger declares the Lambda starting SageMaker processing jobs of a
// kind, its API routes and the permission letting its schedule rule invoke it.
// It returns the API integrations for deployment ordering.
func newJobTrigger(ctx *pulumi.Context, a Args, kind trigger.Kind, settings config.FunctionSettings, archive string, deps jobTriggerDeps) ([]pulumi.Resource, error) {
	artifactsArn := pulumi.Sprintf("arn:aws:s3:::%s", deps.ArtifactsBucket)

	fn, err := newFunction(ctx, a, functionSpec{
		Settings: settings,
		Archive:  archive,
		Role: roleSpec{
			Name:       settings.Name + "-role",
			PolicyName: settings.Name + "-policy",
			Statements: []statement{
				allow([]string{"ecr:DescribeImages"},
					pulumi.Sprintf("arn:aws:ecr:%s:%s:repository/%s", a.Env.Region, a.Env.AccountID, deps.RepositoryName)),
				allow([]string{"sagemaker:CreateProcessingJob", "sagemaker:AddTags"},
					pulumi.String(a.arn("sagemaker", "processing-job/"+kind.JobPrefix+"-*"))),
				allow([]string{"events:PutRule", "events:PutTargets", "events:RemoveTargets", "events:DeleteRule"},
					pulumi.String(scheduleRuleArn(a, kind))),
				allow([]string{"iam:PassRole"}, deps.SagemakerRoleArn, deps.EventRoleArn),
				allow([]string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject", "s3:ListBucket"},
					bucketObjects(artifactsArn)...),
			},
		},
		Environment: pulumi.StringMap{
			"ECRRepositoryName": deps.RepositoryName,
			"ArtifactsBucket":   deps.ArtifactsBucket,
			"ImageUri":          deps.RepositoryURI,
			"SecurityGroupId":   deps.SecurityGroup,
			"Subnet0":           pulumi.String(deps.Subnets[0]),
			"Subnet1":           pulumi.String(deps.Subnets[1]),
			"SagemakerRoleArn":  deps.SagemakerRoleArn,
			"EventRole":         deps.EventRoleArn,
			"Region":            pulumi.String(a.Env.Region),
			"AccountId":         pulumi.String(a.Env.AccountID),
			"SelfLambdaName":    pulumi.String(settings.Name),
			"Project":           pulumi.String(a.Platform.Project),
			"Owner":             pulumi.String(a.Platform.Owner),
			"LOG_FORMAT":        pulumi.String("json"),
		},
		Subnets:        pulumi.ToStringArray(deps.Subnets),
		SecurityGroups: pulumi.StringArray{deps.SecurityGroup},
	})
	if err != nil {
		return nil, err
	}

	if _, err := allowInvoke(ctx, kind.Name+"-schedule-invoke", fn, "events.amazonaws.com",
		pulumi.String(scheduleRuleArn(a, kind))); err != nil {
		return nil, err
	}
	return addJobRoutes(ctx, deps.API, kind, fn)
}

// lambdaArn is the ARN of a function by name.
func lambdaArn(a Args, name string) string {
	return a.arn("lambda", "function:"+name)
}
