package stacks

import (
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/apigateway"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// restAPI identifies a REST API, possibly owned by another stack.
type restAPI struct {
	ID           pulumi.StringInput
	RootID       pulumi.StringInput
	ExecutionArn pulumi.StringInput
}

// addJobRoutes adds the start and schedule resources of a job kind as POST
// Lambda-proxy methods and lets API Gateway invoke fn. It returns the
// integrations, which deployments must wait for.
func addJobRoutes(ctx *pulumi.Context, api restAPI, kind trigger.Kind, fn *lambda.Function) ([]pulumi.Resource, error) {
	var integrations []pulumi.Resource
	for _, path := range []string{kind.StartResource, kind.ScheduleResource} {
		part := strings.TrimPrefix(path, "/")

		res, err := apigateway.NewResource(ctx, part, &apigateway.ResourceArgs{
			RestApi:  api.ID,
			ParentId: api.RootID,
			PathPart: pulumi.String(part),
		})
		if err != nil {
			return nil, fmt.Errorf("create api resource %s: %w", part, err)
		}

		method, err := apigateway.NewMethod(ctx, part+"-post", &apigateway.MethodArgs{
			RestApi:       api.ID,
			ResourceId:    res.ID(),
			HttpMethod:    pulumi.String("POST"),
			Authorization: pulumi.String("NONE"),
		})
		if err != nil {
			return nil, fmt.Errorf("create api method %s: %w", part, err)
		}

		integration, err := apigateway.NewIntegration(ctx, part+"-integration", &apigateway.IntegrationArgs{
			RestApi:               api.ID,
			ResourceId:            res.ID(),
			HttpMethod:            method.HttpMethod,
			IntegrationHttpMethod: pulumi.String("POST"),
			Type:                  pulumi.String("AWS_PROXY"),
			Uri:                   fn.InvokeArn,
		})
		if err != nil {
			return nil, fmt.Errorf("create api integration %s: %w", part, err)
		}
		integrations = append(integrations, integration)
	}

	if _, err := allowInvoke(ctx, kind.Name+"-api-invoke", fn, "apigateway.amazonaws.com",
		pulumi.Sprintf("%s/*/*", api.ExecutionArn)); err != nil {
		return nil, err
	}
	return integrations, nil
}

// deployAPI snapshots the API into a deployment and publishes it as a stage.
// routes feeds the redeployment trigger.
func deployAPI(ctx *pulumi.Context, a Args, api restAPI, stageName string, routes []string, deps []pulumi.Resource) (*apigateway.Stage, error) {
	deployment, err := apigateway.NewDeployment(ctx, stageName+"-deployment", &apigateway.DeploymentArgs{
		RestApi:     api.ID,
		Description: pulumi.String("mlops " + stageName),
		Triggers: pulumi.StringMap{
			"routes": pulumi.String(strings.Join(routes, ",")),
		},
	}, pulumi.DependsOn(deps))
	if err != nil {
		return nil, fmt.Errorf("create api deployment %s: %w", stageName, err)
	}

	stage, err := apigateway.NewStage(ctx, stageName+"-stage", &apigateway.StageArgs{
		RestApi:    api.ID,
		Deployment: deployment.ID(),
		StageName:  pulumi.String(stageName),
		Tags:       a.tags(),
	})
	if err != nil {
		return nil, fmt.Errorf("create api stage %s: %w", stageName, err)
	}
	return stage, nil
}

// scheduleRuleArn is the ARN of the EventBridge rule a job trigger manages at runtime.
func scheduleRuleArn(a Args, kind trigger.Kind) string {
	return a.arn("events", "rule/"+kind.RuleName)
}

// routePaths lists the API paths of the given kinds.
func routePaths(kinds ...trigger.Kind) []string {
	var out []string
	for _, k := range kinds {
		out = append(out, k.StartResource, k.ScheduleResource)
	}
	return out
}
