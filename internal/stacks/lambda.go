package stacks

import (
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

const (
	lambdaRuntime = "provided.al2023"
	lambdaHandler = "bootstrap"
)

// functionSpec describes a trigger Lambda built from a zipped bootstrap binary.
type functionSpec struct {
	Settings config.FunctionSettings
	// Archive is the path of the zip holding the bootstrap executable.
	Archive string
	// Role names the execution role and policy; logs and VPC networking
	// statements are always added.
	Role           roleSpec
	Environment    pulumi.StringMap
	Subnets        pulumi.StringArrayInput
	SecurityGroups pulumi.StringArrayInput
}

func newFunction(ctx *pulumi.Context, a Args, spec functionSpec) (*lambda.Function, error) {
	if strings.TrimSpace(spec.Archive) == "" {
		return nil, fmt.Errorf("lambda %s: archive path is empty (set lambdas in platform.yaml)", spec.Settings.Name)
	}

	roleSpec := spec.Role
	roleSpec.Services = []string{"lambda.amazonaws.com"}
	roleSpec.Statements = append([]statement{logsStatement, vpcStatement}, roleSpec.Statements...)
	role, err := newRole(ctx, a, roleSpec)
	if err != nil {
		return nil, err
	}

	fn, err := lambda.NewFunction(ctx, spec.Settings.Name, &lambda.FunctionArgs{
		Name:       pulumi.String(spec.Settings.Name),
		Role:       role.Arn,
		Runtime:    pulumi.String(lambdaRuntime),
		Handler:    pulumi.String(lambdaHandler),
		Code:       pulumi.NewFileArchive(spec.Archive),
		Timeout:    pulumi.Int(spec.Settings.TimeoutSeconds),
		MemorySize: pulumi.Int(spec.Settings.MemoryMB),
		Environment: &lambda.FunctionEnvironmentArgs{
			Variables: spec.Environment,
		},
		VpcConfig: &lambda.FunctionVpcConfigArgs{
			SubnetIds:        spec.Subnets,
			SecurityGroupIds: spec.SecurityGroups,
		},
		Tags: a.tags(),
	})
	if err != nil {
		return nil, fmt.Errorf("create lambda %s: %w", spec.Settings.Name, err)
	}
	return fn, nil
}

// allowInvoke lets a service principal invoke fn from sourceArn.
func allowInvoke(ctx *pulumi.Context, name string, fn *lambda.Function, principal string, sourceArn pulumi.StringPtrInput) (*lambda.Permission, error) {
	perm, err := lambda.NewPermission(ctx, name, &lambda.PermissionArgs{
		Action:    pulumi.String("lambda:InvokeFunction"),
		Function:  fn.Name,
		Principal: pulumi.String(principal),
		SourceArn: sourceArn,
	})
	if err != nil {
		return nil, fmt.Errorf("create permission %s: %w", name, err)
	}
	return perm, nil
}
