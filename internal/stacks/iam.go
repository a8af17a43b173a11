package stacks

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const policyVersion = "2012-10-17"

// Managed policies attached to platform roles.
const (
	ecsTaskExecutionPolicy = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
	sagemakerFullAccess    = "arn:aws:iam::aws:policy/AmazonSageMakerFullAccess"
)

// PolicyDocument is an IAM policy in its JSON shape.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is one statement of a PolicyDocument.
type PolicyStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal,omitempty"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource,omitempty"`
}

// statement is an Allow statement whose resources may be unresolved outputs.
type statement struct {
	Actions   []string
	Resources []pulumi.StringInput
}

func allow(actions []string, resources ...pulumi.StringInput) statement {
	return statement{Actions: actions, Resources: resources}
}

// allowAny allows actions on every resource.
func allowAny(actions ...string) statement {
	return allow(actions, pulumi.String("*"))
}

// assumeRolePolicy is the trust policy letting the given services assume a role.
func assumeRolePolicy(services ...string) string {
	doc := PolicyDocument{Version: policyVersion}
	for _, svc := range services {
		doc.Statement = append(doc.Statement, PolicyStatement{
			Effect:    "Allow",
			Principal: map[string]string{"Service": svc},
			Action:    []string{"sts:AssumeRole"},
		})
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// policyJSON renders statements once all their resources are known.
func policyJSON(stmts ...statement) pulumi.StringOutput {
	var inputs []interface{}
	for _, s := range stmts {
		for _, r := range s.Resources {
			inputs = append(inputs, r)
		}
	}

	return pulumi.All(inputs...).ApplyT(func(vals []interface{}) (string, error) {
		doc := PolicyDocument{Version: policyVersion}
		i := 0
		for _, s := range stmts {
			resources := make([]string, 0, len(s.Resources))
			for range s.Resources {
				v, ok := vals[i].(string)
				if !ok {
					return "", fmt.Errorf("policy resource %d is %T, want string", i, vals[i])
				}
				resources = append(resources, v)
				i++
			}
			doc.Statement = append(doc.Statement, PolicyStatement{
				Effect:   "Allow",
				Action:   s.Actions,
				Resource: resources,
			})
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}).(pulumi.StringOutput)
}

// roleSpec describes a service role with an optional customer-managed policy.
type roleSpec struct {
	// Name is the IAM role name.
	Name string
	// PolicyName names the customer-managed policy; defaults to Name + "-policy".
	PolicyName string
	Services   []string
	Managed    []string
	Statements []statement
}

// newRole creates the role, attaches managed policies and, when statements
// are present, a customer-managed policy holding them.
func newRole(ctx *pulumi.Context, a Args, spec roleSpec, opts ...pulumi.ResourceOption) (*iam.Role, error) {
	role, err := iam.NewRole(ctx, spec.Name, &iam.RoleArgs{
		Name:             pulumi.String(spec.Name),
		AssumeRolePolicy: pulumi.String(assumeRolePolicy(spec.Services...)),
		Tags:             a.tags(),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create role %s: %w", spec.Name, err)
	}

	for i, arn := range spec.Managed {
		_, err := iam.NewRolePolicyAttachment(ctx, fmt.Sprintf("%s-managed-%d", spec.Name, i), &iam.RolePolicyAttachmentArgs{
			Role:      role.Name,
			PolicyArn: pulumi.String(arn),
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("attach %s to %s: %w", arn, spec.Name, err)
		}
	}

	if len(spec.Statements) == 0 {
		return role, nil
	}

	policyName := spec.PolicyName
	if policyName == "" {
		policyName = spec.Name + "-policy"
	}
	policy, err := iam.NewPolicy(ctx, policyName, &iam.PolicyArgs{
		Name:   pulumi.String(policyName),
		Policy: policyJSON(spec.Statements...),
		Tags:   a.tags(),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create policy %s: %w", policyName, err)
	}
	if _, err := iam.NewRolePolicyAttachment(ctx, policyName+"-attachment", &iam.RolePolicyAttachmentArgs{
		Role:      role.Name,
		PolicyArn: policy.Arn,
	}, opts...); err != nil {
		return nil, fmt.Errorf("attach %s: %w", policyName, err)
	}
	return role, nil
}

// Statements shared by the Lambda roles.
var (
	logsStatement = allowAny("logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents")
	vpcStatement  = allowAny(
		"ec2:CreateNetworkInterface",
		"ec2:DescribeNetworkInterfaces",
		"ec2:DeleteNetworkInterface",
		"ec2:AssignPrivateIpAddresses",
		"ec2:UnassignPrivateIpAddresses",
	)
)

// bucketObjects returns the bucket ARN and its object ARN pattern.
func bucketObjects(bucketArn pulumi.StringOutput) []pulumi.StringInput {
	return []pulumi.StringInput{bucketArn, pulumi.Sprintf("%s/*", bucketArn)}
}
