package stacks

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/glue"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/s3"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/sfn"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

// etlContainer is the container name in both ETL task definitions.
const etlContainer = "etl"

// Role and policy names of the storage stack.
const (
	etlJobRole           = "mlops-etl-job-role"
	stepFunctionRole     = "mlops-step-function-role"
	stepFunctionPolicy   = "mlops-step-function-policy"
	etlLambdaRole        = "mlops-etl-lambda-role"
	etlLambdaPolicy      = "mlops-etl-lambda-policy"
	ecsEventsManagedRule = "StepFunctionsGetEventsForECSTaskRule"
)

// storage declares the data lake bucket, the Glue database, the ETL jobs and
// state machine, and the Lambda starting the state machine on new landing CSVs.
func storage(ctx *pulumi.Context, a Args) error {
	s := a.Platform.Storage

	dev, err := newDevelopmentRef(ctx, a)
	if err != nil {
		return err
	}
	net, err := lookupNetwork(ctx, a.Env.VpcName)
	if err != nil {
		return err
	}
	etlImage, err := a.image(s.ETLImage)
	if err != nil {
		return err
	}

	bucket, err := newPrivateBucket(ctx, a, s.BucketName)
	if err != nil {
		return err
	}

	database, err := glue.NewCatalogDatabase(ctx, s.GlueDatabase, &glue.CatalogDatabaseArgs{
		Name:        pulumi.String(s.GlueDatabase),
		Description: pulumi.String("Raw and curated sensor datasets"),
		Tags:        a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create glue database %s: %w", s.GlueDatabase, err)
	}

	jobRole, err := newRole(ctx, a, roleSpec{
		Name:     etlJobRole,
		Services: []string{"ecs-tasks.amazonaws.com"},
		Statements: []statement{
			allow([]string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject", "s3:ListBucket"},
				bucketObjects(bucket.Arn)...),
			allow([]string{"glue:GetDatabase", "glue:GetTable", "glue:CreateTable", "glue:UpdateTable"},
				pulumi.String(a.arn("glue", "catalog")),
				pulumi.String(a.arn("glue", "database/"+s.GlueDatabase)),
				pulumi.String(a.arn("glue", "table/"+s.GlueDatabase+"/*")),
			),
		},
	})
	if err != nil {
		return err
	}

	executionRole := dev.get(OutFargateExecutionRoleARN)
	convertTask, err := newETLTask(ctx, a, s.ConvertJob, "convert", etlImage, executionRole, jobRole.Arn)
	if err != nil {
		return err
	}
	transformTask, err := newETLTask(ctx, a, s.TransformJob, "transform", etlImage, executionRole, jobRole.Arn)
	if err != nil {
		return err
	}

	clusterArn := dev.get(OutFargateClusterARN)
	securityGroup := dev.get(OutSecurityGroupID)
	definition := pulumi.All(clusterArn, convertTask.Arn, transformTask.Arn, securityGroup).ApplyT(
		func(v []interface{}) (string, error) {
			return ETLDefinition(ETLTasks{
				ClusterArn:       v[0].(string),
				ConvertTaskArn:   v[1].(string),
				TransformTaskArn: v[2].(string),
				Container:        etlContainer,
				Subnets:          net.PrivateSubnets,
				SecurityGroups:   []string{v[3].(string)},
			})
		}).(pulumi.StringOutput)

	machineRole, err := newRole(ctx, a, roleSpec{
		Name:       stepFunctionRole,
		PolicyName: stepFunctionPolicy,
		Services:   []string{"states.amazonaws.com"},
		Statements: []statement{
			allow([]string{"ecs:RunTask"},
				pulumi.String(a.arn("ecs", "task-definition/"+s.ConvertJob.Name+":*")),
				pulumi.String(a.arn("ecs", "task-definition/"+s.TransformJob.Name+":*")),
			),
			allowAny("ecs:StopTask", "ecs:DescribeTasks"),
			allow([]string{"iam:PassRole"}, jobRole.Arn, executionRole),
			allow([]string{"events:PutTargets", "events:PutRule", "events:DescribeRule"},
				pulumi.String(a.arn("events", "rule/"+ecsEventsManagedRule))),
		},
	})
	if err != nil {
		return err
	}

	machine, err := sfn.NewStateMachine(ctx, s.StateMachineName, &sfn.StateMachineArgs{
		Name:       pulumi.String(s.StateMachineName),
		RoleArn:    machineRole.Arn,
		Definition: definition,
		Tags:       a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create state machine %s: %w", s.StateMachineName, err)
	}

	etlFn, err := newFunction(ctx, a, functionSpec{
		Settings: s.Trigger,
		Archive:  a.Platform.Lambdas.ETLTrigger,
		Role: roleSpec{
			Name:       etlLambdaRole,
			PolicyName: etlLambdaPolicy,
			Statements: []statement{allow([]string{"states:StartExecution"}, machine.Arn)},
		},
		Environment: pulumi.StringMap{
			"SecurityGroupId":  securityGroup,
			"StateMachineArn":  machine.Arn,
			"GlueDatabaseName": database.Name,
			"LOG_FORMAT":       pulumi.String("json"),
		},
		Subnets:        net.subnetIDs(),
		SecurityGroups: pulumi.StringArray{securityGroup},
	})
	if err != nil {
		return err
	}

	perm, err := allowInvoke(ctx, "etl-bucket-invoke", etlFn, "s3.amazonaws.com", bucket.Arn)
	if err != nil {
		return err
	}

	var landing s3.BucketNotificationLambdaFunctionArray
	for _, prefix := range s.LandingPrefixes {
		landing = append(landing, &s3.BucketNotificationLambdaFunctionArgs{
			LambdaFunctionArn: etlFn.Arn,
			Events:            pulumi.StringArray{pulumi.String("s3:ObjectCreated:*")},
			FilterPrefix:      pulumi.String(prefix),
		})
	}
	if _, err := s3.NewBucketNotification(ctx, s.BucketName+"-landing", &s3.BucketNotificationArgs{
		Bucket:          bucket.ID(),
		LambdaFunctions: landing,
	}, pulumi.DependsOn([]pulumi.Resource{perm})); err != nil {
		return fmt.Errorf("create landing notifications: %w", err)
	}

	ctx.Export(OutStorageBucketName, bucket.Bucket)
	ctx.Export(OutGlueDatabaseName, database.Name)
	ctx.Export(OutStateMachineArn, machine.Arn)
	return nil
}

// newETLTask declares the log group and Fargate task definition of one ETL
// job; the container runs "mlopsctl etl <command>".
func newETLTask(ctx *pulumi.Context, a Args, job config.JobSettings, command, image string, executionRole, taskRole pulumi.StringOutput) (*ecs.TaskDefinition, error) {
	logGroup, err := newLogGroup(ctx, a, job.LogGroup)
	if err != nil {
		return nil, err
	}
	return newTaskDefinition(ctx, a, taskSpec{
		Family:           job.Name,
		CPU:              job.CPU,
		Memory:           job.Memory,
		ExecutionRoleArn: executionRole,
		TaskRoleArn:      taskRole,
		Container: containerSpec{
			Name:     etlContainer,
			Image:    image,
			Command:  []string{"etl", command},
			Env:      map[string]pulumi.StringInput{"MLOPSCTL_LOG_FORMAT": pulumi.String("json")},
			LogGroup: logGroup.Name,
			Region:   a.Env.Region,
		},
	})
}
