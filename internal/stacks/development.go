package stacks

import (
	"fmt"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/apigateway"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecr"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/kms"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

// Resource names of the development stack.
const (
	outboundSecurityGroup = "mlops-outbound-sg"
	fargateSecurityGroup  = "mlops-fargate-sg"
	auroraSecurityGroup   = "mlops-aurora-postgres-sg"
	fargateRole           = "mlops-fargate-role"
	fargateExecutionRole  = "mlops-fargate-execution-role"
	sagemakerRole         = "mlops-sagemaker-role"
	eventRole             = "mlops-event-role"
	databaseKey           = "mlops-database-key"
	postgresPort          = 5432
)

// development declares the shared network groups, artifacts bucket, MLflow
// tracking server with its Aurora backend, the model image repository, the
// roles used by SageMaker and EventBridge, and the REST API with the
// training trigger.
func development(ctx *pulumi.Context, a Args) error {
	d := a.Platform.Development

	net, err := lookupNetwork(ctx, a.Env.VpcName)
	if err != nil {
		return err
	}
	mlflowImage, err := a.image(d.MLflow.Image)
	if err != nil {
		return err
	}

	outbound, err := ec2.NewSecurityGroup(ctx, outboundSecurityGroup, &ec2.SecurityGroupArgs{
		Name:        pulumi.String(outboundSecurityGroup),
		Description: pulumi.String("Outbound traffic for platform lambdas, jobs and tasks"),
		VpcId:       pulumi.String(net.VpcID),
		Egress:      allEgress,
		Tags:        a.namedTags(outboundSecurityGroup),
	})
	if err != nil {
		return fmt.Errorf("create security group %s: %w", outboundSecurityGroup, err)
	}

	artifacts, err := newPrivateBucket(ctx, a, d.ArtifactsBucket)
	if err != nil {
		return err
	}

	key, err := kms.NewKey(ctx, databaseKey, &kms.KeyArgs{
		Description:       pulumi.String("Encrypts the MLflow and Grafana database secrets"),
		EnableKeyRotation: pulumi.Bool(true),
		Tags:              a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create kms key: %w", err)
	}

	cluster, err := ecs.NewCluster(ctx, d.ClusterName, &ecs.ClusterArgs{
		Name: pulumi.String(d.ClusterName),
		Settings: ecs.ClusterSettingArray{
			&ecs.ClusterSettingArgs{
				Name:  pulumi.String("containerInsights"),
				Value: pulumi.String("enabled"),
			},
		},
		Tags: a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create ecs cluster %s: %w", d.ClusterName, err)
	}

	taskRole, err := newRole(ctx, a, roleSpec{
		Name:     fargateRole,
		Services: []string{"ecs-tasks.amazonaws.com"},
		Statements: []statement{
			allow([]string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject", "s3:ListBucket"},
				bucketObjects(artifacts.Arn)...),
		},
	})
	if err != nil {
		return err
	}
	executionRole, err := newRole(ctx, a, roleSpec{
		Name:     fargateExecutionRole,
		Services: []string{"ecs-tasks.amazonaws.com"},
		Managed:  []string{ecsTaskExecutionPolicy},
		Statements: []statement{
			allow([]string{"secretsmanager:GetSecretValue"}, pulumi.String(a.arn("secretsmanager", "secret:rds!*"))),
			allow([]string{"kms:Decrypt"}, key.Arn),
		},
	})
	if err != nil {
		return err
	}

	fargateSG, err := ec2.NewSecurityGroup(ctx, fargateSecurityGroup, &ec2.SecurityGroupArgs{
		Name:        pulumi.String(fargateSecurityGroup),
		Description: pulumi.String("Load balancers and tasks of the Fargate services"),
		VpcId:       pulumi.String(net.VpcID),
		Ingress: ec2.SecurityGroupIngressArray{
			tcpFromCidr(80, net.CidrBlock),
			tcpFromCidr(3000, net.CidrBlock),
			tcpFromCidr(5000, net.CidrBlock),
		},
		Egress: allEgress,
		Tags:   a.namedTags(fargateSecurityGroup),
	})
	if err != nil {
		return fmt.Errorf("create security group %s: %w", fargateSecurityGroup, err)
	}

	auroraSG, err := ec2.NewSecurityGroup(ctx, auroraSecurityGroup, &ec2.SecurityGroupArgs{
		Name:        pulumi.String(auroraSecurityGroup),
		Description: pulumi.String("MLflow backend database"),
		VpcId:       pulumi.String(net.VpcID),
		Ingress: ec2.SecurityGroupIngressArray{
			tcpFromGroups(postgresPort, outbound.ID().ToStringOutput(), fargateSG.ID().ToStringOutput()),
		},
		Egress: allEgress,
		Tags:   a.namedTags(auroraSecurityGroup),
	})
	if err != nil {
		return fmt.Errorf("create security group %s: %w", auroraSecurityGroup, err)
	}

	mlflowDB, err := newServerlessDatabase(ctx, a, databaseSpec{
		Settings:       d.MLflowDB,
		Engine:         enginePostgres,
		Port:           postgresPort,
		Subnets:        net.subnetIDs(),
		SecurityGroups: pulumi.StringArray{auroraSG.ID().ToStringOutput()},
		KMSKeyArn:      key.Arn,
	})
	if err != nil {
		return err
	}

	zone, err := route53.NewZone(ctx, "mlops-private-zone", &route53.ZoneArgs{
		Name: pulumi.String(d.HostedZone),
		Vpcs: route53.ZoneVpcArray{
			&route53.ZoneVpcArgs{VpcId: pulumi.String(net.VpcID)},
		},
		ForceDestroy: pulumi.Bool(true),
		Tags:         a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create hosted zone %s: %w", d.HostedZone, err)
	}

	mlflow, err := newLoadBalancedService(ctx, a, serviceSpec{
		Settings:         d.MLflow,
		Image:            mlflowImage,
		VpcID:            net.VpcID,
		Subnets:          net.subnetIDs(),
		SecurityGroups:   pulumi.StringArray{fargateSG.ID().ToStringOutput()},
		ClusterArn:       cluster.Arn,
		ExecutionRoleArn: executionRole.Arn,
		TaskRoleArn:      taskRole.Arn,
		Env: map[string]pulumi.StringInput{
			"HOST":     mlflowDB.Cluster.Endpoint,
			"PORT":     pulumi.String(strconv.Itoa(postgresPort)),
			"DATABASE": pulumi.String(d.MLflowDB.DatabaseName),
			"BUCKET":   artifacts.Bucket,
		},
		DBSecretArn: mlflowDB.SecretArn,
		ZoneID:      zone.ZoneId,
		ZoneName:    zone.Name,
	})
	if err != nil {
		return err
	}

	repo, err := ecr.NewRepository(ctx, d.ECRRepository, &ecr.RepositoryArgs{
		Name:               pulumi.String(d.ECRRepository),
		ImageTagMutability: pulumi.String("MUTABLE"),
		ForceDelete:        pulumi.Bool(true),
		ImageScanningConfiguration: &ecr.RepositoryImageScanningConfigurationArgs{
			ScanOnPush: pulumi.Bool(true),
		},
		Tags: a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create ecr repository %s: %w", d.ECRRepository, err)
	}

	smRole, err := newRole(ctx, a, roleSpec{
		Name:     sagemakerRole,
		Services: []string{"sagemaker.amazonaws.com"},
		Managed:  []string{sagemakerFullAccess},
		Statements: []statement{
			allow([]string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject", "s3:ListBucket"},
				bucketObjects(artifacts.Arn)...),
		},
	})
	if err != nil {
		return err
	}
	evRole, err := newRole(ctx, a, roleSpec{
		Name:     eventRole,
		Services: []string{"events.amazonaws.com"},
		Statements: []statement{
			allow([]string{"lambda:InvokeFunction"},
				pulumi.String(lambdaArn(a, d.Trigger.Name)),
				pulumi.String(lambdaArn(a, a.Platform.Inference.Trigger.Name)),
			),
		},
	})
	if err != nil {
		return err
	}

	rest, err := apigateway.NewRestApi(ctx, d.APIName, &apigateway.RestApiArgs{
		Name:        pulumi.String(d.APIName),
		Description: pulumi.String("Training and batch inference triggers"),
		Tags:        a.tags(),
	})
	if err != nil {
		return fmt.Errorf("create rest api %s: %w", d.APIName, err)
	}
	api := ownedAPI(rest)

	integrations, err := newJobTrigger(ctx, a, trigger.Training, d.Trigger, a.Platform.Lambdas.TrainingTrigger, jobTriggerDeps{
		RepositoryName:   repo.Name,
		RepositoryURI:    repo.RepositoryUrl,
		ArtifactsBucket:  artifacts.Bucket,
		SecurityGroup:    outbound.ID().ToStringOutput(),
		Subnets:          net.PrivateSubnets,
		SagemakerRoleArn: smRole.Arn,
		EventRoleArn:     evRole.Arn,
		API:              api,
	})
	if err != nil {
		return err
	}

	stage, err := deployAPI(ctx, a, api, d.APIStage, routePaths(trigger.Training), integrations)
	if err != nil {
		return err
	}

	ctx.Export(OutSecurityGroupID, outbound.ID().ToStringOutput())
	ctx.Export(OutArtifactsBucketName, artifacts.Bucket)
	ctx.Export(OutKMSKeyARN, key.Arn)
	ctx.Export(OutFargateClusterARN, cluster.Arn)
	ctx.Export(OutFargateClusterName, cluster.Name)
	ctx.Export(OutFargateRoleARN, taskRole.Arn)
	ctx.Export(OutFargateExecutionRoleARN, executionRole.Arn)
	ctx.Export(OutFargateSecurityGroupID, fargateSG.ID().ToStringOutput())
	ctx.Export(OutHostedZoneID, zone.ZoneId)
	ctx.Export(OutHostedZoneName, zone.Name)
	ctx.Export(OutECRRepositoryArn, repo.Arn)
	ctx.Export(OutECRRepositoryName, repo.Name)
	ctx.Export(OutECRRepositoryURI, repo.RepositoryUrl)
	ctx.Export(OutSagemakerRoleArn, smRole.Arn)
	ctx.Export(OutEventRoleArn, evRole.Arn)
	ctx.Export(OutAPIID, api.ID)
	ctx.Export(OutAPIRoot, rest.RootResourceId)
	ctx.Export(OutAPIExecutionArn, rest.ExecutionArn)
	ctx.Export(OutAPIURL, stage.InvokeUrl)
	ctx.Export(OutMLflowURL, mlflow.URL)
	ctx.Export(OutSubnet0, pulumi.String(net.PrivateSubnets[0]))
	ctx.Export(OutSubnet1, pulumi.String(net.PrivateSubnets[1]))
	ctx.Export(OutVpcID, pulumi.String(net.VpcID))
	return nil
}

// ownedAPI refers to a REST API declared in the running program.
func ownedAPI(api *apigateway.RestApi) restAPI {
	return restAPI{
		ID:           api.ID().ToStringOutput(),
		RootID:       api.RootResourceId,
		ExecutionArn: api.ExecutionArn,
	}
}
