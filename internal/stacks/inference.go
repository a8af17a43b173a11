package stacks

import (
	"fmt"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/trigger"
)

const (
	grafanaSecurityGroup = "mlops-aurora-mysql-sg"
	mysqlPort            = 3306
)

// inference declares the batch inference trigger and its API routes, the
// Grafana dashboard service with its Aurora MySQL backend, and publishes the
// REST API of the development stack with both job kinds.
func inference(ctx *pulumi.Context, a Args) error {
	inf := a.Platform.Inference

	dev, err := newDevelopmentRef(ctx, a)
	if err != nil {
		return err
	}
	net, err := lookupNetwork(ctx, a.Env.VpcName)
	if err != nil {
		return err
	}
	grafanaImage, err := a.image(inf.Grafana.Image)
	if err != nil {
		return err
	}

	api := restAPI{
		ID:           dev.get(OutAPIID),
		RootID:       dev.get(OutAPIRoot),
		ExecutionArn: dev.get(OutAPIExecutionArn),
	}
	outbound := dev.get(OutSecurityGroupID)
	fargateSG := dev.get(OutFargateSecurityGroupID)

	integrations, err := newJobTrigger(ctx, a, trigger.Inference, inf.Trigger, a.Platform.Lambdas.InferenceTrigger, jobTriggerDeps{
		RepositoryName:   dev.get(OutECRRepositoryName),
		RepositoryURI:    dev.get(OutECRRepositoryURI),
		ArtifactsBucket:  dev.get(OutArtifactsBucketName),
		SecurityGroup:    outbound,
		Subnets:          net.PrivateSubnets,
		SagemakerRoleArn: dev.get(OutSagemakerRoleArn),
		EventRoleArn:     dev.get(OutEventRoleArn),
		API:              api,
	})
	if err != nil {
		return err
	}

	stage, err := deployAPI(ctx, a, api, inf.APIStage, routePaths(trigger.Training, trigger.Inference), integrations)
	if err != nil {
		return err
	}

	dbSG, err := ec2.NewSecurityGroup(ctx, grafanaSecurityGroup, &ec2.SecurityGroupArgs{
		Name:        pulumi.String(grafanaSecurityGroup),
		Description: pulumi.String("Grafana backend database"),
		VpcId:       pulumi.String(net.VpcID),
		Ingress: ec2.SecurityGroupIngressArray{
			tcpFromGroups(mysqlPort, outbound, fargateSG),
		},
		Egress: allEgress,
		Tags:   a.namedTags(grafanaSecurityGroup),
	})
	if err != nil {
		return fmt.Errorf("create security group %s: %w", grafanaSecurityGroup, err)
	}

	grafanaDB, err := newServerlessDatabase(ctx, a, databaseSpec{
		Settings:       inf.GrafanaDB,
		Engine:         engineMySQL,
		Port:           mysqlPort,
		Subnets:        net.subnetIDs(),
		SecurityGroups: pulumi.StringArray{dbSG.ID().ToStringOutput()},
		KMSKeyArn:      dev.get(OutKMSKeyARN),
	})
	if err != nil {
		return err
	}

	grafana, err := newLoadBalancedService(ctx, a, serviceSpec{
		Settings:         inf.Grafana,
		Image:            grafanaImage,
		VpcID:            net.VpcID,
		Subnets:          net.subnetIDs(),
		SecurityGroups:   pulumi.StringArray{fargateSG},
		ClusterArn:       dev.get(OutFargateClusterARN),
		ExecutionRoleArn: dev.get(OutFargateExecutionRoleARN),
		TaskRoleArn:      dev.get(OutFargateRoleARN),
		Env: map[string]pulumi.StringInput{
			"HOST":     grafanaDB.Cluster.Endpoint,
			"PORT":     pulumi.String(strconv.Itoa(mysqlPort)),
			"DATABASE": pulumi.String(inf.GrafanaDB.DatabaseName),
		},
		DBSecretArn: grafanaDB.SecretArn,
		ZoneID:      dev.get(OutHostedZoneID),
		ZoneName:    dev.get(OutHostedZoneName),
	})
	if err != nil {
		return err
	}

	ctx.Export(OutInferenceAPIURL, stage.InvokeUrl)
	ctx.Export(OutGrafanaURL, grafana.URL)
	return nil
}
