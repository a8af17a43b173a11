package stacks

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/rds"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

// Aurora engines used by the platform.
const (
	enginePostgres = "aurora-postgresql"
	engineMySQL    = "aurora-mysql"
)

type databaseSpec struct {
	Settings       config.DatabaseSettings
	Engine         string
	Port           int
	Subnets        pulumi.StringArrayInput
	SecurityGroups pulumi.StringArrayInput
	// KMSKeyArn encrypts the managed master user secret.
	KMSKeyArn pulumi.StringPtrInput
}

// database is an Aurora Serverless v2 cluster whose master credentials live
// in a Secrets Manager secret managed by RDS.
type database struct {
	Cluster   *rds.Cluster
	SecretArn pulumi.StringOutput
}

func newServerlessDatabase(ctx *pulumi.Context, a Args, spec databaseSpec) (database, error) {
	id := spec.Settings.ClusterIdentifier

	subnets, err := rds.NewSubnetGroup(ctx, id+"-subnets", &rds.SubnetGroupArgs{
		SubnetIds: spec.Subnets,
		Tags:      a.tags(),
	})
	if err != nil {
		return database{}, fmt.Errorf("create subnet group for %s: %w", id, err)
	}

	cluster, err := rds.NewCluster(ctx, id, &rds.ClusterArgs{
		ClusterIdentifier:        pulumi.String(id),
		Engine:                   pulumi.String(spec.Engine),
		EngineMode:               pulumi.String("provisioned"),
		EngineVersion:            pulumi.String(spec.Settings.EngineVersion),
		DatabaseName:             pulumi.String(spec.Settings.DatabaseName),
		MasterUsername:           pulumi.String(spec.Settings.Username),
		ManageMasterUserPassword: pulumi.Bool(true),
		MasterUserSecretKmsKeyId: spec.KMSKeyArn,
		Port:                     pulumi.Int(spec.Port),
		DbSubnetGroupName:        subnets.Name,
		VpcSecurityGroupIds:      spec.SecurityGroups,
		StorageEncrypted:         pulumi.Bool(true),
		SkipFinalSnapshot:        pulumi.Bool(true),
		Serverlessv2ScalingConfiguration: &rds.ClusterServerlessv2ScalingConfigurationArgs{
			MinCapacity: pulumi.Float64(spec.Settings.MinCapacity),
			MaxCapacity: pulumi.Float64(spec.Settings.MaxCapacity),
		},
		Tags: a.tags(),
	})
	if err != nil {
		return database{}, fmt.Errorf("create database cluster %s: %w", id, err)
	}

	if _, err := rds.NewClusterInstance(ctx, id+"-writer", &rds.ClusterInstanceArgs{
		ClusterIdentifier: cluster.ID(),
		InstanceClass:     pulumi.String("db.serverless"),
		Engine:            cluster.Engine,
		EngineVersion:     cluster.EngineVersion,
		Tags:              a.tags(),
	}); err != nil {
		return database{}, fmt.Errorf("create writer instance for %s: %w", id, err)
	}

	secretArn := cluster.MasterUserSecrets.Index(pulumi.Int(0)).SecretArn().Elem()
	return database{Cluster: cluster, SecretArn: secretArn}, nil
}
