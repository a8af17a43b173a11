package stacks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

const logRetentionDays = 30

// containerDefinition is the JSON shape ECS expects in ContainerDefinitions.
type containerDefinition struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	Essential        bool              `json:"essential"`
	Command          []string          `json:"command,omitempty"`
	PortMappings     []portMapping     `json:"portMappings,omitempty"`
	Environment      []keyValue        `json:"environment,omitempty"`
	Secrets          []secretRef       `json:"secrets,omitempty"`
	LogConfiguration *logConfiguration `json:"logConfiguration,omitempty"`
}

type portMapping struct {
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type keyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type secretRef struct {
	Name      string `json:"name"`
	ValueFrom string `json:"valueFrom"`
}

type logConfiguration struct {
	LogDriver string            `json:"logDriver"`
	Options   map[string]string `json:"options"`
}

// containerSpec is a container whose environment and credentials secret may
// be unresolved outputs.
type containerSpec struct {
	Name    string
	Image   string
	Command []string
	Port    int
	Env     map[string]pulumi.StringInput
	// DBSecretArn, when set, is exposed as DB_USERNAME and DB_PASSWORD.
	DBSecretArn pulumi.StringInput
	LogGroup    pulumi.StringInput
	Region      string
}

// containerDefinitionsJSON renders the single-container definitions list.
func containerDefinitionsJSON(spec containerSpec) pulumi.StringOutput {
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inputs := []interface{}{spec.LogGroup}
	for _, k := range keys {
		inputs = append(inputs, spec.Env[k])
	}
	if spec.DBSecretArn != nil {
		inputs = append(inputs, spec.DBSecretArn)
	}

	return pulumi.All(inputs...).ApplyT(func(vals []interface{}) (string, error) {
		def := containerDefinition{
			Name:      spec.Name,
			Image:     spec.Image,
			Essential: true,
			Command:   spec.Command,
			LogConfiguration: &logConfiguration{
				LogDriver: "awslogs",
				Options: map[string]string{
					"awslogs-group":         vals[0].(string),
					"awslogs-region":        spec.Region,
					"awslogs-stream-prefix": spec.Name,
				},
			},
		}
		if spec.Port > 0 {
			def.PortMappings = []portMapping{{ContainerPort: spec.Port, Protocol: "tcp"}}
		}
		for i, k := range keys {
			def.Environment = append(def.Environment, keyValue{Name: k, Value: vals[i+1].(string)})
		}
		if spec.DBSecretArn != nil {
			arn := vals[len(vals)-1].(string)
			def.Secrets = []secretRef{
				{Name: "DB_USERNAME", ValueFrom: arn + ":username::"},
				{Name: "DB_PASSWORD", ValueFrom: arn + ":password::"},
			}
		}
		b, err := json.Marshal([]containerDefinition{def})
		if err != nil {
			return "", err
		}
		return string(b), nil
	}).(pulumi.StringOutput)
}

// taskSpec sizes a Fargate task definition.
type taskSpec struct {
	Family           string
	CPU              int
	Memory           int
	EphemeralGiB     int
	ExecutionRoleArn pulumi.StringOutput
	TaskRoleArn      pulumi.StringOutput
	Container        containerSpec
}

func newLogGroup(ctx *pulumi.Context, a Args, name string) (*cloudwatch.LogGroup, error) {
	group, err := cloudwatch.NewLogGroup(ctx, name, &cloudwatch.LogGroupArgs{
		Name:            pulumi.String(name),
		RetentionInDays: pulumi.Int(logRetentionDays),
		Tags:            a.tags(),
	})
	if err != nil {
		return nil, fmt.Errorf("create log group %s: %w", name, err)
	}
	return group, nil
}

func newTaskDefinition(ctx *pulumi.Context, a Args, spec taskSpec) (*ecs.TaskDefinition, error) {
	args := &ecs.TaskDefinitionArgs{
		Family:                  pulumi.String(spec.Family),
		Cpu:                     pulumi.String(strconv.Itoa(spec.CPU)),
		Memory:                  pulumi.String(strconv.Itoa(spec.Memory)),
		NetworkMode:             pulumi.String("awsvpc"),
		RequiresCompatibilities: pulumi.StringArray{pulumi.String("FARGATE")},
		ExecutionRoleArn:        spec.ExecutionRoleArn,
		TaskRoleArn:             spec.TaskRoleArn,
		ContainerDefinitions:    containerDefinitionsJSON(spec.Container),
		Tags:                    a.tags(),
	}
	if spec.EphemeralGiB > 0 {
		args.EphemeralStorage = &ecs.TaskDefinitionEphemeralStorageArgs{
			SizeInGib: pulumi.Int(spec.EphemeralGiB),
		}
	}
	td, err := ecs.NewTaskDefinition(ctx, spec.Family, args)
	if err != nil {
		return nil, fmt.Errorf("create task definition %s: %w", spec.Family, err)
	}
	return td, nil
}

// serviceSpec describes a Fargate service behind an internal application
// load balancer with a private DNS alias.
type serviceSpec struct {
	Settings         config.ServiceSettings
	Image            string
	VpcID            string
	Subnets          pulumi.StringArrayInput
	SecurityGroups   pulumi.StringArrayInput
	ClusterArn       pulumi.StringOutput
	ExecutionRoleArn pulumi.StringOutput
	TaskRoleArn      pulumi.StringOutput
	Env              map[string]pulumi.StringInput
	DBSecretArn      pulumi.StringInput
	ZoneID           pulumi.StringOutput
	ZoneName         pulumi.StringOutput
}

// service is a deployed load-balanced Fargate service.
type service struct {
	LoadBalancer *lb.LoadBalancer
	URL          pulumi.StringOutput
}

func newLoadBalancedService(ctx *pulumi.Context, a Args, spec serviceSpec) (service, error) {
	s := spec.Settings

	logGroup, err := newLogGroup(ctx, a, "/mlops/"+s.Name)
	if err != nil {
		return service{}, err
	}

	td, err := newTaskDefinition(ctx, a, taskSpec{
		Family:           s.Name + "-task",
		CPU:              s.CPU,
		Memory:           s.Memory,
		EphemeralGiB:     s.EphemeralStorageGiB,
		ExecutionRoleArn: spec.ExecutionRoleArn,
		TaskRoleArn:      spec.TaskRoleArn,
		Container: containerSpec{
			Name:        s.Name,
			Image:       spec.Image,
			Port:        s.Port,
			Env:         spec.Env,
			DBSecretArn: spec.DBSecretArn,
			LogGroup:    logGroup.Name,
			Region:      a.Env.Region,
		},
	})
	if err != nil {
		return service{}, err
	}

	alb, err := lb.NewLoadBalancer(ctx, s.Name+"-load-balancer", &lb.LoadBalancerArgs{
		Name:             pulumi.String(s.Name + "-load-balancer"),
		Internal:         pulumi.Bool(true),
		LoadBalancerType: pulumi.String("application"),
		SecurityGroups:   spec.SecurityGroups,
		Subnets:          spec.Subnets,
		Tags:             a.tags(),
	})
	if err != nil {
		return service{}, fmt.Errorf("create load balancer for %s: %w", s.Name, err)
	}

	tg, err := lb.NewTargetGroup(ctx, s.Name+"-targets", &lb.TargetGroupArgs{
		Port:       pulumi.Int(s.Port),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("ip"),
		VpcId:      pulumi.String(spec.VpcID),
		HealthCheck: &lb.TargetGroupHealthCheckArgs{
			Path:     pulumi.String(s.HealthCheckPath),
			Interval: pulumi.Int(s.HealthCheckInterval),
			Timeout:  pulumi.Int(s.HealthCheckTimeout),
		},
		Tags: a.tags(),
	})
	if err != nil {
		return service{}, fmt.Errorf("create target group for %s: %w", s.Name, err)
	}

	listener, err := lb.NewListener(ctx, s.Name+"-http", &lb.ListenerArgs{
		LoadBalancerArn: alb.Arn,
		Port:            pulumi.Int(80),
		Protocol:        pulumi.String("HTTP"),
		DefaultActions: lb.ListenerDefaultActionArray{
			&lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: tg.Arn,
			},
		},
	})
	if err != nil {
		return service{}, fmt.Errorf("create listener for %s: %w", s.Name, err)
	}

	if _, err := ecs.NewService(ctx, s.Name+"-service", &ecs.ServiceArgs{
		Name:                          pulumi.String(s.Name + "-service"),
		Cluster:                       spec.ClusterArn,
		TaskDefinition:                td.Arn,
		DesiredCount:                  pulumi.Int(s.DesiredCount),
		LaunchType:                    pulumi.String("FARGATE"),
		HealthCheckGracePeriodSeconds: pulumi.Int(s.GracePeriodSeconds),
		NetworkConfiguration: &ecs.ServiceNetworkConfigurationArgs{
			Subnets:        spec.Subnets,
			SecurityGroups: spec.SecurityGroups,
			AssignPublicIp: pulumi.Bool(false),
		},
		LoadBalancers: ecs.ServiceLoadBalancerArray{
			&ecs.ServiceLoadBalancerArgs{
				TargetGroupArn: tg.Arn,
				ContainerName:  pulumi.String(s.Name),
				ContainerPort:  pulumi.Int(s.Port),
			},
		},
		Tags: a.tags(),
	}, pulumi.DependsOn([]pulumi.Resource{listener})); err != nil {
		return service{}, fmt.Errorf("create service %s: %w", s.Name, err)
	}

	host := pulumi.Sprintf("%s.%s", s.DomainName, spec.ZoneName)
	if _, err := route53.NewRecord(ctx, s.Name+"-dns", &route53.RecordArgs{
		ZoneId: spec.ZoneID,
		Name:   host,
		Type:   pulumi.String("A"),
		Aliases: route53.RecordAliasArray{
			&route53.RecordAliasArgs{
				Name:                 alb.DnsName,
				ZoneId:               alb.ZoneId,
				EvaluateTargetHealth: pulumi.Bool(true),
			},
		},
	}); err != nil {
		return service{}, fmt.Errorf("create dns record for %s: %w", s.Name, err)
	}

	return service{LoadBalancer: alb, URL: pulumi.Sprintf("http://%s", host)}, nil
}
