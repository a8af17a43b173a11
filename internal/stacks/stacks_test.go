package stacks

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

const (
	testRegion  = "us-east-1"
	testAccount = "123456789012"
)

// developmentOutputs is what the mocked development stack reference returns.
var developmentOutputs = map[string]interface{}{
	OutSecurityGroupID:         "sg-outbound",
	OutArtifactsBucketName:     "mlops-artifacts-bucket",
	OutKMSKeyARN:               "arn:aws:kms:us-east-1:123456789012:key/abc",
	OutFargateClusterARN:       "arn:aws:ecs:us-east-1:123456789012:cluster/mlops-fargate-cluster",
	OutFargateClusterName:      "mlops-fargate-cluster",
	OutFargateRoleARN:          "arn:aws:iam::123456789012:role/mlops-fargate-role",
	OutFargateExecutionRoleARN: "arn:aws:iam::123456789012:role/mlops-fargate-execution-role",
	OutFargateSecurityGroupID:  "sg-fargate",
	OutHostedZoneID:            "Z123",
	OutHostedZoneName:          "aast-innovation.iolap.com",
	OutECRRepositoryName:       "mlops-model-repository",
	OutECRRepositoryURI:        "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-model-repository",
	OutSagemakerRoleArn:        "arn:aws:iam::123456789012:role/mlops-sagemaker-role",
	OutEventRoleArn:            "arn:aws:iam::123456789012:role/mlops-event-role",
	OutAPIID:                   "api123",
	OutAPIRoot:                 "root123",
	OutAPIExecutionArn:         "arn:aws:execute-api:us-east-1:123456789012:api123",
}

// recorder is a Pulumi mock that remembers the inputs of every resource.
type recorder struct {
	mu        sync.Mutex
	resources map[string]resource.PropertyMap
}

func newRecorder() *recorder {
	return &recorder{resources: make(map[string]resource.PropertyMap)}
}

func (r *recorder) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	r.mu.Lock()
	r.resources[args.TypeToken+"::"+args.Name] = args.Inputs
	r.mu.Unlock()

	if args.TypeToken == "pulumi:pulumi:StackReference" {
		return args.Name, resource.NewPropertyMapFromMap(map[string]interface{}{
			"name":    args.Name,
			"outputs": developmentOutputs,
		}), nil
	}

	state := args.Inputs.Copy()
	state["arn"] = resource.NewStringProperty("arn:aws:mock:" + testRegion + ":" + testAccount + ":" + args.Name)
	if args.TypeToken == "aws:rds/cluster:Cluster" {
		state["endpoint"] = resource.NewStringProperty(args.Name + ".cluster.local")
		state["masterUserSecrets"] = resource.NewArrayProperty([]resource.PropertyValue{
			resource.NewObjectProperty(resource.PropertyMap{
				"secretArn": resource.NewStringProperty("arn:aws:secretsmanager:us-east-1:123456789012:secret:rds!" + args.Name),
			}),
		})
	}
	return args.Name + "_id", state, nil
}

func (r *recorder) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	switch args.Token {
	case "aws:ec2/getVpc:getVpc":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"id":        "vpc-123",
			"cidrBlock": "10.0.0.0/16",
		}), nil
	case "aws:ec2/getSubnets:getSubnets":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"id":  "vpc-123",
			"ids": []interface{}{"subnet-b", "subnet-a"},
		}), nil
	}
	return args.Args, nil
}

func (r *recorder) get(t *testing.T, typ, name string) resource.PropertyMap {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.resources[typ+"::"+name]
	if !ok {
		t.Fatalf("resource %s %q was not registered", typ, name)
	}
	return in
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.resources {
		if strings.HasPrefix(key, typ+"::") {
			n++
		}
	}
	return n
}

func testArgs() Args {
	cfg := &config.PlatformConfig{Project: "mlops", Owner: "aast-innovation"}
	cfg.ApplyDefaults()
	cfg.Lambdas = config.LambdaArtifacts{
		ETLTrigger:       "build/lambda/etl-trigger.zip",
		TrainingTrigger:  "build/lambda/training-trigger.zip",
		InferenceTrigger: "build/lambda/inference-trigger.zip",
	}
	return Args{
		Platform: cfg,
		Env: config.Environment{
			Region:    testRegion,
			AccountID: testAccount,
			VpcName:   "aast-innovation-vpc",
			Tags:      map[string]string{"CostCenter": "ml"},
		},
		Images: map[string]string{
			"etl":     "123456789012.dkr.ecr.us-east-1.amazonaws.com/etl:20240301",
			"mlflow":  "ghcr.io/mlflow/mlflow:v2.12.1",
			"grafana": "grafana/grafana:10.4.2",
		},
		DevelopmentStack: "organization/mlops/development-dev",
	}
}

func runProgram(t *testing.T, kind string, args Args) *recorder {
	t.Helper()
	program, err := Program(kind, args)
	if err != nil {
		t.Fatalf("Program(%s): %v", kind, err)
	}
	rec := newRecorder()
	if err := pulumi.RunErr(program, pulumi.WithMocks("mlops", "dev", rec)); err != nil {
		t.Fatalf("run %s program: %v", kind, err)
	}
	return rec
}

func stringInput(t *testing.T, in resource.PropertyMap, key string) string {
	t.Helper()
	v, ok := in[resource.PropertyKey(key)]
	if !ok || !v.IsString() {
		t.Fatalf("input %q is missing or not a string: %v", key, v)
	}
	return v.StringValue()
}

func lambdaEnv(t *testing.T, in resource.PropertyMap) map[string]string {
	t.Helper()
	env := in["environment"].ObjectValue()["variables"].ObjectValue()
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[string(k)] = v.StringValue()
	}
	return out
}

func TestProgramValidation(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		mutate func(*Args)
	}{
		{"unknown kind", "analytics", func(*Args) {}},
		{"nil platform", config.KindStorage, func(a *Args) { a.Platform = nil }},
		{"missing region", config.KindDevelopment, func(a *Args) { a.Env.Region = "" }},
		{"missing account", config.KindDevelopment, func(a *Args) { a.Env.AccountID = "" }},
		{"missing vpc", config.KindInference, func(a *Args) { a.Env.VpcName = "" }},
		{"missing development reference", config.KindStorage, func(a *Args) { a.DevelopmentStack = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := testArgs()
			tc.mutate(&args)
			if _, err := Program(tc.kind, args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDevelopmentWithoutReference(t *testing.T) {
	args := testArgs()
	args.DevelopmentStack = ""
	if _, err := Program(config.KindDevelopment, args); err != nil {
		t.Fatalf("development must not need a reference: %v", err)
	}
}

func TestStorageProgram(t *testing.T) {
	rec := runProgram(t, config.KindStorage, testArgs())

	bucket := rec.get(t, "aws:s3/bucketV2:BucketV2", "mlops-storage-bucket")
	if got := stringInput(t, bucket, "bucket"); got != "mlops-storage-bucket" {
		t.Fatalf("bucket name = %q", got)
	}
	tags := bucket["tags"].ObjectValue()
	for k, want := range map[string]string{"Project": "mlops", "Owner": "aast-innovation", "CostCenter": "ml"} {
		if got := tags[resource.PropertyKey(k)].StringValue(); got != want {
			t.Errorf("tag %s = %q, want %q", k, got, want)
		}
	}

	db := rec.get(t, "aws:glue/catalogDatabase:CatalogDatabase", "mlops-glue-database")
	if got := stringInput(t, db, "name"); got != "mlops-glue-database" {
		t.Fatalf("glue database = %q", got)
	}

	for _, family := range []string{"mlops-convert-job", "mlops-transform-job"} {
		td := rec.get(t, "aws:ecs/taskDefinition:TaskDefinition", family)
		var defs []containerDefinition
		if err := json.Unmarshal([]byte(stringInput(t, td, "containerDefinitions")), &defs); err != nil {
			t.Fatalf("%s container definitions: %v", family, err)
		}
		wantCmd := strings.TrimPrefix(strings.TrimSuffix(family, "-job"), "mlops-")
		if len(defs) != 1 || len(defs[0].Command) != 2 || defs[0].Command[1] != wantCmd {
			t.Fatalf("%s runs %+v, want etl %s", family, defs, wantCmd)
		}
		if defs[0].Image != testArgs().Images["etl"] {
			t.Fatalf("%s image = %q", family, defs[0].Image)
		}
	}

	machine := rec.get(t, "aws:sfn/stateMachine:StateMachine", "mlops-etl-process")
	definition := stringInput(t, machine, "definition")
	for _, want := range []string{StateConvert, StateTransform, StateSucceeded, developmentOutputs[OutFargateClusterARN].(string), "subnet-a"} {
		if !strings.Contains(definition, want) {
			t.Errorf("state machine definition lacks %q", want)
		}
	}

	fn := rec.get(t, "aws:lambda/function:Function", "mlops-etl-lambda")
	env := lambdaEnv(t, fn)
	if env["GlueDatabaseName"] != "mlops-glue-database" {
		t.Errorf("GlueDatabaseName = %q", env["GlueDatabaseName"])
	}
	if !strings.HasSuffix(env["StateMachineArn"], "mlops-etl-process") {
		t.Errorf("StateMachineArn = %q", env["StateMachineArn"])
	}
	if env["SecurityGroupId"] != "sg-outbound" {
		t.Errorf("SecurityGroupId = %q", env["SecurityGroupId"])
	}
	if got := stringInput(t, fn, "runtime"); got != lambdaRuntime {
		t.Errorf("runtime = %q", got)
	}

	policy := rec.get(t, "aws:iam/policy:Policy", "mlops-etl-lambda-policy")
	if doc := stringInput(t, policy, "policy"); !strings.Contains(doc, "states:StartExecution") {
		t.Errorf("etl lambda policy lacks states:StartExecution: %s", doc)
	}
	rec.get(t, "aws:iam/policy:Policy", "mlops-step-function-policy")

	notification := rec.get(t, "aws:s3/bucketNotification:BucketNotification", "mlops-storage-bucket-landing")
	var prefixes []string
	for _, fnCfg := range notification["lambdaFunctions"].ArrayValue() {
		prefixes = append(prefixes, fnCfg.ObjectValue()["filterPrefix"].StringValue())
	}
	if strings.Join(prefixes, ",") != "raw/partitioned/csv/,raw/total/csv/" {
		t.Fatalf("landing prefixes = %v", prefixes)
	}
}

func TestDevelopmentProgram(t *testing.T) {
	rec := runProgram(t, config.KindDevelopment, testArgs())

	rec.get(t, "aws:s3/bucketV2:BucketV2", "mlops-artifacts-bucket")
	rec.get(t, "aws:ecr/repository:Repository", "mlops-model-repository")
	rec.get(t, "aws:apigateway/restApi:RestApi", "mlops-api")

	cluster := rec.get(t, "aws:rds/cluster:Cluster", "mlops-mlflow-backend")
	if got := stringInput(t, cluster, "engine"); got != enginePostgres {
		t.Fatalf("mlflow engine = %q", got)
	}
	if got := stringInput(t, cluster, "databaseName"); got != "MLflowBackend" {
		t.Fatalf("mlflow database = %q", got)
	}

	td := rec.get(t, "aws:ecs/taskDefinition:TaskDefinition", "mlops-mlflow-task")
	var defs []containerDefinition
	if err := json.Unmarshal([]byte(stringInput(t, td, "containerDefinitions")), &defs); err != nil {
		t.Fatalf("mlflow container definitions: %v", err)
	}
	env := map[string]string{}
	for _, kv := range defs[0].Environment {
		env[kv.Name] = kv.Value
	}
	if env["HOST"] != "mlops-mlflow-backend.cluster.local" || env["PORT"] != "5432" || env["DATABASE"] != "MLflowBackend" {
		t.Fatalf("mlflow environment = %v", env)
	}
	if len(defs[0].Secrets) != 2 || !strings.HasSuffix(defs[0].Secrets[0].ValueFrom, ":username::") {
		t.Fatalf("mlflow secrets = %+v", defs[0].Secrets)
	}

	fn := rec.get(t, "aws:lambda/function:Function", "mlops-training-lambda")
	fnEnv := lambdaEnv(t, fn)
	for k, want := range map[string]string{
		"SelfLambdaName": "mlops-training-lambda",
		"Region":         testRegion,
		"AccountId":      testAccount,
		"Subnet0":        "subnet-a",
		"Subnet1":        "subnet-b",
		"Project":        "mlops",
	} {
		if fnEnv[k] != want {
			t.Errorf("training lambda env %s = %q, want %q", k, fnEnv[k], want)
		}
	}

	for _, part := range []string{"start_training", "training_schedule"} {
		res := rec.get(t, "aws:apigateway/resource:Resource", part)
		if got := stringInput(t, res, "pathPart"); got != part {
			t.Errorf("path part = %q, want %q", got, part)
		}
	}

	perm := rec.get(t, "aws:lambda/permission:Permission", "training-schedule-invoke")
	if got := stringInput(t, perm, "sourceArn"); got != "arn:aws:events:us-east-1:123456789012:rule/TrainingSchedule" {
		t.Fatalf("schedule permission source = %q", got)
	}

	stage := rec.get(t, "aws:apigateway/stage:Stage", "prod-stage")
	if got := stringInput(t, stage, "stageName"); got != config.DefaultAPIStage {
		t.Fatalf("stage = %q", got)
	}
}

func TestInferenceProgram(t *testing.T) {
	rec := runProgram(t, config.KindInference, testArgs())

	fn := rec.get(t, "aws:lambda/function:Function", "mlops-inference-lambda")
	env := lambdaEnv(t, fn)
	if env["ECRRepositoryName"] != "mlops-model-repository" || env["ArtifactsBucket"] != "mlops-artifacts-bucket" {
		t.Fatalf("inference lambda env = %v", env)
	}
	rec.get(t, "aws:iam/policy:Policy", "mlops-inference-lambda-policy")

	for _, part := range []string{"start_batch_inference", "inference_schedule"} {
		res := rec.get(t, "aws:apigateway/resource:Resource", part)
		if got := stringInput(t, res, "parentId"); got != "root123" {
			t.Errorf("%s parent = %q, want the development API root", part, got)
		}
	}

	cluster := rec.get(t, "aws:rds/cluster:Cluster", "mlops-grafana")
	if got := stringInput(t, cluster, "engine"); got != engineMySQL {
		t.Fatalf("grafana engine = %q", got)
	}
	if got := stringInput(t, cluster, "masterUserSecretKmsKeyId"); got != developmentOutputs[OutKMSKeyARN] {
		t.Fatalf("grafana secret key = %q", got)
	}

	tg := rec.get(t, "aws:lb/targetGroup:TargetGroup", "mlops-grafana-targets")
	hc := tg["healthCheck"].ObjectValue()
	if hc["path"].StringValue() != "/login" || hc["interval"].NumberValue() != 60 || hc["timeout"].NumberValue() != 10 {
		t.Fatalf("grafana health check = %v", hc)
	}

	svc := rec.get(t, "aws:ecs/service:Service", "mlops-grafana-service")
	if svc["healthCheckGracePeriodSeconds"].NumberValue() != 180 {
		t.Fatalf("grace period = %v", svc["healthCheckGracePeriodSeconds"])
	}

	stage := rec.get(t, "aws:apigateway/stage:Stage", "inference-stage")
	if got := stringInput(t, stage, "stageName"); got != config.DefaultInferenceStage {
		t.Fatalf("stage = %q", got)
	}
	if n := rec.count("aws:apigateway/integration:Integration"); n != 2 {
		t.Fatalf("inference stack declares %d integrations, want 2", n)
	}
}
