package stacks

import (
	"encoding/json"
	"fmt"
)

// State names of the ETL state machine.
const (
	StateConvert   = "ConvertJob"
	StateTransform = "TransformJob"
	StateSucceeded = "ETLSucceeded"
)

const runTaskSync = "arn:aws:states:::ecs:runTask.sync"

// etlInputEnv maps execution input fields to the job container environment.
var etlInputEnv = []struct{ Env, Field string }{
	{"ETL_BUCKET", "bucket"},
	{"ETL_KEY", "key"},
	{"ETL_FILE_NAME", "file_name"},
	{"ETL_INGEST_TYPE", "ingest_type"},
	{"ETL_DATABASE_NAME", "database_name"},
}

// ETLTasks holds the resolved identifiers the ETL definition refers to.
type ETLTasks struct {
	ClusterArn       string
	ConvertTaskArn   string
	TransformTaskArn string
	// Container is the container name inside both task definitions.
	Container      string
	Subnets        []string
	SecurityGroups []string
}

// ETLDefinition renders the Amazon States Language document running the
// convert job, then the transform job, then succeeding. Each step is a
// synchronous Fargate task receiving the execution input as environment.
// Task results are discarded so the transform step sees the original input.
func ETLDefinition(t ETLTasks) (string, error) {
	if t.ClusterArn == "" || t.ConvertTaskArn == "" || t.TransformTaskArn == "" {
		return "", fmt.Errorf("etl definition: cluster and task definitions are required")
	}
	if t.Container == "" {
		return "", fmt.Errorf("etl definition: container name is required")
	}

	doc := map[string]any{
		"Comment": "Convert landing CSV to parquet, then derive curated features",
		"StartAt": StateConvert,
		"States": map[string]any{
			StateConvert:   runTaskState(t, t.ConvertTaskArn, StateTransform),
			StateTransform: runTaskState(t, t.TransformTaskArn, StateSucceeded),
			StateSucceeded: map[string]any{"Type": "Succeed"},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode etl definition: %w", err)
	}
	return string(b), nil
}

func runTaskState(t ETLTasks, taskArn, next string) map[string]any {
	env := make([]map[string]string, 0, len(etlInputEnv))
	for _, e := range etlInputEnv {
		env = append(env, map[string]string{
			"Name":    e.Env,
			"Value.$": "$." + e.Field,
		})
	}

	return map[string]any{
		"Type":     "Task",
		"Resource": runTaskSync,
		"Parameters": map[string]any{
			"LaunchType":     "FARGATE",
			"Cluster":        t.ClusterArn,
			"TaskDefinition": taskArn,
			"NetworkConfiguration": map[string]any{
				"AwsvpcConfiguration": map[string]any{
					"Subnets":        t.Subnets,
					"SecurityGroups": t.SecurityGroups,
					"AssignPublicIp": "DISABLED",
				},
			},
			"Overrides": map[string]any{
				"ContainerOverrides": []map[string]any{
					{"Name": t.Container, "Environment": env},
				},
			},
		},
		"ResultPath": nil,
		"Next":       next,
	}
}
