package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/aast-innovation/mlopsctl/internal/etl"
)

// ETLConfig is the environment of the ETL trigger function.
type ETLConfig struct {
	StateMachineARN  string `env:"StateMachineArn,required"`
	GlueDatabaseName string `env:"GlueDatabaseName,required"`
}

// ETLResult is what the ETL trigger returns to the runtime.
type ETLResult struct {
	StatusCode int      `json:"statusCode"`
	Body       string   `json:"body"`
	Executions []string `json:"executions,omitempty"`
	// Existing lists executions a previous delivery of the event already started.
	Existing   []string `json:"existing,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
}

// ETLTrigger starts the ETL state machine for landed CSV objects.
type ETLTrigger struct {
	Config ETLConfig
	SFN    StepFunctionsAPI
	Logger *slog.Logger
	Now    func() time.Time
}

// HandleS3 starts one execution per landed CSV record. Records outside the
// landing layout are skipped and reported. Execution names derive from the
// record's event time and sequencer, so a redelivered event finds the
// executions it already started instead of starting them twice.
func (t *ETLTrigger) HandleS3(ctx context.Context, ev events.S3Event) (ETLResult, error) {
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	res := ETLResult{StatusCode: 200, Body: "Successfully started ETL process"}
	invoked := now()
	for i, rec := range ev.Records {
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			key = rec.S3.Object.Key
		}
		landing, err := etl.ParseLandingKey(key)
		if err != nil {
			log.Warn("Skipping object", "bucket", rec.S3.Bucket.Name, "key", key, "err", err)
			res.Skipped = append(res.Skipped, key)
			continue
		}

		input, err := json.Marshal(etl.JobInput{
			Bucket:       rec.S3.Bucket.Name,
			Key:          landing.Key,
			FileName:     landing.FileName,
			IngestType:   landing.Ingest,
			DatabaseName: t.Config.GlueDatabaseName,
		})
		if err != nil {
			return ETLResult{}, fmt.Errorf("encode execution input: %w", err)
		}
		name := executionName(rec, i, len(ev.Records), invoked)
		out, err := t.SFN.StartExecution(ctx, &sfn.StartExecutionInput{
			StateMachineArn: aws.String(t.Config.StateMachineARN),
			Name:            aws.String(name),
			Input:           aws.String(string(input)),
		})
		var exists *sfntypes.ExecutionAlreadyExists
		switch {
		case errors.As(err, &exists):
			log.Info("ETL execution already started", "execution", name, "key", key)
			res.Existing = append(res.Existing, name)
			continue
		case err != nil:
			return ETLResult{}, fmt.Errorf("start execution %s for %s: %w", name, key, err)
		}
		log.Info("Started ETL execution", "execution", aws.ToString(out.ExecutionArn), "key", key, "ingest", landing.Ingest)
		res.Executions = append(res.Executions, name)
	}
	if len(res.Executions) == 0 && len(res.Existing) == 0 {
		res.Body = "No landing CSV objects in event"
	}
	return res, nil
}

// maxSequencer keeps execution names within the 80 character limit.
const maxSequencer = 48

// executionName is ETL-<event time>-<sequencer>. Records without an event
// time fall back to the invocation time, and without a sequencer to their
// position in a multi-record event.
func executionName(rec events.S3EventRecord, i, total int, invoked time.Time) string {
	at := rec.EventTime
	if at.IsZero() {
		at = invoked
	}
	name := "ETL-" + at.UTC().Format(timestampLayout)
	seq := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, rec.S3.Object.Sequencer)
	if len(seq) > maxSequencer {
		seq = seq[:maxSequencer]
	}
	switch {
	case seq != "":
		return name + "-" + seq
	case total > 1:
		return fmt.Sprintf("%s-%d", name, i+1)
	}
	return name
}
