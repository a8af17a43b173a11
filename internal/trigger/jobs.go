package trigger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/aast-innovation/mlopsctl/internal/paramstore"
)

// Schedule actions accepted by the schedule resources.
const (
	ActionCreate = "create"
	ActionDelete = "delete"
)

// JobTrigger starts and schedules processing jobs of one Kind.
type JobTrigger struct {
	Kind      Kind
	Config    JobConfig
	SageMaker ProcessingAPI
	Images    ImagesAPI
	Events    EventsAPI
	Params    *paramstore.Store
	Logger    *slog.Logger
	Now       func() time.Time
}

// StartResult is the API answer to a start request.
type StartResult struct {
	Message  string `json:"Message"`
	ImageTag string `json:"ImageTag"`
	JobName  string `json:"JobName"`
}

// ScheduleResult is returned to EventBridge for a schedule tick.
type ScheduleResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	JobName    string `json:"job_name,omitempty"`
}

// Handle dispatches a raw invocation: API Gateway proxy requests carry a
// resource, everything else is a schedule tick.
func (t *JobTrigger) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var probe struct {
		Resource *string `json:"resource"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if probe.Resource != nil {
		var req events.APIGatewayProxyRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode API request: %w", err)
		}
		return t.HandleAPI(ctx, req)
	}
	var ev events.CloudWatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode schedule event: %w", err)
	}
	return t.HandleSchedule(ctx, ev)
}

// HandleAPI serves the start and schedule resources. Errors are turned into
// JSON responses; the returned error is always nil.
func (t *JobTrigger) HandleAPI(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := t.logger().With("resource", req.Resource)
	body, err := requestBody(req)
	if err != nil {
		return respondError(err), nil
	}

	switch req.Resource {
	case t.Kind.StartResource:
		tag, err := stringField(body, "ImageTag", false)
		if err != nil {
			return respondError(err), nil
		}
		res, err := t.Start(ctx, tag, body)
		if err != nil {
			log.Error("Start failed", "err", err)
			return respondError(err), nil
		}
		return respond(http.StatusOK, res), nil

	case t.Kind.ScheduleResource:
		msg, err := t.schedule(ctx, body)
		if err != nil {
			log.Error("Schedule change failed", "err", err)
			return respondError(err), nil
		}
		return respond(http.StatusOK, map[string]string{"Message": msg}), nil
	}
	return respond(http.StatusNotFound, map[string]string{"Message": fmt.Sprintf("unknown resource %q", req.Resource)}), nil
}

// HandleSchedule starts a job with the stored parameters and the latest image.
func (t *JobTrigger) HandleSchedule(ctx context.Context, ev events.CloudWatchEvent) (ScheduleResult, error) {
	rule := ""
	if len(ev.Resources) > 0 {
		if _, name, ok := strings.Cut(ev.Resources[0], "/"); ok {
			rule = name
		}
	}
	t.logger().Info("Schedule tick", "kind", t.Kind.Name, "rule", rule)

	params, err := t.Params.Get(ctx)
	if err != nil {
		return ScheduleResult{}, err
	}
	res, err := t.Start(ctx, "", params)
	if err != nil {
		return ScheduleResult{}, err
	}
	return ScheduleResult{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf("Successfully started %s on schedule with latest image", t.Kind.Noun),
		JobName:    res.JobName,
	}, nil
}

// Start launches a job. An empty tag selects the most recently pushed image.
func (t *JobTrigger) Start(ctx context.Context, tag string, params map[string]any) (StartResult, error) {
	if tag == "" {
		latest, err := LatestImageTag(ctx, t.Images, t.Config.ECRRepositoryName)
		if err != nil {
			return StartResult{}, err
		}
		tag = latest
	}
	info, err := t.startJob(ctx, tag, params)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Message: t.Kind.StartedMessage, ImageTag: tag, JobName: info.Name}, nil
}

func (t *JobTrigger) schedule(ctx context.Context, body map[string]any) (string, error) {
	action, err := stringField(body, "Action", true)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(action) {
	case ActionCreate:
		expr, err := stringField(body, "Cron", true)
		if err != nil {
			return "", err
		}
		c, err := ParseCron(expr)
		if err != nil {
			return "", badRequest(err)
		}
		return t.CreateSchedule(ctx, c, withoutKeys(body, "Cron", "Action"))
	case ActionDelete:
		return t.DeleteSchedule(ctx)
	}
	return "", badRequest(fmt.Errorf("unknown Action %q (want create or delete)", action))
}

// CreateSchedule stores params and points the schedule rule at this function.
func (t *JobTrigger) CreateSchedule(ctx context.Context, c Cron, params map[string]any) (string, error) {
	if err := t.Params.Put(ctx, params); err != nil {
		return "", err
	}
	ruleTags := t.Config.Tags()
	tags := make([]ebtypes.Tag, 0, len(ruleTags))
	for _, k := range sortedKeys(ruleTags) {
		tags = append(tags, ebtypes.Tag{Key: aws.String(k), Value: aws.String(ruleTags[k])})
	}
	_, err := t.Events.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(t.Kind.RuleName),
		ScheduleExpression: aws.String(c.ScheduleExpression()),
		State:              ebtypes.RuleStateEnabled,
		RoleArn:            aws.String(t.Config.EventRoleARN),
		Description:        aws.String("Cron schedule for " + t.Kind.Noun),
		Tags:               tags,
	})
	if err != nil {
		return "", fmt.Errorf("put rule %s: %w", t.Kind.RuleName, err)
	}
	out, err := t.Events.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(t.Kind.RuleName),
		Targets: []ebtypes.Target{{
			Id:  aws.String(t.Kind.TargetID),
			Arn: aws.String(t.Config.SelfARN()),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("put targets on %s: %w", t.Kind.RuleName, err)
	}
	if len(out.FailedEntries) > 0 {
		e := out.FailedEntries[0]
		return "", fmt.Errorf("put target %s: %s: %s", aws.ToString(e.TargetId), aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	t.logger().Info("Schedule created", "rule", t.Kind.RuleName, "cron", c.String())
	return "Successfully created/updated Rule: " + t.Kind.RuleName, nil
}

// DeleteSchedule removes the stored parameters and the schedule rule.
func (t *JobTrigger) DeleteSchedule(ctx context.Context) (string, error) {
	if err := t.Params.Delete(ctx); err != nil {
		return "", err
	}
	_, err := t.Events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
		Rule: aws.String(t.Kind.RuleName),
		Ids:  []string{t.Kind.TargetID},
	})
	if err != nil {
		return "", fmt.Errorf("remove targets from %s: %w", t.Kind.RuleName, err)
	}
	if _, err := t.Events.DeleteRule(ctx, &eventbridge.DeleteRuleInput{Name: aws.String(t.Kind.RuleName)}); err != nil {
		return "", fmt.Errorf("delete rule %s: %w", t.Kind.RuleName, err)
	}
	t.logger().Info("Schedule deleted", "rule", t.Kind.RuleName)
	return "Successfully deleted Rule: " + t.Kind.RuleName, nil
}

func (t *JobTrigger) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func requestBody(req events.APIGatewayProxyRequest) (map[string]any, error) {
	raw := req.Body
	if req.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, badRequest(fmt.Errorf("decode base64 body: %w", err))
		}
		raw = string(b)
	}
	body := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return body, nil
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, badRequest(fmt.Errorf("body must be a JSON object: %w", err))
	}
	return body, nil
}

func stringField(body map[string]any, key string, required bool) (string, error) {
	v, ok := body[key]
	if !ok || v == nil {
		if required {
			return "", badRequest(fmt.Errorf("missing %s", key))
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", badRequest(fmt.Errorf("%s must be a string", key))
	}
	if required && strings.TrimSpace(s) == "" {
		return "", badRequest(errors.New(key + " must not be empty"))
	}
	return s, nil
}

// withoutKeys copies body without the given keys, compared case-insensitively.
func withoutKeys(body map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		drop := false
		for _, key := range keys {
			if strings.EqualFold(k, key) {
				drop = true
				break
			}
		}
		if !drop {
			out[k] = v
		}
	}
	return out
}
