package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"gopkg.in/yaml.v3"

	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/hooks"
	"github.com/aast-innovation/mlopsctl/internal/logging"
	"github.com/aast-innovation/mlopsctl/internal/stacks"
	"github.com/aast-innovation/mlopsctl/internal/workspace"
)

func testPlatform() *config.PlatformConfig {
	cfg := &config.PlatformConfig{
		Project: "mlops",
		Owner:   "aast-innovation",
		Environments: map[string]config.Environment{
			"base": {Region: "us-east-1", AccountID: "123456789012", VpcName: "aast-innovation-vpc"},
			"dev":  {From: "base", StackSuffix: "dev"},
		},
		Images: map[string]config.ImageSpec{
			"etl": {Repository: "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-etl", Tag: "v1"},
		},
		Stacks: []config.StackSpec{
			{Name: "inference", Kind: config.KindInference, DependsOn: []string{"development"}},
			{Name: "storage", Kind: config.KindStorage, DependsOn: []string{"development"}},
			{Name: "development", Kind: config.KindDevelopment},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestResolvePlanOrder(t *testing.T) {
	cfg := testPlatform()
	plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, PlanOptions{})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	want := []string{"development-dev", "inference-dev", "storage-dev"}
	if got := plan.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	if plan.DevelopmentStack != "organization/mlops/development-dev" {
		t.Fatalf("DevelopmentStack = %q", plan.DevelopmentStack)
	}
	if plan.Environment.Region != "us-east-1" {
		t.Fatalf("environment not resolved: %+v", plan.Environment)
	}

	var reversed []string
	for _, s := range plan.Reversed() {
		reversed = append(reversed, s.StackName)
	}
	if want := []string{"storage-dev", "inference-dev", "development-dev"}; !reflect.DeepEqual(reversed, want) {
		t.Fatalf("Reversed = %v, want %v", reversed, want)
	}
}

func TestResolvePlanFilters(t *testing.T) {
	cfg := testPlatform()
	cfg.Stacks[0].When = `{{ ne .Env "dev" }}`

	tests := []struct {
		name string
		opts PlanOptions
		want []string
	}{
		{"when", PlanOptions{}, []string{"development-dev", "storage-dev"}},
		{"only", PlanOptions{Only: map[string]struct{}{"storage": {}}}, []string{"storage-dev"}},
		{"skip", PlanOptions{Skip: map[string]struct{}{"development": {}}}, []string{"storage-dev"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, tc.opts)
			if err != nil {
				t.Fatalf("ResolvePlan: %v", err)
			}
			if got := plan.Names(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("plan = %v, want %v", got, tc.want)
			}
			if plan.DevelopmentStack == "" {
				t.Fatal("development stack must resolve even when filtered out")
			}
		})
	}
}

func TestResolvePlanErrors(t *testing.T) {
	ctx := config.TemplateContext{Env: "dev"}

	cfg := testPlatform()
	cfg.Stacks[1].DependsOn = []string{"network"}
	if _, err := ResolvePlan(cfg, ctx, PlanOptions{}); err == nil || !strings.Contains(err.Error(), "unknown stack") {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}

	cfg = testPlatform()
	cfg.Stacks[2].DependsOn = []string{"storage"}
	if _, err := ResolvePlan(cfg, ctx, PlanOptions{}); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}

	cfg = testPlatform()
	if _, err := ResolvePlan(cfg, config.TemplateContext{Env: "prod"}, PlanOptions{}); err == nil {
		t.Fatal("expected error for undefined environment")
	}
}

func TestRenderPlan(t *testing.T) {
	cfg := testPlatform()
	ctx := config.TemplateContext{Env: "dev"}
	plan, err := ResolvePlan(cfg, ctx, PlanOptions{Only: map[string]struct{}{"storage": {}, "development": {}}})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	out, err := RenderPlan(cfg, ctx, plan)
	if err != nil {
		t.Fatalf("RenderPlan: %v", err)
	}

	var docs []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(out))
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("decode rendered plan: %v", err)
		}
		docs = append(docs, doc)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0]["stack"] != "development-dev" || docs[1]["stack"] != "storage-dev" {
		t.Fatalf("unexpected document order: %v, %v", docs[0]["stack"], docs[1]["stack"])
	}
	images, _ := docs[1]["images"].(map[string]any)
	if images["etl"] != "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-etl:v1" {
		t.Fatalf("etl image = %v", images["etl"])
	}
	settings, _ := docs[1]["settings"].(map[string]any)
	if settings["bucketName"] != config.DefaultStorageBucket {
		t.Fatalf("storage settings not rendered: %v", settings)
	}
	if !strings.Contains(string(out), "\n  bucketName:") {
		t.Fatalf("expected two-space indentation:\n%s", out)
	}
}

type call struct {
	op    string
	stack string
}

type fakeDeployer struct {
	calls   []call
	failOn  string
	outputs map[string]workspace.Outputs
}

func (f *fakeDeployer) record(op, stack string) error {
	f.calls = append(f.calls, call{op, stack})
	if f.failOn == op+":"+stack {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeDeployer) Up(_ context.Context, stack string, _ pulumi.RunFunc) (workspace.Outputs, error) {
	if err := f.record("up", stack); err != nil {
		return nil, err
	}
	return f.outputs[stack], nil
}

func (f *fakeDeployer) Preview(_ context.Context, stack string, _ pulumi.RunFunc) (map[string]int, error) {
	return map[string]int{"create": 1}, f.record("preview", stack)
}

func (f *fakeDeployer) Destroy(_ context.Context, stack string, _ pulumi.RunFunc) error {
	return f.record("destroy", stack)
}

func (f *fakeDeployer) Outputs(_ context.Context, stack string, _ bool) (workspace.Outputs, error) {
	if err := f.record("outputs", stack); err != nil {
		return nil, err
	}
	return f.outputs[stack], nil
}

type hookCall struct {
	steps   []string
	stack   string
	outputs map[string]string
}

type fakeHooks struct {
	calls []hookCall
}

func (f *fakeHooks) RunSteps(_ context.Context, steps []config.HookStep, sc hooks.StepContext) error {
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	f.calls = append(f.calls, hookCall{steps: names, stack: sc.Stack, outputs: sc.Outputs})
	return nil
}

func newTestEngine(cfg *config.PlatformConfig, d Deployer, h HookRunner, built *[]stacks.Args) *Engine {
	programs := func(kind string, args stacks.Args) (pulumi.RunFunc, error) {
		*built = append(*built, args)
		return stacks.Program(kind, args)
	}
	logger := logging.NewJSONLogger(io.Discard, logging.LevelInfo)
	return NewEngine(cfg, config.TemplateContext{Env: "dev"}, d, h, logger, WithPrograms(programs))
}

func TestEngineUp(t *testing.T) {
	cfg := testPlatform()
	cfg.Hooks = config.HookSet{
		BeforeAll: []config.HookStep{{Name: "before-all"}},
		AfterAll:  []config.HookStep{{Name: "after-all"}},
	}
	cfg.Stacks[1].Hooks.AfterApply = []config.HookStep{{Name: "storage-after"}}
	cfg.Stacks[2].Hooks.BeforeApply = []config.HookStep{{Name: "development-before"}}

	plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, PlanOptions{})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}

	d := &fakeDeployer{outputs: map[string]workspace.Outputs{
		"storage-dev": {stacks.OutStorageBucketName: "mlops-storage-bucket"},
	}}
	h := &fakeHooks{}
	var built []stacks.Args
	results, err := newTestEngine(cfg, d, h, &built).Up(context.Background(), plan)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}

	wantCalls := []call{{"up", "development-dev"}, {"up", "inference-dev"}, {"up", "storage-dev"}}
	if !reflect.DeepEqual(d.calls, wantCalls) {
		t.Fatalf("deployer calls = %v, want %v", d.calls, wantCalls)
	}
	if results["storage-dev"].String(stacks.OutStorageBucketName) != "mlops-storage-bucket" {
		t.Fatalf("outputs not returned: %v", results)
	}

	var hookOrder []string
	for _, c := range h.calls {
		hookOrder = append(hookOrder, strings.Join(c.steps, ","))
	}
	if want := []string{"before-all", "development-before", "storage-after", "after-all"}; !reflect.DeepEqual(hookOrder, want) {
		t.Fatalf("hooks = %v, want %v", hookOrder, want)
	}
	if after := h.calls[2]; after.stack != "storage-dev" || after.outputs[stacks.OutStorageBucketName] != "mlops-storage-bucket" {
		t.Fatalf("after-apply hook context = %+v", after)
	}

	if len(built) != 3 {
		t.Fatalf("built %d programs, want 3", len(built))
	}
	for _, args := range built {
		if args.DevelopmentStack != "organization/mlops/development-dev" {
			t.Fatalf("DevelopmentStack = %q", args.DevelopmentStack)
		}
	}
	if got := built[2].Images["etl"]; got != "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-etl:v1" {
		t.Fatalf("storage etl image = %q", got)
	}
	if got := built[0].Images["mlflow"]; got != "mlflow" {
		t.Fatalf("undeclared images pass through as literal references, got %q", got)
	}
}

func TestEngineUpStopsOnFailure(t *testing.T) {
	cfg := testPlatform()
	cfg.Hooks.AfterAll = []config.HookStep{{Name: "after-all"}}
	plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, PlanOptions{})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	d := &fakeDeployer{failOn: "up:inference-dev"}
	h := &fakeHooks{}
	var built []stacks.Args
	if _, err := newTestEngine(cfg, d, h, &built).Up(context.Background(), plan); err == nil {
		t.Fatal("expected error")
	}
	if len(d.calls) != 2 {
		t.Fatalf("deployment continued after failure: %v", d.calls)
	}
	if len(h.calls) != 0 {
		t.Fatalf("after-all hooks ran after failure: %v", h.calls)
	}
}

func TestEngineDestroyReverses(t *testing.T) {
	cfg := testPlatform()
	cfg.Stacks[2].Hooks.AfterDestroy = []config.HookStep{{Name: "development-gone"}}
	plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, PlanOptions{})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	d := &fakeDeployer{}
	h := &fakeHooks{}
	var built []stacks.Args
	if err := newTestEngine(cfg, d, h, &built).Destroy(context.Background(), plan); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	want := []call{{"destroy", "storage-dev"}, {"destroy", "inference-dev"}, {"destroy", "development-dev"}}
	if !reflect.DeepEqual(d.calls, want) {
		t.Fatalf("deployer calls = %v, want %v", d.calls, want)
	}
	if len(h.calls) != 1 || h.calls[0].stack != "development-dev" {
		t.Fatalf("hooks = %+v", h.calls)
	}
}

func TestEnginePreviewAndOutputs(t *testing.T) {
	cfg := testPlatform()
	plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, PlanOptions{Only: map[string]struct{}{"storage": {}}})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	d := &fakeDeployer{outputs: map[string]workspace.Outputs{"storage-dev": {"GlueDatabaseName": "mlops-glue-database"}}}
	var built []stacks.Args
	eng := newTestEngine(cfg, d, &fakeHooks{}, &built)

	changes, err := eng.Preview(context.Background(), plan)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if changes["storage-dev"]["create"] != 1 {
		t.Fatalf("changes = %v", changes)
	}

	outs, err := eng.Outputs(context.Background(), plan, false)
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	if outs["storage-dev"].String("GlueDatabaseName") != "mlops-glue-database" {
		t.Fatalf("outputs = %v", outs)
	}
	if len(built) != 1 {
		t.Fatalf("outputs must not build programs, built %d", len(built))
	}
}

func TestEngineProgramErrors(t *testing.T) {
	cfg := testPlatform()
	cfg.Environments["base"] = config.Environment{Region: "us-east-1", AccountID: "123456789012"}
	plan, err := ResolvePlan(cfg, config.TemplateContext{Env: "dev"}, PlanOptions{})
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	d := &fakeDeployer{}
	var built []stacks.Args
	if _, err := newTestEngine(cfg, d, &fakeHooks{}, &built).Preview(context.Background(), plan); err == nil || !strings.Contains(err.Error(), "vpcName") {
		t.Fatalf("expected vpcName validation error, got %v", err)
	}
	if len(d.calls) != 0 {
		t.Fatalf("deployer called with invalid program: %v", d.calls)
	}
}
