// Package engine contains the high-level orchestration logic for stack operations.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"gopkg.in/yaml.v3"

	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/hooks"
	"github.com/aast-innovation/mlopsctl/internal/stacks"
	"github.com/aast-innovation/mlopsctl/internal/workspace"
)

// Deployer runs Pulumi operations for a single stack.
type Deployer interface {
	Up(ctx context.Context, stack string, program pulumi.RunFunc) (workspace.Outputs, error)
	Preview(ctx context.Context, stack string, program pulumi.RunFunc) (map[string]int, error)
	Destroy(ctx context.Context, stack string, program pulumi.RunFunc) error
	Outputs(ctx context.Context, stack string, showSecrets bool) (workspace.Outputs, error)
}

// HookRunner executes hook steps.
type HookRunner interface {
	RunSteps(ctx context.Context, steps []config.HookStep, sc hooks.StepContext) error
}

// ProgramFunc builds the Pulumi program of a stack kind.
type ProgramFunc func(kind string, args stacks.Args) (pulumi.RunFunc, error)

// PlanOptions filters the stacks of a plan by name.
type PlanOptions struct {
	Only map[string]struct{}
	Skip map[string]struct{}
}

// Step is one stack of a plan.
type Step struct {
	// Spec is the stack declaration from platform.yaml.
	Spec config.StackSpec
	// StackName is the Pulumi stack name in the selected environment.
	StackName string
	// QualifiedName is <org>/<project>/<StackName>.
	QualifiedName string
}

// Plan is the ordered list of stacks an operation touches.
type Plan struct {
	Env         string
	Environment config.Environment
	Steps       []Step
	// DevelopmentStack is the qualified name of the development stack, even
	// when the plan does not include it.
	DevelopmentStack string
}

// Reversed returns the steps in destroy order.
func (p *Plan) Reversed() []Step {
	out := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		out[len(p.Steps)-1-i] = s
	}
	return out
}

// Names returns the Pulumi stack names of the plan in order.
func (p *Plan) Names() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.StackName)
	}
	return out
}

// ResolvePlan orders the declared stacks by dependsOn and applies the name
// filters and when expressions. Unknown dependencies and cycles are errors
// even for stacks that end up filtered out.
func ResolvePlan(cfg *config.PlatformConfig, ctx config.TemplateContext, opts PlanOptions) (*Plan, error) {
	if cfg == nil {
		return nil, fmt.Errorf("platform config is nil")
	}
	envCfg, err := config.ResolveEnvironment(cfg, ctx.Env)
	if err != nil {
		return nil, err
	}
	ordered, err := orderStacks(cfg.Stacks)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Env: ctx.Env, Environment: envCfg}
	if dev, ok := cfg.StackByKind(config.KindDevelopment); ok {
		plan.DevelopmentStack = cfg.QualifiedStackName(config.PulumiStackName(dev, ctx.Env, envCfg))
	}

	for _, spec := range ordered {
		if !resourceIncluded(spec.Name, opts.Only, opts.Skip) {
			continue
		}
		stackName := config.PulumiStackName(spec, ctx.Env, envCfg)
		whenCtx := ctx
		whenCtx.Stack = stackName
		ok, err := hooks.Enabled(spec.When, whenCtx)
		if err != nil {
			return nil, fmt.Errorf("evaluate when for stack %q: %w", spec.Name, err)
		}
		if !ok {
			continue
		}
		plan.Steps = append(plan.Steps, Step{
			Spec:          spec,
			StackName:     stackName,
			QualifiedName: cfg.QualifiedStackName(stackName),
		})
	}
	return plan, nil
}

// planDocument is the rendered form of a plan step.
type planDocument struct {
	Stack         string            `yaml:"stack"`
	QualifiedName string            `yaml:"qualifiedName"`
	Name          string            `yaml:"name"`
	Kind          string            `yaml:"kind"`
	Environment   string            `yaml:"environment"`
	Region        string            `yaml:"region"`
	AccountID     string            `yaml:"accountId"`
	VpcName       string            `yaml:"vpcName"`
	DependsOn     []string          `yaml:"dependsOn,omitempty"`
	Images        map[string]string `yaml:"images,omitempty"`
	Settings      any               `yaml:"settings"`
}

// RenderPlan renders the plan as a multi-document YAML stream, one document
// per stack, with the settings its program will receive.
func RenderPlan(cfg *config.PlatformConfig, ctx config.TemplateContext, plan *Plan) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, step := range plan.Steps {
		images, err := resolveImages(cfg, ctx, step.Spec.Kind)
		if err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("render stack %q: %w", step.Spec.Name, err)
		}
		doc := planDocument{
			Stack:         step.StackName,
			QualifiedName: step.QualifiedName,
			Name:          step.Spec.Name,
			Kind:          step.Spec.Kind,
			Environment:   plan.Env,
			Region:        plan.Environment.Region,
			AccountID:     plan.Environment.AccountID,
			VpcName:       plan.Environment.VpcName,
			DependsOn:     step.Spec.DependsOn,
			Images:        images,
			Settings:      kindSettings(cfg, step.Spec.Kind),
		}
		if err := enc.Encode(doc); err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("encode plan: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize plan stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Engine runs plans against a Deployer.
type Engine struct {
	cfg      *config.PlatformConfig
	tctx     config.TemplateContext
	deployer Deployer
	hooks    HookRunner
	programs ProgramFunc
	logger   *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPrograms replaces the program builder, stacks.Program by default.
func WithPrograms(fn ProgramFunc) Option {
	return func(e *Engine) { e.programs = fn }
}

// NewEngine constructs an Engine for the loaded platform configuration.
func NewEngine(cfg *config.PlatformConfig, tctx config.TemplateContext, deployer Deployer, hookRunner HookRunner, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		tctx:     tctx,
		deployer: deployer,
		hooks:    hookRunner,
		programs: stacks.Program,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Up deploys the plan in order and returns the outputs of every stack.
func (e *Engine) Up(ctx context.Context, plan *Plan) (map[string]workspace.Outputs, error) {
	if err := e.runHooks(ctx, e.cfg.Hooks.BeforeAll, "", nil); err != nil {
		return nil, err
	}
	results := make(map[string]workspace.Outputs, len(plan.Steps))
	for _, step := range plan.Steps {
		program, err := e.program(plan, step)
		if err != nil {
			return results, err
		}
		if err := e.runHooks(ctx, step.Spec.Hooks.BeforeApply, step.StackName, nil); err != nil {
			return results, err
		}
		e.logger.Info("deploying stack", "stack", step.StackName, "kind", step.Spec.Kind)
		out, err := e.deployer.Up(ctx, step.StackName, program)
		if err != nil {
			return results, err
		}
		results[step.StackName] = out
		if err := e.runHooks(ctx, step.Spec.Hooks.AfterApply, step.StackName, out); err != nil {
			return results, err
		}
	}
	if err := e.runHooks(ctx, e.cfg.Hooks.AfterAll, "", nil); err != nil {
		return results, err
	}
	return results, nil
}

// Preview reports the pending changes of every stack. Hooks do not run.
func (e *Engine) Preview(ctx context.Context, plan *Plan) (map[string]map[string]int, error) {
	results := make(map[string]map[string]int, len(plan.Steps))
	for _, step := range plan.Steps {
		program, err := e.program(plan, step)
		if err != nil {
			return results, err
		}
		changes, err := e.deployer.Preview(ctx, step.StackName, program)
		if err != nil {
			return results, err
		}
		e.logger.Info("previewed stack", "stack", step.StackName, "changes", workspace.FormatChanges(changes))
		results[step.StackName] = changes
	}
	return results, nil
}

// Destroy removes the plan's stacks in reverse order.
func (e *Engine) Destroy(ctx context.Context, plan *Plan) error {
	if err := e.runHooks(ctx, e.cfg.Hooks.BeforeAll, "", nil); err != nil {
		return err
	}
	for _, step := range plan.Reversed() {
		program, err := e.program(plan, step)
		if err != nil {
			return err
		}
		if err := e.runHooks(ctx, step.Spec.Hooks.BeforeDestroy, step.StackName, nil); err != nil {
			return err
		}
		e.logger.Info("destroying stack", "stack", step.StackName, "kind", step.Spec.Kind)
		if err := e.deployer.Destroy(ctx, step.StackName, program); err != nil {
			return err
		}
		if err := e.runHooks(ctx, step.Spec.Hooks.AfterDestroy, step.StackName, nil); err != nil {
			return err
		}
	}
	return e.runHooks(ctx, e.cfg.Hooks.AfterAll, "", nil)
}

// Outputs reads the current outputs of every stack in the plan.
func (e *Engine) Outputs(ctx context.Context, plan *Plan, showSecrets bool) (map[string]workspace.Outputs, error) {
	results := make(map[string]workspace.Outputs, len(plan.Steps))
	for _, step := range plan.Steps {
		out, err := e.deployer.Outputs(ctx, step.StackName, showSecrets)
		if err != nil {
			return results, err
		}
		results[step.StackName] = out
	}
	return results, nil
}

func (e *Engine) program(plan *Plan, step Step) (pulumi.RunFunc, error) {
	images, err := resolveImages(e.cfg, e.tctx, step.Spec.Kind)
	if err != nil {
		return nil, fmt.Errorf("stack %s: %w", step.StackName, err)
	}
	return e.programs(step.Spec.Kind, stacks.Args{
		Platform:         e.cfg,
		Env:              plan.Environment,
		Images:           images,
		DevelopmentStack: plan.DevelopmentStack,
	})
}

func (e *Engine) runHooks(ctx context.Context, steps []config.HookStep, stack string, outputs workspace.Outputs) error {
	if len(steps) == 0 || e.hooks == nil {
		return nil
	}
	sc := hooks.StepContext{Template: e.tctx, Stack: stack}
	if len(outputs) > 0 {
		sc.Outputs = make(map[string]string, len(outputs))
		for _, k := range outputs.Keys() {
			sc.Outputs[k] = outputs.String(k)
		}
	}
	return e.hooks.RunSteps(ctx, steps, sc)
}

// resolveImages maps the image settings a stack kind uses to full references.
func resolveImages(cfg *config.PlatformConfig, ctx config.TemplateContext, kind string) (map[string]string, error) {
	var settings []string
	switch kind {
	case config.KindStorage:
		settings = []string{cfg.Storage.ETLImage}
	case config.KindDevelopment:
		settings = []string{cfg.Development.MLflow.Image}
	case config.KindInference:
		settings = []string{cfg.Inference.Grafana.Image}
	}
	out := make(map[string]string, len(settings))
	for _, s := range settings {
		ref, err := cfg.ImageRef(s, ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve image %q: %w", s, err)
		}
		out[s] = ref
	}
	return out, nil
}

// kindSettings returns the settings block a stack kind is built from.
func kindSettings(cfg *config.PlatformConfig, kind string) any {
	switch kind {
	case config.KindStorage:
		return cfg.Storage
	case config.KindDevelopment:
		return cfg.Development
	case config.KindInference:
		return cfg.Inference
	}
	return nil
}

func resourceIncluded(name string, only, skip map[string]struct{}) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if len(only) > 0 {
		if _, ok := only[key]; !ok {
			return false
		}
	}
	if _, ok := skip[key]; ok {
		return false
	}
	return true
}
