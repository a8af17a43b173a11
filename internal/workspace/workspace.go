// Package workspace drives Pulumi stacks through the Automation API with
// inline programs, one Pulumi stack per platform stack.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optrefresh"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/pulumi/pulumi/sdk/v3/go/common/tokens"
	"github.com/pulumi/pulumi/sdk/v3/go/common/workspace"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/aast-innovation/mlopsctl/internal/logging"
)

// secretMask replaces secret output values unless secrets are requested.
const secretMask = "[secret]"

// Settings select the Pulumi project, backend and AWS target.
type Settings struct {
	Project         string
	Org             string
	BackendURL      string
	SecretsProvider string
	Region          string
	Profile         string
}

// Outputs are plain stack outputs.
type Outputs map[string]any

// Keys returns output names in sorted order.
func (o Outputs) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the output as text; non-string values are formatted with %v.
func (o Outputs) String(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Workspace wraps Automation API calls for a project.
type Workspace struct {
	settings Settings
	logger   *slog.Logger
}

// New validates settings and returns a Workspace.
func New(settings Settings, logger *slog.Logger) (*Workspace, error) {
	if strings.TrimSpace(settings.Project) == "" {
		return nil, fmt.Errorf("pulumi project is empty")
	}
	if strings.TrimSpace(settings.Org) == "" {
		settings.Org = "organization"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{settings: settings, logger: logger}, nil
}

// QualifiedName returns <org>/<project>/<stack>.
func (w *Workspace) QualifiedName(stack string) string {
	return fmt.Sprintf("%s/%s/%s", w.settings.Org, w.settings.Project, stack)
}

// Up deploys the stack and returns its outputs.
func (w *Workspace) Up(ctx context.Context, stack string, program pulumi.RunFunc) (Outputs, error) {
	s, err := w.upsert(ctx, stack, program)
	if err != nil {
		return nil, err
	}
	progress := w.progress(stack, "up")
	defer progress.Flush()

	res, err := s.Up(ctx, optup.ProgressStreams(progress))
	if err != nil {
		return nil, fmt.Errorf("pulumi up %s: %w", stack, err)
	}
	w.logger.Info("stack updated", "stack", stack, "result", res.Summary.Result)
	return plainOutputs(res.Outputs, false), nil
}

// Preview computes the changes Up would make.
func (w *Workspace) Preview(ctx context.Context, stack string, program pulumi.RunFunc) (map[string]int, error) {
	s, err := w.upsert(ctx, stack, program)
	if err != nil {
		return nil, err
	}
	progress := w.progress(stack, "preview")
	defer progress.Flush()

	res, err := s.Preview(ctx, optpreview.ProgressStreams(progress))
	if err != nil {
		return nil, fmt.Errorf("pulumi preview %s: %w", stack, err)
	}
	return changeCounts(res.ChangeSummary), nil
}

// Destroy deletes every resource of the stack.
func (w *Workspace) Destroy(ctx context.Context, stack string, program pulumi.RunFunc) error {
	s, err := w.upsert(ctx, stack, program)
	if err != nil {
		return err
	}
	progress := w.progress(stack, "destroy")
	defer progress.Flush()

	if _, err := s.Destroy(ctx, optdestroy.ProgressStreams(progress)); err != nil {
		return fmt.Errorf("pulumi destroy %s: %w", stack, err)
	}
	w.logger.Info("stack destroyed", "stack", stack)
	return nil
}

// Refresh reconciles the stack state with the cloud.
func (w *Workspace) Refresh(ctx context.Context, stack string, program pulumi.RunFunc) error {
	s, err := w.upsert(ctx, stack, program)
	if err != nil {
		return err
	}
	progress := w.progress(stack, "refresh")
	defer progress.Flush()

	if _, err := s.Refresh(ctx, optrefresh.ProgressStreams(progress)); err != nil {
		return fmt.Errorf("pulumi refresh %s: %w", stack, err)
	}
	return nil
}

// Outputs reads the current outputs of an existing stack.
func (w *Workspace) Outputs(ctx context.Context, stack string, showSecrets bool) (Outputs, error) {
	noop := func(*pulumi.Context) error { return nil }
	s, err := auto.SelectStackInlineSource(ctx, w.QualifiedName(stack), w.settings.Project, noop, w.options()...)
	if err != nil {
		return nil, fmt.Errorf("select stack %s: %w", stack, err)
	}
	out, err := s.Outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read outputs of %s: %w", stack, err)
	}
	return plainOutputs(out, showSecrets), nil
}

func (w *Workspace) upsert(ctx context.Context, stack string, program pulumi.RunFunc) (auto.Stack, error) {
	s, err := auto.UpsertStackInlineSource(ctx, w.QualifiedName(stack), w.settings.Project, program, w.options()...)
	if err != nil {
		return auto.Stack{}, fmt.Errorf("prepare stack %s: %w", stack, err)
	}

	cfg := auto.ConfigMap{}
	if w.settings.Region != "" {
		cfg["aws:region"] = auto.ConfigValue{Value: w.settings.Region}
	}
	if w.settings.Profile != "" {
		cfg["aws:profile"] = auto.ConfigValue{Value: w.settings.Profile}
	}
	if len(cfg) > 0 {
		if err := s.SetAllConfig(ctx, cfg); err != nil {
			return auto.Stack{}, fmt.Errorf("configure stack %s: %w", stack, err)
		}
	}
	return s, nil
}

func (w *Workspace) options() []auto.LocalWorkspaceOption {
	project := workspace.Project{
		Name:    tokens.PackageName(w.settings.Project),
		Runtime: workspace.NewProjectRuntimeInfo("go", nil),
	}
	if w.settings.BackendURL != "" {
		project.Backend = &workspace.ProjectBackend{URL: w.settings.BackendURL}
	}

	opts := []auto.LocalWorkspaceOption{auto.Project(project)}
	if w.settings.SecretsProvider != "" {
		opts = append(opts, auto.SecretsProvider(w.settings.SecretsProvider))
	}
	env := map[string]string{}
	if w.settings.Region != "" {
		env["AWS_REGION"] = w.settings.Region
	}
	if w.settings.Profile != "" {
		env["AWS_PROFILE"] = w.settings.Profile
	}
	if len(env) > 0 {
		opts = append(opts, auto.EnvVars(env))
	}
	return opts
}

func (w *Workspace) progress(stack, op string) *logging.Writer {
	return logging.NewWriterWithMessage(w.logger.With("stack", stack, "op", op), "pulumi")
}

// plainOutputs unwraps output values, masking secrets unless showSecrets is set.
func plainOutputs(in auto.OutputMap, showSecrets bool) Outputs {
	out := make(Outputs, len(in))
	for k, v := range in {
		if v.Secret && !showSecrets {
			out[k] = secretMask
			continue
		}
		out[k] = v.Value
	}
	return out
}

// changeCounts converts a preview change summary to operation name counts.
func changeCounts(summary map[apitype.OpType]int) map[string]int {
	out := make(map[string]int, len(summary))
	for op, n := range summary {
		out[string(op)] = n
	}
	return out
}

// FormatChanges renders change counts as "create=2 same=10", sorted by operation.
func FormatChanges(changes map[string]int) string {
	ops := make([]string, 0, len(changes))
	for op := range changes {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, fmt.Sprintf("%s=%d", op, changes[op]))
	}
	return strings.Join(parts, " ")
}
