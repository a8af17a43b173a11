// Package hooks runs the shell hook steps declared in platform.yaml around
// stack operations.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/logging"
)

// StepContext carries the data hook templates and commands are rendered with.
type StepContext struct {
	// Template is the platform template context.
	Template config.TemplateContext
	// Stack is the Pulumi stack the hook runs for; empty for global hooks.
	Stack string
	// Outputs are the outputs of Stack after an apply, if any.
	Outputs map[string]string
}

// Executor runs hook steps with bash.
type Executor struct {
	logger *slog.Logger
	shell  string
	dir    string
}

// NewExecutor constructs an Executor that runs steps from dir.
func NewExecutor(logger *slog.Logger, dir string) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, shell: "bash", dir: dir}
}

// RunSteps executes steps in order. A failing step stops the sequence unless
// it sets continueOnError.
func (e *Executor) RunSteps(ctx context.Context, steps []config.HookStep, sc StepContext) error {
	tctx := sc.Template
	if sc.Stack != "" {
		tctx.Stack = sc.Stack
	}
	for i, step := range steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		log := e.logger.With("hook", name)
		if sc.Stack != "" {
			log = log.With("stack", sc.Stack)
		}

		enabled, err := Enabled(step.When, tctx)
		if err != nil {
			return fmt.Errorf("hook %q: evaluate when: %w", name, err)
		}
		if !enabled {
			log.Debug("hook skipped")
			continue
		}

		if err := e.runStep(ctx, name, step, tctx, sc, log); err != nil {
			if step.ContinueOnError {
				log.Warn("hook failed, continuing", "err", err)
				continue
			}
			return err
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, name string, step config.HookStep, tctx config.TemplateContext, sc StepContext, log *slog.Logger) error {
	rendered, err := config.RenderTemplate("hook-"+name, []byte(step.Run), tctx)
	if err != nil {
		return fmt.Errorf("hook %q: %w", name, err)
	}
	script := strings.TrimSpace(string(rendered))
	if script == "" {
		return nil
	}

	if step.Timeout != "" {
		d, err := time.ParseDuration(step.Timeout)
		if err != nil {
			return fmt.Errorf("hook %q: invalid timeout %q: %w", name, step.Timeout, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out := logging.NewWriterWithMessage(log, "hook output")
	defer out.Flush()

	cmd := exec.CommandContext(ctx, e.shell, "-c", script)
	cmd.Dir = e.dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = commandEnv(tctx, sc)
	cmd.WaitDelay = time.Second

	log.Info("running hook")
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("hook %q timed out after %s", name, step.Timeout)
		}
		return fmt.Errorf("hook %q failed: %w", name, err)
	}
	log.Info("hook finished", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// commandEnv is the process environment plus rendered platform variables.
func commandEnv(tctx config.TemplateContext, sc StepContext) []string {
	env := os.Environ()
	for k, v := range tctx.EnvMap {
		env = append(env, k+"="+v)
	}
	env = append(env, "MLOPS_ENV="+tctx.Env, "MLOPS_PROJECT="+tctx.Project)
	if sc.Stack != "" {
		env = append(env, "MLOPS_STACK="+sc.Stack)
	}
	for k, v := range sc.Outputs {
		env = append(env, "MLOPS_OUTPUT_"+outputEnvName(k)+"="+v)
	}
	return env
}

// outputEnvName upper-cases an output name and replaces non-alphanumerics.
func outputEnvName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// Enabled renders a when expression. Empty output is true; "false", "0" and
// "no" are false.
func Enabled(expr string, ctx config.TemplateContext) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	rendered, err := config.RenderTemplate("when", []byte(expr), ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(string(rendered))) {
	case "false", "0", "no":
		return false, nil
	}
	return true, nil
}
