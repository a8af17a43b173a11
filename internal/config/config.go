// Package config contains the loader and strongly typed model for platform.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aast-innovation/mlopsctl/internal/env"
)

// Stack kinds understood by the engine.
const (
	KindStorage     = "storage"
	KindDevelopment = "development"
	KindInference   = "inference"
)

// ErrCycle is returned when environments inherit from each other in a loop.
var ErrCycle = errors.New("environment inheritance cycle")

// PlatformConfig is the high-level description of the platform.
// It mirrors the structure of platform.yaml after template rendering.
type PlatformConfig struct {
	// Project is the value of the Project tag and the default name prefix.
	Project string `yaml:"project"`
	// Owner is the value of the Owner tag.
	Owner string `yaml:"owner,omitempty"`
	// EnvFiles lists .env files to load before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Versions provides named version strings available in templates.
	Versions map[string]string `yaml:"versions,omitempty"`
	// Pulumi configures the Automation API workspace.
	Pulumi PulumiConfig `yaml:"pulumi,omitempty"`
	// Environments contains account/region settings per environment.
	Environments map[string]Environment `yaml:"environments,omitempty"`
	// Images contains container image definitions keyed by name.
	Images map[string]ImageSpec `yaml:"images,omitempty"`
	// Lambdas points at the zipped bootstrap binaries of the trigger handlers.
	Lambdas LambdaArtifacts `yaml:"lambdas,omitempty"`
	// Storage configures the storage stack.
	Storage StorageSettings `yaml:"storage,omitempty"`
	// Development configures the model-development stack.
	Development DevelopmentSettings `yaml:"development,omitempty"`
	// Inference configures the inference stack.
	Inference InferenceSettings `yaml:"inference,omitempty"`
	// Stacks lists the Pulumi stacks making up the platform.
	Stacks []StackSpec `yaml:"stacks,omitempty"`
	// Hooks defines global hook steps around stack operations.
	Hooks HookSet `yaml:"hooks,omitempty"`
}

// PulumiConfig describes where stack state lives.
type PulumiConfig struct {
	// Project is the Pulumi project name.
	Project string `yaml:"project,omitempty"`
	// Org is the organization segment of fully-qualified stack names.
	Org string `yaml:"org,omitempty"`
	// BackendURL selects the state backend (e.g. s3://bucket, file://~).
	BackendURL string `yaml:"backendURL,omitempty"`
	// SecretsProvider is passed to new stacks (e.g. awskms://alias/pulumi).
	SecretsProvider string `yaml:"secretsProvider,omitempty"`
}

// Environment describes an AWS account/region target.
type Environment struct {
	// From references another environment to inherit from.
	From string `yaml:"from,omitempty"`
	// Region is the AWS region.
	Region string `yaml:"region,omitempty"`
	// AccountID is the AWS account id.
	AccountID string `yaml:"accountId,omitempty"`
	// Profile is an optional shared-config profile.
	Profile string `yaml:"profile,omitempty"`
	// VpcName is the Name tag of the existing VPC to deploy into.
	VpcName string `yaml:"vpcName,omitempty"`
	// StackSuffix is appended to stack names; defaults to the environment name.
	StackSuffix string `yaml:"stackSuffix,omitempty"`
	// Tags are extra tags applied to every resource.
	Tags map[string]string `yaml:"tags,omitempty"`
}

// ImageSpec describes a container image built by "images build".
type ImageSpec struct {
	// Repository is the image repository without tag.
	Repository string `yaml:"repository,omitempty"`
	// Tag is an explicit tag.
	Tag string `yaml:"tag,omitempty"`
	// TagTemplate is a Go-template computing the tag when Tag is empty.
	TagTemplate string `yaml:"tagTemplate,omitempty"`
	// Dockerfile is a path relative to the project root.
	Dockerfile string `yaml:"dockerfile,omitempty"`
	// Context is the build context relative to the project root.
	Context string `yaml:"context,omitempty"`
	// Platform is passed to docker build --platform.
	Platform string `yaml:"platform,omitempty"`
	// BuildArgs defines docker build arguments (key -> value template).
	BuildArgs map[string]string `yaml:"buildArgs,omitempty"`
}

// LambdaArtifacts lists zip archives holding a "bootstrap" executable.
type LambdaArtifacts struct {
	ETLTrigger       string `yaml:"etlTrigger,omitempty"`
	TrainingTrigger  string `yaml:"trainingTrigger,omitempty"`
	InferenceTrigger string `yaml:"inferenceTrigger,omitempty"`
}

// StorageSettings configures the data lake, catalog and ETL pipeline.
type StorageSettings struct {
	BucketName       string           `yaml:"bucketName,omitempty"`
	GlueDatabase     string           `yaml:"glueDatabase,omitempty"`
	StateMachineName string           `yaml:"stateMachineName,omitempty"`
	LandingPrefixes  []string         `yaml:"landingPrefixes,omitempty"`
	ETLImage         string           `yaml:"etlImage,omitempty"`
	ConvertJob       JobSettings      `yaml:"convertJob,omitempty"`
	TransformJob     JobSettings      `yaml:"transformJob,omitempty"`
	Trigger          FunctionSettings `yaml:"trigger,omitempty"`
}

// JobSettings sizes one ETL container task.
type JobSettings struct {
	Name     string `yaml:"name,omitempty"`
	LogGroup string `yaml:"logGroup,omitempty"`
	CPU      int    `yaml:"cpu,omitempty"`
	Memory   int    `yaml:"memory,omitempty"`
}

// FunctionSettings sizes a trigger Lambda.
type FunctionSettings struct {
	Name           string `yaml:"name,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	MemoryMB       int    `yaml:"memoryMB,omitempty"`
}

// ServiceSettings describes a load-balanced Fargate service.
type ServiceSettings struct {
	Name                string `yaml:"name,omitempty"`
	Image               string `yaml:"image,omitempty"`
	CPU                 int    `yaml:"cpu,omitempty"`
	Memory              int    `yaml:"memory,omitempty"`
	EphemeralStorageGiB int    `yaml:"ephemeralStorageGiB,omitempty"`
	Port                int    `yaml:"port,omitempty"`
	DesiredCount        int    `yaml:"desiredCount,omitempty"`
	DomainName          string `yaml:"domainName,omitempty"`
	HealthCheckPath     string `yaml:"healthCheckPath,omitempty"`
	HealthCheckInterval int    `yaml:"healthCheckInterval,omitempty"`
	HealthCheckTimeout  int    `yaml:"healthCheckTimeout,omitempty"`
	GracePeriodSeconds  int    `yaml:"gracePeriodSeconds,omitempty"`
}

// DatabaseSettings describes an Aurora Serverless v2 cluster.
type DatabaseSettings struct {
	ClusterIdentifier string  `yaml:"clusterIdentifier,omitempty"`
	DatabaseName      string  `yaml:"databaseName,omitempty"`
	Username          string  `yaml:"username,omitempty"`
	EngineVersion     string  `yaml:"engineVersion,omitempty"`
	MinCapacity       float64 `yaml:"minCapacity,omitempty"`
	MaxCapacity       float64 `yaml:"maxCapacity,omitempty"`
}

// DevelopmentSettings configures the model-development stack.
type DevelopmentSettings struct {
	ArtifactsBucket string           `yaml:"artifactsBucket,omitempty"`
	ClusterName     string           `yaml:"clusterName,omitempty"`
	HostedZone      string           `yaml:"hostedZone,omitempty"`
	APIName         string           `yaml:"apiName,omitempty"`
	ECRRepository   string           `yaml:"ecrRepository,omitempty"`
	APIStage        string           `yaml:"apiStage,omitempty"`
	MLflow          ServiceSettings  `yaml:"mlflow,omitempty"`
	MLflowDB        DatabaseSettings `yaml:"mlflowDB,omitempty"`
	Trigger         FunctionSettings `yaml:"trigger,omitempty"`
}

// InferenceSettings configures the inference stack.
type InferenceSettings struct {
	Grafana   ServiceSettings  `yaml:"grafana,omitempty"`
	GrafanaDB DatabaseSettings `yaml:"grafanaDB,omitempty"`
	Trigger   FunctionSettings `yaml:"trigger,omitempty"`
	APIStage  string           `yaml:"apiStage,omitempty"`
}

// StackSpec declares one Pulumi stack of the platform.
type StackSpec struct {
	// Name identifies the stack in filters and dependsOn lists.
	Name string `yaml:"name"`
	// Kind selects the program (storage, development, inference).
	Kind string `yaml:"kind"`
	// DependsOn lists stacks whose outputs this stack reads.
	DependsOn []string `yaml:"dependsOn,omitempty"`
	// When is a template expression that enables this stack.
	When string `yaml:"when,omitempty"`
	// Hooks contains stack-specific hook steps.
	Hooks StackHooks `yaml:"hooks,omitempty"`
}

// HookSet describes global hooks executed around stack operations.
type HookSet struct {
	// BeforeAll runs before any up/destroy operations.
	BeforeAll []HookStep `yaml:"beforeAll,omitempty"`
	// AfterAll runs after all up/destroy operations.
	AfterAll []HookStep `yaml:"afterAll,omitempty"`
}

// StackHooks describes hooks bound to a single stack.
type StackHooks struct {
	BeforeApply   []HookStep `yaml:"beforeApply,omitempty"`
	AfterApply    []HookStep `yaml:"afterApply,omitempty"`
	BeforeDestroy []HookStep `yaml:"beforeDestroy,omitempty"`
	AfterDestroy  []HookStep `yaml:"afterDestroy,omitempty"`
}

// HookStep describes a single shell hook.
type HookStep struct {
	// Name is the identifier used in logs.
	Name string `yaml:"name,omitempty"`
	// Run is a shell command template to execute.
	Run string `yaml:"run,omitempty"`
	// When is a template expression that enables the hook.
	When string `yaml:"when,omitempty"`
	// ContinueOnError skips failures when set.
	ContinueOnError bool `yaml:"continueOnError,omitempty"`
	// Timeout is a duration string for the hook execution.
	Timeout string `yaml:"timeout,omitempty"`
}

// LoadOptions describes parameters that influence template rendering of platform.yaml.
type LoadOptions struct {
	// Env is the target environment name.
	Env string
	// UserVars are inline variables for template rendering.
	UserVars env.Vars
	// VarFiles lists additional var-files to load.
	VarFiles []string
}

// TemplateContext is the data exposed to Go-templates in platform.yaml, image
// tags and hook commands.
type TemplateContext struct {
	// Env is the selected environment name.
	Env string
	// Project is the project identifier.
	Project string
	// ProjectRoot is the directory holding platform.yaml.
	ProjectRoot string
	// Now is the timestamp captured for template rendering.
	Now time.Time
	// UserVars contains inline user variables.
	UserVars env.Vars
	// EnvMap merges OS env, envFiles, var files and user variables.
	EnvMap env.Vars
	// Versions contains version strings from platform.yaml.
	Versions map[string]string
	// Stack is the current stack name while running stack hooks.
	Stack string
}

// rawHeader extracts top-level fields before templating.
type rawHeader struct {
	Project  string            `yaml:"project"`
	EnvFiles []string          `yaml:"envFiles"`
	Versions map[string]string `yaml:"versions"`
}

// LoadAndRender reads platform.yaml, loads envFiles and user vars, and returns
// the rendered YAML together with the template context that was used.
func LoadAndRender(path string, opts LoadOptions) ([]byte, TemplateContext, error) {
	var zeroCtx TemplateContext

	if path == "" {
		return nil, zeroCtx, fmt.Errorf("config path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("resolve config path: %w", err)
	}

	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse top-level config fields: %w", err)
	}

	baseDir := filepath.Dir(absPath)

	envFileVars, err := env.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, zeroCtx, err
	}

	varFileVars := make(env.Vars)
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		vp, err := env.LoadVarFile(vf)
		if err != nil {
			return nil, zeroCtx, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		varFileVars = env.Merge(varFileVars, vp)
	}

	ctx := TemplateContext{
		Env:         opts.Env,
		Project:     header.Project,
		ProjectRoot: baseDir,
		Now:         time.Now().UTC(),
		UserVars:    opts.UserVars,
		EnvMap:      env.Merge(env.FromOS(), envFileVars, varFileVars, opts.UserVars),
		Versions:    header.Versions,
	}

	rendered, err := RenderTemplate("platform.yaml", rawBytes, ctx)
	if err != nil {
		return nil, zeroCtx, err
	}
	return rendered, ctx, nil
}

// LoadPlatformConfig loads, templates, parses and validates platform.yaml.
// Missing settings are filled with the platform defaults.
func LoadPlatformConfig(path string, opts LoadOptions) (*PlatformConfig, TemplateContext, error) {
	rendered, ctx, err := LoadAndRender(path, opts)
	if err != nil {
		return nil, TemplateContext{}, err
	}

	cfg, err := Parse(rendered)
	if err != nil {
		return nil, TemplateContext{}, err
	}
	ctx.Versions = cfg.Versions
	return cfg, ctx, nil
}

// Parse decodes rendered platform.yaml bytes, applies defaults and validates the result.
func Parse(rendered []byte) (*PlatformConfig, error) {
	var cfg PlatformConfig
	dec := yaml.NewDecoder(bytes.NewReader(rendered))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse rendered platform.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints that templates cannot express.
func (c *PlatformConfig) Validate() error {
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("project must be set in platform.yaml")
	}
	seen := make(map[string]struct{}, len(c.Stacks))
	for _, s := range c.Stacks {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("stack without name in platform.yaml")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("stack %q declared twice", name)
		}
		seen[name] = struct{}{}
		switch s.Kind {
		case KindStorage, KindDevelopment, KindInference:
		default:
			return fmt.Errorf("stack %q has unknown kind %q", name, s.Kind)
		}
	}
	return nil
}

// StackByName returns the stack declaration with the given name.
func (c *PlatformConfig) StackByName(name string) (StackSpec, bool) {
	for _, s := range c.Stacks {
		if s.Name == name {
			return s, true
		}
	}
	return StackSpec{}, false
}

// StackByKind returns the first stack declaration of the given kind.
func (c *PlatformConfig) StackByKind(kind string) (StackSpec, bool) {
	for _, s := range c.Stacks {
		if s.Kind == kind {
			return s, true
		}
	}
	return StackSpec{}, false
}

// PulumiStackName is the Pulumi stack name of spec in the given environment.
func PulumiStackName(spec StackSpec, envName string, envCfg Environment) string {
	suffix := strings.TrimSpace(envCfg.StackSuffix)
	if suffix == "" {
		suffix = envName
	}
	if suffix == "" {
		return spec.Name
	}
	return spec.Name + "-" + suffix
}

// QualifiedStackName prefixes a stack name with org and project, as used by
// stack references.
func (c *PlatformConfig) QualifiedStackName(stack string) string {
	return fmt.Sprintf("%s/%s/%s", c.Pulumi.Org, c.Pulumi.Project, stack)
}

// RenderTemplate renders arbitrary text using the template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the template functions available in platform.yaml and hooks.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default":    funcDef,
		"toLower":    strings.ToLower,
		"slug":       funcSlug,
		"envOr":      funcEnvOr(ctx.EnvMap),
		"ternary":    funcTernary,
		"now":        func() time.Time { return ctx.Now },
		"join":       funcJoin,
		"trimPrefix": funcTrimPrefix,
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	return v
}

// funcEnvOr returns a function that looks up a key in envMap and falls back to def.
func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

func funcTernary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

func funcJoin(values []string, sep string) string {
	return strings.Join(values, sep)
}

func funcTrimPrefix(value, prefix string) string {
	return strings.TrimPrefix(value, prefix)
}

// ResolveEnvironment returns the effective environment configuration for the
// given name, following optional "from" links and applying overrides.
func ResolveEnvironment(cfg *PlatformConfig, name string) (Environment, error) {
	if cfg == nil {
		return Environment{}, fmt.Errorf("platform config is nil")
	}

	visited := make(map[string]struct{})
	var resolve func(current string) (Environment, error)

	resolve = func(current string) (Environment, error) {
		if _, seen := visited[current]; seen {
			return Environment{}, fmt.Errorf("%w at %q", ErrCycle, current)
		}
		visited[current] = struct{}{}

		envCfg, ok := cfg.Environments[current]
		if !ok {
			return Environment{}, fmt.Errorf("environment %q not defined in platform.yaml", current)
		}

		if envCfg.From == "" {
			return envCfg, nil
		}

		base, err := resolve(envCfg.From)
		if err != nil {
			return Environment{}, err
		}

		merged := base
		merged.From = ""
		if envCfg.Region != "" {
			merged.Region = envCfg.Region
		}
		if envCfg.AccountID != "" {
			merged.AccountID = envCfg.AccountID
		}
		if envCfg.Profile != "" {
			merged.Profile = envCfg.Profile
		}
		if envCfg.VpcName != "" {
			merged.VpcName = envCfg.VpcName
		}
		if envCfg.StackSuffix != "" {
			merged.StackSuffix = envCfg.StackSuffix
		}
		if len(envCfg.Tags) > 0 {
			tags := make(map[string]string, len(base.Tags)+len(envCfg.Tags))
			for k, v := range base.Tags {
				tags[k] = v
			}
			for k, v := range envCfg.Tags {
				tags[k] = v
			}
			merged.Tags = tags
		}
		return merged, nil
	}

	return resolve(name)
}
