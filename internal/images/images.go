// Package images builds and pushes the container images declared in
// platform.yaml and validates image references.
package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/logging"
)

// Reference is a parsed image reference.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// String returns the full reference.
func (r Reference) String() string {
	s := r.Registry + "/" + r.Repository
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest
	}
	return s
}

// IsECR reports whether the registry is an ECR private registry.
func (r Reference) IsECR() bool {
	return strings.Contains(r.Registry, ".dkr.ecr.") && strings.HasSuffix(r.Registry, ".amazonaws.com")
}

// Parse validates ref and splits it into its parts. References without a
// registry resolve to Docker Hub.
func Parse(ref string) (Reference, error) {
	parsed, err := name.ParseReference(strings.TrimSpace(ref))
	if err != nil {
		return Reference{}, fmt.Errorf("parse image reference %q: %w", ref, err)
	}
	out := Reference{
		Registry:   parsed.Context().RegistryStr(),
		Repository: parsed.Context().RepositoryStr(),
	}
	switch r := parsed.(type) {
	case name.Tag:
		out.Tag = r.TagStr()
	case name.Digest:
		out.Digest = r.DigestStr()
	}
	return out, nil
}

// Tagged joins a repository URI and a tag, rejecting malformed input.
func Tagged(repository, tag string) (string, error) {
	ref := strings.TrimSpace(repository) + ":" + strings.TrimSpace(tag)
	if _, err := name.NewTag(ref); err != nil {
		return "", fmt.Errorf("image %s: %w", ref, err)
	}
	return ref, nil
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, stdin string, command string, args ...string) error
}

// execRunner runs commands with os/exec and logs their output.
type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, stdin string, command string, args ...string) error {
	r.logger.Info("running command", "cmd", command, "args", args)
	out := logging.NewWriter(r.logger)
	defer out.Flush()
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd.Run()
}

// AuthAPI issues registry credentials.
type AuthAPI interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

var _ AuthAPI = (*ecr.Client)(nil)

// Builder builds and pushes images with docker.
type Builder struct {
	Logger *slog.Logger
	Runner Runner
	// Auth logs docker into ECR registries before pushing when set.
	Auth AuthAPI
	// Docker is the docker executable, "docker" by default.
	Docker string
}

// NewBuilder returns a Builder that shells out to docker.
func NewBuilder(logger *slog.Logger, auth AuthAPI) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{Logger: logger, Runner: execRunner{logger: logger}, Auth: auth, Docker: "docker"}
}

// Result is a built image.
type Result struct {
	Name   string
	Ref    string
	Pushed bool
}

// BuildAll builds the named images, or every declared image when names is
// empty, in name order. Images are pushed when push is set.
func (b *Builder) BuildAll(ctx context.Context, cfg *config.PlatformConfig, tctx config.TemplateContext, names []string, push bool) ([]Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("platform config is nil")
	}
	if len(names) == 0 {
		for n := range cfg.Images {
			names = append(names, n)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		b.Logger.Info("no images declared in platform.yaml; nothing to build")
		return nil, nil
	}

	loggedIn := map[string]bool{}
	var results []Result
	for _, n := range names {
		img, ok := cfg.Images[n]
		if !ok {
			return results, fmt.Errorf("image %q is not declared in platform.yaml", n)
		}
		ref, args, err := BuildArgs(n, img, tctx)
		if err != nil {
			return results, err
		}

		b.Logger.Info("building image", "name", n, "image", ref)
		if err := b.Runner.Run(ctx, "", b.docker(), args...); err != nil {
			return results, fmt.Errorf("docker build for image %q failed: %w", n, err)
		}
		res := Result{Name: n, Ref: ref}
		if push {
			parsed, err := Parse(ref)
			if err != nil {
				return results, err
			}
			if parsed.IsECR() && b.Auth != nil && !loggedIn[parsed.Registry] {
				if err := b.Login(ctx, parsed.Registry); err != nil {
					return results, err
				}
				loggedIn[parsed.Registry] = true
			}
			if err := b.Runner.Run(ctx, "", b.docker(), "push", ref); err != nil {
				return results, fmt.Errorf("docker push for image %q failed: %w", n, err)
			}
			res.Pushed = true
		}
		results = append(results, res)
	}
	return results, nil
}

// Login authenticates docker against an ECR registry.
func (b *Builder) Login(ctx context.Context, registry string) error {
	if b.Auth == nil {
		return fmt.Errorf("no registry credentials source configured")
	}
	out, err := b.Auth.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return fmt.Errorf("get ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return fmt.Errorf("ECR returned no authorization data")
	}
	user, password, err := decodeToken(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return err
	}
	b.Logger.Info("logging in to registry", "registry", registry)
	if err := b.Runner.Run(ctx, password, b.docker(), "login", "--username", user, "--password-stdin", registry); err != nil {
		return fmt.Errorf("docker login %s failed: %w", registry, err)
	}
	return nil
}

func (b *Builder) docker() string {
	if b.Docker == "" {
		return "docker"
	}
	return b.Docker
}

// decodeToken splits a base64 "user:password" ECR token.
func decodeToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("decode ECR token: %w", err)
	}
	user, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", fmt.Errorf("malformed ECR token")
	}
	return user, password, nil
}

// BuildArgs returns the image reference and docker build arguments for one
// declared image. Dockerfile and context paths are relative to the project root.
func BuildArgs(imageName string, img config.ImageSpec, tctx config.TemplateContext) (string, []string, error) {
	repo := strings.TrimSpace(img.Repository)
	if repo == "" {
		return "", nil, fmt.Errorf("image %q must define repository", imageName)
	}
	tag, err := config.ImageTag(imageName, img, tctx)
	if err != nil {
		return "", nil, err
	}
	ref, err := Tagged(repo, tag)
	if err != nil {
		return "", nil, err
	}

	args := []string{"build", "-t", ref}
	if dockerfile := strings.TrimSpace(img.Dockerfile); dockerfile != "" {
		args = append(args, "-f", projectPath(dockerfile, tctx.ProjectRoot))
	}
	if platform := strings.TrimSpace(img.Platform); platform != "" {
		args = append(args, "--platform", platform)
	}

	keys := make([]string, 0, len(img.BuildArgs))
	for k := range img.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rendered, err := config.RenderTemplate("image-build-arg-"+imageName+"-"+key, []byte(img.BuildArgs[key]), tctx)
		if err != nil {
			return "", nil, fmt.Errorf("render buildArg %q for image %q: %w", key, imageName, err)
		}
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", key, strings.TrimSpace(string(rendered))))
	}

	contextPath := strings.TrimSpace(img.Context)
	if contextPath == "" {
		contextPath = "."
	}
	args = append(args, projectPath(contextPath, tctx.ProjectRoot))
	return ref, args, nil
}

func projectPath(path, root string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}
