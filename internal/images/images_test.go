package images

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/aast-innovation/mlopsctl/internal/config"
	"github.com/aast-innovation/mlopsctl/internal/logging"
)

const ecrRepo = "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-etl"

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		want  Reference
		isECR bool
	}{
		{
			in:    ecrRepo + ":v1",
			want:  Reference{Registry: "123456789012.dkr.ecr.us-east-1.amazonaws.com", Repository: "mlops-etl", Tag: "v1"},
			isECR: true,
		},
		{
			in:   "grafana/grafana:10.4.2",
			want: Reference{Registry: "index.docker.io", Repository: "grafana/grafana", Tag: "10.4.2"},
		},
		{
			in:   "ghcr.io/mlflow/mlflow",
			want: Reference{Registry: "ghcr.io", Repository: "mlflow/mlflow", Tag: "latest"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Parse = %+v, want %+v", got, tc.want)
			}
			if got.IsECR() != tc.isECR {
				t.Fatalf("IsECR = %v", got.IsECR())
			}
		})
	}
	if _, err := Parse("UPPER/Case:tag"); err == nil {
		t.Fatal("expected error for upper-case repository")
	}
}

func TestTagged(t *testing.T) {
	got, err := Tagged(ecrRepo, "24-03-01")
	if err != nil {
		t.Fatalf("Tagged: %v", err)
	}
	if got != ecrRepo+":24-03-01" {
		t.Fatalf("Tagged = %q", got)
	}
	if _, err := Tagged(ecrRepo, "bad tag!"); err == nil {
		t.Fatal("expected error for invalid tag")
	}
}

func TestBuildArgs(t *testing.T) {
	img := config.ImageSpec{
		Repository:  ecrRepo,
		TagTemplate: `{{ .Now.Format "20060102" }}`,
		Dockerfile:  "build/etl.Dockerfile",
		Context:     ".",
		Platform:    "linux/amd64",
		BuildArgs:   map[string]string{"VERSION": "{{ .Env }}", "GO_VERSION": "1.25"},
	}
	tctx := config.TemplateContext{Env: "dev", ProjectRoot: "/src", Now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

	ref, args, err := BuildArgs("etl", img, tctx)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if ref != ecrRepo+":20240301" {
		t.Fatalf("ref = %q", ref)
	}
	want := []string{
		"build", "-t", ref,
		"-f", "/src/build/etl.Dockerfile",
		"--platform", "linux/amd64",
		"--build-arg", "GO_VERSION=1.25",
		"--build-arg", "VERSION=dev",
		"/src",
	}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v\nwant %v", args, want)
	}

	if _, _, err := BuildArgs("etl", config.ImageSpec{}, tctx); err == nil {
		t.Fatal("expected error without repository")
	}
}

type recordedRun struct {
	stdin string
	args  string
}

type fakeRunner struct {
	runs   []recordedRun
	failOn string
}

func (f *fakeRunner) Run(_ context.Context, stdin string, _ string, args ...string) error {
	f.runs = append(f.runs, recordedRun{stdin: stdin, args: strings.Join(args, " ")})
	if f.failOn != "" && len(args) > 0 && args[0] == f.failOn {
		return errors.New("exit status 1")
	}
	return nil
}

type fakeAuth struct {
	calls int
}

func (f *fakeAuth) GetAuthorizationToken(context.Context, *ecr.GetAuthorizationTokenInput, ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	f.calls++
	token := base64.StdEncoding.EncodeToString([]byte("AWS:s3cret"))
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{AuthorizationToken: aws.String(token)}},
	}, nil
}

func testBuilder(runner *fakeRunner, auth AuthAPI) *Builder {
	b := NewBuilder(logging.NewJSONLogger(io.Discard, logging.LevelInfo), auth)
	b.Runner = runner
	return b
}

func TestBuildAllPushesWithLogin(t *testing.T) {
	cfg := &config.PlatformConfig{Images: map[string]config.ImageSpec{
		"mlflow": {Repository: "123456789012.dkr.ecr.us-east-1.amazonaws.com/mlops-mlflow", Tag: "2.12"},
		"etl":    {Repository: ecrRepo, Tag: "v1"},
	}}
	runner := &fakeRunner{}
	auth := &fakeAuth{}

	results, err := testBuilder(runner, auth).BuildAll(context.Background(), cfg, config.TemplateContext{}, nil, true)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(results) != 2 || results[0].Name != "etl" || !results[1].Pushed {
		t.Fatalf("results = %+v", results)
	}
	if auth.calls != 1 {
		t.Fatalf("logged in %d times, want once per registry", auth.calls)
	}

	var cmds []string
	for _, r := range runner.runs {
		cmds = append(cmds, strings.Fields(r.args)[0])
	}
	if want := []string{"build", "login", "push", "build", "push"}; !reflect.DeepEqual(cmds, want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}
	login := runner.runs[1]
	if login.stdin != "s3cret" || !strings.Contains(login.args, "--username AWS --password-stdin 123456789012.dkr.ecr.us-east-1.amazonaws.com") {
		t.Fatalf("login = %+v", login)
	}
}

func TestBuildAllErrors(t *testing.T) {
	cfg := &config.PlatformConfig{Images: map[string]config.ImageSpec{"etl": {Repository: ecrRepo, Tag: "v1"}}}

	if _, err := testBuilder(&fakeRunner{}, nil).BuildAll(context.Background(), cfg, config.TemplateContext{}, []string{"grafana"}, false); err == nil {
		t.Fatal("expected error for undeclared image")
	}

	runner := &fakeRunner{failOn: "build"}
	if _, err := testBuilder(runner, nil).BuildAll(context.Background(), cfg, config.TemplateContext{}, nil, true); err == nil {
		t.Fatal("expected build failure")
	}
	if len(runner.runs) != 1 {
		t.Fatalf("push attempted after failed build: %+v", runner.runs)
	}

	runner = &fakeRunner{}
	results, err := testBuilder(runner, nil).BuildAll(context.Background(), cfg, config.TemplateContext{}, nil, false)
	if err != nil || len(results) != 1 || results[0].Pushed {
		t.Fatalf("build without push: %+v, %v", results, err)
	}
}

func TestDecodeToken(t *testing.T) {
	if _, _, err := decodeToken("not base64!"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, _, err := decodeToken(base64.StdEncoding.EncodeToString([]byte("nocolon"))); err == nil {
		t.Fatal("expected malformed token error")
	}
}
