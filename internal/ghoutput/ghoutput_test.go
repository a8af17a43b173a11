package ghoutput

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	var b strings.Builder
	err := Encode(&b, map[string]string{
		"StorageBucketName": "mlops-storage-bucket",
		"APIid":             "abc123",
		" ":                 "skipped",
		"Definition":        "line one\nline two\n",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	re := regexp.MustCompile(`^APIid=abc123\nDefinition<<(ghadelimiter_[0-9a-f-]+)\nline one\nline two\n(ghadelimiter_[0-9a-f-]+)\nStorageBucketName=mlops-storage-bucket\n$`)
	m := re.FindStringSubmatch(b.String())
	if m == nil {
		t.Fatalf("unexpected output:\n%s", b.String())
	}
	if m[1] != m[2] {
		t.Fatalf("heredoc delimiters differ: %q vs %q", m[1], m[2])
	}
}

func TestWriteAppendsToGitHubOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	if err := os.WriteFile(path, []byte("existing=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GITHUB_OUTPUT", path)

	if err := Write(map[string]string{"GrafanaUrl": "http://grafana.aast-innovation.iolap.com"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "existing=1\nGrafanaUrl=http://grafana.aast-innovation.iolap.com\n"; string(got) != want {
		t.Fatalf("file = %q, want %q", got, want)
	}
}

func TestWriteWithoutGitHubOutput(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "")
	if err := Write(map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Write without GITHUB_OUTPUT: %v", err)
	}
}

func TestStackKeys(t *testing.T) {
	got := StackKeys("storage-dev", map[string]string{"GlueDatabaseName": "mlops-glue-database"})
	if got["storage_dev_GlueDatabaseName"] != "mlops-glue-database" || len(got) != 1 {
		t.Fatalf("StackKeys = %v", got)
	}
}
