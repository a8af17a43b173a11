package env

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseInlineVars(t *testing.T) {
	t.Run("parses pairs and trims spaces", func(t *testing.T) {
		got, err := ParseInlineVars(" A=1, B = two ,,C=")
		if err != nil {
			t.Fatal(err)
		}
		if got["A"] != "1" || got["B"] != "two" || got["C"] != "" || len(got) != 3 {
			t.Errorf("unexpected vars: %v", got)
		}
	})

	for _, bad := range []string{"A", "=1"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			if _, err := ParseInlineVars(bad); err == nil {
				t.Errorf("ParseInlineVars(%q) should fail", bad)
			}
		})
	}
}

func TestMergeLaterWins(t *testing.T) {
	got := Merge(Vars{"A": "1", "B": "1"}, nil, Vars{"B": "2"})
	if got["A"] != "1" || got["B"] != "2" {
		t.Errorf("unexpected merge result: %v", got)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.env", "REGION=us-east-1\nOWNER=ops\n")
	writeFile(t, dir, "local.env", "# local override\nOWNER=\"data team\"\n")

	got, err := LoadEnvFiles(dir, []string{"base.env", "", "local.env"})
	if err != nil {
		t.Fatal(err)
	}
	if got["REGION"] != "us-east-1" || got["OWNER"] != "data team" {
		t.Errorf("unexpected vars: %v", got)
	}

	if _, err := LoadEnvFiles(dir, []string{"missing.env"}); err == nil {
		t.Error("missing env file should fail")
	}
}

func TestLoadVarFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, dir, "vars.yaml", "imageTag: v3\nreplicas: 2\nempty:\n")
		got, err := LoadVarFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if got["imageTag"] != "v3" || got["replicas"] != "2" || got["empty"] != "" {
			t.Errorf("unexpected vars: %v", got)
		}
	})

	t.Run("yaml rejects nested values", func(t *testing.T) {
		path := writeFile(t, dir, "nested.yml", "a:\n  b: c\n")
		if _, err := LoadVarFile(path); err == nil {
			t.Error("nested yaml should fail")
		}
	})

	t.Run("dotenv", func(t *testing.T) {
		path := writeFile(t, dir, "vars.env", "IMAGE_TAG=v4\n")
		got, err := LoadVarFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if got["IMAGE_TAG"] != "v4" {
			t.Errorf("unexpected vars: %v", got)
		}
	})
}

func TestDecode(t *testing.T) {
	type settings struct {
		Bucket  string `env:"BUCKET,required"`
		Retries int    `env:"RETRIES" envDefault:"3"`
	}

	got, err := Decode[settings](Vars{"BUCKET": "data"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Bucket != "data" || got.Retries != 3 {
		t.Errorf("unexpected settings: %+v", got)
	}

	if _, err := Decode[settings](Vars{}); err == nil {
		t.Error("missing required variable should fail")
	}
}
