// Package ghoutput publishes values as GitHub Actions step outputs.
package ghoutput

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Write appends outputs to the GITHUB_OUTPUT file when available.
func Write(values map[string]string) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}
	return WriteFile(path, values)
}

// WriteFile appends outputs to the file at path.
func WriteFile(path string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return Encode(f, values)
}

// Encode writes values in GITHUB_OUTPUT syntax, sorted by key. Multi-line
// values use the heredoc form with a random delimiter.
func Encode(w io.Writer, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		if !strings.ContainsAny(value, "\r\n") {
			if _, err := fmt.Fprintf(w, "%s=%s\n", key, value); err != nil {
				return err
			}
			continue
		}
		delim := "ghadelimiter_" + uuid.NewString()
		if _, err := fmt.Fprintf(w, "%s<<%s\n%s\n%s\n", key, delim, strings.TrimRight(value, "\r\n"), delim); err != nil {
			return err
		}
	}
	return nil
}

// StackKeys prefixes output names with the stack name so several stacks can
// share one step: ("storage-dev", "GlueDatabaseName") becomes
// "storage_dev_GlueDatabaseName".
func StackKeys(stack string, values map[string]string) map[string]string {
	prefix := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, stack)
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[prefix+"_"+k] = v
	}
	return out
}
