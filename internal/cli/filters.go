package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

// parseNameSet splits a comma-separated list into a normalized set.
func parseNameSet(raw string) map[string]struct{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		out[name] = struct{}{}
	}
	return out
}

// checkStackNames rejects filter entries that match no declared stack.
func checkStackNames(cfg *config.PlatformConfig, sets ...map[string]struct{}) error {
	declared := make(map[string]struct{}, len(cfg.Stacks))
	for _, s := range cfg.Stacks {
		declared[strings.ToLower(strings.TrimSpace(s.Name))] = struct{}{}
	}
	var unknown []string
	for _, set := range sets {
		for name := range set {
			if _, ok := declared[name]; !ok {
				unknown = append(unknown, name)
			}
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown stack(s) in filter: %s", strings.Join(unknown, ", "))
}
