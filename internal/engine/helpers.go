package engine

import (
	"fmt"
	"strings"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

// orderStacks sorts stacks so that every stack follows its dependencies.
// Independent stacks keep their declaration order.
func orderStacks(specs []config.StackSpec) ([]config.StackSpec, error) {
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.Name] = i
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("stack %q depends on unknown stack %q", s.Name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(specs))
	out := make([]config.StackSpec, 0, len(specs))
	for len(out) < len(specs) {
		progressed := false
		for _, s := range specs {
			if placed[s.Name] || !depsPlaced(s, placed) {
				continue
			}
			placed[s.Name] = true
			out = append(out, s)
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle between stacks: %s", strings.Join(unplaced(specs, placed), ", "))
		}
	}
	return out, nil
}

func depsPlaced(s config.StackSpec, placed map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

func unplaced(specs []config.StackSpec, placed map[string]bool) []string {
	var names []string
	for _, s := range specs {
		if !placed[s.Name] {
			names = append(names, s.Name)
		}
	}
	return names
}
