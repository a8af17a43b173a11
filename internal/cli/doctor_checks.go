package cli

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/aast-innovation/mlopsctl/internal/config"
)

func checkTools(logger *slog.Logger, cfg *config.PlatformConfig, envName string) error {
	if logger == nil {
		logger = slog.Default()
	}

	required := []string{"pulumi", "bash"}
	if cfg != nil && len(cfg.Images) > 0 {
		required = append(required, "docker")
	}

	optional := []string{"aws"}

	missing := make([]string, 0, len(required))
	for _, tool := range required {
		if _, err := exec.LookPath(tool); err != nil {
			logger.Error("doctor check failed: missing required tool", "tool", tool, "env", envName, "error", err)
			missing = append(missing, tool)
			continue
		}
		logger.Info("doctor check ok", "tool", tool, "env", envName)
	}

	for _, tool := range optional {
		if _, err := exec.LookPath(tool); err != nil {
			logger.Warn("optional tool not found; hooks calling it will fail", "tool", tool, "env", envName)
			continue
		}
		logger.Info("doctor check ok", "tool", tool, "env", envName)
	}

	if len(missing) > 0 {
		return fmt.Errorf("required tools missing from PATH: %s", strings.Join(missing, ", "))
	}

	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
