package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultOperationTimeout = "60m"

// resolveOperationTimeout chooses the effective timeout of a stack operation:
// an explicit --timeout wins over MLOPSCTL_TIMEOUT, which wins over the default.
func resolveOperationTimeout(explicit string, explicitSet bool) (time.Duration, error) {
	raw := defaultOperationTimeout
	var fromEnv stackEnv
	if err := parseEnv(&fromEnv); err != nil {
		return 0, err
	}
	if v := strings.TrimSpace(fromEnv.Timeout); v != "" {
		raw = v
	}
	if explicitSet {
		if v := strings.TrimSpace(explicit); v != "" {
			raw = v
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", raw)
	}
	return d, nil
}

func addTimeoutFlag(cmd *cobra.Command) {
	cmd.Flags().String("timeout", defaultOperationTimeout, "Upper bound for the whole operation")
}

// operationContext derives a context bounded by the --timeout flag.
func operationContext(cmd *cobra.Command) (context.Context, context.CancelFunc, error) {
	flag := cmd.Flag("timeout")
	timeout, err := resolveOperationTimeout(flag.Value.String(), flag.Changed)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return ctx, cancel, nil
}
