// Package awsutil loads the AWS SDK configuration shared by the CLI and the handlers.
package awsutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Options select the credentials profile and region. Empty fields fall back
// to the SDK default chain (environment, shared config, instance role).
type Options struct {
	Region  string
	Profile string
}

// Load resolves an aws.Config for opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if r := strings.TrimSpace(opts.Region); r != "" {
		loadOpts = append(loadOpts, config.WithRegion(r))
	}
	if p := strings.TrimSpace(opts.Profile); p != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(p))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("aws region is not configured")
	}
	return cfg, nil
}
