// Package paramstore persists schedule parameters as a JSON object in the
// artifacts bucket.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aast-innovation/mlopsctl/internal/blob"
)

// ErrNotFound is returned by Get when no parameters were stored.
var ErrNotFound = errors.New("schedule parameters not found")

// Params are the request fields a scheduled run replays.
type Params map[string]any

// Store reads and writes one parameters object.
type Store struct {
	objects blob.Store
	key     string
	logger  *slog.Logger
}

// New returns a Store for the object at key.
func New(objects blob.Store, key string, logger *slog.Logger) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("parameter store requires an object store")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("parameter store requires an object key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{objects: objects, key: key, logger: logger}, nil
}

// Key returns the object key the parameters live at.
func (s *Store) Key() string { return s.key }

// Put replaces the stored parameters.
func (s *Store) Put(ctx context.Context, params Params) error {
	if params == nil {
		params = Params{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	if err := s.objects.Put(ctx, s.key, body, "application/json"); err != nil {
		return fmt.Errorf("store parameters at s3://%s/%s: %w", s.objects.Bucket(), s.key, err)
	}
	s.logger.Info("Stored schedule parameters", "bucket", s.objects.Bucket(), "key", s.key, "fields", len(params))
	return nil
}

// Get loads the stored parameters.
func (s *Store) Get(ctx context.Context) (Params, error) {
	body, err := s.objects.Get(ctx, s.key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.objects.Bucket(), s.key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	var params Params
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("decode parameters at %s: %w", s.key, err)
	}
	if params == nil {
		params = Params{}
	}
	return params, nil
}

// Delete removes the stored parameters. Deleting missing parameters is not an error.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.objects.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete parameters at %s: %w", s.key, err)
	}
	s.logger.Info("Deleted schedule parameters", "bucket", s.objects.Bucket(), "key", s.key)
	return nil
}
