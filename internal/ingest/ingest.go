// Package ingest uploads CSV files into the landing zone of the storage
// bucket, where new objects start the ETL pipeline.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aast-innovation/mlopsctl/internal/blob"
	"github.com/aast-innovation/mlopsctl/internal/etl"
)

const csvContentType = "text/csv"

// LandingKey returns raw/<ingest>/csv/<file> for a local file name.
func LandingKey(ingest, fileName string) (string, error) {
	if err := etl.CheckIngest(ingest); err != nil {
		return "", err
	}
	key := path.Join(string(etl.StageRaw), ingest, "csv", filepath.Base(fileName))
	if _, err := etl.ParseLandingKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Uploader copies local CSV files into the landing zone.
type Uploader struct {
	Store  blob.Store
	Logger *slog.Logger
}

// NewUploader returns an Uploader writing to store.
func NewUploader(store blob.Store, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{Store: store, Logger: logger}
}

// Upload puts the file at localPath under the landing prefix of ingest and
// returns the object key.
func (u *Uploader) Upload(ctx context.Context, localPath, ingest string) (string, error) {
	key, err := LandingKey(ingest, localPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("%s is empty", localPath)
	}
	if err := u.Store.Put(ctx, key, data, csvContentType); err != nil {
		return "", err
	}
	u.Logger.Info("uploaded landing file", "file", localPath, "bucket", u.Store.Bucket(), "key", key, "bytes", len(data))
	return key, nil
}
