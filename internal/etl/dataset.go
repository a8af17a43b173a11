package etl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"

	"github.com/aast-innovation/mlopsctl/internal/blob"
)

const parquetContentType = "application/vnd.apache.parquet"

// DatasetWriter writes frames as parquet datasets and registers them.
type DatasetWriter struct {
	Store    blob.Store
	Catalog  Catalog
	Database string
	Logger   *slog.Logger
	// NewPartID names part files; uuid.NewString when nil.
	NewPartID func() string
}

// WriteResult lists the objects a write produced.
type WriteResult struct {
	PartKey string
	FileKey string
	Rows    int
}

// Write stores df under target. Overwrite removes the dataset's existing
// objects first; append only adds a part, encoded with the column types the
// catalog already holds for the table. The same bytes are also stored at the
// target's single-file key.
func (w *DatasetWriter) Write(ctx context.Context, target Target, df dataframe.DataFrame, schema Schema) (WriteResult, error) {
	if target.Mode == ModeAppend && w.Catalog != nil {
		existing, err := w.Catalog.Columns(ctx, w.Database, target.Table)
		if err != nil {
			return WriteResult{}, err
		}
		if len(existing) > 0 {
			schema = existing.Align(schema)
			if df, err = Cast(df, schema); err != nil {
				return WriteResult{}, fmt.Errorf("append to %s: %w", target.Table, err)
			}
		}
	}

	body, err := EncodeParquet(df, schema)
	if err != nil {
		return WriteResult{}, fmt.Errorf("encode %s: %w", target.Table, err)
	}

	prefix := target.Prefix + "/"
	if target.Mode == ModeOverwrite {
		old, err := w.Store.List(ctx, prefix)
		if err != nil {
			return WriteResult{}, fmt.Errorf("list %s: %w", prefix, err)
		}
		if len(old) > 0 {
			if err := w.Store.Delete(ctx, old...); err != nil {
				return WriteResult{}, fmt.Errorf("clear %s: %w", prefix, err)
			}
			w.logger().Info("Cleared dataset", "prefix", prefix, "objects", len(old))
		}
	}

	res := WriteResult{
		PartKey: prefix + w.partID() + ".parquet",
		FileKey: target.FileKey,
		Rows:    df.Nrow(),
	}
	for _, key := range []string{res.PartKey, res.FileKey} {
		if err := w.Store.Put(ctx, key, body, parquetContentType); err != nil {
			return WriteResult{}, fmt.Errorf("put %s: %w", key, err)
		}
	}

	if w.Catalog != nil {
		err := w.Catalog.EnsureTable(ctx, TableSpec{
			Database: w.Database,
			Name:     target.Table,
			Location: fmt.Sprintf("s3://%s/%s", w.Store.Bucket(), prefix),
			Columns:  schema,
			Mode:     target.Mode,
		})
		if err != nil {
			return WriteResult{}, err
		}
	}
	w.logger().Info("Wrote dataset", "table", target.Table, "part", res.PartKey, "file", res.FileKey, "rows", res.Rows, "mode", string(target.Mode))
	return res, nil
}

func (w *DatasetWriter) partID() string {
	if w.NewPartID != nil {
		return w.NewPartID()
	}
	return uuid.NewString()
}

func (w *DatasetWriter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
