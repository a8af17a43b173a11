package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aast-innovation/mlopsctl/internal/blob"
)

// DefaultPollInterval is how often Transform checks for the converted file.
const DefaultPollInterval = 30 * time.Second

// JobInput is the execution input of the ETL state machine. The jobs read it
// from their container environment.
type JobInput struct {
	Bucket       string `json:"bucket" env:"ETL_BUCKET,required"`
	Key          string `json:"key" env:"ETL_KEY,required"`
	FileName     string `json:"file_name" env:"ETL_FILE_NAME"`
	IngestType   string `json:"ingest_type" env:"ETL_INGEST_TYPE"`
	DatabaseName string `json:"database_name" env:"ETL_DATABASE_NAME,required"`
}

// Landing validates the input against its object key.
func (in JobInput) Landing() (Landing, error) {
	l, err := ParseLandingKey(in.Key)
	if err != nil {
		return Landing{}, err
	}
	if in.IngestType != "" && in.IngestType != l.Ingest {
		return Landing{}, fmt.Errorf("ingest type %q does not match key %q", in.IngestType, in.Key)
	}
	if in.FileName != "" && in.FileName != l.FileName {
		return Landing{}, fmt.Errorf("file name %q does not match key %q", in.FileName, in.Key)
	}
	return l, nil
}

// Jobs runs the convert and transform steps against one bucket.
type Jobs struct {
	Store   blob.Store
	Catalog Catalog
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	NewPartID    func() string
}

// Convert turns a landing CSV into the raw parquet dataset.
func (j *Jobs) Convert(ctx context.Context, in JobInput) (WriteResult, error) {
	l, err := j.prepare(in)
	if err != nil {
		return WriteResult{}, err
	}
	log := j.logger().With("job", "convert", "key", l.Key)
	log.Info("Reading landing file")

	data, err := j.Store.Get(ctx, l.Key)
	if err != nil {
		return WriteResult{}, fmt.Errorf("get %s: %w", l.Key, err)
	}
	df, err := ReadSensorCSV(data)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", l.Key, err)
	}
	if l.Dataset() == DatasetTest {
		df = renameColumn(df, ColRUL, "sensor_22")
	}

	return j.writer(in, log).Write(ctx, TargetFor(StageRaw, l), df, InferSchema(df))
}

// Transform waits for the converted file of the landing key, derives the
// curated columns and writes the curated dataset.
func (j *Jobs) Transform(ctx context.Context, in JobInput) (WriteResult, error) {
	l, err := j.prepare(in)
	if err != nil {
		return WriteResult{}, err
	}
	log := j.logger().With("job", "transform", "key", l.Key)

	src := TargetFor(StageRaw, l).FileKey
	if err := j.waitFor(ctx, src, log); err != nil {
		return WriteResult{}, err
	}
	data, err := j.Store.Get(ctx, src)
	if err != nil {
		return WriteResult{}, fmt.Errorf("get %s: %w", src, err)
	}
	df, _, err := DecodeParquet(data)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", src, err)
	}

	switch l.Dataset() {
	case DatasetInference:
		df, err = AddTimestamp(df, j.now())
	case DatasetTrain:
		df, err = AddRUL(df)
	}
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", src, err)
	}

	schema := CuratedSchema(df)
	if df, err = Cast(df, schema); err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", src, err)
	}
	return j.writer(in, log).Write(ctx, TargetFor(StageCurated, l), df, schema)
}

func (j *Jobs) prepare(in JobInput) (Landing, error) {
	if in.Bucket != j.Store.Bucket() {
		return Landing{}, fmt.Errorf("input bucket %q, job store is bound to %q", in.Bucket, j.Store.Bucket())
	}
	return in.Landing()
}

func (j *Jobs) waitFor(ctx context.Context, key string, log *slog.Logger) error {
	interval := j.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		ok, err := j.Store.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check %s: %w", key, err)
		}
		if ok {
			return nil
		}
		log.Info("Waiting for converted file", "object", key, "interval", interval.String())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (j *Jobs) writer(in JobInput, log *slog.Logger) *DatasetWriter {
	return &DatasetWriter{
		Store:     j.Store,
		Catalog:   j.Catalog,
		Database:  in.DatabaseName,
		Logger:    log,
		NewPartID: j.NewPartID,
	}
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *Jobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
