package etl

import (
	"fmt"
	"path"
	"strings"
)

// Ingest types. Total ingests replace the train or test dataset, partitioned
// ingests append to the inference dataset.
const (
	IngestTotal       = "total"
	IngestPartitioned = "partitioned"
)

// Stage is the lake zone a dataset lives in.
type Stage string

// Lake zones.
const (
	StageRaw     Stage = "raw"
	StageCurated Stage = "curated"
)

// Dataset names the logical table inside a stage.
type Dataset string

// Datasets produced by the pipeline.
const (
	DatasetTrain     Dataset = "train"
	DatasetTest      Dataset = "test"
	DatasetInference Dataset = "inference"
)

// WriteMode controls what happens to existing dataset objects.
type WriteMode string

// Write modes.
const (
	ModeOverwrite WriteMode = "overwrite"
	ModeAppend    WriteMode = "append"
)

// Landing describes a CSV that arrived under raw/<ingest>/csv/.
type Landing struct {
	// Key is the bucket-relative object key.
	Key string
	// Ingest is the path segment after raw/.
	Ingest string
	// FileName is the base name of the object, including .csv.
	FileName string
}

// ParseLandingKey validates a landing key of the form
// raw/<ingest>/csv/.../<name>.csv, where ingest is total or partitioned.
func ParseLandingKey(key string) (Landing, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 || parts[0] != string(StageRaw) || parts[1] == "" || parts[2] != "csv" {
		return Landing{}, fmt.Errorf("key %q is not under raw/<ingest>/csv/", key)
	}
	if err := CheckIngest(parts[1]); err != nil {
		return Landing{}, fmt.Errorf("key %q: %w", key, err)
	}
	name := path.Base(key)
	if !strings.EqualFold(path.Ext(name), ".csv") {
		return Landing{}, fmt.Errorf("key %q is not a .csv object", key)
	}
	return Landing{Key: key, Ingest: parts[1], FileName: name}, nil
}

// CheckIngest rejects ingest types other than total and partitioned.
func CheckIngest(ingest string) error {
	switch ingest {
	case IngestTotal, IngestPartitioned:
		return nil
	}
	return fmt.Errorf("unknown ingest type %q (want %s or %s)", ingest, IngestTotal, IngestPartitioned)
}

// Name is the file name without its extension.
func (l Landing) Name() string {
	return strings.TrimSuffix(l.FileName, path.Ext(l.FileName))
}

// Dataset classifies the landing file. Partitioned ingests feed inference;
// total ingests hold either the test split (file name contains "test") or
// the training split.
func (l Landing) Dataset() Dataset {
	if l.Ingest == IngestPartitioned {
		return DatasetInference
	}
	if strings.Contains(l.FileName, "test") {
		return DatasetTest
	}
	return DatasetTrain
}

// Mode is append for partitioned ingests and overwrite for total ones.
func (l Landing) Mode() WriteMode {
	if l.Ingest == IngestPartitioned {
		return ModeAppend
	}
	return ModeOverwrite
}

// Target is where a job writes one dataset.
type Target struct {
	Stage   Stage
	Ingest  string
	Dataset Dataset
	Mode    WriteMode
	// Prefix is the dataset directory, without trailing slash.
	Prefix string
	// Table is the catalog table name.
	Table string
	// FileKey is the single-file copy of this run's output.
	FileKey string
}

// TargetFor derives the dataset target of landing in stage.
func TargetFor(stage Stage, l Landing) Target {
	ds := l.Dataset()
	return Target{
		Stage:   stage,
		Ingest:  l.Ingest,
		Dataset: ds,
		Mode:    l.Mode(),
		Prefix:  DatasetPrefix(stage, l.Ingest, ds),
		Table:   TableName(stage, ds),
		FileKey: FileKey(stage, l.Ingest, ds, l.Name()),
	}
}

// DatasetPrefix is <stage>/<ingest>/parquet/<dataset>.
func DatasetPrefix(stage Stage, ingest string, ds Dataset) string {
	return fmt.Sprintf("%s/%s/parquet/%s", stage, ingest, ds)
}

// FileKey is <stage>/<ingest>/parquet/files/<dataset>/<name>.parquet. Single
// files live outside the dataset prefix so catalog scans never count them twice.
func FileKey(stage Stage, ingest string, ds Dataset, name string) string {
	return fmt.Sprintf("%s/%s/parquet/files/%s/%s.parquet", stage, ingest, ds, name)
}

// TableName is mlops-<stage>-<dataset>-data.
func TableName(stage Stage, ds Dataset) string {
	return fmt.Sprintf("mlops-%s-%s-data", stage, ds)
}
