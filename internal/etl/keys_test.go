package etl

import "testing"

func TestParseLandingKey(t *testing.T) {
	for _, tc := range []struct {
		key     string
		ingest  string
		file    string
		wantErr bool
	}{
		{key: "raw/total/csv/train_FD001.csv", ingest: "total", file: "train_FD001.csv"},
		{key: "raw/partitioned/csv/2024/03/batch_7.CSV", ingest: "partitioned", file: "batch_7.CSV"},
		{key: "raw/total/parquet/train.csv", wantErr: true},
		{key: "curated/total/csv/train.csv", wantErr: true},
		{key: "raw//csv/x.csv", wantErr: true},
		{key: "raw/streaming/csv/batch_1.csv", wantErr: true},
		{key: "raw/total/csv/readme.txt", wantErr: true},
		{key: "raw/total/csv", wantErr: true},
	} {
		t.Run(tc.key, func(t *testing.T) {
			got, err := ParseLandingKey(tc.key)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Ingest != tc.ingest || got.FileName != tc.file || got.Key != tc.key {
				t.Errorf("unexpected landing %+v", got)
			}
		})
	}
}

func TestTargetFor(t *testing.T) {
	for _, tc := range []struct {
		name  string
		key   string
		stage Stage
		want  Target
	}{
		{
			name:  "raw train",
			key:   "raw/total/csv/train_FD001.csv",
			stage: StageRaw,
			want: Target{
				Stage: StageRaw, Ingest: "total", Dataset: DatasetTrain, Mode: ModeOverwrite,
				Prefix:  "raw/total/parquet/train",
				Table:   "mlops-raw-train-data",
				FileKey: "raw/total/parquet/files/train/train_FD001.parquet",
			},
		},
		{
			name:  "raw test",
			key:   "raw/total/csv/test_FD001.csv",
			stage: StageRaw,
			want: Target{
				Stage: StageRaw, Ingest: "total", Dataset: DatasetTest, Mode: ModeOverwrite,
				Prefix:  "raw/total/parquet/test",
				Table:   "mlops-raw-test-data",
				FileKey: "raw/total/parquet/files/test/test_FD001.parquet",
			},
		},
		{
			name:  "curated inference",
			key:   "raw/partitioned/csv/batch_7.csv",
			stage: StageCurated,
			want: Target{
				Stage: StageCurated, Ingest: "partitioned", Dataset: DatasetInference, Mode: ModeAppend,
				Prefix:  "curated/partitioned/parquet/inference",
				Table:   "mlops-curated-inference-data",
				FileKey: "curated/partitioned/parquet/files/inference/batch_7.parquet",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := ParseLandingKey(tc.key)
			if err != nil {
				t.Fatal(err)
			}
			if got := TargetFor(tc.stage, l); got != tc.want {
				t.Errorf("TargetFor() = %+v\nwant %+v", got, tc.want)
			}
		})
	}
}

func TestConvertAndTransformAgreeOnRawFile(t *testing.T) {
	l, err := ParseLandingKey("raw/total/csv/test_FD002.csv")
	if err != nil {
		t.Fatal(err)
	}
	raw := TargetFor(StageRaw, l)
	if raw.FileKey != FileKey(StageRaw, l.Ingest, l.Dataset(), l.Name()) {
		t.Errorf("raw file key %q does not match the transform source", raw.FileKey)
	}
}
