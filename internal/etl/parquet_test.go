package etl

import (
	"math"
	"reflect"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

func TestParquetKeepsTypesAndNulls(t *testing.T) {
	df := dataframe.New(
		series.New([]interface{}{1, 2, nil}, series.Int, "unit"),
		series.New([]interface{}{int(1_700_000_000_000), nil, int(1_700_000_360_000)}, series.Int, "timestamp"),
		series.New([]interface{}{0.5, nil, -1.25}, series.Float, "sensor_1"),
		series.New([]string{"a", "b", "c"}, series.String, "note"),
		series.New([]int{7, 8, 9}, series.Int, "count"),
	)
	schema := Schema{
		{Name: "unit", Type: TypeInt},
		{Name: "timestamp", Type: TypeTimestamp},
		{Name: "sensor_1", Type: TypeDouble},
		{Name: "note", Type: TypeString},
		{Name: "count", Type: TypeBigint},
	}

	body, err := EncodeParquet(df, schema)
	if err != nil {
		t.Fatal(err)
	}
	if string(body[:4]) != "PAR1" {
		t.Fatalf("missing parquet magic: %q", body[:4])
	}

	got, gotSchema, err := DecodeParquet(body)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotSchema, schema) {
		t.Errorf("schema = %v, want %v", gotSchema, schema)
	}
	if got.Nrow() != 3 {
		t.Fatalf("rows = %d, want 3", got.Nrow())
	}
	if !got.Col("unit").Elem(2).IsNA() {
		t.Error("unit[2] should be null")
	}
	if v, _ := got.Col("unit").Elem(1).Int(); v != 2 {
		t.Errorf("unit[1] = %d, want 2", v)
	}
	if v, _ := got.Col("timestamp").Elem(2).Int(); v != 1_700_000_360_000 {
		t.Errorf("timestamp[2] = %d", v)
	}
	if !got.Col("sensor_1").Elem(1).IsNA() {
		t.Error("sensor_1[1] should be null")
	}
	if v := got.Col("sensor_1").Elem(2).Float(); math.Abs(v+1.25) > 1e-9 {
		t.Errorf("sensor_1[2] = %v", v)
	}
	if v := got.Col("note").Elem(0).String(); v != "a" {
		t.Errorf("note[0] = %q", v)
	}
	if v, _ := got.Col("count").Elem(2).Int(); v != 9 {
		t.Errorf("count[2] = %d", v)
	}
}

func TestEncodeParquetUnknownColumn(t *testing.T) {
	df := dataframe.New(series.New([]int{1}, series.Int, "unit"))
	if _, err := EncodeParquet(df, Schema{{Name: "cycle", Type: TypeInt}}); err == nil {
		t.Error("expected error for a column missing from the frame")
	}
}
