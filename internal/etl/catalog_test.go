package etl

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

type fakeGlue struct {
	tables  map[string]*gluetypes.TableInput
	creates int
	updates int
}

func newFakeGlue() *fakeGlue {
	return &fakeGlue{tables: map[string]*gluetypes.TableInput{}}
}

func (f *fakeGlue) GetTable(_ context.Context, in *glue.GetTableInput, _ ...func(*glue.Options)) (*glue.GetTableOutput, error) {
	t, ok := f.tables[aws.ToString(in.DatabaseName)+"."+aws.ToString(in.Name)]
	if !ok {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("table not found")}
	}
	return &glue.GetTableOutput{Table: &gluetypes.Table{Name: t.Name, StorageDescriptor: t.StorageDescriptor}}, nil
}

func (f *fakeGlue) CreateTable(_ context.Context, in *glue.CreateTableInput, _ ...func(*glue.Options)) (*glue.CreateTableOutput, error) {
	f.creates++
	f.tables[aws.ToString(in.DatabaseName)+"."+aws.ToString(in.TableInput.Name)] = in.TableInput
	return &glue.CreateTableOutput{}, nil
}

func (f *fakeGlue) UpdateTable(_ context.Context, in *glue.UpdateTableInput, _ ...func(*glue.Options)) (*glue.UpdateTableOutput, error) {
	f.updates++
	f.tables[aws.ToString(in.DatabaseName)+"."+aws.ToString(in.TableInput.Name)] = in.TableInput
	return &glue.UpdateTableOutput{}, nil
}

func (f *fakeGlue) columns(key string) []string {
	t := f.tables[key]
	if t == nil {
		return nil
	}
	var out []string
	for _, c := range t.StorageDescriptor.Columns {
		out = append(out, aws.ToString(c.Name)+":"+aws.ToString(c.Type))
	}
	return out
}

func TestGlueCatalogEnsureTable(t *testing.T) {
	ctx := context.Background()
	fake := newFakeGlue()
	cat := NewGlueCatalog(fake)
	base := Schema{{Name: "unit", Type: TypeInt}, {Name: "cycle", Type: TypeInt}}
	spec := TableSpec{
		Database: "db",
		Name:     "mlops-curated-inference-data",
		Location: "s3://bucket/curated/partitioned/parquet/inference/",
		Columns:  base,
		Mode:     ModeAppend,
	}

	if err := cat.EnsureTable(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if fake.creates != 1 || fake.updates != 0 {
		t.Fatalf("creates=%d updates=%d after first write", fake.creates, fake.updates)
	}
	created := fake.tables["db.mlops-curated-inference-data"]
	if got := aws.ToString(created.StorageDescriptor.Location); got != spec.Location {
		t.Errorf("location = %q", got)
	}
	if got := aws.ToString(created.StorageDescriptor.SerdeInfo.SerializationLibrary); got != parquetSerde {
		t.Errorf("serde = %q", got)
	}

	if err := cat.EnsureTable(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if fake.updates != 0 {
		t.Errorf("append with the same columns updated the table")
	}

	spec.Columns = Schema{{Name: "unit", Type: TypeInt}, {Name: "timestamp", Type: TypeTimestamp}}
	if err := cat.EnsureTable(ctx, spec); err != nil {
		t.Fatal(err)
	}
	want := []string{"unit:int", "cycle:int", "timestamp:timestamp"}
	got := fake.columns("db.mlops-curated-inference-data")
	if fake.updates != 1 || len(got) != len(want) {
		t.Fatalf("updates=%d columns=%v", fake.updates, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %s, want %s", i, got[i], want[i])
		}
	}

	spec.Mode = ModeOverwrite
	spec.Columns = base
	if err := cat.EnsureTable(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if got := fake.columns("db.mlops-curated-inference-data"); len(got) != 2 || fake.updates != 2 {
		t.Errorf("overwrite should replace the columns, got %v", got)
	}
}

func TestGlueCatalogColumns(t *testing.T) {
	ctx := context.Background()
	fake := newFakeGlue()
	cat := NewGlueCatalog(fake)

	cols, err := cat.Columns(ctx, "db", "mlops-raw-inference-data")
	if err != nil || cols != nil {
		t.Fatalf("missing table: %v, %v", cols, err)
	}

	want := Schema{{Name: "unit", Type: TypeBigint}, {Name: "sensor_1", Type: TypeDouble}}
	if err := cat.EnsureTable(ctx, TableSpec{Database: "db", Name: "mlops-raw-inference-data", Columns: want, Mode: ModeAppend}); err != nil {
		t.Fatal(err)
	}
	cols, err = cat.Columns(ctx, "db", "mlops-raw-inference-data")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 2 || cols[0] != want[0] || cols[1] != want[1] {
		t.Errorf("columns = %v, want %v", cols, want)
	}
}
