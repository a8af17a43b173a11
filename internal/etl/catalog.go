package etl

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// TableSpec describes a parquet dataset to register in the catalog.
type TableSpec struct {
	Database string
	Name     string
	// Location is the s3:// URI of the dataset directory.
	Location string
	Columns  Schema
	Mode     WriteMode
}

// Catalog registers datasets so they can be queried.
type Catalog interface {
	// Columns returns the registered columns of a table, or nil when the
	// table does not exist yet.
	Columns(ctx context.Context, database, table string) (Schema, error)
	EnsureTable(ctx context.Context, spec TableSpec) error
}

// GlueAPI is the subset of the Glue client used by GlueCatalog.
type GlueAPI interface {
	GetTable(ctx context.Context, in *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	CreateTable(ctx context.Context, in *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error)
	UpdateTable(ctx context.Context, in *glue.UpdateTableInput, optFns ...func(*glue.Options)) (*glue.UpdateTableOutput, error)
}

var _ GlueAPI = (*glue.Client)(nil)

const (
	parquetInputFormat  = "org.apache.hadoop.hive.ql.io.parquet.MapredParquetInputFormat"
	parquetOutputFormat = "org.apache.hadoop.hive.ql.io.parquet.MapredParquetOutputFormat"
	parquetSerde        = "org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe"
)

// GlueCatalog keeps Glue tables in line with the datasets written to S3.
type GlueCatalog struct {
	client GlueAPI
}

// NewGlueCatalog returns a Catalog backed by client.
func NewGlueCatalog(client GlueAPI) *GlueCatalog {
	return &GlueCatalog{client: client}
}

// Columns reads the column list of database.table.
func (c *GlueCatalog) Columns(ctx context.Context, database, table string) (Schema, error) {
	out, err := c.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	var notFound *gluetypes.EntityNotFoundException
	switch {
	case errors.As(err, &notFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get table %s.%s: %w", database, table, err)
	}
	return existingColumns(out.Table), nil
}

// EnsureTable creates the table when missing. An existing table is updated
// on overwrite, and on append only when new columns showed up.
func (c *GlueCatalog) EnsureTable(ctx context.Context, spec TableSpec) error {
	out, err := c.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(spec.Database),
		Name:         aws.String(spec.Name),
	})
	var notFound *gluetypes.EntityNotFoundException
	switch {
	case errors.As(err, &notFound):
		_, err = c.client.CreateTable(ctx, &glue.CreateTableInput{
			DatabaseName: aws.String(spec.Database),
			TableInput:   tableInput(spec, spec.Columns),
		})
		if err != nil {
			return fmt.Errorf("create table %s.%s: %w", spec.Database, spec.Name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get table %s.%s: %w", spec.Database, spec.Name, err)
	}

	columns := spec.Columns
	if spec.Mode == ModeAppend {
		existing := existingColumns(out.Table)
		added := existing.Added(spec.Columns)
		if len(added) == 0 {
			return nil
		}
		columns = append(existing, added...)
	}
	_, err = c.client.UpdateTable(ctx, &glue.UpdateTableInput{
		DatabaseName: aws.String(spec.Database),
		TableInput:   tableInput(spec, columns),
	})
	if err != nil {
		return fmt.Errorf("update table %s.%s: %w", spec.Database, spec.Name, err)
	}
	return nil
}

func existingColumns(t *gluetypes.Table) Schema {
	if t == nil || t.StorageDescriptor == nil {
		return nil
	}
	out := make(Schema, 0, len(t.StorageDescriptor.Columns))
	for _, col := range t.StorageDescriptor.Columns {
		out = append(out, Column{Name: aws.ToString(col.Name), Type: ColumnType(aws.ToString(col.Type))})
	}
	return out
}

func tableInput(spec TableSpec, columns Schema) *gluetypes.TableInput {
	cols := make([]gluetypes.Column, len(columns))
	for i, c := range columns {
		cols[i] = gluetypes.Column{Name: aws.String(c.Name), Type: aws.String(string(c.Type))}
	}
	return &gluetypes.TableInput{
		Name:       aws.String(spec.Name),
		TableType:  aws.String("EXTERNAL_TABLE"),
		Parameters: map[string]string{"classification": "parquet", "compressionType": "none"},
		StorageDescriptor: &gluetypes.StorageDescriptor{
			Columns:      cols,
			Location:     aws.String(spec.Location),
			InputFormat:  aws.String(parquetInputFormat),
			OutputFormat: aws.String(parquetOutputFormat),
			SerdeInfo: &gluetypes.SerDeInfo{
				SerializationLibrary: aws.String(parquetSerde),
				Parameters:           map[string]string{"serialization.format": "1"},
			},
		},
	}
}
