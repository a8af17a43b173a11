package etl

import (
	"bytes"
	"fmt"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

const parquetParallelism = 4

func (c Column) parquetMetadata() string {
	var physical string
	switch c.Type {
	case TypeInt:
		physical = "type=INT32"
	case TypeBigint:
		physical = "type=INT64"
	case TypeDouble:
		physical = "type=DOUBLE"
	case TypeBoolean:
		physical = "type=BOOLEAN"
	case TypeTimestamp:
		physical = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		physical = "type=BYTE_ARRAY, convertedtype=UTF8"
	}
	return fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, physical)
}

// EncodeParquet writes df as an uncompressed parquet file laid out by
// schema. Every column is optional; missing values are written as nulls.
func EncodeParquet(df dataframe.DataFrame, schema Schema) ([]byte, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	md := make([]string, len(schema))
	cols := make([]series.Series, len(schema))
	for i, c := range schema {
		md[i] = c.parquetMetadata()
		cols[i] = df.Col(c.Name)
		if cols[i].Err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, cols[i].Err)
		}
	}

	var buf bytes.Buffer
	pw, err := writer.NewCSVWriterFromWriter(md, &buf, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED

	for row := 0; row < df.Nrow(); row++ {
		rec := make([]interface{}, len(schema))
		for i, c := range schema {
			v, err := parquetValue(cols[i].Elem(row), c.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", row, c.Name, err)
			}
			rec[i] = v
		}
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetValue(e series.Element, t ColumnType) (interface{}, error) {
	if e.IsNA() {
		return nil, nil
	}
	switch t {
	case TypeInt:
		v, err := e.Int()
		return int32(v), err
	case TypeBigint, TypeTimestamp:
		v, err := e.Int()
		return int64(v), err
	case TypeDouble:
		return e.Float(), nil
	case TypeBoolean:
		return e.Bool()
	default:
		return e.String(), nil
	}
}

// DecodeParquet reads a flat parquet file into a frame and returns the
// catalog schema recorded in the file.
func DecodeParquet(data []byte) (dataframe.DataFrame, Schema, error) {
	pr, err := reader.NewParquetColumnReader(buffer.NewBufferFileFromBytes(data), parquetParallelism)
	if err != nil {
		return dataframe.DataFrame{}, nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pr.ReadStop()

	rows := pr.GetNumRows()
	sh := pr.SchemaHandler
	schema := make(Schema, 0, len(sh.ValueColumns))
	cols := make([]series.Series, 0, len(sh.ValueColumns))
	for i := range sh.ValueColumns {
		el := sh.SchemaElements[i+1]
		col := Column{Name: sh.GetExName(i + 1), Type: columnTypeOf(el)}

		values := []interface{}{}
		if rows > 0 {
			values, _, _, err = pr.ReadColumnByIndex(int64(i), rows)
			if err != nil {
				return dataframe.DataFrame{}, nil, fmt.Errorf("read column %s: %w", col.Name, err)
			}
		}
		for j, v := range values {
			values[j] = frameValue(v)
		}
		schema = append(schema, col)
		cols = append(cols, series.New(values, col.Type.seriesType(), col.Name))
	}
	df := dataframe.New(cols...)
	if df.Err != nil {
		return df, nil, df.Err
	}
	return df, schema, nil
}

func columnTypeOf(el *parquet.SchemaElement) ColumnType {
	switch el.GetType() {
	case parquet.Type_INT32:
		return TypeInt
	case parquet.Type_INT64:
		if el.IsSetConvertedType() && el.GetConvertedType() == parquet.ConvertedType_TIMESTAMP_MILLIS {
			return TypeTimestamp
		}
		return TypeBigint
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return TypeDouble
	case parquet.Type_BOOLEAN:
		return TypeBoolean
	default:
		return TypeString
	}
}

func frameValue(v interface{}) interface{} {
	switch x := v.(type) {
	case int32:
		return int(x)
	case int64:
		return int(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
