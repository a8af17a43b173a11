package etl

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// ColumnType is a catalog column type.
type ColumnType string

// Catalog column types.
const (
	TypeInt       ColumnType = "int"
	TypeBigint    ColumnType = "bigint"
	TypeDouble    ColumnType = "double"
	TypeString    ColumnType = "string"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

// Well-known column names.
const (
	ColUnit      = "unit"
	ColCycle     = "cycle"
	ColRUL       = "rul"
	ColTimestamp = "timestamp"
)

// settingColumns follow unit and cycle in every sensor log.
var settingColumns = []string{"altitude", "mach", "tra"}

// Column is one typed column.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered column list.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Lookup finds a column by name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Added returns the columns of next that s does not have.
func (s Schema) Added(next Schema) Schema {
	var out Schema
	for _, c := range next {
		if _, ok := s.Lookup(c.Name); !ok {
			out = append(out, c)
		}
	}
	return out
}

// Align returns next with the types of the columns s already has. Columns
// only next knows keep their own type.
func (s Schema) Align(next Schema) Schema {
	out := make(Schema, len(next))
	for i, c := range next {
		if prev, ok := s.Lookup(c.Name); ok {
			c.Type = prev.Type
		}
		out[i] = c
	}
	return out
}

// RawColumnNames names n sensor log columns: unit, cycle, the three
// operational settings, then sensor_1..sensor_<n-5>.
func RawColumnNames(n int) ([]string, error) {
	lead := 2 + len(settingColumns)
	if n < lead {
		return nil, fmt.Errorf("sensor log needs at least %d columns, got %d", lead, n)
	}
	names := make([]string, 0, n)
	names = append(names, ColUnit, ColCycle)
	names = append(names, settingColumns...)
	for i := 1; i <= n-lead; i++ {
		names = append(names, fmt.Sprintf("sensor_%d", i))
	}
	return names, nil
}

// InferSchema maps the frame's series types to catalog types.
func InferSchema(df dataframe.DataFrame) Schema {
	out := make(Schema, 0, df.Ncol())
	for i, name := range df.Names() {
		out = append(out, Column{Name: name, Type: fromSeriesType(df.Types()[i])})
	}
	return out
}

// CuratedSchema types the curated columns: unit, cycle and rul are int,
// timestamp is a timestamp, settings and sensors are double. Other columns
// keep their inferred type.
func CuratedSchema(df dataframe.DataFrame) Schema {
	out := InferSchema(df)
	for i, c := range out {
		switch {
		case c.Name == ColUnit, c.Name == ColCycle, c.Name == ColRUL:
			out[i].Type = TypeInt
		case c.Name == ColTimestamp:
			out[i].Type = TypeTimestamp
		case strings.HasPrefix(c.Name, "sensor_"), isSetting(c.Name):
			out[i].Type = TypeDouble
		}
	}
	return out
}

func isSetting(name string) bool {
	for _, s := range settingColumns {
		if s == name {
			return true
		}
	}
	return false
}

// Cast converts the frame's series to the types schema asks for. Columns not
// in schema are left alone. Fractional values never narrow to an integer
// column.
func Cast(df dataframe.DataFrame, schema Schema) (dataframe.DataFrame, error) {
	for _, c := range schema {
		col := df.Col(c.Name)
		if col.Err != nil {
			return df, fmt.Errorf("cast %s: %w", c.Name, col.Err)
		}
		want := c.Type.seriesType()
		if col.Type() == want {
			continue
		}
		if want == series.Int && col.Type() == series.Float {
			if i, ok := firstFractional(col); ok {
				return df, fmt.Errorf("cast %s to %s: row %d holds %v", c.Name, c.Type, i, col.Elem(i).Float())
			}
		}
		df = df.Mutate(series.New(col, want, c.Name))
		if df.Err != nil {
			return df, fmt.Errorf("cast %s to %s: %w", c.Name, c.Type, df.Err)
		}
	}
	return df, nil
}

func firstFractional(col series.Series) (int, bool) {
	for i := 0; i < col.Len(); i++ {
		e := col.Elem(i)
		if e.IsNA() {
			continue
		}
		if f := e.Float(); f != math.Trunc(f) {
			return i, true
		}
	}
	return 0, false
}

func (t ColumnType) seriesType() series.Type {
	switch t {
	case TypeInt, TypeBigint, TypeTimestamp:
		return series.Int
	case TypeDouble:
		return series.Float
	case TypeBoolean:
		return series.Bool
	default:
		return series.String
	}
}

func fromSeriesType(t series.Type) ColumnType {
	switch t {
	case series.Int:
		return TypeBigint
	case series.Float:
		return TypeDouble
	case series.Bool:
		return TypeBoolean
	default:
		return TypeString
	}
}
