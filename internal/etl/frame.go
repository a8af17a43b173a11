package etl

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/go-gota/gota/dataframe"
)

// ReadSensorCSV loads a sensor log. The file's own header row is discarded
// and replaced by RawColumnNames.
func ReadSensorCSV(data []byte) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(bytes.NewReader(data),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
	)
	if df.Err != nil {
		return df, fmt.Errorf("read csv: %w", df.Err)
	}
	names, err := RawColumnNames(df.Ncol())
	if err != nil {
		return df, err
	}
	if err := df.SetNames(names...); err != nil {
		return df, fmt.Errorf("name columns: %w", err)
	}
	return df, nil
}

// renameColumn renames old to new when old exists.
func renameColumn(df dataframe.DataFrame, newName, oldName string) dataframe.DataFrame {
	if !slices.Contains(df.Names(), oldName) {
		return df
	}
	return df.Rename(newName, oldName)
}
