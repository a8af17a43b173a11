package etl

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// ReferenceUnit is the unit whose length sets the simulated time window.
const ReferenceUnit = 1

// ErrUnitTooLong matches a *UnitLengthError.
var ErrUnitTooLong = errors.New("unit has more rows than the reference unit")

// UnitLengthError reports a unit that does not fit the reference window.
type UnitLengthError struct {
	Unit      int
	Rows      int
	Reference int
}

func (e *UnitLengthError) Error() string {
	return fmt.Sprintf("unit %d has %d rows, reference window is %d", e.Unit, e.Rows, e.Reference)
}

// Is reports whether target is ErrUnitTooLong.
func (e *UnitLengthError) Is(target error) bool { return target == ErrUnitTooLong }

// AddTimestamp appends an hourly synthetic timestamp column. The reference
// window holds as many hours as unit 1 has rows (the first unit when there is
// no unit 1) and ends at now. Every unit takes the window from its start, so
// the n-th row of a unit gets the n-th oldest time. Values are milliseconds
// since the epoch.
func AddTimestamp(df dataframe.DataFrame, now time.Time) (dataframe.DataFrame, error) {
	units := df.Col(ColUnit)
	if units.Err != nil {
		return df, fmt.Errorf("timestamp: %w", units.Err)
	}

	ids := make([]int, units.Len())
	counts := make(map[int]int)
	order := []int{}
	for i := range ids {
		id, err := units.Elem(i).Int()
		if err != nil {
			return df, fmt.Errorf("timestamp: row %d unit: %w", i, err)
		}
		ids[i] = id
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}

	window := 0
	if n, ok := counts[ReferenceUnit]; ok {
		window = n
	} else if len(order) > 0 {
		window = counts[order[0]]
	}
	for _, id := range order {
		if counts[id] > window {
			return df, &UnitLengthError{Unit: id, Rows: counts[id], Reference: window}
		}
	}

	end := now.Truncate(time.Millisecond)
	times := make([]int, window)
	for i := range times {
		times[i] = int(end.Add(-time.Duration(window-1-i) * time.Hour).UnixMilli())
	}

	seen := make(map[int]int, len(order))
	stamps := make([]int, len(ids))
	for i, id := range ids {
		stamps[i] = times[seen[id]]
		seen[id]++
	}
	out := df.Mutate(series.New(stamps, series.Int, ColTimestamp))
	if out.Err != nil {
		return df, fmt.Errorf("add timestamp: %w", out.Err)
	}
	return out, nil
}
