package etl

import (
	"fmt"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// AddRUL appends the remaining-useful-life target: the unit's highest cycle
// minus the row's cycle. Row order is preserved.
func AddRUL(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	if df.Nrow() == 0 {
		return df.Mutate(series.New([]int{}, series.Int, ColRUL)), nil
	}
	groups := df.GroupBy(ColUnit)
	if groups == nil || groups.Err != nil {
		var err error
		if groups != nil {
			err = groups.Err
		}
		return df, fmt.Errorf("group by unit: %w", err)
	}
	agg := groups.Aggregation([]dataframe.AggregationType{dataframe.Aggregation_MAX}, []string{ColCycle})
	if agg.Err != nil {
		return df, fmt.Errorf("max cycle per unit: %w", agg.Err)
	}

	maxCol := fmt.Sprintf("%s_%s", ColCycle, dataframe.Aggregation_MAX)
	units, maxCycles := agg.Col(ColUnit), agg.Col(maxCol)
	maxByUnit := make(map[string]float64, agg.Nrow())
	for i := 0; i < agg.Nrow(); i++ {
		maxByUnit[units.Elem(i).String()] = maxCycles.Elem(i).Float()
	}

	unitCol, cycleCol := df.Col(ColUnit), df.Col(ColCycle)
	rul := make([]interface{}, df.Nrow())
	for i := range rul {
		cycle := cycleCol.Elem(i)
		maxCycle, ok := maxByUnit[unitCol.Elem(i).String()]
		if !ok || cycle.IsNA() || math.IsNaN(maxCycle) {
			continue
		}
		rul[i] = int(maxCycle - cycle.Float())
	}
	out := df.Mutate(series.New(rul, series.Int, ColRUL))
	if out.Err != nil {
		return df, fmt.Errorf("add rul: %w", out.Err)
	}
	return out, nil
}
