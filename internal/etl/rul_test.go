package etl

import (
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

func TestAddRUL(t *testing.T) {
	df := dataframe.New(
		series.New([]int{2, 1, 1, 2, 1, 3}, series.Int, "unit"),
		series.New([]int{1, 1, 2, 2, 3, 7}, series.Int, "cycle"),
	)
	got, err := AddRUL(df)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 1, 0, 0, 0}
	rul, err := got.Col("rul").Int()
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if rul[i] != want[i] {
			t.Errorf("rul[%d] = %d, want %d", i, rul[i], want[i])
		}
	}
	units, _ := got.Col("unit").Int()
	if units[0] != 2 || units[5] != 3 {
		t.Errorf("row order changed: %v", units)
	}
}

func TestAddRULNeedsUnit(t *testing.T) {
	df := dataframe.New(series.New([]int{1}, series.Int, "cycle"))
	if _, err := AddRUL(df); err == nil {
		t.Error("expected error without a unit column")
	}
}
