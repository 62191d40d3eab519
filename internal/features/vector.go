package features

import (
	"fmt"
	"sort"
	"strings"
)

// NumFeatures is the width of every feature vector.
const NumFeatures = 19

// Feature column positions.
const (
	IdxIndex = iota
	IdxAmount
	IdxLat
	IdxLong
	IdxMerchLat
	IdxMerchLong
	IdxHour
	IdxDayOfWeek
	IdxDay
	IdxMonth
	IdxTimeDiff
	IdxDistMerchant
	IdxDistPrev
	IdxAvgAmount
	IdxStdAmount
	IdxTxCount
	IdxAmountDiff
	IdxTypeCode
	IdxCityCode
)

// Names is the column order both classifiers were fitted on. Changing it
// invalidates every trained artifact.
var Names = [NumFeatures]string{
	"Unnamed: 0",
	"amt",
	"lat",
	"long",
	"merch_lat",
	"merch_long",
	"hour",
	"day_of_week",
	"day",
	"month",
	"time_diff_sec",
	"dist_trans_merch",
	"dist_prev_trans",
	"avg_amt",
	"std_amt",
	"trans_count",
	"amt_diff_avg",
	"trans_type_enc",
	"city_enc",
}

var nameIndex = func() map[string]int {
	m := make(map[string]int, NumFeatures)
	for i, n := range Names {
		m[n] = i
	}
	return m
}()

// Vector is a feature row in Names order.
type Vector [NumFeatures]float64

// NamedValue pairs a feature name with its value.
type NamedValue struct {
	Name  string
	Value float64
}

// Named returns the vector as name/value pairs in column order.
func (v Vector) Named() []NamedValue {
	out := make([]NamedValue, NumFeatures)
	for i := range v {
		out[i] = NamedValue{Name: Names[i], Value: v[i]}
	}
	return out
}

// Get returns the value of the named column.
func (v Vector) Get(name string) (float64, bool) {
	i, ok := nameIndex[name]
	if !ok {
		return 0, false
	}
	return v[i], true
}

// Index returns the position of a column name in Names.
func Index(name string) (int, bool) {
	i, ok := nameIndex[name]
	return i, ok
}

// FromColumns arranges an arbitrary column set into Names order. Every
// column in Names must be present and no other column is allowed.
func FromColumns(cols map[string]float64) (Vector, error) {
	var v Vector
	var missing, unknown []string
	for i, n := range Names {
		val, ok := cols[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		v[i] = val
	}
	for n := range cols {
		if _, ok := nameIndex[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(unknown)
		return Vector{}, fmt.Errorf("%w: missing columns [%s], unexpected columns [%s]",
			ErrSchema, strings.Join(missing, ", "), strings.Join(unknown, ", "))
	}
	return v, nil
}

// CheckNames verifies that names matches Names exactly, in order.
func CheckNames(names []string) error {
	if len(names) != NumFeatures {
		return fmt.Errorf("%w: expected %d feature names, got %d", ErrSchema, NumFeatures, len(names))
	}
	for i, n := range names {
		if n != Names[i] {
			return fmt.Errorf("%w: feature %d is %q, expected %q", ErrSchema, i, n, Names[i])
		}
	}
	return nil
}
