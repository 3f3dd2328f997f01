package analytics

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/kyleking/sqlchat/internal/frame"
)

// Inferred column types, named the way analysts read them
const (
	DTypeInt      = "int64"
	DTypeFloat    = "float64"
	DTypeBool     = "bool"
	DTypeDatetime = "datetime"
	DTypeObject   = "object"
)

// ColumnInfo describes one column of a loaded table
type ColumnInfo struct {
	Name     string `json:"name"`
	DType    string `json:"dtype"`
	NonNull  int    `json:"non_null"`
	Missing  int    `json:"missing"`
	Distinct int    `json:"distinct"`
}

// Describe holds the descriptive statistics of a numeric column
type Describe struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Q25   float64
	Q50   float64
	Q75   float64
	Max   float64
}

// inferDType picks the narrowest type covering every non-null value. Mixed
// ints and floats widen to float64; anything else mixed is object.
func inferDType(values []any) string {
	dtype := ""

	for _, v := range values {
		if v == nil {
			continue
		}

		var t string

		switch v.(type) {
		case int64:
			t = DTypeInt
		case float64:
			t = DTypeFloat
		case bool:
			t = DTypeBool
		case time.Time:
			t = DTypeDatetime
		default:
			return DTypeObject
		}

		switch {
		case dtype == "":
			dtype = t
		case dtype == t:
		case (dtype == DTypeInt && t == DTypeFloat) || (dtype == DTypeFloat && t == DTypeInt):
			dtype = DTypeFloat
		default:
			return DTypeObject
		}
	}

	if dtype == "" {
		return DTypeObject
	}

	return dtype
}

func isNumeric(dtype string) bool {
	return dtype == DTypeInt || dtype == DTypeFloat
}

// columnInfo computes per-column counts in frame order
func columnInfo(df *frame.Frame) []ColumnInfo {
	infos := make([]ColumnInfo, len(df.Columns))

	for i, name := range df.Columns {
		values := df.Column(i)
		info := ColumnInfo{Name: name, DType: inferDType(values)}
		seen := map[string]bool{}

		for _, v := range values {
			if v == nil {
				info.Missing++
				continue
			}

			info.NonNull++
			seen[frame.Key(v)] = true
		}

		info.Distinct = len(seen)
		infos[i] = info
	}

	return infos
}

// describe computes count, mean, sample std and linear-interpolated quartiles
// over the non-null values. ok is false when there are none.
func describe(values []any) (Describe, bool) {
	nums := make([]float64, 0, len(values))

	for _, v := range values {
		if f, ok := frame.ToFloat(v); ok {
			nums = append(nums, f)
		}
	}

	if len(nums) == 0 {
		return Describe{}, false
	}

	sort.Float64s(nums)

	var sum float64
	for _, x := range nums {
		sum += x
	}

	n := float64(len(nums))
	mean := sum / n

	std := math.NaN()
	if len(nums) > 1 {
		var sq float64
		for _, x := range nums {
			sq += (x - mean) * (x - mean)
		}

		std = math.Sqrt(sq / (n - 1))
	}

	return Describe{
		Count: len(nums),
		Mean:  mean,
		Std:   std,
		Min:   nums[0],
		Q25:   quantile(nums, 0.25),
		Q50:   quantile(nums, 0.50),
		Q75:   quantile(nums, 0.75),
		Max:   nums[len(nums)-1],
	}, true
}

// quantile expects sorted input
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))

	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}

	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

// valueCount is one distinct value and its frequency
type valueCount struct {
	value any
	count int
}

// valueCounts counts non-null values, most frequent first, ties in
// first-seen order
func valueCounts(values []any) []valueCount {
	var out []valueCount

	pos := map[string]int{}

	for _, v := range values {
		if v == nil {
			continue
		}

		key := frame.Key(v)
		if i, ok := pos[key]; ok {
			out[i].count++
			continue
		}

		pos[key] = len(out)
		out = append(out, valueCount{value: v, count: 1})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })

	return out
}

// compareValues orders group keys: numbers numerically, times
// chronologically, everything else by formatted text
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}

	fa, aNum := numberOnly(a)
	fb, bNum := numberOnly(b)

	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}

	ta, aTime := a.(time.Time)
	tb, bTime := b.(time.Time)

	if aTime && bTime {
		return ta.Compare(tb)
	}

	sa, sb := frame.Format(a), frame.Format(b)

	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func numberOnly(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
