// Package frame holds tabular query results in a driver-neutral form.
package frame

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Frame is an ordered set of named columns with row-major values.
// Values are nil, bool, int64, float64, string or time.Time.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New returns an empty frame with the given columns
func New(columns ...string) *Frame {
	return &Frame{Columns: columns, Rows: [][]any{}}
}

// Append adds a row; it panics if the width does not match the columns
func (f *Frame) Append(values ...any) {
	if len(values) != len(f.Columns) {
		panic(fmt.Sprintf("frame: row has %d values, want %d", len(values), len(f.Columns)))
	}

	f.Rows = append(f.Rows, values)
}

// Len returns the number of rows
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}

	return len(f.Rows)
}

// Index returns the position of a column, matching exactly first and then
// case-insensitively.
func (f *Frame) Index(name string) (int, bool) {
	for i, c := range f.Columns {
		if c == name {
			return i, true
		}
	}

	for i, c := range f.Columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}

	return -1, false
}

// Column returns a copy of one column's values
func (f *Frame) Column(idx int) []any {
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}

	return out
}

// Head returns a frame sharing the first n rows
func (f *Frame) Head(n int) *Frame {
	if n < 0 || n >= len(f.Rows) {
		return f
	}

	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// Normalize converts a database/sql scan value into one of the frame value
// types. NaN and infinities become nil so every frame encodes as JSON.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}

		return int64(val)
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	case *big.Int:
		if val == nil {
			return nil
		}

		if val.IsInt64() {
			return val.Int64()
		}

		f, _ := new(big.Float).SetInt(val).Float64()

		return finite(f)
	case int64, bool, string, time.Time:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}

	return f
}

// ToFloat reports the numeric value of v, parsing numeric strings
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		if math.IsNaN(val) {
			return 0, false
		}

		return val, true
	case bool:
		if val {
			return 1, true
		}

		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

// Format renders a value for text output
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}

		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// Key returns a comparable grouping key for a value
func Key(v any) string {
	if v == nil {
		return "\x00nil"
	}

	return fmt.Sprintf("%T:%s", v, Format(v))
}
