package frame

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBasics(t *testing.T) {
	f := New("id", "Name")
	f.Append(int64(1), "ada")
	f.Append(int64(2), "grace")

	assert.Equal(t, 2, f.Len())

	idx, ok := f.Index("name")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = f.Index("salary")
	assert.False(t, ok)

	assert.Equal(t, []any{"ada", "grace"}, f.Column(1))
	assert.Equal(t, 1, f.Head(1).Len())
	assert.Equal(t, 2, f.Head(10).Len())

	assert.Panics(t, func() { f.Append(int64(3)) })

	var nilFrame *Frame
	assert.Equal(t, 0, nilFrame.Len())
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		in       any
		expected any
	}{
		{"nil", nil, nil},
		{"bytes", []byte("abc"), "abc"},
		{"int32", int32(7), int64(7)},
		{"uint8", uint8(7), int64(7)},
		{"float32", float32(1.5), float64(1.5)},
		{"time", ts, ts},
		{"bool", true, true},
		{"float64", 2.25, 2.25},
		{"nan", math.NaN(), nil},
		{"positive infinity", math.Inf(1), nil},
		{"negative infinity", float32(math.Inf(-1)), nil},
		{"big int", big.NewInt(42), int64(42)},
		{"huge int", new(big.Int).Lsh(big.NewInt(1), 70), math.Pow(2, 70)},
		{"nil big int", (*big.Int)(nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.in))
		})
	}
}

func TestToFloat(t *testing.T) {
	v, ok := ToFloat(int64(3))
	assert.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)

	v, ok = ToFloat(" 2.5 ")
	assert.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-9)

	_, ok = ToFloat("n/a")
	assert.False(t, ok)

	_, ok = ToFloat(nil)
	assert.False(t, ok)
}

func TestFormatAndKey(t *testing.T) {
	assert.Equal(t, "NULL", Format(nil))
	assert.Equal(t, "2.5", Format(2.5))
	assert.Equal(t, "2021-03-04", Format(time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)))
	assert.NotEqual(t, Key(int64(1)), Key("1"))
	assert.Equal(t, Key("x"), Key("x"))
}

func TestNormalizedFrameEncodesAsJSON(t *testing.T) {
	f := New("ratio")
	f.Append(Normalize(math.NaN()))
	f.Append(Normalize(math.Inf(1)))
	f.Append(Normalize(0.5))

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns":["ratio"],"rows":[[null],[null],[0.5]]}`, string(data))
}
