package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/value"
)

func TestFromPlainJSONIntegralFloatBecomesInt(t *testing.T) {
	v := fromPlainJSON(float64(7))
	require.True(t, v.IsInt())
	require.Equal(t, int64(7), v.Int64())
}

func TestFromPlainJSONFractionalFloatStaysFloat(t *testing.T) {
	v := fromPlainJSON(float64(7.5))
	require.False(t, v.IsInt())
	require.Equal(t, 7.5, v.Float64())
}

func TestFromPlainJSONRoundTripsNestedShapes(t *testing.T) {
	in := map[string]interface{}{
		"count": float64(3),
		"ratio": float64(1.5),
		"tags":  []interface{}{"a", "b"},
		"ok":    true,
		"nil":   nil,
	}
	v := fromPlainJSON(in)
	require.True(t, v.ObjectGet(value.String("count")).IsInt())
	require.False(t, v.ObjectGet(value.String("ratio")).IsInt())
	require.Equal(t, 2, v.ObjectGet(value.String("tags")).Len())
	require.Equal(t, value.True, v.ObjectGet(value.String("ok")))
	require.Equal(t, value.Null, v.ObjectGet(value.String("nil")))
}
