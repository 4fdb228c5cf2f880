package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestFieldsPrependsMsgAndPairsUpKeyValues(t *testing.T) {
	fs := fields("starting", []any{"count", 3, "name", "calculator"})
	require.Len(t, fs, 3)
}

func TestFieldsSkipsNonStringKeys(t *testing.T) {
	fs := fields("starting", []any{"count", 3, 42, "ignored"})
	require.Len(t, fs, 2)
}

func TestFieldsToleratesOddLengthPairs(t *testing.T) {
	fs := fields("starting", []any{"count"})
	require.Len(t, fs, 1)
}

func TestTagAttrsPairsUpStrings(t *testing.T) {
	attrs := tagAttrs([]string{"tool", "calculator", "server", "srv-1"})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("tool", "calculator"),
		attribute.String("server", "srv-1"),
	}, attrs)
}

func TestTagAttrsIgnoresTrailingUnpairedTag(t *testing.T) {
	attrs := tagAttrs([]string{"tool", "calculator", "dangling"})
	require.Len(t, attrs, 1)
}

func TestKVAttrsMapsByDynamicType(t *testing.T) {
	attrs := kvAttrs([]any{
		"name", "calculator",
		"count", 3,
		"total", int64(9),
		"ratio", 0.5,
		"ok", true,
	})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("name", "calculator"),
		attribute.Int("count", 3),
		attribute.Int64("total", 9),
		attribute.Float64("ratio", 0.5),
		attribute.Bool("ok", true),
	}, attrs)
}

func TestKVAttrsFallsBackToEmptyStringForUnknownType(t *testing.T) {
	type custom struct{}
	attrs := kvAttrs([]any{"thing", custom{}})
	require.Equal(t, []attribute.KeyValue{attribute.String("thing", "")}, attrs)
}
