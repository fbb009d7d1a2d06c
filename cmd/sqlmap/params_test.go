package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want any
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1.5", 1.5},
		{"true", true},
		{"FALSE", false},
		{"null", nil},
		{"NULL", nil},
		{"ann", "ann"},
		{"'42'", "42"},
		{"'a,b'", "a,b"},
		{"", ""},
		{"1,2,3", []any{int64(1), int64(2), int64(3)}},
		{"a, 'b', null", []any{"a", "b", nil}},
	} {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, parseValue(tc.raw))
		})
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"id=7", "@name=ann", " :tags =go,sql", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":   int64(7),
		"name": "ann",
		"tags": []any{"go", "sql"},
		"note": "a=b",
	}, got)

	_, err = parseParams([]string{"novalue"})
	require.Error(t, err)
	_, err = parseParams([]string{"=1"})
	require.Error(t, err)

	empty, err := parseParams(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
