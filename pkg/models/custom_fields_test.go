package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/apperrors"
)

func TestNewCustomFields_Coerces(t *testing.T) {
	fields, err := NewCustomFields(map[string]any{
		"score":  7,
		"tags":   []string{"a"},
		"nested": map[string]any{"ok": true},
		"list":   []any{1, "x", nil},
	})
	require.NoError(t, err)

	assert.Equal(t, 7.0, fields["score"])
	assert.Equal(t, []any{"a"}, fields["tags"])
	assert.Equal(t, CustomFields{"ok": true}, fields["nested"])
	assert.Equal(t, []any{1.0, "x", nil}, fields["list"])
}

func TestNewCustomFields_RejectsOpenTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"struct", map[string]any{"x": struct{}{}}},
		{"nested list", map[string]any{"x": []any{[]any{1}}}},
		{"map in list", map[string]any{"x": []any{map[string]any{"a": 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCustomFields(tt.raw)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name     string
		layers   []CustomFields
		expected CustomFields
	}{
		{
			name:     "adds new keys",
			layers:   []CustomFields{{"a": "1"}, {"b": "2"}},
			expected: CustomFields{"a": "1", "b": "2"},
		},
		{
			name:     "last writer wins at leaf",
			layers:   []CustomFields{{"a": "1"}, {"a": "2"}, {"a": "3"}},
			expected: CustomFields{"a": "3"},
		},
		{
			name: "nested maps merge",
			layers: []CustomFields{
				{"source": CustomFields{"chatwoot": CustomFields{"id": "1"}}},
				{"source": CustomFields{"rdstation": CustomFields{"id": "u-1"}}},
			},
			expected: CustomFields{"source": CustomFields{
				"chatwoot":  CustomFields{"id": "1"},
				"rdstation": CustomFields{"id": "u-1"},
			}},
		},
		{
			name:     "lists are replaced",
			layers:   []CustomFields{{"l": []any{"a"}}, {"l": []any{"b"}}},
			expected: CustomFields{"l": []any{"b"}},
		},
		{
			name:     "scalar replaces map",
			layers:   []CustomFields{{"x": CustomFields{"a": 1.0}}, {"x": 2.0}},
			expected: CustomFields{"x": 2.0},
		},
		{
			name:     "null does not erase",
			layers:   []CustomFields{{"x": "keep"}, {"x": nil, "y": nil}},
			expected: CustomFields{"x": "keep", "y": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeepMerge(tt.layers...))
		})
	}
}

func TestDeepMerge_DoesNotAliasInputs(t *testing.T) {
	nested := CustomFields{"id": "1"}
	first := CustomFields{"source": CustomFields{"chatwoot": nested}}

	merged := DeepMerge(first, CustomFields{"source": CustomFields{"chatwoot": CustomFields{"id": "2"}}})

	assert.Equal(t, "1", nested["id"])
	v, ok := merged.Get("source.chatwoot.id")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestProvenance(t *testing.T) {
	fields := CustomFields{}
	fields.SetProvenance("rdstation", "id", "u-1")
	fields.SetProvenance("chatwoot", "id", "42")

	assert.Equal(t, []string{"chatwoot", "rdstation"}, fields.Providers())
	v, ok := fields.Get("source.rdstation.id")
	assert.True(t, ok)
	assert.Equal(t, "u-1", v)

	_, ok = fields.Get("source.pipefy.id")
	assert.False(t, ok)
}

func TestCustomFields_JSONRoundTripKeepsNestedType(t *testing.T) {
	fields := CustomFields{}
	fields.SetProvenance("chatwoot", "id", "42")

	b, err := json.Marshal(fields)
	require.NoError(t, err)

	var decoded CustomFields
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, []string{"chatwoot"}, decoded.Providers())
}
