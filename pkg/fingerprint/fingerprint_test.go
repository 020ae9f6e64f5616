package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"name": "Ana", "email": "ana@x.com", "phone": "+55 11 9999"}
	b := map[string]any{"phone": "+55 11 9999", "email": "ana@x.com", "name": "Ana"}

	assert.Equal(t, Generate(a), Generate(b))
	assert.Len(t, Generate(a), 64)
}

func TestGenerate_NestedKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"meta": map[string]any{"x": 1, "y": []any{"a", "b"}}}
	b := map[string]any{"meta": map[string]any{"y": []any{"a", "b"}, "x": 1}}
	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_DetectsChanges(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
	}{
		{"value change", map[string]any{"phone": "1"}, map[string]any{"phone": "2"}},
		{"type change", map[string]any{"n": 1}, map[string]any{"n": "1"}},
		{"list order", map[string]any{"t": []any{"a", "b"}}, map[string]any{"t": []any{"b", "a"}}},
		{"key rename", map[string]any{"a": "x"}, map[string]any{"b": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, HasChanged(Generate(tt.a), Generate(tt.b)))
		})
	}
}

func TestFields_IgnoresOtherKeys(t *testing.T) {
	a := map[string]any{"email": "a@x.com", "name": "A", "updated_at": "2024-01-01"}
	b := map[string]any{"email": "a@x.com", "name": "A", "updated_at": "2024-02-01"}

	assert.Equal(t, Fields(a, "email", "name", "phone"), Fields(b, "email", "name", "phone"))
	assert.NotEqual(t, Generate(a), Generate(b))
}
