package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var out any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestRecords(t *testing.T) {
	e := NewEvaluator()

	data := decode(t, `{"data":{"payload":[{"id":1},{"id":2}]},"meta":{"count":2}}`)
	records, err := e.Records("data.payload", data)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[1]["id"])

	missing, err := e.Records("contacts", data)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = e.Records("meta.count", data)
	assert.Error(t, err)
}

func TestRecords_ProjectsGraphQLEdges(t *testing.T) {
	e := NewEvaluator()
	data := decode(t, `{"data":{"pipe":{"cards":{"edges":[{"node":{"id":"c1"}},{"node":{"id":"c2"}}]}}}}`)

	records, err := e.Records("data.pipe.cards.edges[].node", data)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c2", records[1]["id"])
}

func TestString(t *testing.T) {
	e := NewEvaluator()
	data := decode(t, `{"meta":{"sender":{"id":42}},"ratio":0.5,"name":"Ana","open":true}`)

	tests := []struct {
		expr string
		want string
	}{
		{"meta.sender.id", "42"},
		{"ratio", "0.5"},
		{"name", "Ana"},
		{"open", "true"},
		{"missing.path", ""},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := e.String(tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	e := NewEvaluator()
	assert.NoError(t, e.Validate("a.b[0]"))
	assert.Error(t, e.Validate("a.[b"))
}
