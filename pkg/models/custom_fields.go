package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/apperrors"
)

// ProvenanceNamespace is the reserved custom-field key holding per-provider origin data,
// e.g. {"source": {"chatwoot": {"id": "42"}}}.
const ProvenanceNamespace = "source"

// CustomFields is a closed recursive map. Values are scalars (string, float64, bool, nil), lists
// of scalars or nested CustomFields. Use NewCustomFields to coerce untyped input.
type CustomFields map[string]any

// NewCustomFields converts decoded JSON into CustomFields, rejecting values outside the closed set.
func NewCustomFields(raw map[string]any) (CustomFields, error) {
	out := make(CustomFields, len(raw))
	for k, v := range raw {
		coerced, err := coerceValue(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = coerced
	}
	return out, nil
}

func coerceValue(path string, v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, apperrors.NewValidationError(path, "invalid number %q", val.String())
		}
		return f, nil
	case CustomFields:
		return NewCustomFields(val)
	case map[string]any:
		nested, err := NewCustomFields(val)
		if err != nil {
			return nil, err
		}
		return nested, nil
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list, nil
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			scalar, err := coerceValue(path, item)
			if err != nil {
				return nil, err
			}
			if _, nested := scalar.(CustomFields); nested {
				return nil, apperrors.NewValidationError(path, "lists may only hold scalar values")
			}
			if _, nested := scalar.([]any); nested {
				return nil, apperrors.NewValidationError(path, "lists may only hold scalar values")
			}
			list[i] = scalar
		}
		return list, nil
	default:
		return nil, apperrors.NewValidationError(path, "unsupported custom field type %T", v)
	}
}

// Clone returns a deep copy.
func (c CustomFields) Clone() CustomFields {
	if c == nil {
		return nil
	}
	out := make(CustomFields, len(c))
	for k, v := range c {
		switch val := v.(type) {
		case CustomFields:
			out[k] = val.Clone()
		case []any:
			out[k] = append([]any(nil), val...)
		default:
			out[k] = val
		}
	}
	return out
}

// DeepMerge merges the layers left to right. Nested maps merge recursively; any other conflict is
// resolved by the last layer that sets the leaf.
func DeepMerge(layers ...CustomFields) CustomFields {
	out := CustomFields{}
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src CustomFields) {
	for k, v := range src {
		srcMap, srcIsMap := v.(CustomFields)
		dstMap, dstIsMap := dst[k].(CustomFields)
		switch {
		case srcIsMap && dstIsMap:
			mergeInto(dstMap, srcMap)
		case srcIsMap:
			dst[k] = srcMap.Clone()
		case v == nil:
			if _, exists := dst[k]; !exists {
				dst[k] = nil
			}
		default:
			if list, ok := v.([]any); ok {
				v = append([]any(nil), list...)
			}
			dst[k] = v
		}
	}
}

// SetProvenance records key=value under source.<provider>.
func (c CustomFields) SetProvenance(provider, key string, value any) {
	ns, ok := c[ProvenanceNamespace].(CustomFields)
	if !ok {
		ns = CustomFields{}
		c[ProvenanceNamespace] = ns
	}
	p, ok := ns[provider].(CustomFields)
	if !ok {
		p = CustomFields{}
		ns[provider] = p
	}
	p[key] = value
}

// Providers lists the providers with provenance data, sorted.
func (c CustomFields) Providers() []string {
	ns, ok := c[ProvenanceNamespace].(CustomFields)
	if !ok {
		return nil
	}
	providers := make([]string, 0, len(ns))
	for p := range ns {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// Get reads a dotted path such as "source.chatwoot.id".
func (c CustomFields) Get(path string) (any, bool) {
	var current any = c
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(CustomFields)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (c CustomFields) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *CustomFields) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*c = CustomFields{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("CustomFields.Scan: expected []byte, got %T", src)
	}
	return c.UnmarshalJSON(b)
}

func (c *CustomFields) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fields, err := NewCustomFields(raw)
	if err != nil {
		return err
	}
	*c = fields
	return nil
}
