// Package fingerprint computes content digests used to decide whether a re-sync would change
// anything. A fingerprint never identifies a record.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Generate renders every field as key:value in sorted key order, joins them with "|" and returns
// the hex SHA-256 of the result. Nested maps are rendered the same way so key order never matters.
func Generate(record map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalMap(record)))
	return hex.EncodeToString(hash[:])
}

// Fields fingerprints only the named fields of record. Missing fields render as null so adding an
// empty field does not look like a change.
func Fields(record map[string]any, fields ...string) string {
	subset := make(map[string]any, len(fields))
	for _, f := range fields {
		subset[f] = record[f]
	}
	return Generate(subset)
}

// HasChanged compares two fingerprints to detect changes
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

func canonicalMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + canonicalValue(m[k])
	}
	return strings.Join(parts, "|")
}

func canonicalValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return "{" + canonicalMap(val) + "}"
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = canonicalValue(item)
		}
		return "[" + strings.Join(items, ",") + "]"
	case []string:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = canonicalValue(item)
		}
		return "[" + strings.Join(items, ",") + "]"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
