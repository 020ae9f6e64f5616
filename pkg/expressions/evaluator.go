// Package expressions extracts values from decoded provider payloads with JMESPath.
package expressions

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator compiles each expression once and reuses it
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*jmespath.JMESPath
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*jmespath.JMESPath)}
}

// Default is shared by the connectors.
var Default = NewEvaluator()

// Evaluate runs expression against data
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// Records evaluates expression to a list of objects. A missing list is empty; a non-list result
// or a non-object item is an error.
func (e *Evaluator) Records(expression string, data any) ([]map[string]any, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return []map[string]any{}, nil
	}

	items, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("expression %q returned %T, expected a list", expression, result)
	}

	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expression %q item %d is %T, expected an object", expression, i, item)
		}
		records = append(records, record)
	}
	return records, nil
}

// String evaluates expression and renders scalars as text. Missing values are "".
func (e *Evaluator) String(expression string, data any) (string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return "", err
	}
	return ToString(result), nil
}

// ToString renders a decoded JSON scalar as text. Integral numbers print without a decimal point.
func ToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Validate checks if an expression compiles
func (e *Evaluator) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}
