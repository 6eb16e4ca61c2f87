package schema

import (
	"fmt"
	"math"
)

// Validate checks a generically decoded JSON value (as produced by
// encoding/json into an any) against t.
func (t *Type) Validate(value any) error {
	return validate(t, value, nil)
}

// ValidateFields checks an object payload against fields and reports every
// failure at once. Missing required fields are reported as "required".
func ValidateFields(fields []Field, data map[string]any) error {
	var errs collect
	for _, f := range fields {
		value, exists := data[f.Name]
		if !exists {
			if !f.Optional && f.Type.Kind != KindOptional {
				errs.missing(f.Name)
			}
			continue
		}
		if err := validate(f.Type, value, nil); err != nil {
			errs.mismatch(f.Name, err, value)
		}
	}
	return errs.err()
}

// ValidatePositional checks an array payload against fields in declaration order.
// Trailing optional fields may be omitted.
func ValidatePositional(fields []Field, data []any) error {
	if len(data) > len(fields) {
		return &AggregateError{Errors: []error{
			fmt.Errorf("expected at most %d params, got %d", len(fields), len(data)),
		}}
	}

	var errs collect
	for i, f := range fields {
		if i >= len(data) {
			if !f.Optional && f.Type.Kind != KindOptional {
				errs.missing(f.Name)
			}
			continue
		}
		if err := validate(f.Type, data[i], nil); err != nil {
			errs.mismatch(f.Name, err, data[i])
		}
	}
	return errs.err()
}

func validate(t *Type, value any, bindings map[string]*Type) error {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case KindUnknown:
		return nil
	case KindNull:
		if value != nil {
			return fmt.Errorf("expected null, got %T", value)
		}
		return nil
	case KindOptional:
		if value == nil {
			return nil
		}
		return validate(t.Elem, value, bindings)
	case KindParam:
		if bound, ok := bindings[t.Name]; ok {
			return validate(bound, value, nil)
		}
		return nil
	}

	if value == nil {
		return fmt.Errorf("expected %s, got null", t.String())
	}

	switch t.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case KindNumber:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
	case KindInteger:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("expected integer, got %T", value)
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got float (not a whole number)")
		}
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case KindArray:
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
		for i, item := range items {
			if err := validate(t.Elem, item, bindings); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case KindTuple:
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected tuple, got %T", value)
		}
		if len(items) != len(t.Items) {
			return fmt.Errorf("expected tuple of %d, got %d", len(t.Items), len(items))
		}
		for i, item := range items {
			if err := validate(t.Items[i], item, bindings); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case KindMap:
		entries, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected map, got %T", value)
		}
		for k, v := range entries {
			if err := validate(t.Elem, v, bindings); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	case KindObject:
		entries, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
		scope := bindings
		if len(t.Args) > 0 {
			scope = make(map[string]*Type, len(t.Args))
			for i, p := range t.TypeParams {
				scope[p] = t.Args[i]
			}
		}
		for _, f := range t.Fields {
			v, exists := entries[f.Name]
			if !exists {
				if f.Optional || f.Type.Kind == KindOptional {
					continue
				}
				return fmt.Errorf("field %q: required", f.Name)
			}
			if err := validate(f.Type, v, scope); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}
